package deck

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"papercast/common"
)

// ExtractionResult pairs the document text with the extracted figures.
// FiguresErr records a non-fatal figure extraction problem: the run continues
// without (some) figures, but the controller can surface the failure.
type ExtractionResult struct {
	Text       string
	Figures    common.FigureSet
	FiguresErr error
}

// extractionCache is shared by every Extractor in the process, so repeated
// submissions of the same document hit the collaborator once no matter which
// pipeline instance asks.
var extractionCache = common.NewCache[*ExtractionResult]()

// OCRProvider is the extraction collaborator surface.
type OCRProvider interface {
	Configured() bool
	ProcessPDF(ctx context.Context, pdfPath string) (*common.OCRResult, error)
}

// Extractor produces text and figures from a PDF. When the OCR collaborator
// is configured it does both in one submission; otherwise text comes from a
// local render and figures from the on-device detector, if one is loaded.
// Results are cached per resolved path so a document is never submitted to
// the collaborator twice in one process.
type Extractor struct {
	OCR      OCRProvider
	Detector *FigureDetector
	Logger   *logrus.Logger

	cache *common.Cache[*ExtractionResult]
}

func NewExtractor(ocr OCRProvider, detector *FigureDetector, logger *logrus.Logger) *Extractor {
	return &Extractor{
		OCR:      ocr,
		Detector: detector,
		Logger:   logger,
		cache:    extractionCache,
	}
}

// Extract returns the document text and figure set, writing figure images and
// their metadata under figuresDir. Missing text is fatal; missing figures are
// not.
func (e *Extractor) Extract(ctx context.Context, pdfPath, figuresDir string) (*ExtractionResult, error) {
	key, err := filepath.Abs(pdfPath)
	if err != nil {
		key = pdfPath
	}
	return e.cache.GetOrCompute(key, func() (*ExtractionResult, error) {
		return e.extract(ctx, pdfPath, figuresDir)
	})
}

func (e *Extractor) extract(ctx context.Context, pdfPath, figuresDir string) (*ExtractionResult, error) {
	pages, err := common.ValidatePDF(pdfPath)
	if err != nil {
		return nil, err
	}
	if e.Logger != nil {
		e.Logger.WithFields(logrus.Fields{"pdf": pdfPath, "pages": pages}).Info("extracting document")
	}
	if err := os.MkdirAll(figuresDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating figures directory: %w", err)
	}

	var result *ExtractionResult
	if e.OCR != nil && e.OCR.Configured() {
		result, err = e.extractViaOCR(ctx, pdfPath, figuresDir)
		if err != nil {
			return nil, err
		}
	} else {
		if e.Logger != nil {
			e.Logger.Warn("OCR collaborator not configured, extracting text locally")
		}
		result, err = e.extractLocal(pdfPath)
		if err != nil {
			return nil, err
		}
	}

	if len(result.Figures) == 0 && e.Detector != nil && e.Detector.Enabled() {
		figs, derr := e.Detector.Detect(pdfPath, figuresDir)
		if derr != nil {
			// Figure absence is not fatal to the run.
			if e.Logger != nil {
				e.Logger.WithError(derr).Warn("figure detection failed, continuing without figures")
			}
			result.FiguresErr = derr
		} else {
			result.Figures = figs
		}
	}

	if err := result.Figures.Save(filepath.Join(figuresDir, "figures_metadata.json")); err != nil {
		return nil, fmt.Errorf("saving figure metadata: %w", err)
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, fmt.Errorf("no text content extracted from %s", pdfPath)
	}
	return result, nil
}

func (e *Extractor) extractViaOCR(ctx context.Context, pdfPath, figuresDir string) (*ExtractionResult, error) {
	ocr, err := e.OCR.ProcessPDF(ctx, pdfPath)
	if err != nil {
		return nil, fmt.Errorf("ocr extraction: %w", err)
	}

	var text strings.Builder
	var figures common.FigureSet
	var figuresErr error
	figureNum := 1

	for _, page := range ocr.Pages {
		text.WriteString(stripFigureCaptions(page.Markdown))
		text.WriteString("\n\n")

		for _, img := range page.Images {
			data, derr := base64.StdEncoding.DecodeString(strings.TrimPrefix(img.Base64, "data:image/png;base64,"))
			if derr != nil {
				if e.Logger != nil {
					e.Logger.WithError(derr).WithFields(logrus.Fields{
						"page": page.Index, "image": img.ID,
					}).Warn("skipping undecodable figure image")
				}
				continue
			}
			imagePath := filepath.Join(figuresDir, common.FigureImageName(figureNum))
			if werr := os.WriteFile(imagePath, data, 0o644); werr != nil {
				// Losing a figure does not lose the run.
				if e.Logger != nil {
					e.Logger.WithError(werr).WithField("figure", figureNum).Warn("could not write figure image")
				}
				figuresErr = fmt.Errorf("writing figure %d: %w", figureNum, werr)
				continue
			}

			title, caption := figureInfoFromMarkdown(page.Markdown, figureNum)
			figures = append(figures, common.Figure{
				Number:    figureNum,
				Title:     title,
				Caption:   caption,
				ImagePath: imagePath,
			})
			figureNum++
		}
	}

	if e.Logger != nil {
		e.Logger.WithField("figures", len(figures)).Info("ocr extraction complete")
	}
	return &ExtractionResult{
		Text:       strings.TrimSpace(text.String()),
		Figures:    figures,
		FiguresErr: figuresErr,
	}, nil
}

func (e *Extractor) extractLocal(pdfPath string) (*ExtractionResult, error) {
	doc, err := common.OpenPDF(pdfPath)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	text, err := doc.Text()
	if err != nil {
		return nil, fmt.Errorf("local text extraction: %w", err)
	}
	return &ExtractionResult{Text: stripFigureCaptions(text)}, nil
}

var captionLineRe = regexp.MustCompile(`(?im)^(figure|fig\.?)\s+\d+[:\.].*$`)

// stripFigureCaptions drops standalone caption lines so the planner does not
// narrate captions as body text. Captions are recovered separately as figure
// metadata.
func stripFigureCaptions(text string) string {
	return captionLineRe.ReplaceAllString(text, "")
}

// figureInfoFromMarkdown recovers a title and caption for the numbered figure
// from the page text it was embedded in. Specific references are preferred
// over generic ones; short captions become part of the title.
func figureInfoFromMarkdown(markdown string, figureNum int) (title, caption string) {
	title = fmt.Sprintf("Figure %d", figureNum)
	caption = "Figure extracted from document"

	patterns := []*regexp.Regexp{
		regexp.MustCompile(fmt.Sprintf(`(?i)figure\s+%d[:\.]?\s*([^\n]*)`, figureNum)),
		regexp.MustCompile(fmt.Sprintf(`(?i)fig\.\s+%d[:\.]?\s*([^\n]*)`, figureNum)),
		regexp.MustCompile(`(?i)figure\s+\d+[:\.]?\s*([^\n]*)`),
		regexp.MustCompile(`(?i)fig\.\s+\d+[:\.]?\s*([^\n]*)`),
	}
	for _, re := range patterns {
		m := re.FindStringSubmatch(markdown)
		if m == nil {
			continue
		}
		found := strings.TrimSpace(m[1])
		if found == "" {
			continue
		}
		if len(found) < 50 {
			title = fmt.Sprintf("Figure %d: %s", figureNum, found)
		} else if idx := strings.IndexByte(found, '.'); idx > 0 {
			title = fmt.Sprintf("Figure %d: %s", figureNum, found[:idx])
			caption = found
		} else {
			caption = found
		}
		break
	}
	return title, caption
}
