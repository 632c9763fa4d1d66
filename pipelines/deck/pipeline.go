package deck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"papercast/common"
)

// DocumentExtractor, SlidePlanner, and ClipAssembler are the controller's
// collaborator surfaces, concrete in production and stubbed in tests.
type DocumentExtractor interface {
	Extract(ctx context.Context, pdfPath, figuresDir string) (*ExtractionResult, error)
}

type SlidePlanner interface {
	GeneratePlan(ctx context.Context, text string, figures common.FigureSet, n int) (common.SlidePlan, error)
}

type ClipAssembler interface {
	Assemble(ctx context.Context, framesDir, audioDir, outputPath string) error
}

// Pipeline runs the stages in order against one PDF. The stage policy lives
// here and nowhere else: text extraction failure ends the run, figure
// problems do not, a narration failure still renders frames but blocks video
// assembly, and slides mode skips narration and assembly outright.
type Pipeline struct {
	Config    common.Config
	Logger    *logrus.Logger
	Extractor DocumentExtractor
	Planner   SlidePlanner
	Synth     SpeechSynthesizer
	Renderer  Renderer
	Assembler ClipAssembler
}

// NewPipeline wires the production collaborators from configuration.
func NewPipeline(ctx context.Context, cfg common.Config, logger *logrus.Logger) (*Pipeline, error) {
	retrier := common.NewRetrier(cfg, logger)

	gemini, err := common.NewGeminiClient(ctx, cfg.GeminiKey, retrier)
	if err != nil {
		return nil, fmt.Errorf("building llm client: %w", err)
	}

	var detector *FigureDetector
	if cfg.DetectorModelPath != "" {
		detector, err = NewFigureDetector(cfg.DetectorModelPath, logger)
		if err != nil {
			// The detector is a fallback; a missing runtime should not kill
			// runs that never need it.
			logger.WithError(err).Warn("figure detector unavailable")
			detector = nil
		}
	}

	matcher := DefaultMatcherConfig()
	if cfg.MatchThreshold > 0 {
		matcher.Threshold = cfg.MatchThreshold
	}
	if cfg.MatchMentionBonus > 0 {
		matcher.MentionBonus = cfg.MatchMentionBonus
	}

	var synth SpeechSynthesizer
	switch cfg.TTSProvider {
	case "openai":
		synth = NewOpenAISpeech(cfg.OpenAIKey, cfg.TTSSpeaker)
	case "sarvam", "":
		synth = NewSarvamClient(cfg.SarvamKey, cfg.TTSLanguage, cfg.TTSSpeaker, retrier)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}

	return &Pipeline{
		Config:    cfg,
		Logger:    logger,
		Extractor: NewExtractor(common.NewMistralClient(cfg.MistralKey, retrier), detector, logger),
		Planner: &PlanStage{
			LLM:             gemini,
			ChunkCharBudget: cfg.ChunkCharBudget,
			Matcher:         matcher,
			DiagnosticsDir:  filepath.Join(cfg.OutputDir, "diagnostics"),
			Logger:          logger,
		},
		Synth:     synth,
		Renderer:  NewMarpRenderer(cfg.MarpCmd, cfg.SubprocessTimeout, logger),
		Assembler: &VideoAssembler{Encoder: NewFFmpegEncoder(cfg.FFmpegBin, cfg.FFprobeBin, cfg.SubprocessTimeout), Logger: logger},
	}, nil
}

// Close releases collaborator connections held by the pipeline.
func (p *Pipeline) Close() {
	if c, ok := p.Planner.(interface{ Close() }); ok {
		c.Close()
	}
}

// Layout of one run's output directory.
func (p *Pipeline) figuresDir() string { return filepath.Join(p.Config.OutputDir, "figures") }
func (p *Pipeline) slidesDir() string  { return filepath.Join(p.Config.OutputDir, "slides") }
func (p *Pipeline) deckPath() string   { return filepath.Join(p.slidesDir(), "deck.md") }
func (p *Pipeline) planPath() string   { return filepath.Join(p.slidesDir(), "slides_plan.json") }
func (p *Pipeline) audioDir() string   { return filepath.Join(p.slidesDir(), "audio") }
func (p *Pipeline) framesDir() string  { return filepath.Join(p.slidesDir(), "frames") }
func (p *Pipeline) videoPath() string  { return filepath.Join(p.Config.OutputDir, "video.mp4") }

// Run executes the pipeline and returns the final artifact path: the video
// in full mode, the rendered deck in slides mode.
func (p *Pipeline) Run(ctx context.Context, run *PipelineRun) (string, error) {
	if err := os.MkdirAll(p.slidesDir(), 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	// Extraction. No text means no run.
	run.Start(StageExtract, "extracting text and figures")
	run.Start(StageFigures, "extracting figures")
	result, err := p.Extractor.Extract(ctx, p.Config.PDFPath, p.figuresDir())
	if err != nil {
		run.Fail(StageExtract, err.Error())
		run.Fail(StageFigures, "extraction failed")
		p.skipRemaining(run, StagePlan, "extraction failed")
		return "", err
	}
	run.Complete(StageExtract, fmt.Sprintf("%d characters of text", len(result.Text)))

	// No figure path may reach slide content unless the image exists.
	figures := result.Figures
	figuresErr := result.FiguresErr
	if figuresErr == nil && len(figures) > 0 {
		if verr := figures.Validate(); verr != nil {
			figuresErr = verr
			figures = nil
		}
	}

	switch {
	case figuresErr != nil:
		// Figure loss is reported but never blocks planning.
		run.Fail(StageFigures, figuresErr.Error())
	case len(figures) == 0:
		run.Complete(StageFigures, "no figures found")
	default:
		run.Complete(StageFigures, fmt.Sprintf("%d figures", len(figures)))
	}

	// Planning.
	run.Start(StagePlan, fmt.Sprintf("planning %d slides", p.Config.MaxSlides))
	plan, err := p.Planner.GeneratePlan(ctx, result.Text, figures, p.Config.MaxSlides)
	if err != nil {
		run.Fail(StagePlan, err.Error())
		p.skipRemaining(run, StageAssembleDoc, "planning failed")
		return "", err
	}
	if err := plan.Save(p.planPath()); err != nil {
		run.Fail(StagePlan, err.Error())
		p.skipRemaining(run, StageAssembleDoc, "planning failed")
		return "", err
	}
	run.Complete(StagePlan, fmt.Sprintf("%d slides", len(plan)))

	// Deck document.
	run.Start(StageAssembleDoc, "writing deck")
	if err := WriteDeck(plan, p.deckPath()); err != nil {
		run.Fail(StageAssembleDoc, err.Error())
		p.skipRemaining(run, StageNarrate, "deck assembly failed")
		return "", err
	}
	run.Complete(StageAssembleDoc, p.deckPath())

	// Narration. A failure here still renders frames but blocks assembly.
	var narrateErr error
	if p.Config.SlidesOnly() {
		run.Skip(StageNarrate, "slides mode")
	} else {
		run.Start(StageNarrate, "synthesizing narration")
		clips, err := SynthesizeNarration(ctx, p.Synth, plan, p.audioDir(), p.Logger, func(current, total int) {
			run.Progress(StageNarrate, current, total)
		})
		if err != nil {
			narrateErr = err
			run.Fail(StageNarrate, err.Error())
		} else {
			run.Complete(StageNarrate, fmt.Sprintf("%d clips", len(clips)))
		}
	}

	// Rendering.
	run.Start(StageRender, "rendering frames")
	frames, err := p.Renderer.Render(ctx, p.deckPath(), p.framesDir())
	if err != nil {
		run.Fail(StageRender, err.Error())
		run.Skip(StageAssembleVideo, "rendering failed")
		return "", err
	}
	if len(frames) != len(plan) && p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"frames": len(frames),
			"slides": len(plan),
		}).Warn("frame count does not match slide count")
	}
	run.Complete(StageRender, fmt.Sprintf("%d frames", len(frames)))

	// Video assembly.
	if p.Config.SlidesOnly() {
		run.Skip(StageAssembleVideo, "slides mode")
		return p.deckPath(), nil
	}
	if narrateErr != nil {
		run.Skip(StageAssembleVideo, "narration failed")
		return "", narrateErr
	}

	run.Start(StageAssembleVideo, "assembling video")
	if err := p.Assembler.Assemble(ctx, p.framesDir(), p.audioDir(), p.videoPath()); err != nil {
		run.Fail(StageAssembleVideo, err.Error())
		return "", err
	}
	run.Complete(StageAssembleVideo, p.videoPath())

	return p.videoPath(), nil
}

// skipRemaining marks from and every later stage skipped after a fatal
// failure, so status consumers always see a terminal run.
func (p *Pipeline) skipRemaining(run *PipelineRun, from Stage, reason string) {
	seen := false
	for _, s := range Stages() {
		if s == from {
			seen = true
		}
		if seen {
			run.Skip(s, reason)
		}
	}
}
