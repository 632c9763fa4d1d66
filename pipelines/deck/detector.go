package deck

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"papercast/common"
)

// FigureDetector finds figures on rendered PDF pages with a DocLayNet layout
// model. It is the offline fallback when the OCR collaborator is unavailable
// or returned no embedded images.
type FigureDetector struct {
	ModelPath     string
	ConfThreshold float32
	NMSThreshold  float32
	MinBoxSize    int
	Logger        *logrus.Logger
	session       *ort.DynamicAdvancedSession
}

// DocLayNet class labels, in model output order.
var layoutClassNames = []string{
	"Caption", "Footnote", "Formula", "List-item", "Page-footer",
	"Page-header", "Picture", "Section-header", "Table", "Text", "Title",
}

const (
	detectorInputSize = 1024
	detectorChannels  = 15
	detectorAnchors   = 21504
)

func NewFigureDetector(modelPath string, logger *logrus.Logger) (*FigureDetector, error) {
	if modelPath == "" {
		return &FigureDetector{Logger: logger}, nil
	}

	libPath := "/opt/homebrew/lib/libonnxruntime.dylib"
	if runtime.GOOS == "linux" {
		libPath = "/usr/lib/libonnxruntime.so"
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{"images"}, []string{"output0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &FigureDetector{
		ModelPath:     modelPath,
		ConfThreshold: 0.30,
		NMSThreshold:  0.45,
		MinBoxSize:    30,
		Logger:        logger,
		session:       session,
	}, nil
}

// Enabled reports whether a model is loaded.
func (d *FigureDetector) Enabled() bool {
	return d != nil && d.session != nil
}

func (d *FigureDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
		ort.DestroyEnvironment()
	}
}

type detection struct {
	page int
	box  image.Rectangle
	img  image.Image
}

// Detect renders every page, runs layout detection, and crops Picture and
// Table regions from a 300 DPI render. Crops are numbered in reading order
// (page first, then left edge) and written to outDir per the figure naming
// convention.
func (d *FigureDetector) Detect(pdfPath, outDir string) (common.FigureSet, error) {
	if !d.Enabled() {
		return nil, fmt.Errorf("no detection model loaded")
	}

	doc, err := common.OpenPDF(pdfPath)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var all []detection
	var mu sync.Mutex

	jobs := make(chan int, doc.NumPages)
	var wg sync.WaitGroup
	for w := 0; w < runtime.NumCPU(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pageNum := range jobs {
				found := d.detectPage(doc, pageNum)
				if len(found) > 0 {
					mu.Lock()
					all = append(all, found...)
					mu.Unlock()
				}
			}
		}()
	}
	for i := 0; i < doc.NumPages; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// Reading order regardless of worker completion order.
	sort.Slice(all, func(i, j int) bool {
		if all[i].page != all[j].page {
			return all[i].page < all[j].page
		}
		return all[i].box.Min.X < all[j].box.Min.X
	})

	var figures common.FigureSet
	for i, det := range all {
		num := i + 1
		path := filepath.Join(outDir, common.FigureImageName(num))
		if err := savePNG(path, det.img); err != nil {
			if d.Logger != nil {
				d.Logger.WithError(err).WithField("figure", num).Warn("could not save detected figure")
			}
			continue
		}
		figures = append(figures, common.Figure{
			Number:    num,
			Title:     fmt.Sprintf("Figure %d", num),
			Caption:   fmt.Sprintf("Figure detected on page %d", det.page+1),
			ImagePath: path,
		})
	}

	if d.Logger != nil {
		d.Logger.WithField("figures", len(figures)).Info("layout detection complete")
	}
	return figures, nil
}

func (d *FigureDetector) detectPage(doc *common.PDFDocument, pageNum int) []detection {
	img, err := doc.PageImage(pageNum)
	if err != nil {
		return nil
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil
	}
	defer mat.Close()

	// Letterbox to the square model input.
	originalW, originalH := mat.Cols(), mat.Rows()
	scale := float64(detectorInputSize) / float64(max(originalW, originalH))
	newW := int(float64(originalW) * scale)
	newH := int(float64(originalH) * scale)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(newW, newH), 0, 0, gocv.InterpolationLinear)

	canvas := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(114, 114, 114, 0),
		detectorInputSize, detectorInputSize, gocv.MatTypeCV8UC3)
	defer canvas.Close()

	dx := (detectorInputSize - newW) / 2
	dy := (detectorInputSize - newH) / 2

	roi := canvas.Region(image.Rect(dx, dy, dx+newW, dy+newH))
	resized.CopyTo(&roi)
	roi.Close()

	bgr := gocv.Split(canvas)
	defer bgr[0].Close()
	defer bgr[1].Close()
	defer bgr[2].Close()

	inputData := make([]float32, 1*3*detectorInputSize*detectorInputSize)
	for c := 0; c < 3; c++ {
		fMat := gocv.NewMat()
		bgr[c].ConvertTo(&fMat, gocv.MatTypeCV32F)
		fMat.MultiplyFloat(1.0 / 255.0)

		data, _ := fMat.DataPtrFloat32()
		offset := c * detectorInputSize * detectorInputSize
		copy(inputData[offset:], data)
		fMat.Close()
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, detectorInputSize, detectorInputSize), inputData)
	if err != nil {
		return nil
	}
	defer inputTensor.Destroy()

	outputData := make([]float32, 1*detectorChannels*detectorAnchors)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, detectorChannels, detectorAnchors), outputData)
	if err != nil {
		return nil
	}
	defer outputTensor.Destroy()

	if err := d.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return nil
	}

	boxes, classIds, confidences := d.parseModelOutput(outputTensor.GetData(), dx, dy, scale)

	var indices []int
	if len(boxes) > 0 {
		indices = gocv.NMSBoxes(boxes, confidences, d.ConfThreshold, d.NMSThreshold)
	}

	var found []detection
	for _, idx := range indices {
		label := layoutClassNames[classIds[idx]]
		box := boxes[idx]

		if label != "Picture" && label != "Table" {
			continue
		}
		if (box.Max.X-box.Min.X) < d.MinBoxSize || (box.Max.Y-box.Min.Y) < d.MinBoxSize {
			continue
		}

		// Crop from a high-resolution render, not the detection render.
		hiResBytes, err := doc.PagePNG(pageNum, 300)
		if err != nil {
			continue
		}
		hiResImg, err := png.Decode(bytes.NewReader(hiResBytes))
		if err != nil {
			continue
		}

		hiResBounds := hiResImg.Bounds()
		extractScaleX := float64(hiResBounds.Dx()) / float64(originalW)
		extractScaleY := float64(hiResBounds.Dy()) / float64(originalH)

		cropRect := image.Rect(
			int(float64(box.Min.X)*extractScaleX), int(float64(box.Min.Y)*extractScaleY),
			int(float64(box.Max.X)*extractScaleX), int(float64(box.Max.Y)*extractScaleY),
		)

		found = append(found, detection{page: pageNum, box: box, img: cropImage(hiResImg, cropRect)})
	}
	return found
}

func (d *FigureDetector) parseModelOutput(data []float32, dx, dy int, scale float64) ([]image.Rectangle, []int, []float32) {
	var boxes []image.Rectangle
	var classIds []int
	var confidences []float32

	for j := 0; j < detectorAnchors; j++ {
		maxScore := float32(0.0)
		maxClassID := -1
		for k := 4; k < detectorChannels; k++ {
			score := data[k*detectorAnchors+j]
			if score > maxScore {
				maxScore = score
				maxClassID = k - 4
			}
		}
		if maxScore <= d.ConfThreshold {
			continue
		}

		cx := data[0*detectorAnchors+j]
		cy := data[1*detectorAnchors+j]
		w := data[2*detectorAnchors+j]
		h := data[3*detectorAnchors+j]

		// Undo the letterbox offset and scale back to page coordinates.
		cx = (cx - float32(dx)) / float32(scale)
		cy = (cy - float32(dy)) / float32(scale)
		w = w / float32(scale)
		h = h / float32(scale)

		x := cx - w/2
		y := cy - h/2
		if x < 0 {
			x = 0
		}
		if y < 0 {
			y = 0
		}

		boxes = append(boxes, image.Rect(int(x), int(y), int(x+w), int(y+h)))
		classIds = append(classIds, maxClassID)
		confidences = append(confidences, maxScore)
	}
	return boxes, classIds, confidences
}

func cropImage(img image.Image, rect image.Rectangle) image.Image {
	intersect := rect.Intersect(img.Bounds())
	if intersect.Empty() {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := img.(subImager); ok {
		return si.SubImage(intersect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, intersect.Dx(), intersect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, intersect.Min, draw.Src)
	return dst
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
