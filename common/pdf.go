package common

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ValidatePDF cheaply rejects missing or malformed input before anything is
// sent to a collaborator. Returns the page count on success.
func ValidatePDF(path string) (int, error) {
	if err := api.ValidateFile(path, nil); err != nil {
		return 0, fmt.Errorf("not a readable PDF: %w", err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("counting pages: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}

// PDFDocument wraps a fitz document for local text extraction and page
// rasterization (used by the figure-detection fallback).
type PDFDocument struct {
	Path     string
	NumPages int
	doc      *fitz.Document
	// fitz documents are not safe for concurrent use.
	mu sync.Mutex
}

func OpenPDF(path string) (*PDFDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("error opening PDF: %w", err)
	}
	return &PDFDocument{
		Path:     path,
		NumPages: doc.NumPage(),
		doc:      doc,
	}, nil
}

func (p *PDFDocument) Close() {
	if p.doc != nil {
		p.doc.Close()
	}
}

// Text extracts plain text from every page. Local fallback for runs without
// an OCR credential; produces no figures.
func (p *PDFDocument) Text() (string, error) {
	var sb strings.Builder
	for i := 0; i < p.NumPages; i++ {
		text, err := p.PageText(i)
		if err != nil {
			return "", fmt.Errorf("error extracting text from page %d: %w", i, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (p *PDFDocument) PageText(pageNum int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pageNum < 0 || pageNum >= p.NumPages {
		return "", fmt.Errorf("page number %d out of range", pageNum)
	}
	return p.doc.Text(pageNum)
}

// PageImage renders a page at the document's native resolution.
func (p *PDFDocument) PageImage(pageNum int) (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pageNum < 0 || pageNum >= p.NumPages {
		return nil, fmt.Errorf("page number %d out of range", pageNum)
	}
	img, err := p.doc.Image(pageNum)
	if err != nil {
		return nil, fmt.Errorf("error rendering page %d: %w", pageNum, err)
	}
	return img, nil
}

// PagePNG renders a page as PNG bytes at the given DPI.
func (p *PDFDocument) PagePNG(pageNum int, dpi float64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pageNum < 0 || pageNum >= p.NumPages {
		return nil, fmt.Errorf("page number %d out of range", pageNum)
	}
	return p.doc.ImagePNG(pageNum, dpi)
}
