// Package render rasterizes document pages and inspects document structure.
package render

import (
	"bytes"
	"fmt"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"gocv.io/x/gocv"
)

// Renderer rasterizes a single document page at the given resolution. It
// must be safe to call concurrently on the same document bytes.
type Renderer interface {
	Render(doc []byte, page int, dpi float64) (gocv.Mat, error)
}

// PageCounter reports how many pages a document has.
type PageCounter interface {
	PageCount(doc []byte) (int, error)
}

// Fitz renders pages through MuPDF. Every call opens its own document
// handle: fitz documents are not safe for concurrent use.
type Fitz struct{}

func (Fitz) Render(doc []byte, page int, dpi float64) (gocv.Mat, error) {
	d, err := fitz.NewFromMemory(doc)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("open document: %w", err)
	}
	defer d.Close()

	img, err := d.ImageDPI(page, dpi)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("render page %d: %w", page, err)
	}

	rgba, err := gocv.ImageToMatRGBA(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert page %d: %w", page, err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// PDFCPU counts pages with pdfcpu, which also validates the document
// structure on the way in.
type PDFCPU struct {
	conf *model.Configuration
}

// NewPDFCPU creates a page counter with relaxed validation, matching the
// tolerance scanners need for real-world PDFs.
func NewPDFCPU() PDFCPU {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return PDFCPU{conf: conf}
}

func (c PDFCPU) PageCount(doc []byte) (int, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(doc), c.conf)
	if err != nil {
		return 0, fmt.Errorf("read document: %w", err)
	}
	return ctx.PageCount, nil
}
