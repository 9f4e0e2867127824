// Package pagefilter decides which document pages enter the pipeline and
// which rendered pages are worth segmenting.
package pagefilter

import (
	"fmt"
	"strconv"
	"strings"

	"gocv.io/x/gocv"

	"paintguide/internal/paint"
)

// TextExtractor extracts text from a rendered page image. It must be safe
// for concurrent use; page workers call it in parallel.
type TextExtractor interface {
	ExtractText(img gocv.Mat) (string, error)
}

// Filter selects document pages. Consider is checked before a page is
// rendered; Accept is checked on the rendered image.
type Filter interface {
	// Consider reports whether the page index should be rendered at all.
	Consider(page int) bool
	// Accept reports whether a rendered page should be segmented.
	Accept(page int, img gocv.Mat) (bool, error)
}

// Static accepts every considered page without inspecting its contents.
// An empty page set means all pages are considered.
type Static struct {
	pages map[int]struct{}
}

// NewStatic creates a filter restricted to the given 0-based page indices.
func NewStatic(pages map[int]struct{}) *Static {
	return &Static{pages: pages}
}

func (f *Static) Consider(page int) bool {
	if len(f.pages) == 0 {
		return true
	}
	_, ok := f.pages[page]
	return ok
}

func (f *Static) Accept(page int, img gocv.Mat) (bool, error) {
	return f.Consider(page), nil
}

// OCR gates considered pages on the paint-scheme relevance score of their
// extracted text. A negative threshold accepts every considered page without
// invoking the extractor.
type OCR struct {
	Static
	extractor TextExtractor
	threshold int
}

// NewOCR creates an OCR-backed filter over the given 0-based page indices.
func NewOCR(pages map[int]struct{}, extractor TextExtractor, threshold int) *OCR {
	return &OCR{
		Static:    Static{pages: pages},
		extractor: extractor,
		threshold: threshold,
	}
}

func (f *OCR) Accept(page int, img gocv.Mat) (bool, error) {
	if !f.Consider(page) {
		return false, nil
	}
	if f.threshold < 0 {
		return true, nil
	}

	text, err := f.extractor.ExtractText(img)
	if err != nil {
		return false, fmt.Errorf("extract text from page %d: %w", page, err)
	}
	return paint.ScoreText(text).Value >= f.threshold, nil
}

// ParsePageList parses a comma-separated list of 1-based page numbers into a
// set of 0-based indices. Non-numeric tokens are ignored.
func ParsePageList(s string) map[int]struct{} {
	pages := make(map[int]struct{})
	for _, token := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(token))
		if err != nil || n < 1 {
			continue
		}
		pages[n-1] = struct{}{}
	}
	return pages
}
