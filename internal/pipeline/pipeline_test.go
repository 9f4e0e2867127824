package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"paintguide/internal/pagefilter"
	"paintguide/internal/repo"
)

// fakeRenderer serves solid white pages and records which pages were
// rendered. Safe for concurrent use.
type fakeRenderer struct {
	mu       sync.Mutex
	pages    int
	rendered []int
	failPage int // page index that fails to render; -1 for none
}

func newFakeRenderer(pages int) *fakeRenderer {
	return &fakeRenderer{pages: pages, failPage: -1}
}

func (r *fakeRenderer) Render(doc []byte, page int, dpi float64) (gocv.Mat, error) {
	r.mu.Lock()
	r.rendered = append(r.rendered, page)
	r.mu.Unlock()

	if page == r.failPage {
		return gocv.NewMat(), fmt.Errorf("renderer broke on page %d", page)
	}

	data := make([]byte, 64*64*3)
	for i := range data {
		data[i] = 255
	}
	m, err := gocv.NewMatFromBytes(64, 64, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), err
	}
	return m, nil
}

func (r *fakeRenderer) PageCount(doc []byte) (int, error) {
	return r.pages, nil
}

func (r *fakeRenderer) renderedPages() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.rendered))
	copy(out, r.rendered)
	return out
}

// acceptPages accepts exactly the listed page indices.
type acceptPages map[int]struct{}

func (f acceptPages) Consider(page int) bool { return true }

func (f acceptPages) Accept(page int, img gocv.Mat) (bool, error) {
	_, ok := f[page]
	return ok, nil
}

func newPipeline(r *fakeRenderer) *Pipeline {
	opts := DefaultOptions()
	opts.Workers = 4
	return New(r, r, opts, zerolog.Nop())
}

func TestProcessDocumentConsiderRestrictsRendering(t *testing.T) {
	renderer := newFakeRenderer(3)
	p := newPipeline(renderer)
	out := repo.NewMem()
	defer out.Close()

	filter := pagefilter.NewStatic(map[int]struct{}{1: {}})
	result, err := p.ProcessDocument(nil, 4, 100, filter, out)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}

	rendered := renderer.renderedPages()
	if len(rendered) != 1 || rendered[0] != 1 {
		t.Errorf("rendered pages = %v, want [1]", rendered)
	}
	if result == nil {
		t.Fatal("expected a result for the accepted page")
	}
	if result.Page != 1 {
		t.Errorf("result page = %d, want 1", result.Page)
	}
}

func TestProcessDocumentFirstMatchInPageOrder(t *testing.T) {
	renderer := newFakeRenderer(5)
	p := newPipeline(renderer)
	out := repo.NewMem()
	defer out.Close()

	result, err := p.ProcessDocument(nil, 4, 100, acceptPages{2: {}, 4: {}}, out)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	if result.Page != 2 {
		t.Errorf("result page = %d, want the lowest accepted page 2", result.Page)
	}

	// Later accepted pages are still processed, not cancelled.
	if got := renderer.renderedPages(); len(got) != 5 {
		t.Errorf("rendered %d pages, want all 5", len(got))
	}
}

func TestProcessDocumentNoMatchIsNotAnError(t *testing.T) {
	renderer := newFakeRenderer(3)
	p := newPipeline(renderer)
	out := repo.NewMem()
	defer out.Close()

	result, err := p.ProcessDocument(nil, 4, 100, acceptPages{}, out)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result when no page is accepted, got %+v", result)
	}
}

func TestProcessDocumentWorkerFailureAborts(t *testing.T) {
	renderer := newFakeRenderer(4)
	renderer.failPage = 2
	p := newPipeline(renderer)
	out := repo.NewMem()
	defer out.Close()

	_, err := p.ProcessDocument(nil, 4, 100, acceptPages{0: {}}, out)
	if err == nil {
		t.Fatal("expected the page 2 failure to abort the run")
	}

	// All pages still ran to completion before the error surfaced.
	if got := renderer.renderedPages(); len(got) != 4 {
		t.Errorf("rendered %d pages, want all 4", len(got))
	}
}

func TestProcessDocumentFilterErrorPropagates(t *testing.T) {
	renderer := newFakeRenderer(2)
	p := newPipeline(renderer)
	out := repo.NewMem()
	defer out.Close()

	wantErr := errors.New("ocr offline")
	filter := failingFilter{err: wantErr}
	_, err := p.ProcessDocument(nil, 4, 100, filter, out)
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want wrapped %v", err, wantErr)
	}
}

type failingFilter struct{ err error }

func (f failingFilter) Consider(page int) bool { return true }
func (f failingFilter) Accept(page int, img gocv.Mat) (bool, error) {
	return false, f.err
}

func TestProcessDocumentPreviewArtifacts(t *testing.T) {
	renderer := newFakeRenderer(1)
	p := newPipeline(renderer)
	out := repo.NewMem()
	defer out.Close()

	result, err := p.ProcessDocument(nil, 4, 100, acceptPages{0: {}}, out)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result")
	}
	if result.Session == "" {
		t.Error("result should carry a session id")
	}

	// A white page clusters to the single centroid 255.
	if len(result.Centroids) != 1 || result.Centroids[0] != 255 {
		t.Errorf("centroids = %v, want [255]", result.Centroids)
	}

	session, ok := out.Sub(result.Session)
	if !ok {
		t.Fatal("session sub-repository missing")
	}
	if session.Len() != 1 {
		t.Errorf("session holds %d images, want the preview only", session.Len())
	}
	if _, ok := session.Sub("roi"); !ok {
		t.Error("roi sub-repository missing")
	}
	if _, ok := session.Sub("vehicles"); !ok {
		t.Error("vehicles sub-repository missing")
	}
}

func TestApplyColorMappingPreservesNames(t *testing.T) {
	p := newPipeline(newFakeRenderer(0))

	in := repo.NewMem()
	defer in.Close()
	out := repo.NewMem()
	defer out.Close()

	data := make([]byte, 8*8*3)
	for i := range data {
		data[i] = 200
	}
	img, err := gocv.NewMatFromBytes(8, 8, gocv.MatTypeCV8UC3, data)
	if err != nil {
		t.Fatalf("NewMatFromBytes: %v", err)
	}
	defer img.Close()

	for _, name := range []string{"vehicles_pg1_000.webp", "vehicles_pg1_001.webp"} {
		if _, err := in.Store(img, name); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	locators, err := p.ApplyColorMapping(3, "#FF0000(150-255)", in, out)
	if err != nil {
		t.Fatalf("ApplyColorMapping: %v", err)
	}
	if len(locators) != 2 {
		t.Fatalf("expected 2 locators, got %d", len(locators))
	}

	var names []string
	if err := out.Iterate(func(name string, img gocv.Mat) error {
		names = append(names, name)
		if v := img.GetVecbAt(0, 0); v[0] != 0 || v[1] != 0 || v[2] != 255 {
			t.Errorf("%s pixel = %v, want pure red (BGR 0,0,255)", name, v)
		}
		return nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(names) != 2 || names[0] != "vehicles_pg1_000.webp" || names[1] != "vehicles_pg1_001.webp" {
		t.Errorf("output names = %v, want the input names in order", names)
	}
}
