// Package pipeline sequences page rendering, relevance filtering, vehicle
// segmentation and preview clustering across a whole document.
package pipeline

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"paintguide/internal/colorize"
	"paintguide/internal/pagefilter"
	"paintguide/internal/quantize"
	"paintguide/internal/render"
	"paintguide/internal/repo"
	"paintguide/internal/timing"
	"paintguide/internal/vehicle"
)

// Options configures a Pipeline.
type Options struct {
	// Workers caps the page fan-out. The cap is fixed, not proportional
	// to document size.
	Workers int
	// ROIMargin is the inward crop in pixels inside the detected frame.
	ROIMargin int
	Segment   vehicle.SegmentOptions
	Cluster   quantize.ClusterOptions
}

// DefaultOptions returns the tuned pipeline defaults.
func DefaultOptions() Options {
	return Options{
		Workers:   8,
		ROIMargin: vehicle.DefaultROIMargin,
		Segment:   vehicle.DefaultSegmentOptions(),
		Cluster:   quantize.DefaultClusterOptions(),
	}
}

// Result describes the first paint-scheme page found in a document.
type Result struct {
	// Page is the 0-based index the diagram came from.
	Page int
	// PreviewLocator points at the stored reduced-gray preview.
	PreviewLocator string
	// Centroids are the preview's gray levels, ascending.
	Centroids []int
	// Session names the output sub-repository holding this run's
	// artifacts.
	Session string
}

// Pipeline runs document processing against injected collaborators.
type Pipeline struct {
	renderer render.Renderer
	counter  render.PageCounter
	opts     Options
	log      zerolog.Logger
}

// New creates a Pipeline. The renderer must be safe for concurrent calls.
func New(renderer render.Renderer, counter render.PageCounter, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Pipeline{
		renderer: renderer,
		counter:  counter,
		opts:     opts,
		log:      logger,
	}
}

// ProcessDocument renders every considered page concurrently, segments the
// accepted ones, stores ROI and vehicle crops under a fresh session
// sub-repository, and clusters the first accepted page (in page order) into
// a reduced-gray preview.
//
// Once dispatched, every selected page runs to completion even if an
// earlier page already produced a result; the first-match scan happens only
// after all workers join. Any worker failure aborts the whole run. A
// document with no accepted pages yields (nil, nil), which is a valid
// outcome, not an error.
func (p *Pipeline) ProcessDocument(doc []byte, k int, dpi float64, filter pagefilter.Filter, out repo.ImageRepository) (*Result, error) {
	defer timing.Track(p.log, "process_document")()

	session := uuid.NewString()
	sessionRepo, err := out.SubRepo(session)
	if err != nil {
		return nil, fmt.Errorf("open session repository: %w", err)
	}

	pageCount, err := p.counter.PageCount(doc)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}

	var selected []int
	for page := 0; page < pageCount; page++ {
		if filter.Consider(page) {
			selected = append(selected, page)
		}
	}
	p.log.Info().
		Int("pages", pageCount).
		Int("selected", len(selected)).
		Str("session", session).
		Msg("processing document")

	// One result slot per page; each worker exclusively owns its own slot.
	rois := make([]*gocv.Mat, pageCount)
	errs := make([]error, pageCount)

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.opts.Workers)
	for _, page := range selected {
		wg.Add(1)
		sem <- struct{}{}
		go func(page int) {
			defer wg.Done()
			defer func() { <-sem }()
			rois[page], errs[page] = p.processPage(doc, page, dpi, filter, sessionRepo)
		}(page)
	}
	wg.Wait()

	defer releaseAll(rois)
	for page := 0; page < pageCount; page++ {
		if errs[page] != nil {
			return nil, errs[page]
		}
	}

	firstPage := -1
	for page, roi := range rois {
		if roi != nil {
			firstPage = page
			break
		}
	}
	if firstPage == -1 {
		p.log.Info().Msg("no paint-scheme page found")
		return nil, nil
	}

	stop := timing.Track(p.log, "cluster_preview")
	preview, centroids, err := colorize.QuantizePreview(*rois[firstPage], k, p.opts.Cluster)
	stop()
	if err != nil {
		return nil, fmt.Errorf("cluster page %d: %w", firstPage, err)
	}
	defer preview.Close()

	locator, err := sessionRepo.Store(preview, "clustered_preview.png")
	if err != nil {
		return nil, fmt.Errorf("store preview: %w", err)
	}

	values := make([]int, len(centroids))
	for i, c := range centroids {
		values[i] = int(c)
	}
	sort.Ints(values)

	return &Result{
		Page:           firstPage,
		PreviewLocator: locator,
		Centroids:      values,
		Session:        session,
	}, nil
}

// processPage renders one page, applies the relevance filter and, when the
// page is accepted, segments it and stores its artifacts. Returns the ROI
// image for accepted pages and nil for rejected ones.
func (p *Pipeline) processPage(doc []byte, page int, dpi float64, filter pagefilter.Filter, sessionRepo repo.ImageRepository) (*gocv.Mat, error) {
	defer timing.Track(p.log, "process_page")()

	img, err := p.renderer.Render(doc, page, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	defer img.Close()

	ok, err := filter.Accept(page, img)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.log.Debug().Int("page", page).Msg("page rejected")
		return nil, nil
	}

	roi, box := vehicle.FindInnerROI(img, p.opts.ROIMargin)
	crops := vehicle.ExtractVehicles(roi, p.opts.Segment)
	defer closeCrops(crops)

	p.log.Info().
		Int("page", page).
		Int("vehicles", len(crops)).
		Int("roi_x", box.Min.X).
		Int("roi_y", box.Min.Y).
		Int("roi_w", box.Dx()).
		Int("roi_h", box.Dy()).
		Msg("page segmented")

	if err := p.storePageArtifacts(page, roi, crops, sessionRepo); err != nil {
		roi.Close()
		return nil, err
	}
	return &roi, nil
}

// storePageArtifacts persists the ROI and its vehicle crops under the
// session's "roi" and "vehicles" sub-repositories.
func (p *Pipeline) storePageArtifacts(page int, roi gocv.Mat, crops []vehicle.Crop, sessionRepo repo.ImageRepository) error {
	roiRepo, err := sessionRepo.SubRepo("roi")
	if err != nil {
		return fmt.Errorf("open roi repository: %w", err)
	}
	if _, err := roiRepo.Store(roi, fmt.Sprintf("roi_pg%d.webp", page)); err != nil {
		return fmt.Errorf("store roi for page %d: %w", page, err)
	}

	vehicleRepo, err := sessionRepo.SubRepo("vehicles")
	if err != nil {
		return fmt.Errorf("open vehicles repository: %w", err)
	}
	imgs := make([]gocv.Mat, len(crops))
	for i, crop := range crops {
		imgs[i] = crop.Image
	}
	if _, err := vehicleRepo.StoreMany(imgs, fmt.Sprintf("vehicles_pg%d", page)); err != nil {
		return fmt.Errorf("store vehicles for page %d: %w", page, err)
	}
	return nil
}

// ApplyColorMapping re-clusters every image in the input repository and
// recolors it through the palette, storing results under the original names
// in input order. Each image is clustered independently of the preview run.
func (p *Pipeline) ApplyColorMapping(k int, palette string, in, out repo.ImageRepository) ([]string, error) {
	defer timing.Track(p.log, "apply_color_mapping")()

	bands := colorize.ParseColorRanges(palette)
	p.log.Info().Int("bands", bands.Len()).Msg("applying color mapping")

	var locators []string
	err := in.Iterate(func(name string, img gocv.Mat) error {
		recolored, err := colorize.ApplyPalette(img, k, bands, p.opts.Cluster)
		if err != nil {
			return fmt.Errorf("colorize %s: %w", name, err)
		}
		defer recolored.Close()

		locator, err := out.Store(recolored, name)
		if err != nil {
			return fmt.Errorf("store %s: %w", name, err)
		}
		locators = append(locators, locator)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locators, nil
}

func releaseAll(rois []*gocv.Mat) {
	for _, roi := range rois {
		if roi != nil {
			roi.Close()
		}
	}
}

func closeCrops(crops []vehicle.Crop) {
	for _, crop := range crops {
		crop.Image.Close()
	}
}
