package vehicle

import (
	"image"
	"sort"

	"gocv.io/x/gocv"
)

// DenoiseMode selects the denoising strategy applied before binarization.
type DenoiseMode int

const (
	// DenoiseNone skips denoising entirely.
	DenoiseNone DenoiseMode = iota
	// DenoiseGaussian applies a fast 3x3 Gaussian blur.
	DenoiseGaussian
	// DenoiseNLMeans applies non-local means denoising. Slow; use when
	// fidelity matters more than speed.
	DenoiseNLMeans
)

// SegmentOptions configures vehicle segmentation. The ratios and margins are
// empirically tuned for scanned instruction sheets; changing them changes
// segmentation behavior silently.
type SegmentOptions struct {
	// MinAreaRatio rejects contours smaller than this fraction of ROI area.
	MinAreaRatio float64
	Denoise      DenoiseMode

	// Frame classification of the largest contour.
	FrameAreaRatio       float64 // area share demanding all-edge contact
	FrameQuadAreaRatio   float64 // area share demanding a convex quad
	FrameEdgeMargin      int     // edge-contact slack in pixels
	FrameAspectTolerance float64 // |frame aspect - ROI aspect| bound

	// Candidate filtering.
	MaxAreaRatio      float64 // above this, convex quads are second frames
	BBoxFullRatio     float64 // bbox dimension share treated as full-size
	BorderMargin      int     // bbox-to-edge distance treated as touching
	NearFullAreaRatio float64 // area share treated as the whole ROI

	// Row grouping.
	MinRowGap      float64 // absolute floor for the row threshold, pixels
	RowGapOfMedian float64 // row threshold as share of median crop height
	RowGapOfROI    float64 // row threshold as share of ROI height
}

// DefaultSegmentOptions returns the tuned segmentation defaults.
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{
		MinAreaRatio: 0.01,
		Denoise:      DenoiseNLMeans,

		FrameAreaRatio:       0.6,
		FrameQuadAreaRatio:   0.5,
		FrameEdgeMargin:      5,
		FrameAspectTolerance: 0.35,

		MaxAreaRatio:      0.5,
		BBoxFullRatio:     0.9,
		BorderMargin:      3,
		NearFullAreaRatio: 0.98,

		MinRowGap:      10,
		RowGapOfMedian: 0.8,
		RowGapOfROI:    0.04,
	}
}

// Crop is a single segmented vehicle figure. Index is the row-major ordinal:
// top-to-bottom row groups, left-to-right within a row.
type Crop struct {
	Index int
	Box   image.Rectangle // relative to the ROI
	Image gocv.Mat
}

// candidate carries the bounding box and center of a surviving contour.
type candidate struct {
	box    image.Rectangle
	cx, cy float64
}

// ExtractVehicles finds the vehicle figures inside a ROI and returns them in
// row-major reading order. An empty result is a valid outcome, not an error.
func ExtractVehicles(roi gocv.Mat, opts SegmentOptions) []Crop {
	h, w := roi.Rows(), roi.Cols()
	roiArea := float64(h * w)
	if roiArea == 0 {
		return nil
	}

	bw := binarize(roi, opts.Denoise)
	defer bw.Close()

	contours := gocv.FindContours(bw, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil
	}

	// Sort contour indices by area, largest first.
	type contourInfo struct {
		idx  int
		area float64
	}
	infos := make([]contourInfo, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		infos[i] = contourInfo{idx: i, area: gocv.ContourArea(contours.At(i))}
	}
	sort.SliceStable(infos, func(a, b int) bool { return infos[a].area > infos[b].area })

	skipFrame := isFrameLike(contours.At(infos[0].idx), w, h, opts)

	var candidates []candidate
	for i, info := range infos {
		if i == 0 && skipFrame {
			continue
		}
		if c, ok := filterCandidate(contours.At(info.idx), info.area, w, h, opts); ok {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	ordered := orderRowMajor(candidates, h, opts)

	crops := make([]Crop, len(ordered))
	for i, c := range ordered {
		region := roi.Region(c.box)
		crops[i] = Crop{Index: i, Box: c.box, Image: region.Clone()}
		region.Close()
	}
	return crops
}

// binarize produces the inverted binary mask the contour pass runs on:
// grayscale, optional denoise, adaptive mean threshold, then morphological
// closing and dilation to merge fragmented strokes.
func binarize(roi gocv.Mat, mode DenoiseMode) gocv.Mat {
	gray := gocv.NewMat()
	gocv.CvtColor(roi, &gray, gocv.ColorBGRToGray)

	switch mode {
	case DenoiseGaussian:
		gocv.GaussianBlur(gray, &gray, image.Pt(3, 3), 0, 0, gocv.BorderDefault)
	case DenoiseNLMeans:
		denoised := gocv.NewMat()
		gocv.FastNlMeansDenoisingWithParams(gray, &denoised, 10, 7, 21)
		gray.Close()
		gray = denoised
	}

	bw := gocv.NewMat()
	gocv.AdaptiveThreshold(gray, &bw, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinaryInv, 31, 5)
	gray.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(5, 5))
	defer kernel.Close()
	gocv.MorphologyExWithParams(bw, &bw, gocv.MorphClose, kernel, 2, gocv.BorderConstant)
	gocv.Dilate(bw, &bw, kernel)

	return bw
}

// isFrameLike reports whether the largest contour is the diagram's outer
// frame rather than a vehicle: either it covers most of the ROI and touches
// all four edges, or it is a convex quadrilateral of similar aspect ratio.
func isFrameLike(contour gocv.PointVector, w, h int, opts SegmentOptions) bool {
	rect := gocv.BoundingRect(contour)
	rectArea := float64(rect.Dx() * rect.Dy())
	roiArea := float64(w * h)

	m := opts.FrameEdgeMargin
	touchesAll := rect.Min.X <= m && rect.Min.Y <= m &&
		rect.Max.X >= w-m && rect.Max.Y >= h-m

	if rectArea > opts.FrameAreaRatio*roiArea && touchesAll {
		return true
	}

	if rectArea > opts.FrameQuadAreaRatio*roiArea && isConvexQuad(contour) {
		frameAspect := 0.0
		if rect.Dy() != 0 {
			frameAspect = float64(rect.Dx()) / float64(rect.Dy())
		}
		roiAspect := 0.0
		if h != 0 {
			roiAspect = float64(w) / float64(h)
		}
		if abs(frameAspect-roiAspect) < opts.FrameAspectTolerance {
			return true
		}
	}
	return false
}

// filterCandidate applies the rejection rules to a contour and returns its
// candidate record when it survives.
func filterCandidate(contour gocv.PointVector, area float64, w, h int, opts SegmentOptions) (candidate, bool) {
	roiArea := float64(w * h)

	if area < roiArea*opts.MinAreaRatio {
		return candidate{}, false
	}

	rect := gocv.BoundingRect(contour)
	bw, bh := rect.Dx(), rect.Dy()

	if float64(bw) >= float64(w)*opts.BBoxFullRatio || float64(bh) >= float64(h)*opts.BBoxFullRatio {
		return candidate{}, false
	}
	if area >= roiArea*opts.NearFullAreaRatio {
		return candidate{}, false
	}

	m := opts.BorderMargin
	if rect.Min.X <= m || rect.Min.Y <= m || rect.Max.X >= w-m || rect.Max.Y >= h-m {
		return candidate{}, false
	}

	// A second frame-like shape: large and rectangular.
	if area > roiArea*opts.MaxAreaRatio && isConvexQuad(contour) {
		return candidate{}, false
	}

	// A crop identical to the full ROI carries no information.
	if rect == image.Rect(0, 0, w, h) {
		return candidate{}, false
	}
	if float64(bw*bh) >= roiArea*opts.NearFullAreaRatio {
		return candidate{}, false
	}

	return candidate{
		box: rect,
		cx:  float64(rect.Min.X) + float64(bw)/2,
		cy:  float64(rect.Min.Y) + float64(bh)/2,
	}, true
}

// isConvexQuad reports whether the contour's polygon approximation is a
// convex quadrilateral.
func isConvexQuad(contour gocv.PointVector) bool {
	peri := gocv.ArcLength(contour, true)
	approx := gocv.ApproxPolyDP(contour, 0.02*peri, true)
	defer approx.Close()
	return approx.Size() == 4 && gocv.IsContourConvex(approx)
}

// orderRowMajor groups candidates into rows by vertical proximity and
// flattens them top-to-bottom, left-to-right. The grouping threshold adapts
// to the median candidate height so rows of small and large figures both
// resolve correctly.
func orderRowMajor(candidates []candidate, roiHeight int, opts SegmentOptions) []candidate {
	heights := make([]float64, len(candidates))
	for i, c := range candidates {
		heights[i] = float64(c.box.Dy())
	}
	rowGap := opts.MinRowGap
	if v := median(heights) * opts.RowGapOfMedian; v > rowGap {
		rowGap = v
	}
	if v := float64(roiHeight) * opts.RowGapOfROI; v > rowGap {
		rowGap = v
	}

	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].cy != sorted[b].cy {
			return sorted[a].cy < sorted[b].cy
		}
		return sorted[a].cx < sorted[b].cx
	})

	// Group by comparing each center against the running mean of the
	// current row.
	var rows [][]candidate
	for _, c := range sorted {
		if len(rows) == 0 {
			rows = append(rows, []candidate{c})
			continue
		}
		row := rows[len(rows)-1]
		if abs(c.cy-meanCY(row)) <= rowGap {
			rows[len(rows)-1] = append(row, c)
		} else {
			rows = append(rows, []candidate{c})
		}
	}

	for _, row := range rows {
		sort.SliceStable(row, func(a, b int) bool { return row[a].cx < row[b].cx })
	}
	sort.SliceStable(rows, func(a, b int) bool { return meanCY(rows[a]) < meanCY(rows[b]) })

	var ordered []candidate
	for _, row := range rows {
		ordered = append(ordered, row...)
	}
	return ordered
}

func meanCY(row []candidate) float64 {
	sum := 0.0
	for _, c := range row {
		sum += c.cy
	}
	return sum / float64(len(row))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
