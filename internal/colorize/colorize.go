// Package colorize maps quantized gray levels to user-chosen color bands
// and renders preview and final images.
package colorize

import (
	"fmt"
	"regexp"
	"strconv"

	"gocv.io/x/gocv"

	"paintguide/internal/quantize"
)

// Pixels darker than BlackMax are forced to pure black and brighter than
// WhiteMin to pure white in every rendered output, overriding any cluster
// or band mapping.
const (
	BlackMax = 50
	WhiteMin = 245
)

// BGR is a color triple in gocv's native channel order.
type BGR struct {
	B, G, R uint8
}

type band struct {
	min, max int
	color    BGR
}

// RangeMap maps inclusive gray intervals to colors. Lookup returns the color
// of the first inserted interval covering a value; later overlapping
// insertions do not override earlier ones.
type RangeMap struct {
	bands []band
}

// Set adds an interval. min and max are inclusive gray values.
func (m *RangeMap) Set(c BGR, min, max int) {
	m.bands = append(m.bands, band{min: min, max: max, color: c})
}

// Lookup returns the color mapped to gray, if any interval covers it.
func (m *RangeMap) Lookup(gray int) (BGR, bool) {
	for _, b := range m.bands {
		if gray >= b.min && gray <= b.max {
			return b.color, true
		}
	}
	return BGR{}, false
}

// Len returns the number of intervals.
func (m *RangeMap) Len() int { return len(m.bands) }

var colorRangePattern = regexp.MustCompile(`#([0-9A-Fa-f]{6})\s*\((\d+)\s*-\s*(\d+)\)`)

// ParseColorRanges parses a comma-separated "#RRGGBB(min-max)" palette
// specification into a RangeMap. Hex colors are stored in BGR order.
// Malformed entries are skipped rather than reported.
func ParseColorRanges(s string) *RangeMap {
	ranges := &RangeMap{}
	for _, m := range colorRangePattern.FindAllStringSubmatch(s, -1) {
		r, _ := strconv.ParseUint(m[1][0:2], 16, 8)
		g, _ := strconv.ParseUint(m[1][2:4], 16, 8)
		b, _ := strconv.ParseUint(m[1][4:6], 16, 8)
		grayMin, _ := strconv.Atoi(m[2])
		grayMax, _ := strconv.Atoi(m[3])
		ranges.Set(BGR{B: uint8(b), G: uint8(g), R: uint8(r)}, grayMin, grayMax)
	}
	return ranges
}

// QuantizePreview clusters img's gray histogram into at most k levels and
// renders a reduced-gray preview. Returns the preview and the centroid
// values used.
func QuantizePreview(img gocv.Mat, k int, opts quantize.ClusterOptions) (gocv.Mat, []uint8, error) {
	gray, err := grayscale(img)
	if err != nil {
		return gocv.NewMat(), nil, err
	}
	defer gray.Close()

	centroids, err := quantize.Cluster(quantize.Histogram(gray), k, opts)
	if err != nil {
		return gocv.NewMat(), nil, err
	}

	grayLUT := quantize.LookupTable(centroids)
	var lut [quantize.Levels]BGR
	for lvl, c := range grayLUT {
		lut[lvl] = BGR{B: c, G: c, R: c}
	}

	out, err := renderLUT(gray, &lut)
	if err != nil {
		return gocv.NewMat(), nil, err
	}
	return out, centroids, nil
}

// ApplyPalette clusters img's gray histogram independently, maps each
// centroid through the palette bands (identity gray for uncovered values)
// and renders the recolored image.
func ApplyPalette(img gocv.Mat, k int, bands *RangeMap, opts quantize.ClusterOptions) (gocv.Mat, error) {
	gray, err := grayscale(img)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer gray.Close()

	centroids, err := quantize.Cluster(quantize.Histogram(gray), k, opts)
	if err != nil {
		return gocv.NewMat(), err
	}

	grayLUT := quantize.LookupTable(centroids)
	var lut [quantize.Levels]BGR
	for lvl := range lut {
		centroid := grayLUT[lvl]
		if c, ok := bands.Lookup(int(centroid)); ok {
			lut[lvl] = c
		} else {
			lut[lvl] = BGR{B: centroid, G: centroid, R: centroid}
		}
	}

	return renderLUT(gray, &lut)
}

// grayscale returns a single-channel copy of img. Single-channel inputs are
// cloned as-is; stored vehicle crops round-trip through 3-channel encodings.
func grayscale(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.NewMat(), fmt.Errorf("colorize: empty image")
	}
	if img.Channels() == 1 {
		return img.Clone(), nil
	}
	gray := gocv.NewMat()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray, nil
}

// renderLUT builds a 3-channel image by passing every gray pixel through the
// lookup table, with the black/white override applied last.
func renderLUT(gray gocv.Mat, lut *[quantize.Levels]BGR) (gocv.Mat, error) {
	src := gray.ToBytes()
	dst := make([]byte, len(src)*3)
	for i, v := range src {
		var c BGR
		switch {
		case v < BlackMax:
			c = BGR{0, 0, 0}
		case v > WhiteMin:
			c = BGR{255, 255, 255}
		default:
			c = lut[v]
		}
		dst[i*3] = c.B
		dst[i*3+1] = c.G
		dst[i*3+2] = c.R
	}

	out, err := gocv.NewMatFromBytes(gray.Rows(), gray.Cols(), gocv.MatTypeCV8UC3, dst)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("build output image: %w", err)
	}
	return out, nil
}
