// Package quantize reduces a grayscale histogram to a small set of
// representative gray levels using weighted one-dimensional k-means.
package quantize

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

// Levels is the number of representable gray levels.
const Levels = 256

// ErrEmptyHistogram reports a histogram with zero total weight, i.e. an
// image with no pixels.
var ErrEmptyHistogram = errors.New("quantize: histogram has zero total weight")

// ClusterOptions bounds the k-means iteration.
type ClusterOptions struct {
	MaxIterations int
	// Tolerance is the largest single-centroid movement considered
	// converged.
	Tolerance float64
}

// DefaultClusterOptions returns the iteration bounds used throughout the
// pipeline.
func DefaultClusterOptions() ClusterOptions {
	return ClusterOptions{MaxIterations: 100, Tolerance: 1e-2}
}

// Histogram counts gray-level occurrences in a single-channel 8-bit image.
func Histogram(gray gocv.Mat) [Levels]float64 {
	var hist [Levels]float64
	for _, v := range gray.ToBytes() {
		hist[v]++
	}
	return hist
}

// Cluster groups the histogram's weight into at most k clusters and returns
// the centroid gray values, rounded and clamped to [0,255]. The effective
// cluster count is min(k, number of levels with nonzero weight). Distinctness
// after rounding is best effort: reseeding picks unused levels, but two float
// centroids can still round to the same value.
func Cluster(hist [Levels]float64, k int, opts ClusterOptions) ([]uint8, error) {
	if k <= 0 {
		return nil, fmt.Errorf("quantize: cluster count must be >= 1, got %d", k)
	}

	total := floats.Sum(hist[:])
	if total == 0 {
		return nil, ErrEmptyHistogram
	}

	nonzero := 0
	for _, w := range hist {
		if w != 0 {
			nonzero++
		}
	}
	kEff := min(k, nonzero)

	cum := make([]float64, Levels)
	copy(cum, hist[:])
	floats.CumSum(cum, cum)

	// Initial centroids at evenly spaced interior weighted quantiles.
	centroids := make([]float64, kEff)
	for i := range centroids {
		q := float64(i+1) / float64(kEff+1) * total
		centroids[i] = interpLevel(q, cum)
	}

	assigned := make([]int, Levels)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		for lvl := range assigned {
			assigned[lvl] = nearest(float64(lvl), centroids)
		}

		weightedSums := make([]float64, kEff)
		weightSums := make([]float64, kEff)
		for lvl, w := range hist {
			c := assigned[lvl]
			weightedSums[c] += float64(lvl) * w
			weightSums[c] += w
		}

		next := make([]float64, kEff)
		copy(next, centroids)
		var empty []int
		for c := range next {
			if weightSums[c] > 0 {
				next[c] = weightedSums[c] / weightSums[c]
			} else {
				empty = append(empty, c)
			}
		}
		if len(empty) > 0 {
			reseed(next, empty, weightSums, hist)
		}

		shift := 0.0
		for c := range next {
			if d := math.Abs(next[c] - centroids[c]); d > shift {
				shift = d
			}
		}
		centroids = next
		if shift <= opts.Tolerance {
			break
		}
	}

	out := make([]uint8, kEff)
	for i, c := range centroids {
		out[i] = uint8(math.Min(255, math.Max(0, math.Round(c))))
	}
	return out, nil
}

// reseed moves each empty cluster onto the heaviest-weight level not already
// used as a centroid value, consuming candidate levels in descending weight
// order.
func reseed(centroids []float64, empty []int, weightSums []float64, hist [Levels]float64) {
	used := make(map[int]struct{})
	for c, w := range weightSums {
		if w > 0 {
			used[int(math.Round(centroids[c]))] = struct{}{}
		}
	}

	byWeight := make([]int, Levels)
	for i := range byWeight {
		byWeight[i] = i
	}
	sort.SliceStable(byWeight, func(a, b int) bool {
		return hist[byWeight[a]] > hist[byWeight[b]]
	})

	pick := 0
	for _, c := range empty {
		for pick < len(byWeight) {
			lvl := byWeight[pick]
			pick++
			if _, taken := used[lvl]; !taken {
				used[lvl] = struct{}{}
				centroids[c] = float64(lvl)
				break
			}
		}
	}
}

// nearest returns the index of the closest centroid; ties resolve to the
// lower index.
func nearest(value float64, centroids []float64) int {
	best := 0
	bestDist := math.Abs(value - centroids[0])
	for i := 1; i < len(centroids); i++ {
		if d := math.Abs(value - centroids[i]); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// interpLevel inverts the cumulative weight curve at quantile position q by
// linear interpolation, returning a fractional gray level.
func interpLevel(q float64, cum []float64) float64 {
	if q <= cum[0] {
		return 0
	}
	last := len(cum) - 1
	if q >= cum[last] {
		return float64(last)
	}

	j := sort.SearchFloat64s(cum, q)
	if cum[j] == q {
		return float64(j)
	}
	span := cum[j] - cum[j-1]
	if span == 0 {
		return float64(j)
	}
	return float64(j-1) + (q-cum[j-1])/span
}

// LookupTable maps every gray level to its assigned centroid value. Mapping
// a centroid value through the table is idempotent.
func LookupTable(centroids []uint8) [Levels]uint8 {
	floatCentroids := make([]float64, len(centroids))
	for i, c := range centroids {
		floatCentroids[i] = float64(c)
	}

	var lut [Levels]uint8
	for lvl := range lut {
		lut[lvl] = centroids[nearest(float64(lvl), floatCentroids)]
	}
	return lut
}
