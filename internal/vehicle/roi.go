// Package vehicle locates the framed diagram region on a rendered page and
// segments the individual vehicle figures inside it.
package vehicle

import (
	"image"

	"gocv.io/x/gocv"
)

// DefaultROIMargin is the inward crop in pixels applied inside the detected
// frame so the border line itself is excluded.
const DefaultROIMargin = 10

// FindInnerROI finds the dominant bordered region of a page and crops to
// its interior. If no contours are found the whole page is returned. The
// returned Mat is owned by the caller; the box is in page coordinates.
func FindInnerROI(img gocv.Mat, margin int) (gocv.Mat, image.Rectangle) {
	h, w := img.Rows(), img.Cols()
	full := image.Rect(0, 0, w, h)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(gray, &gray, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	bw := gocv.NewMat()
	defer bw.Close()
	gocv.AdaptiveThreshold(gray, &bw, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinaryInv, 51, 5)

	contours := gocv.FindContours(bw, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return img.Clone(), full
	}

	// Biggest external contour is usually the frame.
	best := 0
	bestArea := 0.0
	for i := 0; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			bestArea = area
			best = i
		}
	}
	rect := gocv.BoundingRect(contours.At(best))

	box := image.Rect(
		max(rect.Min.X+margin, 0),
		max(rect.Min.Y+margin, 0),
		min(rect.Max.X-margin, w),
		min(rect.Max.Y-margin, h),
	)
	if box.Dx() <= 0 || box.Dy() <= 0 {
		return img.Clone(), full
	}

	region := img.Region(box)
	defer region.Close()
	return region.Clone(), box
}
