package engine

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// candidate is one surviving contour, reduced to the geometry the scorer
// needs. Coordinates are in (possibly downscaled) ROI pixels.
type candidate struct {
	rect      image.Rectangle
	area      float64
	perimeter float64
	hullArea  float64
}

// aspect is the bounding-box elongation, max(w,h)/(min(w,h)+1).
func (c candidate) aspect() float64 {
	w := float64(c.rect.Dx())
	h := float64(c.rect.Dy())
	return math.Max(w, h) / (math.Min(w, h) + 1)
}

// extractor finds pothole candidates in the smoothed ROI. The structuring
// element is built once and shared across frames.
type extractor struct {
	kernel       gocv.Mat
	minAreaRatio float64
	maxAreaRatio float64
	maxAspect    float64
}

func newExtractor(minAreaRatio, maxAreaRatio, maxAspect float64) extractor {
	return extractor{
		kernel:       gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(3, 3)),
		minAreaRatio: minAreaRatio,
		maxAreaRatio: maxAreaRatio,
		maxAspect:    maxAspect,
	}
}

func (e *extractor) Close() error {
	return e.kernel.Close()
}

// extract runs adaptive edge detection and morphological cleanup on the
// smoothed ROI, then walks the external contours of the edge mask and keeps
// the ones that pass the coarse size and shape filters.
func (e *extractor) extract(roi *roiImage) []candidate {
	// Canny thresholds track the median intensity so edge sensitivity
	// adapts to the lighting instead of using fixed levels.
	med := medianIntensity(roi.smoothed)
	lower := math.Max(0, 0.5*med)
	upper := math.Min(255, 1.5*med)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(roi.smoothed, &edges, float32(lower), float32(upper))

	// Close small gaps in the edge rings, then one dilation pass to join
	// fragments that belong to the same hole.
	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyExWithParams(edges, &closed, gocv.MorphClose, e.kernel, 2, gocv.BorderConstant)

	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(closed, &dilated, e.kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	roiArea := float64(dilated.Cols() * dilated.Rows())
	minArea := roiArea * e.minAreaRatio
	maxArea := roiArea * e.maxAreaRatio
	bounds := image.Rect(0, 0, roi.gray.Cols(), roi.gray.Rows())

	var out []candidate
	for i := 0; i < contours.Size(); i++ {
		pts := contours.At(i)

		area := gocv.ContourArea(pts)
		if area < minArea || area > maxArea {
			continue
		}

		rect := gocv.BoundingRect(pts)
		c := candidate{rect: rect, area: area}
		if c.aspect() > e.maxAspect {
			continue
		}
		// The scorer reads the grayscale patch under the box; a box that
		// does not fit the image carries no usable signal.
		if !rect.In(bounds) {
			continue
		}

		c.perimeter = gocv.ArcLength(pts, true)
		c.hullArea = convexHullArea(pts)
		out = append(out, c)
	}
	return out
}

// convexHullArea returns the area of the contour's convex hull, or 0 when
// the hull is degenerate.
func convexHullArea(pts gocv.PointVector) float64 {
	hull := gocv.NewMat()
	defer hull.Close()
	gocv.ConvexHull(pts, &hull, false, true)
	if hull.Empty() {
		return 0
	}
	hullPts := gocv.NewPointVectorFromMat(hull)
	defer hullPts.Close()
	return gocv.ContourArea(hullPts)
}

// medianIntensity computes the median of an 8-bit single-channel image via
// its histogram.
func medianIntensity(m gocv.Mat) float64 {
	hist := gocv.NewMat()
	defer hist.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.CalcHist([]gocv.Mat{m}, []int{0}, mask, &hist, []int{256}, []float64{0, 256}, false)

	half := float64(m.Cols()*m.Rows()) / 2
	acc := 0.0
	for i := 0; i < 256; i++ {
		acc += float64(hist.GetFloatAt(i, 0))
		if acc >= half {
			return float64(i)
		}
	}
	return 0
}
