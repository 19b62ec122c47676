package engine

import (
	"image"

	"gocv.io/x/gocv"
)

// preprocessor owns the gocv state that is created once at detector
// construction and reused on every frame.
type preprocessor struct {
	clahe    gocv.CLAHE
	roiStart float64
	widthCap int
}

func newPreprocessor(roiStart float64, widthCap int) preprocessor {
	return preprocessor{
		clahe:    gocv.NewCLAHEWithParams(claheClipLimit, image.Pt(claheTileGrid, claheTileGrid)),
		roiStart: roiStart,
		widthCap: widthCap,
	}
}

func (p *preprocessor) Close() error {
	return p.clahe.Close()
}

// roiImage is a prepared region of interest plus the geometry needed to map
// its pixel coordinates back to full-frame fractions. It lives for one
// detection call.
type roiImage struct {
	gray     gocv.Mat // plain grayscale, patches are scored against this
	smoothed gocv.Mat // enhanced and bilateral-filtered, edges come from this
	offsetY  int      // ROI top edge in full-frame pixels
	scale    float64  // downscale factor applied to the ROI, <= 1
	frameW   int
	frameH   int
}

func (r *roiImage) Close() {
	_ = r.gray.Close()
	_ = r.smoothed.Close()
}

// toFrame converts a box in (possibly downscaled) ROI pixels into full-frame
// normalized coordinates, clamped so the box stays inside the unit square.
func (r *roiImage) toFrame(rect image.Rectangle) (x, y, w, h float64) {
	fx := float64(rect.Min.X) / r.scale
	fy := float64(rect.Min.Y)/r.scale + float64(r.offsetY)
	fw := float64(rect.Dx()) / r.scale
	fh := float64(rect.Dy()) / r.scale

	x = clamp01(fx / float64(r.frameW))
	y = clamp01(fy / float64(r.frameH))
	w = clamp01(fw / float64(r.frameW))
	h = clamp01(fh / float64(r.frameH))
	if x+w > 1 {
		w = 1 - x
	}
	if y+h > 1 {
		h = 1 - y
	}
	return x, y, w, h
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// prepare crops the road region from the frame, downscales it when wider
// than the processing cap, and produces the grayscale and smoothed images
// the rest of the pipeline works on. ok is false for unusable frames.
func (p *preprocessor) prepare(frame gocv.Mat) (roi roiImage, ok bool) {
	if frame.Empty() || frame.Cols() == 0 || frame.Rows() == 0 {
		return roiImage{}, false
	}

	frameH := frame.Rows()
	frameW := frame.Cols()
	roiY := int(float64(frameH) * p.roiStart)
	if roiY >= frameH {
		return roiImage{}, false
	}

	region := frame.Region(image.Rect(0, roiY, frameW, frameH))
	defer region.Close()

	scale := 1.0
	working := gocv.NewMat()
	defer working.Close()
	if region.Cols() > p.widthCap {
		scale = float64(p.widthCap) / float64(region.Cols())
		gocv.Resize(region, &working, image.Point{}, scale, scale, gocv.InterpolationArea)
	} else {
		region.CopyTo(&working)
	}

	gray := gocv.NewMat()
	gocv.CvtColor(working, &gray, gocv.ColorBGRToGray)

	enhanced := gocv.NewMat()
	defer enhanced.Close()
	p.clahe.Apply(gray, &enhanced)

	smoothed := gocv.NewMat()
	gocv.BilateralFilter(enhanced, &smoothed, bilateralDiameter, bilateralSigma, bilateralSigma)

	return roiImage{
		gray:     gray,
		smoothed: smoothed,
		offsetY:  roiY,
		scale:    scale,
		frameW:   frameW,
		frameH:   frameH,
	}, true
}
