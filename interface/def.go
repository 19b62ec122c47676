package iface

import "gocv.io/x/gocv"

// Detection is one reported pothole. X, Y, W, H are fractions of the full
// frame width/height in [0,1] with a top-left origin, so x+w <= 1 and
// y+h <= 1 always hold. Conf is the confidence score in [0,1].
type Detection struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
	Conf float64 `json:"confidence"`
}

// CenterX returns the horizontal box center as a frame fraction.
func (d Detection) CenterX() float64 {
	return d.X + d.W/2
}

// CenterY returns the vertical box center as a frame fraction.
func (d Detection) CenterY() float64 {
	return d.Y + d.H/2
}

// Detector is implemented by every detection backend. Detect reads the frame
// for the duration of one call only and never retains it. The returned slice
// is sorted by descending confidence. Instances are not safe for overlapping
// calls; the caller serializes.
type Detector interface {
	Detect(frame gocv.Mat) ([]Detection, error)
	Name() string
	Close() error
}
