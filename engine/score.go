package engine

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// scorer maps one candidate to a confidence in [0,1].
type scorer struct {
	mode ScoreMode
	p    ScoreParams
}

func newScorer(mode ScoreMode, p ScoreParams) scorer {
	return scorer{mode: mode, p: p}
}

func (s *scorer) score(c candidate, roi *roiImage) float64 {
	if c.rect.Empty() {
		return 0
	}
	switch s.mode {
	case ScoreRigorous:
		return s.scoreRigorous(c, roi)
	default:
		return s.scoreLenient(c, roi)
	}
}

// scoreLenient is a weighted sum of five shape and intensity criteria. No
// single criterion can veto; weak candidates simply score low and are left
// to the confidence threshold.
func (s *scorer) scoreLenient(c candidate, roi *roiImage) float64 {
	mean, stddev, ok := patchStats(roi.gray, c.rect)
	if !ok {
		return 0
	}

	darkness := 1 - mean/255

	circ := 0.0
	if c.perimeter > 0 {
		circ = clamp01(4 * math.Pi * c.area / (c.perimeter * c.perimeter))
	}

	contrast := math.Min(stddev/s.p.ContrastScale, 1)

	convexity := 0.0
	if c.hullArea > 0 {
		convexity = math.Min(c.area/c.hullArea, 1)
	}

	total := darkness*s.p.DarknessWeight +
		circ*s.p.CircularityWeight +
		contrast*s.p.ContrastWeight +
		aspectStepScore(c.aspect())*s.p.AspectWeight +
		convexity*s.p.ConvexityWeight
	return clamp01(total)
}

// aspectStepScore decreases as the box elongates past square, with steps at
// 1.5, 2.5 and 4 times the minor dimension.
func aspectStepScore(aspect float64) float64 {
	switch {
	case aspect <= 1.5:
		return 1.0
	case aspect <= 2.5:
		return 0.7
	case aspect <= 4.0:
		return 0.4
	default:
		return 0.1
	}
}

// scoreRigorous re-weights the criteria and applies hard gates: one strongly
// disqualifying signal returns 0 immediately, whatever the other criteria
// say.
func (s *scorer) scoreRigorous(c candidate, roi *roiImage) float64 {
	if c.rect.Dx()*c.rect.Dy() < s.p.MinPatchArea {
		return 0
	}
	mean, stddev, ok := patchStats(roi.gray, c.rect)
	if !ok {
		return 0
	}

	// Potholes are dark. A bright interior fails outright.
	if mean > s.p.BrightnessCeiling {
		return 0
	}
	darkness := (1 - mean/s.p.BrightnessCeiling) * 0.35

	// The hole must stand out from the road around it, otherwise it is
	// most likely a shadow or a wet patch.
	ratio := neighborContrast(roi.smoothed, c.rect, mean)
	if ratio < s.p.MinNeighborContrast {
		return 0
	}
	contrast := math.Min(ratio/s.p.NeighborContrastScale, 1) * 0.25

	circ := 0.0
	if c.perimeter > 0 {
		circ = 4 * math.Pi * c.area / (c.perimeter * c.perimeter)
	}
	if circ < s.p.MinCircularity {
		return 0
	}
	circScore := math.Min(circ/s.p.CircularityScale, 1) * 0.20

	aspect := c.aspect()
	if aspect > s.p.MaxAspect {
		return 0
	}
	aspectScore := math.Max(0, 1-(aspect-1)/2) * 0.10

	// A flat interior is a shadow, not broken asphalt.
	if stddev < s.p.MinTextureStdDev {
		return 0
	}
	texture := math.Min(stddev/s.p.TextureScale, 1) * 0.10

	return clamp01(darkness + contrast + circScore + aspectScore + texture)
}

// neighborContrast compares the candidate's mean intensity against a
// margin-expanded window around it and returns how much darker the patch is,
// as a ratio of the neighborhood mean.
func neighborContrast(img gocv.Mat, rect image.Rectangle, patchMean float64) float64 {
	margin := rect.Dx()
	if rect.Dy() > margin {
		margin = rect.Dy()
	}
	margin /= 2

	window := image.Rect(rect.Min.X-margin, rect.Min.Y-margin, rect.Max.X+margin, rect.Max.Y+margin).
		Intersect(image.Rect(0, 0, img.Cols(), img.Rows()))
	if window.Empty() {
		return 0
	}

	neighborhood := img.Region(window)
	defer neighborhood.Close()
	neighborMean := neighborhood.Mean().Val1
	return (neighborMean - patchMean) / (neighborMean + 1)
}

// patchStats returns the mean and standard deviation of the grayscale pixels
// under rect. ok is false when the patch is unusable.
func patchStats(gray gocv.Mat, rect image.Rectangle) (mean, stddev float64, ok bool) {
	clipped := rect.Intersect(image.Rect(0, 0, gray.Cols(), gray.Rows()))
	if clipped.Empty() {
		return 0, 0, false
	}
	patch := gray.Region(clipped)
	defer patch.Close()

	meanMat, stdMat := patch.MeanStdDev()
	defer meanMat.Close()
	defer stdMat.Close()
	return meanMat.GetDoubleAt(0, 0), stdMat.GetDoubleAt(0, 0), true
}
