package engine

// Facade states, decided once at construction.
const (
	Inactive        = 0x0001
	HeuristicActive = 0x0002
	ModelActive     = 0x0003
)

// Bilateral filter settings. Edge-preserving smoothing keeps pothole
// boundaries sharp where a Gaussian would smear them.
const (
	bilateralDiameter = 5
	bilateralSigma    = 50.0
)

const (
	claheClipLimit = 3.0
	claheTileGrid  = 8
)

// maxDetections caps every detector's output.
const maxDetections = 5

// ScoreMode selects between the two confidence scorers.
type ScoreMode int

const (
	// ScoreLenient is the default weighted-sum scorer. It keeps borderline
	// candidates alive so the caller-side threshold decides what to show.
	ScoreLenient ScoreMode = iota
	// ScoreRigorous adds hard early-rejection gates. A single strongly
	// disqualifying signal (too bright, no neighborhood contrast, elongated,
	// uniform interior) vetoes the candidate outright. Painted markings,
	// shadows and tar seams are the failure mode these gates suppress.
	ScoreRigorous
)

// HeuristicParams are the tunable settings of the contour-based detector.
// They are fixed for the lifetime of a detector instance.
type HeuristicParams struct {
	// MinConfidence is the internal reporting floor in [0,1].
	MinConfidence float64
	// MinAreaRatio / MaxAreaRatio bound candidate area as a fraction of
	// the region-of-interest area.
	MinAreaRatio float64
	MaxAreaRatio float64
	// MaxAspect rejects candidates whose bounding box is more elongated
	// than max(w,h)/(min(w,h)+1).
	MaxAspect float64
	// ROIStart is the fraction of frame height where the road region
	// begins. Everything above it is ignored.
	ROIStart float64
	// ProcWidthCap downscales the region of interest when it is wider than
	// this many pixels, trading resolution for latency.
	ProcWidthCap int
	// NMSThreshold is the IoU above which overlapping boxes are merged.
	NMSThreshold float64
	Mode         ScoreMode
	Score        ScoreParams
}

// DefaultHeuristicParams returns the tuned defaults. The magic numbers are
// empirical; treat them as adjustable, not as derived truths.
func DefaultHeuristicParams() HeuristicParams {
	return HeuristicParams{
		MinConfidence: 0.20,
		MinAreaRatio:  0.003,
		MaxAreaRatio:  0.15,
		MaxAspect:     5.0,
		ROIStart:      0.40,
		ProcWidthCap:  640,
		NMSThreshold:  0.3,
		Mode:          ScoreLenient,
		Score:         DefaultScoreParams(),
	}
}

// Valid reports whether the parameter set is usable.
func (p HeuristicParams) Valid() bool {
	switch {
	case p.MinConfidence < 0 || p.MinConfidence > 1:
		return false
	case p.MinAreaRatio <= 0 || p.MaxAreaRatio <= p.MinAreaRatio || p.MaxAreaRatio > 1:
		return false
	case p.MaxAspect < 1:
		return false
	case p.ROIStart < 0 || p.ROIStart >= 1:
		return false
	case p.ProcWidthCap <= 0:
		return false
	case p.NMSThreshold <= 0 || p.NMSThreshold > 1:
		return false
	}
	return true
}

// ScoreParams hold the scoring weights and the rigorous-mode gate levels.
type ScoreParams struct {
	// Lenient-mode weights. They sum to 1.
	DarknessWeight    float64
	CircularityWeight float64
	ContrastWeight    float64
	AspectWeight      float64
	ConvexityWeight   float64
	// ContrastScale divides the patch standard deviation in lenient mode.
	ContrastScale float64

	// Rigorous-mode gates and scales.
	BrightnessCeiling     float64 // mean patch intensity above this is vetoed
	MinNeighborContrast   float64 // veto when the patch is not darker than its surroundings by this ratio
	NeighborContrastScale float64
	MinCircularity        float64
	CircularityScale      float64
	MaxAspect             float64
	MinTextureStdDev      float64 // uniform interiors are shadows, not potholes
	TextureScale          float64
	MinPatchArea          int // patches smaller than this carry no signal
}

// DefaultScoreParams returns the tuned scoring constants.
func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		DarknessWeight:    0.35,
		CircularityWeight: 0.25,
		ContrastWeight:    0.20,
		AspectWeight:      0.10,
		ConvexityWeight:   0.10,
		ContrastScale:     40.0,

		BrightnessCeiling:     120.0,
		MinNeighborContrast:   0.15,
		NeighborContrastScale: 0.4,
		MinCircularity:        0.2,
		CircularityScale:      0.6,
		MaxAspect:             3.0,
		MinTextureStdDev:      5.0,
		TextureScale:          30.0,
		MinPatchArea:          100,
	}
}
