package engine

import (
	"math"
	"sync/atomic"

	iface "PotholeDetect/interface"
	"PotholeDetect/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FacadeOptions configure detector selection. Zero values pick the tuned
// defaults.
type FacadeOptions struct {
	// MinConfidence is the user-facing cutoff applied after delegation,
	// independent of the active detector's own internal threshold. The
	// backends deliberately run with a lower floor so borderline candidates
	// stay available for debugging. Default 0.50.
	MinConfidence float64
	// ModelPath optionally points at the ONNX artifact. The default search
	// paths are probed either way.
	ModelPath string
	// HeuristicOnly skips model probing entirely.
	HeuristicOnly bool
	// Heuristic overrides the fallback detector's parameters.
	Heuristic *HeuristicParams
}

const defaultFacadeMinConf = 0.50

// heuristicFallbackMinConf is stricter than the model path's internal
// threshold, reflecting the heuristic's higher false-positive rate.
const heuristicFallbackMinConf = 0.20

// Facade presents one Detect operation regardless of which backend is
// active. The backend is chosen once at construction by capability probing:
// a loadable model wins, the heuristic detector is the fallback, and with
// neither available Detect degrades to an always-empty answer. Detect never
// panics and never returns an error to the caller.
type Facade struct {
	state    int
	detector iface.Detector
	minConf  atomic.Uint64 // float64 bits; single writer, read once per call
	last     []iface.Detection
}

// NewFacade probes the available backends and wires the best one.
func NewFacade(opts FacadeOptions) *Facade {
	f := &Facade{state: Inactive}

	minConf := opts.MinConfidence
	if minConf == 0 {
		minConf = defaultFacadeMinConf
	}
	f.minConf.Store(math.Float64bits(clamp01(minConf)))

	if !opts.HeuristicOnly {
		md, err := NewModelDetector(opts.ModelPath, defaultModelConf, defaultModelNMS)
		if err == nil {
			f.state = ModelActive
			f.detector = md
			logger.Log().Info("detector facade: model active",
				zap.String("model", md.ModelPath()))
			return f
		}
		logger.Log().Warn("model unavailable, falling back to heuristic detector",
			zap.Error(err))
	}

	params := DefaultHeuristicParams()
	params.MinConfidence = heuristicFallbackMinConf
	if opts.Heuristic != nil {
		params = *opts.Heuristic
	}
	hd, err := NewHeuristicDetector(params)
	if err != nil {
		logger.Log().Error("no detector available, facade inactive", zap.Error(err))
		return f
	}
	f.state = HeuristicActive
	f.detector = hd
	logger.Log().Info("detector facade: heuristic active")
	return f
}

// State reports which backend was selected at construction.
func (f *Facade) State() int {
	return f.state
}

// StateName is the human-readable backend state.
func (f *Facade) StateName() string {
	switch f.state {
	case ModelActive:
		return "model"
	case HeuristicActive:
		return "heuristic"
	default:
		return "inactive"
	}
}

// MinConfidence returns the current user-facing cutoff.
func (f *Facade) MinConfidence() float64 {
	return math.Float64frombits(f.minConf.Load())
}

// SetMinConfidence updates the cutoff for subsequent calls. The value is
// clamped to [0,1]. Safe to call between detections from a configuration
// surface while another goroutine reads it.
func (f *Facade) SetMinConfidence(v float64) {
	f.minConf.Store(math.Float64bits(clamp01(v)))
}

// Detect delegates one frame to the active backend, filters the answer by
// the facade cutoff and shields the caller from every internal failure:
// on an error or panic it returns the previous successful output, or an
// empty list when there is none.
func (f *Facade) Detect(frame gocv.Mat) (out []iface.Detection) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Warn("detect recovered at facade boundary", zap.Any("panic", r))
			out = append([]iface.Detection(nil), f.last...)
		}
	}()

	if f.state == Inactive {
		return []iface.Detection{}
	}

	dets, err := f.detector.Detect(frame)
	if err != nil {
		logger.Log().Warn("detector failed, returning last good result",
			zap.String("detector", f.detector.Name()), zap.Error(err))
		return append([]iface.Detection(nil), f.last...)
	}

	minConf := f.MinConfidence()
	filtered := make([]iface.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Conf >= minConf {
			filtered = append(filtered, d)
		}
	}
	f.last = filtered
	return filtered
}

// Close releases the active backend.
func (f *Facade) Close() error {
	if f.detector == nil {
		return nil
	}
	return f.detector.Close()
}
