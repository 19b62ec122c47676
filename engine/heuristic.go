package engine

import (
	"fmt"

	iface "PotholeDetect/interface"
	"PotholeDetect/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// HeuristicDetector finds potholes with classical image processing:
// adaptive edge detection over an enhanced road region, contour analysis and
// multi-criterion confidence scoring. It is the fallback when no trained
// model is available and trades precision for zero setup cost.
type HeuristicDetector struct {
	params HeuristicParams
	pre    preprocessor
	ext    extractor
	score  scorer

	// last successful output, returned when a frame blows up mid-pipeline.
	// Replaced on success, preserved on failure.
	last []iface.Detection
}

// NewHeuristicDetector builds the detector and precomputes the processing
// state (CLAHE, structuring elements) shared by all calls.
func NewHeuristicDetector(params HeuristicParams) (*HeuristicDetector, error) {
	if !params.Valid() {
		return nil, fmt.Errorf("invalid heuristic parameters: %+v", params)
	}
	return &HeuristicDetector{
		params: params,
		pre:    newPreprocessor(params.ROIStart, params.ProcWidthCap),
		ext:    newExtractor(params.MinAreaRatio, params.MaxAreaRatio, params.MaxAspect),
		score:  newScorer(params.Mode, params.Score),
	}, nil
}

func (d *HeuristicDetector) Name() string {
	return "heuristic"
}

func (d *HeuristicDetector) Close() error {
	if err := d.pre.Close(); err != nil {
		return err
	}
	return d.ext.Close()
}

// Detect runs the full pipeline on one frame. An empty frame yields an empty
// list. A panic anywhere in the pipeline is converted into the last
// successful result so a single bad frame never reaches the caller as an
// error.
func (d *HeuristicDetector) Detect(frame gocv.Mat) (dets []iface.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Warn("heuristic detect recovered", zap.Any("panic", r))
			dets = append([]iface.Detection(nil), d.last...)
			err = nil
		}
	}()

	roi, ok := d.pre.prepare(frame)
	if !ok {
		return nil, nil
	}
	defer roi.Close()

	var found []iface.Detection
	for _, c := range d.ext.extract(&roi) {
		conf := d.score.score(c, &roi)
		if conf < d.params.MinConfidence {
			continue
		}
		x, y, w, h := roi.toFrame(c.rect)
		found = append(found, iface.Detection{X: x, Y: y, W: w, H: h, Conf: conf})
	}

	found = suppress(found, d.params.NMSThreshold, maxDetections)
	d.last = found
	return found, nil
}
