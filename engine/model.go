package engine

import (
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"

	iface "PotholeDetect/interface"
	"PotholeDetect/logger"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DefaultModelName is the artifact filename probed when no explicit path is
// configured.
const DefaultModelName = "pothole_detector.onnx"

const (
	modelInputSize       = 320
	defaultModelConf     = 0.1
	defaultModelNMS      = 0.4
	strictFallbackMinCnf = 0.85
)

// ModelDetector runs a trained ONNX pothole model through the OpenCV DNN
// module. The expected export is a single-class YOLO head: output tensor
// [1, 5, N] read as N rows of (center_x, center_y, width, height,
// confidence) in model-input pixel space. Multi-class exports with extra
// score rows are folded to the best class score. The corner-coordinate
// [x1,y1,x2,y2,...] layout is NOT supported.
type ModelDetector struct {
	net        gocv.Net
	modelPath  string
	confThresh float32
	nmsThresh  float32

	// strictFallback answers single calls whose inference fails. It runs in
	// rigorous mode with a high floor so a flaky model does not flood the
	// caller with heuristic false positives.
	strictFallback *HeuristicDetector
}

// modelSearchPaths lists where the artifact may live, most specific first.
func modelSearchPaths(explicit string) []string {
	paths := []string{}
	if explicit != "" {
		paths = append(paths, explicit)
	}
	paths = append(paths, DefaultModelName, filepath.Join("models", DefaultModelName))
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, DefaultModelName),
			filepath.Join(exeDir, "models", DefaultModelName),
		)
	}
	return paths
}

// NewModelDetector probes the search paths for a loadable ONNX artifact.
// It returns an error when no candidate exists or none loads; the caller
// then falls back to the heuristic detector.
func NewModelDetector(modelPath string, confThresh, nmsThresh float32) (*ModelDetector, error) {
	var tried []string
	for _, p := range modelSearchPaths(modelPath) {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			tried = append(tried, p)
			continue
		}
		net := gocv.ReadNetFromONNX(p)
		if net.Empty() {
			tried = append(tried, p)
			continue
		}
		if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
			_ = net.Close()
			return nil, fmt.Errorf("set DNN backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			_ = net.Close()
			return nil, fmt.Errorf("set DNN target: %w", err)
		}

		params := DefaultHeuristicParams()
		params.Mode = ScoreRigorous
		params.MinConfidence = strictFallbackMinCnf
		fb, err := NewHeuristicDetector(params)
		if err != nil {
			_ = net.Close()
			return nil, err
		}

		logger.Log().Info("model detector loaded", zap.String("path", p))
		return &ModelDetector{
			net:            net,
			modelPath:      p,
			confThresh:     confThresh,
			nmsThresh:      nmsThresh,
			strictFallback: fb,
		}, nil
	}
	return nil, fmt.Errorf("no loadable model artifact, tried %v", tried)
}

func (d *ModelDetector) Name() string {
	return "model"
}

// ModelPath reports which artifact was loaded.
func (d *ModelDetector) ModelPath() string {
	return d.modelPath
}

func (d *ModelDetector) Close() error {
	if err := d.net.Close(); err != nil {
		return err
	}
	return d.strictFallback.Close()
}

// Detect runs one frame through the network. When inference itself fails,
// this single call is delegated to the strict heuristic fallback instead of
// failing; model load problems are decided once at construction, not here.
func (d *ModelDetector) Detect(frame gocv.Mat) (dets []iface.Detection, err error) {
	if frame.Empty() || frame.Cols() == 0 || frame.Rows() == 0 {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Log().Warn("model inference recovered, delegating to heuristic",
				zap.Any("panic", r))
			dets, err = d.strictFallback.Detect(frame)
		}
	}()

	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(modelInputSize, modelInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()
	if output.Empty() {
		logger.Log().Warn("model produced empty output, delegating to heuristic")
		return d.strictFallback.Detect(frame)
	}

	sz := output.Size()
	if len(sz) != 3 || sz[1] < 5 {
		return nil, fmt.Errorf("unexpected model output shape %v", sz)
	}
	flat := output.Reshape(1, sz[1])
	defer flat.Close()

	return d.decode(flat, sz[1], sz[2]), nil
}

// decode turns the reshaped rows×n output into normalized detections,
// suppresses overlaps in model-input pixel space and keeps the top results.
func (d *ModelDetector) decode(flat gocv.Mat, rows, n int) []iface.Detection {
	var boxes []image.Rectangle
	var scores []float32
	var normalized []iface.Detection

	for j := 0; j < n; j++ {
		conf := flat.GetFloatAt(4, j)
		if rows > 5 {
			// Multi-class export: rows 4.. are per-class scores.
			conf = 0
			for k := 4; k < rows; k++ {
				if s := flat.GetFloatAt(k, j); s > conf {
					conf = s
				}
			}
		}
		if conf < d.confThresh {
			continue
		}

		cx := float64(flat.GetFloatAt(0, j)) / modelInputSize
		cy := float64(flat.GetFloatAt(1, j)) / modelInputSize
		w := float64(flat.GetFloatAt(2, j)) / modelInputSize
		h := float64(flat.GetFloatAt(3, j)) / modelInputSize

		x := clamp01(cx - w/2)
		y := clamp01(cy - h/2)
		w = math.Min(clamp01(w), 1-x)
		h = math.Min(clamp01(h), 1-y)

		boxes = append(boxes, image.Rect(
			int(x*modelInputSize), int(y*modelInputSize),
			int((x+w)*modelInputSize), int((y+h)*modelInputSize)))
		scores = append(scores, conf)
		normalized = append(normalized, iface.Detection{X: x, Y: y, W: w, H: h, Conf: float64(conf)})
	}
	if len(boxes) == 0 {
		return nil
	}

	indices := gocv.NMSBoxes(boxes, scores, d.confThresh, d.nmsThresh)
	kept := make([]iface.Detection, 0, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(normalized) {
			kept = append(kept, normalized[i])
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Conf > kept[j].Conf })
	if len(kept) > maxDetections {
		kept = kept[:maxDetections]
	}
	return kept
}
