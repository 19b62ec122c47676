package engine

import (
	"math"
	"sort"

	iface "PotholeDetect/interface"
)

// iou is the intersection-over-union of two normalized boxes. Boxes with an
// empty intersection have IoU 0.
func iou(a, b iface.Detection) float64 {
	x1 := math.Max(a.X, b.X)
	y1 := math.Max(a.Y, b.Y)
	x2 := math.Min(a.X+a.W, b.X+b.W)
	y2 := math.Min(a.Y+a.H, b.Y+b.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// suppress sorts detections by descending confidence and greedily drops
// every box whose IoU with an already-kept box reaches the threshold. The
// sort is stable, so ties keep their discovery order and the result is
// deterministic. At most limit boxes survive.
func suppress(dets []iface.Detection, iouThreshold float64, limit int) []iface.Detection {
	if len(dets) == 0 {
		return nil
	}
	sorted := make([]iface.Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Conf > sorted[j].Conf
	})

	kept := make([]iface.Detection, 0, limit)
	for _, d := range sorted {
		redundant := false
		for _, k := range kept {
			if iou(k, d) >= iouThreshold {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		kept = append(kept, d)
		if len(kept) == limit {
			break
		}
	}
	return kept
}
