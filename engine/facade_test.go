package engine

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newHeuristicFacade(t *testing.T, opts FacadeOptions) *Facade {
	t.Helper()
	if opts.ModelPath == "" {
		opts.ModelPath = "testdata/no-such-model.onnx"
	}
	f := NewFacade(opts)
	require.Equal(t, "heuristic", f.StateName())
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestNewFacadeFallsBackToHeuristic(t *testing.T) {
	f := newHeuristicFacade(t, FacadeOptions{})
	assert.Equal(t, HeuristicActive, f.State())
	assert.Equal(t, defaultFacadeMinConf, f.MinConfidence())
}

func TestNewFacadeHeuristicOnly(t *testing.T) {
	f := newHeuristicFacade(t, FacadeOptions{HeuristicOnly: true})
	assert.Equal(t, "heuristic", f.StateName())
}

func TestNewFacadeInactiveOnBadOverride(t *testing.T) {
	f := NewFacade(FacadeOptions{
		HeuristicOnly: true,
		Heuristic:     &HeuristicParams{ROIStart: 2.0},
	})
	defer f.Close()
	assert.Equal(t, "inactive", f.StateName())

	frame := brightFrame(640, 480)
	defer frame.Close()
	drawDisc(&frame, image.Pt(320, 360), 40, 40)

	// Inactive never errors, never panics, always answers empty.
	dets := f.Detect(frame)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestFacadeSetMinConfidenceClamps(t *testing.T) {
	f := newHeuristicFacade(t, FacadeOptions{})

	f.SetMinConfidence(1.5)
	assert.Equal(t, 1.0, f.MinConfidence())

	f.SetMinConfidence(-0.2)
	assert.Equal(t, 0.0, f.MinConfidence())

	f.SetMinConfidence(0.35)
	assert.Equal(t, 0.35, f.MinConfidence())
}

func TestFacadeDetectFiltersByThreshold(t *testing.T) {
	f := newHeuristicFacade(t, FacadeOptions{MinConfidence: 0.01})

	frame := brightFrame(640, 480)
	defer frame.Close()
	drawDisc(&frame, image.Pt(320, 360), 40, 40)

	dets := f.Detect(frame)
	require.NotEmpty(t, dets)
	for _, d := range dets {
		assert.GreaterOrEqual(t, d.Conf, 0.01)
	}

	// Raising the cutoff above every score empties the answer.
	f.SetMinConfidence(0.99)
	assert.Empty(t, f.Detect(frame))
}

func TestFacadeDetectEmptyFrame(t *testing.T) {
	f := newHeuristicFacade(t, FacadeOptions{})

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Empty(t, f.Detect(empty))
}
