package engine

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func newTestPreprocessor(t *testing.T) *preprocessor {
	t.Helper()
	params := DefaultHeuristicParams()
	p := newPreprocessor(params.ROIStart, params.ProcWidthCap)
	t.Cleanup(func() { _ = p.Close() })
	return &p
}

func TestPrepareRejectsEmptyFrame(t *testing.T) {
	p := newTestPreprocessor(t)

	empty := gocv.NewMat()
	defer empty.Close()

	_, ok := p.prepare(empty)
	assert.False(t, ok)
}

func TestPrepareCropsLowerRegion(t *testing.T) {
	p := newTestPreprocessor(t)

	frame := brightFrame(640, 480)
	defer frame.Close()

	roi, ok := p.prepare(frame)
	require.True(t, ok)
	defer roi.Close()

	// 40% of 480 is cut away from the top, no downscale at 640 wide.
	assert.Equal(t, 192, roi.offsetY)
	assert.Equal(t, 1.0, roi.scale)
	assert.Equal(t, 640, roi.gray.Cols())
	assert.Equal(t, 288, roi.gray.Rows())
	assert.Equal(t, roi.gray.Cols(), roi.smoothed.Cols())
	assert.Equal(t, roi.gray.Rows(), roi.smoothed.Rows())
}

func TestPrepareDownscalesWideFrames(t *testing.T) {
	p := newTestPreprocessor(t)

	frame := brightFrame(1280, 720)
	defer frame.Close()

	roi, ok := p.prepare(frame)
	require.True(t, ok)
	defer roi.Close()

	assert.Equal(t, 288, roi.offsetY)
	assert.InDelta(t, 0.5, roi.scale, 1e-9)
	assert.Equal(t, 640, roi.gray.Cols())
	assert.Equal(t, 216, roi.gray.Rows())
}

func TestPrepareRejectsDegenerateROI(t *testing.T) {
	p := newPreprocessor(1.0, 640)
	defer p.Close()

	frame := brightFrame(640, 480)
	defer frame.Close()

	_, ok := p.prepare(frame)
	assert.False(t, ok)
}

func TestToFrameMapsROIBoxes(t *testing.T) {
	roi := roiImage{
		offsetY: 288,
		scale:   0.5,
		frameW:  1280,
		frameH:  720,
	}

	// A 100x50 ROI box at (50,20) maps through the 2x upscale and the crop
	// offset back into frame fractions.
	x, y, w, h := roi.toFrame(image.Rect(50, 20, 150, 70))
	assert.InDelta(t, 100.0/1280.0, x, 1e-9)
	assert.InDelta(t, 328.0/720.0, y, 1e-9)
	assert.InDelta(t, 200.0/1280.0, w, 1e-9)
	assert.InDelta(t, 100.0/720.0, h, 1e-9)
}

func TestToFrameClampsOverhang(t *testing.T) {
	roi := roiImage{
		offsetY: 192,
		scale:   1.0,
		frameW:  640,
		frameH:  480,
	}

	// The box bottom lands exactly on the frame edge and must not pass it.
	x, y, w, h := roi.toFrame(image.Rect(600, 260, 700, 300))
	assert.LessOrEqual(t, x+w, 1.0)
	assert.LessOrEqual(t, y+h, 1.0)
	assert.GreaterOrEqual(t, x, 0.0)
	assert.GreaterOrEqual(t, y, 0.0)
}

func TestMedianIntensity(t *testing.T) {
	dark := grayMat(100, 100, 30)
	defer dark.Close()
	assert.InDelta(t, 30, medianIntensity(dark), 1.0)

	mixed := grayMat(100, 100, 200)
	defer mixed.Close()
	drawDiscGray(&mixed, image.Pt(50, 50), 20, 40)
	// The bright background dominates, so the median stays at 200.
	assert.InDelta(t, 200, medianIntensity(mixed), 1.0)
}
