package engine

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

// testROI wraps plain Mats into a roiImage for direct scorer calls.
func testROI(gray, smoothed gocv.Mat) roiImage {
	return roiImage{
		gray:     gray,
		smoothed: smoothed,
		offsetY:  0,
		scale:    1,
		frameW:   gray.Cols(),
		frameH:   gray.Rows(),
	}
}

// discCandidate builds the geometry of an ideal circle of the given radius.
func discCandidate(center image.Point, radius int) candidate {
	r := float64(radius)
	area := math.Pi * r * r
	return candidate{
		rect:      image.Rect(center.X-radius, center.Y-radius, center.X+radius, center.Y+radius),
		area:      area,
		perimeter: 2 * math.Pi * r,
		hullArea:  area,
	}
}

func grayMat(width, height int, intensity float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(intensity, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
}

func TestScoreLenientDarkDisc(t *testing.T) {
	gray := grayMat(200, 200, 200)
	defer gray.Close()
	drawDiscGray(&gray, image.Pt(100, 100), 30, 40)

	roi := testROI(gray, gray)
	s := newScorer(ScoreLenient, DefaultScoreParams())

	conf := s.score(discCandidate(image.Pt(100, 100), 30), &roi)
	assert.Greater(t, conf, 0.5)
	assert.LessOrEqual(t, conf, 1.0)
}

func TestScoreLenientBrightRegionScoresLow(t *testing.T) {
	gray := grayMat(200, 200, 230)
	defer gray.Close()

	roi := testROI(gray, gray)
	s := newScorer(ScoreLenient, DefaultScoreParams())

	dark := s.score(discCandidate(image.Pt(100, 100), 30), &roi)

	darkGray := grayMat(200, 200, 200)
	defer darkGray.Close()
	drawDiscGray(&darkGray, image.Pt(100, 100), 30, 40)
	roiDark := testROI(darkGray, darkGray)
	darker := s.score(discCandidate(image.Pt(100, 100), 30), &roiDark)

	assert.Greater(t, darker, dark)
}

func TestScoreLenientDegeneratePerimeter(t *testing.T) {
	gray := grayMat(200, 200, 40)
	defer gray.Close()

	roi := testROI(gray, gray)
	s := newScorer(ScoreLenient, DefaultScoreParams())

	c := discCandidate(image.Pt(100, 100), 30)
	c.perimeter = 0
	// Circularity floors at zero instead of erroring out.
	conf := s.score(c, &roi)
	assert.GreaterOrEqual(t, conf, 0.0)
	assert.LessOrEqual(t, conf, 1.0)
}

func TestScoreRigorousGates(t *testing.T) {
	s := newScorer(ScoreRigorous, DefaultScoreParams())

	t.Run("bright patch vetoed", func(t *testing.T) {
		gray := grayMat(200, 200, 180)
		defer gray.Close()
		roi := testROI(gray, gray)
		assert.Equal(t, 0.0, s.score(discCandidate(image.Pt(100, 100), 30), &roi))
	})

	t.Run("flat dark patch vetoed as shadow", func(t *testing.T) {
		// Uniformly dark everywhere: no neighborhood contrast, no texture.
		gray := grayMat(200, 200, 40)
		defer gray.Close()
		roi := testROI(gray, gray)
		assert.Equal(t, 0.0, s.score(discCandidate(image.Pt(100, 100), 30), &roi))
	})

	t.Run("elongated box vetoed", func(t *testing.T) {
		gray := grayMat(300, 200, 200)
		defer gray.Close()
		drawDiscGray(&gray, image.Pt(150, 100), 30, 40)
		roi := testROI(gray, gray)

		c := discCandidate(image.Pt(150, 100), 30)
		c.rect = image.Rect(30, 90, 270, 110) // aspect far above the gate
		assert.Equal(t, 0.0, s.score(c, &roi))
	})

	t.Run("tiny patch vetoed", func(t *testing.T) {
		gray := grayMat(200, 200, 40)
		defer gray.Close()
		roi := testROI(gray, gray)
		assert.Equal(t, 0.0, s.score(discCandidate(image.Pt(100, 100), 4), &roi))
	})

	t.Run("textured dark disc on bright road passes", func(t *testing.T) {
		gray := grayMat(200, 200, 200)
		defer gray.Close()
		// A disc with internal speckle: dark base plus brighter spots.
		drawDiscGray(&gray, image.Pt(100, 100), 30, 40)
		drawDiscGray(&gray, image.Pt(90, 95), 6, 80)
		drawDiscGray(&gray, image.Pt(110, 108), 5, 15)
		roi := testROI(gray, gray)

		conf := s.score(discCandidate(image.Pt(100, 100), 30), &roi)
		assert.Greater(t, conf, 0.5)
		assert.LessOrEqual(t, conf, 1.0)
	})
}

func TestAspectStepScore(t *testing.T) {
	assert.Equal(t, 1.0, aspectStepScore(1.0))
	assert.Equal(t, 1.0, aspectStepScore(1.5))
	assert.Equal(t, 0.7, aspectStepScore(2.0))
	assert.Equal(t, 0.4, aspectStepScore(3.0))
	assert.Equal(t, 0.1, aspectStepScore(6.0))
}

func drawDiscGray(m *gocv.Mat, center image.Point, radius int, intensity uint8) {
	gocv.Circle(m, center, radius,
		color.RGBA{R: intensity, G: intensity, B: intensity, A: 0}, -1)
}
