package facefinder

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/ayusman/facefinder/internal/vision"
)

// upSize returns the frame size after applying orientation.
func upSize(size image.Point, orientation int) image.Point {
	if orientation == 90 || orientation == 270 {
		return image.Pt(size.Y, size.X)
	}
	return size
}

// DetectionWidth picks the width the upright frame is resampled to before
// building the pyramid, so that a face at maxDistance just fills the
// detector window. The result is clamped to [window width, upright width].
func DetectionWidth(up image.Point, fx, faceWidthMeters, maxDistance float64, window image.Point) int {
	faceWidthPx := fx * faceWidthMeters / maxDistance
	width := up.X
	if faceWidthPx > 0 {
		width = int(math.Round(float64(up.X) * float64(window.X) / faceWidthPx))
	}
	if width > up.X {
		width = up.X
	}
	if width < window.X {
		width = window.X
	}
	return width
}

// scaleLadder returns the pyramid scales relative to the upright frame.
// The first level is base, each following level shrinks by
// 2^(-1/perOctave), and the ladder stops once a level no longer fits the
// detector window.
func scaleLadder(up image.Point, base float64, window image.Point, perOctave int) []float64 {
	var scales []float64
	for i := 0; ; i++ {
		s := base * math.Pow(2, -float64(i)/float64(perOctave))
		if float64(up.X)*s < float64(window.X) || float64(up.Y)*s < float64(window.Y) {
			break
		}
		scales = append(scales, s)
	}
	return scales
}

// pyramidPlan is the pyramid geometry for one cycle.
type pyramidPlan struct {
	Up             image.Point
	DetectionWidth int
	Scales         []float64
}

// pyramidBuilder produces the feature pyramid for a cycle either from the
// GPU read-back or by computing channels on the CPU. Both paths receive the
// same scale ladder.
type pyramidBuilder struct {
	channels        ChannelSource
	sensor          SensorModel
	window          image.Point
	faceWidthMeters float64
	perOctave       int
}

func (b *pyramidBuilder) plan(up image.Point, maxDistance float64) pyramidPlan {
	width := DetectionWidth(up, b.sensor.FocalLength(), b.faceWidthMeters, maxDistance, b.window)
	base := float64(width) / float64(up.X)
	return pyramidPlan{
		Up:             up,
		DetectionWidth: width,
		Scales:         scaleLadder(up, base, b.window, b.perOctave),
	}
}

var errNoPyramid = errors.New("gpu pyramid read-back missing")

// build returns the pyramid for the cycle. With useGPU the read-back taken
// on the render goroutine is validated and used; otherwise channels are
// computed from img.
func (b *pyramidBuilder) build(img image.Image, plan pyramidPlan, readback *vision.Pyramid, useGPU bool) (*vision.Pyramid, error) {
	if len(plan.Scales) == 0 {
		return nil, fmt.Errorf("frame %v smaller than detector window %v", plan.Up, b.window)
	}

	var p *vision.Pyramid
	if useGPU {
		if readback == nil {
			return nil, errNoPyramid
		}
		p = readback
	} else {
		if b.channels == nil {
			return nil, fmt.Errorf("%w: no channel source", ErrConfig)
		}
		if img == nil {
			return nil, fmt.Errorf("no pixel buffer for cpu pyramid")
		}
		var err error
		p, err = b.channels.Compute(img, plan.Scales)
		if err != nil {
			return nil, fmt.Errorf("compute channels: %w", err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pyramid: %w", err)
	}
	return p, nil
}
