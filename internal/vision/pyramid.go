package vision

import "fmt"

// Channel layout of an ACF pyramid level.
const (
	ChannelL = iota
	ChannelU
	ChannelV
	ChannelMagnitude
	ChannelOrientation0
)

// OrientationBins is the number of gradient orientation histogram channels.
const OrientationBins = 6

// NumChannels is the total number of ACF channels per level.
const NumChannels = ChannelOrientation0 + OrientationBins

// Level is one scale of a feature pyramid. Planes hold NumChannels
// row-major planes of Width*Height values.
type Level struct {
	// Scale is the level size relative to the upright frame.
	Scale  float64
	Width  int
	Height int
	Planes [][]float32
}

// At returns channel c at plane coordinates (x, y).
func (l *Level) At(c, x, y int) float32 {
	return l.Planes[c][y*l.Width+x]
}

// ToFrame maps plane coordinates of this level back to upright frame
// coordinates.
func (l *Level) ToFrame(r Rect, shrink int) Rect {
	return r.Scale(float64(shrink) / l.Scale)
}

// Pyramid is a multi-scale stack of aggregated channel features.
type Pyramid struct {
	Channels int
	// Shrink is the cell size in pixels that each plane value aggregates.
	Shrink int
	Levels []Level
}

// Validate checks the pyramid for structural consistency.
func (p *Pyramid) Validate() error {
	if p == nil {
		return fmt.Errorf("nil pyramid")
	}
	if p.Shrink <= 0 {
		return fmt.Errorf("invalid shrink %d", p.Shrink)
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("pyramid has no levels")
	}
	for i, l := range p.Levels {
		if len(l.Planes) != p.Channels {
			return fmt.Errorf("level %d: %d planes, want %d", i, len(l.Planes), p.Channels)
		}
		for c, plane := range l.Planes {
			if len(plane) != l.Width*l.Height {
				return fmt.Errorf("level %d channel %d: %d values, want %d", i, c, len(plane), l.Width*l.Height)
			}
		}
	}
	return nil
}

// Luminance returns the L channel of level i quantized to 8 bits.
func (p *Pyramid) Luminance(i int) []uint8 {
	plane := p.Levels[i].Planes[ChannelL]
	out := make([]uint8, len(plane))
	for j, v := range plane {
		switch {
		case v <= 0:
			out[j] = 0
		case v >= 1:
			out[j] = 255
		default:
			out[j] = uint8(v*255 + 0.5)
		}
	}
	return out
}
