// Package sensor models camera intrinsics for face distance estimation.
package sensor

import (
	"fmt"
	"image"
	"math"
)

// AverageFaceWidth is the mean adult face width in meters used to turn a
// detected box width into a distance.
const AverageFaceWidth = 0.15

// Pinhole is an ideal pinhole camera.
type Pinhole struct {
	// Size is the sensor resolution in pixels.
	Size image.Point `yaml:"size"`
	// Fx is the horizontal focal length in pixels.
	Fx float64 `yaml:"fx"`
	// FaceWidth overrides AverageFaceWidth when non-zero.
	FaceWidth float64 `yaml:"face_width"`
}

// FromFOV derives the focal length from the horizontal field of view.
func FromFOV(size image.Point, hfovDegrees float64) (*Pinhole, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid sensor size %v", size)
	}
	if hfovDegrees <= 0 || hfovDegrees >= 180 {
		return nil, fmt.Errorf("invalid field of view %v", hfovDegrees)
	}
	half := hfovDegrees * math.Pi / 360
	return &Pinhole{Size: size, Fx: float64(size.X) / 2 / math.Tan(half)}, nil
}

// FocalLength returns fx in pixels.
func (p *Pinhole) FocalLength() float64 { return p.Fx }

func (p *Pinhole) faceWidth() float64 {
	if p.FaceWidth > 0 {
		return p.FaceWidth
	}
	return AverageFaceWidth
}

// DistanceFromWidth converts a face width in pixels to meters. A
// non-positive width yields +Inf.
func (p *Pinhole) DistanceFromWidth(widthPx float64) float64 {
	if widthPx <= 0 {
		return math.Inf(1)
	}
	return p.Fx * p.faceWidth() / widthPx
}

// WidthAtDistance is the inverse of DistanceFromWidth.
func (p *Pinhole) WidthAtDistance(meters float64) float64 {
	if meters <= 0 {
		return math.Inf(1)
	}
	return p.Fx * p.faceWidth() / meters
}

// Scaled returns the model for frames resized to size.
func (p *Pinhole) Scaled(size image.Point) *Pinhole {
	if p.Size.X == 0 {
		return p
	}
	out := *p
	out.Fx = p.Fx * float64(size.X) / float64(p.Size.X)
	out.Size = size
	return &out
}
