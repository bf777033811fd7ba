package gpu

import "github.com/ayusman/facefinder/internal/vision"

// BoxStyle selects how the painter draws a box.
type BoxStyle int

const (
	BoxFace BoxStyle = iota
	BoxBlob
	BoxEye
)

// Box is a styled rectangle.
type Box struct {
	Rect  vision.Rect
	Style BoxStyle
}

// Circle is a circle outline, used for irises and gaze points.
type Circle struct {
	Center vision.Point
	Radius float64
}

// Overlay is the set of primitives the painter draws over a frame.
type Overlay struct {
	Boxes   []Box
	Points  []vision.Point
	Circles []Circle
	Vectors []vision.FlowVector
}

// Empty reports whether there is nothing to draw.
func (o *Overlay) Empty() bool {
	return o == nil || (len(o.Boxes) == 0 && len(o.Points) == 0 && len(o.Circles) == 0 && len(o.Vectors) == 0)
}
