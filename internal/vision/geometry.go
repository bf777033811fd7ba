// Package vision holds the image-space value types shared by the face finder
// core, the GPU stages and the model adapters.
package vision

import (
	"image"
	"math"
)

// Point is a 2D point in pixel coordinates.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Scale returns p scaled by s.
func (p Point) Scale(s float64) Point { return Point{X: p.X * s, Y: p.Y * s} }

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 { return math.Hypot(p.X, p.Y) }

// Point3 is a point in camera space. X and Y are pixels, Z is meters.
type Point3 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
	Z float64 `json:"z" msgpack:"z"`
}

// Rect is an axis-aligned box given by its top-left (X1, Y1) and
// bottom-right (X2, Y2) corners.
type Rect struct {
	X1 float64 `json:"x1" msgpack:"x1"`
	Y1 float64 `json:"y1" msgpack:"y1"`
	X2 float64 `json:"x2" msgpack:"x2"`
	Y2 float64 `json:"y2" msgpack:"y2"`
}

// RectFromCenter builds a rect of the given size centered on c.
func RectFromCenter(c Point, w, h float64) Rect {
	return Rect{X1: c.X - w/2, Y1: c.Y - h/2, X2: c.X + w/2, Y2: c.Y + h/2}
}

// RectFromImage converts an integer image rectangle.
func RectFromImage(r image.Rectangle) Rect {
	return Rect{X1: float64(r.Min.X), Y1: float64(r.Min.Y), X2: float64(r.Max.X), Y2: float64(r.Max.Y)}
}

// Width returns the width of the box.
func (r Rect) Width() float64 { return r.X2 - r.X1 }

// Height returns the height of the box.
func (r Rect) Height() float64 { return r.Y2 - r.Y1 }

// Center returns the center point of the box.
func (r Rect) Center() Point { return Point{X: (r.X1 + r.X2) / 2, Y: (r.Y1 + r.Y2) / 2} }

// Area returns the area of the box, zero for degenerate boxes.
func (r Rect) Area() float64 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool { return r.Area() == 0 }

// Intersect returns the overlap of r and s; the result is empty when they
// do not overlap.
func (r Rect) Intersect(s Rect) Rect {
	out := Rect{
		X1: math.Max(r.X1, s.X1),
		Y1: math.Max(r.Y1, s.Y1),
		X2: math.Min(r.X2, s.X2),
		Y2: math.Min(r.Y2, s.Y2),
	}
	if out.X1 >= out.X2 || out.Y1 >= out.Y2 {
		return Rect{}
	}
	return out
}

// Union returns the smallest box containing both r and s.
func (r Rect) Union(s Rect) Rect {
	return Rect{
		X1: math.Min(r.X1, s.X1),
		Y1: math.Min(r.Y1, s.Y1),
		X2: math.Max(r.X2, s.X2),
		Y2: math.Max(r.Y2, s.Y2),
	}
}

// IoU returns the intersection over union of r and s.
func (r Rect) IoU(s Rect) float64 {
	inter := r.Intersect(s).Area()
	if inter == 0 {
		return 0
	}
	union := r.Area() + s.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Scale multiplies every coordinate by s.
func (r Rect) Scale(s float64) Rect {
	return Rect{X1: r.X1 * s, Y1: r.Y1 * s, X2: r.X2 * s, Y2: r.Y2 * s}
}

// Translate moves the box by d.
func (r Rect) Translate(d Point) Rect {
	return Rect{X1: r.X1 + d.X, Y1: r.Y1 + d.Y, X2: r.X2 + d.X, Y2: r.Y2 + d.Y}
}

// Image rounds the box to an integer rectangle clipped to bounds.
func (r Rect) Image(bounds image.Rectangle) image.Rectangle {
	out := image.Rect(
		int(math.Floor(r.X1)), int(math.Floor(r.Y1)),
		int(math.Ceil(r.X2)), int(math.Ceil(r.Y2)),
	)
	return out.Intersect(bounds)
}

// FlowVector is one sample of an optical flow field.
type FlowVector struct {
	Origin Point `json:"origin" msgpack:"origin"`
	Delta  Point `json:"delta" msgpack:"delta"`
}

// FeaturePoint is a tracked point with a display radius.
type FeaturePoint struct {
	Point  Point   `json:"point" msgpack:"point"`
	Radius float64 `json:"radius" msgpack:"radius"`
}
