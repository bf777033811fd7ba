package detector

import (
	"fmt"

	"github.com/ayusman/facefinder/internal/vision"
)

// NumLandmarks is the size of the 106-point facial landmark layout.
const NumLandmarks = 106

// Eye contour groups of the 106-point layout. The groups are named by the
// subject's side; shapeFromPoints assigns them to image-left and image-right
// by position so a mirrored camera yields the same ordering.
var (
	eyeGroupA = indexRange(33, 42)
	eyeGroupB = indexRange(87, 96)
)

func indexRange(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

// eyeCorners returns the leftmost and rightmost points of an eye contour.
func eyeCorners(points []vision.Point, group []int) (left, right vision.Point) {
	left, right = points[group[0]], points[group[0]]
	for _, i := range group[1:] {
		p := points[i]
		if p.X < left.X {
			left = p
		}
		if p.X > right.X {
			right = p
		}
	}
	return left, right
}

// shapeFromPoints builds a Shape from a full 106-point set. The eye whose
// contour lies further left in the image becomes vision.LeftEye. Outer
// corners are the ones facing away from the nose.
func shapeFromPoints(points []vision.Point) (*vision.Shape, error) {
	if len(points) != NumLandmarks {
		return nil, fmt.Errorf("got %d landmarks, want %d", len(points), NumLandmarks)
	}

	aL, aR := eyeCorners(points, eyeGroupA)
	bL, bR := eyeCorners(points, eyeGroupB)
	if aL.X+aR.X > bL.X+bR.X {
		aL, aR, bL, bR = bL, bR, aL, aR
	}

	shape := &vision.Shape{Points: points}
	shape.Eyes[vision.LeftEye] = [2]vision.Point{aL, aR}
	shape.Eyes[vision.RightEye] = [2]vision.Point{bR, bL}
	return shape, nil
}

// alignedCrop is the square crop around a face box fed to landmark models.
// Points in crop pixels map back with toFrame.
type alignedCrop struct {
	Center vision.Point
	Scale  float64
	Size   int
}

func newAlignedCrop(roi vision.Rect, size int) alignedCrop {
	maxDim := max(roi.Width(), roi.Height())
	return alignedCrop{
		Center: roi.Center(),
		Scale:  float64(size) / (maxDim * 1.5),
		Size:   size,
	}
}

func (c alignedCrop) toFrame(p vision.Point) vision.Point {
	half := float64(c.Size) / 2
	return vision.Point{
		X: (p.X-half)/c.Scale + c.Center.X,
		Y: (p.Y-half)/c.Scale + c.Center.Y,
	}
}
