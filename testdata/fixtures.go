// Package testdata generates synthetic frames and videos for tests that
// drive the face finder end to end.
package testdata

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Size is the default fixture frame size.
var Size = image.Pt(320, 240)

// FaceAt returns the bright rectangle drawn in frame i of a sequence. It
// moves right by step pixels per frame.
func FaceAt(i, step int) image.Rectangle {
	x := 60 + i*step
	return image.Rect(x, 60, x+80, 140)
}

// Frame draws a BGR frame with a gray background and a lighter oval inside
// each face rectangle. The caller closes the Mat.
func Frame(size image.Point, faces ...image.Rectangle) gocv.Mat {
	m := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8UC3)
	m.SetTo(gocv.NewScalar(70, 70, 70, 0))
	for _, r := range faces {
		center := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
		axes := image.Pt(r.Dx()/2, r.Dy()/2)
		gocv.EllipseWithParams(&m, center, axes, 0, 0, 360, color.RGBA{R: 200, G: 180, B: 160}, -1, gocv.LineAA, 0)
		// Darker eye spots give the flow and eye stages some texture.
		gocv.Circle(&m, image.Pt(r.Min.X+r.Dx()/3, r.Min.Y+r.Dy()*2/5), r.Dx()/12+1, color.RGBA{R: 40, G: 30, B: 30}, -1)
		gocv.Circle(&m, image.Pt(r.Min.X+r.Dx()*2/3, r.Min.Y+r.Dy()*2/5), r.Dx()/12+1, color.RGBA{R: 40, G: 30, B: 30}, -1)
	}
	return m
}

// Sequence returns n frames with one face moving step pixels per frame.
func Sequence(n, step int) []*gocv.Mat {
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := Frame(Size, FaceAt(i, step))
		frames[i] = &m
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}

// WriteVideo encodes frames into an MJPG video at path.
func WriteVideo(path string, frames []*gocv.Mat, fps float64) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames")
	}
	w, err := gocv.VideoWriterFile(path, "MJPG", fps, frames[0].Cols(), frames[0].Rows(), true)
	if err != nil {
		return fmt.Errorf("open video writer: %w", err)
	}
	for i, f := range frames {
		if err := w.Write(*f); err != nil {
			w.Close()
			return fmt.Errorf("write frame %d: %w", i, err)
		}
	}
	return w.Close()
}
