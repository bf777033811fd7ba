// Package detector provides the face models driven by the face finder: a
// pigo cascade face detector and pupil locator, and landmark regressors
// backed by ONNX Runtime or an external process.
package detector

import (
	"errors"
	"image"
	"image/color"
)

// ErrClosed is returned by models used after Close.
var ErrClosed = errors.New("detector closed")

// Config holds configuration options for the cascade face detector.
type Config struct {
	// CascadePath is the pigo facefinder cascade file.
	CascadePath string

	// PuplocPath is the pigo pupil localization cascade file.
	PuplocPath string

	// Window is the detector window in image pixels (default: 64).
	Window int

	// MinQuality drops detections scoring below it (default: 5.0).
	MinQuality float64

	// ShiftFactor is the sliding window step relative to its size (default: 0.1).
	ShiftFactor float64

	// ClusterIoU merges overlapping raw detections within a level (default: 0.2).
	ClusterIoU float64

	// Perturbs is the number of pupil localization perturbations (default: 63).
	Perturbs int
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		CascadePath: "models/facefinder",
		PuplocPath:  "models/puploc",
		Window:      64,
		MinQuality:  5.0,
		ShiftFactor: 0.1,
		ClusterIoU:  0.2,
		Perturbs:    63,
	}
}

// grayPixels converts img to a row-major 8-bit luminance buffer.
func grayPixels(img image.Image) ([]uint8, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]uint8, w*h)

	if g, ok := img.(*image.Gray); ok {
		for y := 0; y < h; y++ {
			copy(out[y*w:(y+1)*w], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
		return out, w, h
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return out, w, h
}
