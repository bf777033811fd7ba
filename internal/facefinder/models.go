package facefinder

import (
	"image"

	"github.com/ayusman/facefinder/internal/vision"
)

// ObjectDetector finds face candidates in a feature pyramid. Detections are
// returned in upright frame coordinates, tagged with their level.
type ObjectDetector interface {
	Detect(p *vision.Pyramid) ([]vision.Detection, error)
	// WindowSize is the detector window in image pixels.
	WindowSize() image.Point
}

// ShapeRegressor fits facial landmarks inside roi.
type ShapeRegressor interface {
	Regress(img image.Image, roi vision.Rect) (*vision.Shape, error)
}

// EyeInput is the GPU read-back of one eye: the enhanced crop and its polar
// unwrapping, plus the frame region the crop was taken from.
type EyeInput struct {
	Index  int
	Region vision.Rect
	Crop   image.Image
	Polar  image.Image
}

// EyeLocator estimates the iris and pupil of an eye. The returned model is
// in crop coordinates.
type EyeLocator interface {
	Locate(eye EyeInput) (vision.EyeModel, error)
}

// SensorModel describes the camera intrinsics needed for distance
// estimation.
type SensorModel interface {
	// FocalLength is fx in pixels.
	FocalLength() float64
	// DistanceFromWidth converts a face width in pixels to meters.
	DistanceFromWidth(widthPx float64) float64
}

// ChannelSource computes an ACF pyramid from a pixel buffer on the CPU.
// Scales are relative to img.
type ChannelSource interface {
	Compute(img image.Image, scales []float64) (*vision.Pyramid, error)
}

// Models bundles the collaborators the finder drives. Regressor, Eyes and
// Channels are optional depending on the enabled features.
type Models struct {
	Detector  ObjectDetector
	Regressor ShapeRegressor
	Eyes      EyeLocator
	Sensor    SensorModel
	Channels  ChannelSource
}
