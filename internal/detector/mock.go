package detector

import (
	"image"
	"sync"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/vision"
)

// MockDetector returns a fixed set of detections, for testing and demo
// pipelines without cascade files.
type MockDetector struct {
	mu         sync.Mutex
	detections []vision.Detection
	window     image.Point
	calls      int
}

// NewMockDetector creates a MockDetector with a 64x64 window.
func NewMockDetector(dets ...vision.Detection) *MockDetector {
	return &MockDetector{detections: dets, window: image.Pt(64, 64)}
}

// SetDetections replaces the detections returned by later calls.
func (m *MockDetector) SetDetections(dets ...vision.Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detections = dets
}

// Detect implements facefinder.ObjectDetector.
func (m *MockDetector) Detect(p *vision.Pyramid) ([]vision.Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := make([]vision.Detection, len(m.detections))
	copy(out, m.detections)
	return out, nil
}

// WindowSize implements facefinder.ObjectDetector.
func (m *MockDetector) WindowSize() image.Point { return m.window }

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockRegressor places a frontal face layout inside the roi: eyes at 40%
// of the height, 30% and 70% of the width.
type MockRegressor struct{}

// Regress implements facefinder.ShapeRegressor.
func (MockRegressor) Regress(img image.Image, roi vision.Rect) (*vision.Shape, error) {
	at := func(fx, fy float64) vision.Point {
		return vision.Point{X: roi.X1 + fx*roi.Width(), Y: roi.Y1 + fy*roi.Height()}
	}
	shape := &vision.Shape{
		Points: []vision.Point{at(0.2, 0.4), at(0.4, 0.4), at(0.6, 0.4), at(0.8, 0.4), at(0.5, 0.6), at(0.5, 0.8)},
	}
	shape.Eyes[vision.LeftEye] = [2]vision.Point{shape.Points[0], shape.Points[1]}
	shape.Eyes[vision.RightEye] = [2]vision.Point{shape.Points[3], shape.Points[2]}
	return shape, nil
}

// MockLocator reports a pupil at the crop center, sized from the polar
// image when one is given.
type MockLocator struct{}

// Locate implements facefinder.EyeLocator.
func (MockLocator) Locate(eye facefinder.EyeInput) (vision.EyeModel, error) {
	if eye.Crop == nil {
		return vision.EyeModel{}, nil
	}
	b := eye.Crop.Bounds()
	iris := float64(b.Dy()) * 0.25
	return refineFromPolar(vision.EyeModel{
		Center:      vision.Point{X: float64(b.Dx()) / 2, Y: float64(b.Dy()) / 2},
		IrisRadius:  iris,
		PupilRadius: iris * pupilFromIris,
		Confidence:  1,
		Found:       true,
	}, eye), nil
}
