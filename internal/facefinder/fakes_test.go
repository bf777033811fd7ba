package facefinder

import (
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/facefinder/internal/gpu"
	"github.com/ayusman/facefinder/internal/vision"
)

// fakeBackend builds in-memory stages and records the build order.
type fakeBackend struct {
	mu      sync.Mutex
	failOn  map[gpu.StageKind]bool
	built   []gpu.StageKind
	stages  []*fakeStage
	blobs   []vision.Rect
	flow    []vision.FlowVector
	bindErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failOn: make(map[gpu.StageKind]bool)}
}

func (b *fakeBackend) Bind(gpu.Context) error { return b.bindErr }

func (b *fakeBackend) NewStage(spec gpu.StageSpec) (gpu.Stage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failOn[spec.Kind] {
		return nil, errors.New("shader compile failed")
	}
	st := &fakeStage{backend: b, spec: spec, out: gpu.Texture(100 + len(b.built))}
	b.built = append(b.built, spec.Kind)
	b.stages = append(b.stages, st)
	return st, nil
}

func (b *fakeBackend) kinds() []gpu.StageKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]gpu.StageKind, len(b.built))
	copy(out, b.built)
	return out
}

func (b *fakeBackend) stage(kind gpu.StageKind) *fakeStage {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, st := range b.stages {
		if st.spec.Kind == kind {
			return st
		}
	}
	return nil
}

type fakeStage struct {
	backend *fakeBackend
	spec    gpu.StageSpec
	out     gpu.Texture

	mu        sync.Mutex
	processed int
	lastAux   gpu.Aux
	closed    bool
}

func (s *fakeStage) Kind() gpu.StageKind { return s.spec.Kind }

func (s *fakeStage) Process(in gpu.Texture, aux gpu.Aux) (gpu.Texture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	s.lastAux = aux
	return s.out, nil
}

func (s *fakeStage) Read() (gpu.Readback, error) {
	switch s.spec.Kind {
	case gpu.StageACF:
		return gpu.Readback{Pyramid: testPyramid()}, nil
	case gpu.StageBlob:
		s.backend.mu.Lock()
		defer s.backend.mu.Unlock()
		return gpu.Readback{Regions: s.backend.blobs}, nil
	case gpu.StageEyeEnhancer:
		return gpu.Readback{Image: image.NewRGBA(image.Rect(0, 0, s.spec.OutSize.X, s.spec.OutSize.Y))}, nil
	case gpu.StagePolar:
		return gpu.Readback{Image: image.NewGray(image.Rect(0, 0, s.spec.OutSize.X, s.spec.OutSize.Y))}, nil
	case gpu.StageFlow:
		s.backend.mu.Lock()
		defer s.backend.mu.Unlock()
		return gpu.Readback{Flow: s.backend.flow}, nil
	case gpu.StageTransform:
		return gpu.Readback{Image: image.NewRGBA(image.Rect(0, 0, s.spec.OutSize.X, s.spec.OutSize.Y))}, nil
	}
	return gpu.Readback{}, nil
}

func (s *fakeStage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed
}

func (s *fakeStage) aux() gpu.Aux {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAux
}

func testPyramid() *vision.Pyramid {
	planes := make([][]float32, vision.NumChannels)
	for i := range planes {
		planes[i] = make([]float32, 4)
	}
	return &vision.Pyramid{
		Channels: vision.NumChannels,
		Shrink:   4,
		Levels:   []vision.Level{{Scale: 1, Width: 2, Height: 2, Planes: planes}},
	}
}

// fakeDetector returns fixed detections. When gate is set each call blocks
// until a value is received from it.
type fakeDetector struct {
	mu     sync.Mutex
	dets   []vision.Detection
	err    error
	panics bool
	calls  int
	gate   chan struct{}
}

func (d *fakeDetector) Detect(p *vision.Pyramid) ([]vision.Detection, error) {
	d.mu.Lock()
	d.calls++
	gate, dets, err, panics := d.gate, d.dets, d.err, d.panics
	d.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if panics {
		panic("detector exploded")
	}
	if err != nil {
		return nil, err
	}
	out := make([]vision.Detection, len(dets))
	copy(out, dets)
	return out, nil
}

func (d *fakeDetector) WindowSize() image.Point { return image.Pt(64, 64) }

func (d *fakeDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDetector) set(dets []vision.Detection, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dets, d.err = dets, err
}

// fakeSensor has fx = 600 and a 0.16 m reference face width.
type fakeSensor struct{}

func (fakeSensor) FocalLength() float64 { return 600 }

func (fakeSensor) DistanceFromWidth(w float64) float64 {
	if w <= 0 {
		return 0
	}
	return 600 * 0.16 / w
}

// fakeRegressor places the eye corners in the upper half of the roi.
type fakeRegressor struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRegressor) Regress(img image.Image, roi vision.Rect) (*vision.Shape, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	w, h := roi.Width(), roi.Height()
	s := &vision.Shape{Points: []vision.Point{roi.Center()}}
	s.Eyes[vision.LeftEye] = [2]vision.Point{
		{X: roi.X1 + 0.15*w, Y: roi.Y1 + 0.4*h},
		{X: roi.X1 + 0.4*w, Y: roi.Y1 + 0.4*h},
	}
	s.Eyes[vision.RightEye] = [2]vision.Point{
		{X: roi.X1 + 0.85*w, Y: roi.Y1 + 0.4*h},
		{X: roi.X1 + 0.6*w, Y: roi.Y1 + 0.4*h},
	}
	return s, nil
}

// fakeEyes reports an iris at the center of every crop.
type fakeEyes struct{}

func (fakeEyes) Locate(in EyeInput) (vision.EyeModel, error) {
	b := in.Crop.Bounds()
	return vision.EyeModel{
		Center:     vision.Point{X: float64(b.Dx()) / 2, Y: float64(b.Dy()) / 2},
		IrisRadius: 10,
		Confidence: 1,
		Found:      true,
	}, nil
}

type fakeChannels struct {
	mu     sync.Mutex
	scales []float64
}

func (c *fakeChannels) Compute(img image.Image, scales []float64) (*vision.Pyramid, error) {
	c.mu.Lock()
	c.scales = scales
	c.mu.Unlock()
	return testPyramid(), nil
}

// face100 is admissible at the default range: 0.96 m away.
var face100 = vision.Detection{Rect: vision.Rect{X1: 100, Y1: 100, X2: 200, Y2: 200}, Score: 0.9}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	backend   *fakeBackend
	detector  *fakeDetector
	regressor *fakeRegressor
	models    Models
	settings  Settings
}

func newFixture() *fixture {
	fx := &fixture{
		backend:   newFakeBackend(),
		detector:  &fakeDetector{dets: []vision.Detection{face100}},
		regressor: &fakeRegressor{},
	}
	fx.models = Models{
		Detector:  fx.detector,
		Regressor: fx.regressor,
		Eyes:      fakeEyes{},
		Sensor:    fakeSensor{},
		Channels:  &fakeChannels{},
	}
	fx.settings = DefaultSettings()
	fx.settings.Backend = fx.backend
	fx.settings.Logger = quietLogger()
	return fx
}

func testFrame(ts time.Time) Frame {
	return Frame{
		Texture:   1,
		Image:     image.NewRGBA(image.Rect(0, 0, 640, 480)),
		Timestamp: ts,
	}
}
