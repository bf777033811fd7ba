package detector

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/vision"
)

// FaceDetector runs the pigo facefinder cascade on the luminance plane of
// every pyramid level. Because the pyramid already spans the scales, the
// cascade only searches sizes close to the detector window on each level.
type FaceDetector struct {
	config     Config
	classifier *pigo.Pigo
	mu         sync.Mutex
}

// NewFaceDetector loads the cascade named by config.CascadePath.
func NewFaceDetector(config Config) (*FaceDetector, error) {
	data, err := os.ReadFile(config.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("read face cascade: %w", err)
	}
	return NewFaceDetectorFromBytes(config, data)
}

// NewFaceDetectorFromBytes unpacks an in-memory cascade.
func NewFaceDetectorFromBytes(config Config, cascade []byte) (*FaceDetector, error) {
	if config.Window <= 0 {
		return nil, fmt.Errorf("invalid detector window %d", config.Window)
	}
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpack face cascade: %w", err)
	}
	return &FaceDetector{config: config, classifier: classifier}, nil
}

// WindowSize returns the detector window in image pixels.
func (d *FaceDetector) WindowSize() image.Point {
	return image.Pt(d.config.Window, d.config.Window)
}

// Detect scans each level and returns detections in upright frame
// coordinates.
func (d *FaceDetector) Detect(p *vision.Pyramid) ([]vision.Detection, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	// Window size in plane cells, and one octave of slack above it.
	minSize := max(d.config.Window/p.Shrink, 1)
	maxSize := int(math.Ceil(float64(minSize) * 2))

	var out []vision.Detection
	for i := range p.Levels {
		level := &p.Levels[i]
		if level.Width < minSize || level.Height < minSize {
			continue
		}

		params := pigo.CascadeParams{
			MinSize:     minSize,
			MaxSize:     maxSize,
			ShiftFactor: d.config.ShiftFactor,
			ScaleFactor: 1.1,
			ImageParams: pigo.ImageParams{
				Pixels: p.Luminance(i),
				Rows:   level.Height,
				Cols:   level.Width,
				Dim:    level.Width,
			},
		}

		d.mu.Lock()
		dets := d.classifier.RunCascade(params, 0.0)
		dets = d.classifier.ClusterDetections(dets, d.config.ClusterIoU)
		d.mu.Unlock()

		for _, det := range dets {
			if float64(det.Q) < d.config.MinQuality {
				continue
			}
			size := float64(det.Scale)
			r := vision.RectFromCenter(vision.Point{X: float64(det.Col), Y: float64(det.Row)}, size, size)
			out = append(out, vision.Detection{
				Rect:  level.ToFrame(r, p.Shrink),
				Score: float64(det.Q),
				Level: i,
			})
		}
	}
	return out, nil
}

// PupilLocator estimates the pupil of an eye crop with the pigo puploc
// cascade.
type PupilLocator struct {
	config  Config
	cascade *pigo.PuplocCascade
	mu      sync.Mutex
}

// NewPupilLocator loads the cascade named by config.PuplocPath.
func NewPupilLocator(config Config) (*PupilLocator, error) {
	data, err := os.ReadFile(config.PuplocPath)
	if err != nil {
		return nil, fmt.Errorf("read puploc cascade: %w", err)
	}
	return NewPupilLocatorFromBytes(config, data)
}

// NewPupilLocatorFromBytes unpacks an in-memory puploc cascade.
func NewPupilLocatorFromBytes(config Config, cascade []byte) (*PupilLocator, error) {
	plc, err := pigo.NewPuplocCascade().UnpackCascade(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpack puploc cascade: %w", err)
	}
	return &PupilLocator{config: config, cascade: plc}, nil
}

// Iris to pupil search scale, as a share of the crop height.
const (
	pupilSearchScale = 0.8
	irisFromSearch   = 0.35
	pupilFromIris    = 0.4
)

// Locate seeds the pupil search at the crop center and sizes the iris from
// the polar image. Coordinates are crop pixels.
func (l *PupilLocator) Locate(eye facefinder.EyeInput) (vision.EyeModel, error) {
	if eye.Crop == nil || eye.Crop.Bounds().Empty() {
		return vision.EyeModel{}, fmt.Errorf("eye %d: empty crop", eye.Index)
	}
	pixels, w, h := grayPixels(eye.Crop)

	search := float32(h) * pupilSearchScale
	seed := pigo.Puploc{
		Row:      h / 2,
		Col:      w / 2,
		Scale:    search,
		Perturbs: l.config.Perturbs,
	}
	img := pigo.ImageParams{Pixels: pixels, Rows: h, Cols: w, Dim: w}

	l.mu.Lock()
	res := l.cascade.RunDetector(seed, img, 0.0, false)
	l.mu.Unlock()

	if res == nil || res.Row <= 0 || res.Col <= 0 {
		return vision.EyeModel{}, nil
	}
	iris := float64(search) * irisFromSearch
	m := vision.EyeModel{
		Center:      vision.Point{X: float64(res.Col), Y: float64(res.Row)},
		IrisRadius:  iris,
		PupilRadius: iris * pupilFromIris,
		Confidence:  1,
		Found:       true,
	}
	return refineFromPolar(m, eye), nil
}
