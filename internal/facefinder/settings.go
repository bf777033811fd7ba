package facefinder

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/ayusman/facefinder/internal/gpu"
)

var (
	// ErrConfig is returned for invalid settings or missing collaborators.
	ErrConfig = errors.New("invalid configuration")
	// ErrGraph is returned when the GPU filter graph cannot be built.
	ErrGraph = errors.New("filter graph build failed")
	// ErrNotInitialized is returned by Process before Initialize.
	ErrNotInitialized = errors.New("face finder not initialized")
	// ErrBusy is returned when a detection cycle is already in flight.
	ErrBusy = errors.New("detection cycle in flight")
	// ErrPoolSaturated is returned when the worker pool queue is full.
	ErrPoolSaturated = errors.New("worker pool saturated")
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Settings are fixed at construction. Runtime tunables live in Params.
type Settings struct {
	Logger *slog.Logger
	// Backend renders the filter graph. Required.
	Backend gpu.Backend
	// Pool runs detection cycles. When nil the finder owns a pool of
	// Workers goroutines.
	Pool    Pool
	Workers int

	// Orientation rotates the input into the upright frame: 0, 90, 180
	// or 270 degrees.
	Orientation int
	// FrameDelay is the number of frames display lags capture so painted
	// scenes line up with their frames.
	FrameDelay int
	// StashDepth bounds the result stash.
	StashDepth int

	// FaceWidthMeters is the physical face width assumed by the
	// detection width policy.
	FaceWidthMeters float64
	ACFShrink       int
	ScalesPerOctave int
	// EyeSize is the eye-pair crop size. Each eye takes half the width.
	EyeSize image.Point
	// BlobThreshold is the blob stage change threshold in percent.
	BlobThreshold float64
	// GazeHistory bounds the smoothed gaze point trail.
	GazeHistory int
	// GazeSmoothing is the exponential smoothing factor in (0,1].
	GazeSmoothing float64

	Params Params

	// ImageLogger receives the upright frame of each detection cycle.
	ImageLogger func(image.Image)
	// PhaseSinks receive each recorded phase duration.
	PhaseSinks map[Phase]func(time.Duration)
}

// DefaultSettings returns settings with the default tunables. Backend must
// still be set.
func DefaultSettings() Settings {
	return Settings{
		Workers:         1,
		FrameDelay:      1,
		StashDepth:      4,
		FaceWidthMeters: 0.16,
		ACFShrink:       4,
		ScalesPerOctave: 8,
		EyeSize:         image.Pt(480, 240),
		BlobThreshold:   1.0,
		GazeHistory:     8,
		GazeSmoothing:   0.5,
		Params:          DefaultParams(),
	}
}

// Validate checks settings and returns an ErrConfig-wrapped error.
func (s *Settings) Validate() error {
	if s.Backend == nil {
		return fmt.Errorf("%w: no gpu backend", ErrConfig)
	}
	switch s.Orientation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("%w: orientation must be 0, 90, 180 or 270, got %d", ErrConfig, s.Orientation)
	}
	if s.Pool == nil && s.Workers <= 0 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrConfig, s.Workers)
	}
	if s.FrameDelay < 0 {
		return fmt.Errorf("%w: negative frame delay %d", ErrConfig, s.FrameDelay)
	}
	if s.StashDepth <= s.FrameDelay {
		return fmt.Errorf("%w: stash depth %d must exceed frame delay %d", ErrConfig, s.StashDepth, s.FrameDelay)
	}
	if s.FaceWidthMeters <= 0 {
		return fmt.Errorf("%w: face width must be positive", ErrConfig)
	}
	if s.ACFShrink <= 0 || s.ScalesPerOctave <= 0 {
		return fmt.Errorf("%w: acf shrink and scales per octave must be positive", ErrConfig)
	}
	if s.EyeSize.X <= 0 || s.EyeSize.Y <= 0 || s.EyeSize.X%2 != 0 {
		return fmt.Errorf("%w: eye size %v must be positive with even width", ErrConfig, s.EyeSize)
	}
	if s.GazeSmoothing <= 0 || s.GazeSmoothing > 1 {
		return fmt.Errorf("%w: gaze smoothing %v out of (0,1]", ErrConfig, s.GazeSmoothing)
	}
	if s.GazeHistory <= 0 {
		return fmt.Errorf("%w: gaze history must be positive", ErrConfig)
	}
	return s.Params.Validate()
}

func validateModels(m Models, p Params) error {
	if m.Detector == nil {
		return fmt.Errorf("%w: no object detector", ErrConfig)
	}
	if m.Sensor == nil {
		return fmt.Errorf("%w: no sensor model", ErrConfig)
	}
	if m.Sensor.FocalLength() <= 0 {
		return fmt.Errorf("%w: sensor focal length must be positive", ErrConfig)
	}
	if w := m.Detector.WindowSize(); w.X <= 0 || w.Y <= 0 {
		return fmt.Errorf("%w: detector window %v", ErrConfig, w)
	}
	if p.DoCPUACF && m.Channels == nil {
		return fmt.Errorf("%w: cpu acf enabled without a channel source", ErrConfig)
	}
	if p.DoLandmarks && m.Regressor == nil {
		return fmt.Errorf("%w: landmarks enabled without a shape regressor", ErrConfig)
	}
	if p.DoIris && m.Eyes == nil {
		return fmt.Errorf("%w: iris enabled without an eye locator", ErrConfig)
	}
	return nil
}
