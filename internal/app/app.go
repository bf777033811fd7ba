// Package app drives the face finder from a frame source: it feeds frames
// through the software filter graph, encodes the painted output and adapts
// the capture rate to scene activity.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/facefinder/internal/capture"
	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/gpu/soft"
)

// Pipeline timing constants.
const (
	// IdleFPS is the frame rate when nothing moves and no face is tracked.
	IdleFPS = 5
	// ActiveFPS is the frame rate while motion or faces are present.
	ActiveFPS = 30
	// IdleTimeout is how long the scene must stay still before switching
	// back to idle mode.
	IdleTimeout = 2 * time.Second
)

// Config holds configuration options for the application.
type Config struct {
	Logger *slog.Logger
	Source capture.Source
	Models facefinder.Models
	// Finder settings. The backend is supplied by the app.
	Finder facefinder.Settings
	// MotionThreshold is the percent of changed pixels that counts as
	// activity (default: 1.0).
	MotionThreshold float64
	// Adaptive switches between IdleFPS and ActiveFPS. Off for replay.
	Adaptive bool
	// Output receives every painted frame as JPEG.
	Output func(jpeg []byte)
}

// App is the main application that orchestrates capture, the face finder
// and output publishing.
type App struct {
	config  Config
	logger  *slog.Logger
	backend *soft.Backend
	finder  *facefinder.FaceFinder
	motion  *capture.MotionDetector

	enabled bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	sceneMu   sync.RWMutex
	lastScene *facefinder.Scene
	sceneSubs []func(*facefinder.Scene)

	frames int64
}

// New creates the finder on a software backend and initializes it.
func New(config Config) (*App, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := config.MotionThreshold
	if threshold <= 0 {
		threshold = 1.0 // 1% pixel change
	}

	backend := soft.New(logger)
	settings := config.Finder
	settings.Backend = backend
	settings.Logger = logger

	finder, err := facefinder.New(config.Models, settings, 0)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := finder.Initialize(); err != nil {
		finder.Close()
		backend.Close()
		return nil, err
	}

	a := &App{
		config:  config,
		logger:  logger,
		backend: backend,
		finder:  finder,
		motion:  capture.NewMotionDetector(threshold),
		enabled: true,
	}
	finder.AddMonitor(facefinder.MonitorFunc(a.onScene))
	return a, nil
}

// onScene keeps the displayed scene for status surfaces. Lightweight
// notifications arrive on the pipeline goroutine every frame.
func (a *App) onScene(scene *facefinder.Scene, ts time.Time, full bool) {
	if full {
		return
	}
	a.sceneMu.Lock()
	changed := a.lastScene != scene
	a.lastScene = scene
	subs := a.sceneSubs
	a.sceneMu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(scene)
		}
	}
}

// OnSceneChange registers fn to be called when the displayed scene
// changes. fn runs on the pipeline goroutine and must not block.
func (a *App) OnSceneChange(fn func(*facefinder.Scene)) {
	a.sceneMu.Lock()
	defer a.sceneMu.Unlock()
	a.sceneSubs = append(a.sceneSubs, fn)
}

// LastScene returns the scene displayed with the latest frame, or nil.
func (a *App) LastScene() *facefinder.Scene {
	a.sceneMu.RLock()
	defer a.sceneMu.RUnlock()
	return a.lastScene
}

// SetEnabled pauses or resumes frame processing. Frames are still read
// while paused so live sources do not back up.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether frame processing is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Finder returns the face finder.
func (a *App) Finder() *facefinder.FaceFinder {
	return a.finder
}

// Source returns the frame source.
func (a *App) Source() capture.Source {
	return a.config.Source
}

// Frames returns the number of frames processed.
func (a *App) Frames() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}

// Start opens the source and begins the pipeline loop.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}
	if a.config.Source == nil {
		return errors.New("no frame source")
	}
	if err := a.config.Source.Open(); err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	if a.config.Adaptive {
		a.config.Source.SetFPS(IdleFPS)
	}

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(a.stopCh, a.doneCh)

	a.logger.Info("pipeline started", "fps", a.config.Source.FPS(), "adaptive", a.config.Adaptive)
	return nil
}

// Wait blocks until the pipeline loop exits, either after Stop or at the
// end of a file source.
func (a *App) Wait() {
	a.mu.RLock()
	done := a.doneCh
	a.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Stop halts the pipeline loop and closes the source.
func (a *App) Stop() {
	a.mu.Lock()
	stop, done := a.stopCh, a.doneCh
	a.stopCh = nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	if a.config.Source != nil {
		if err := a.config.Source.Close(); err != nil {
			a.logger.Warn("error closing source", "error", err)
		}
	}
	a.logger.Info("pipeline stopped")
}

// Close stops the pipeline and releases the finder and backend. It must
// not be called concurrently with ProcessFrame.
func (a *App) Close() error {
	a.Stop()
	a.motion.Close()
	err := a.finder.Close()
	if cerr := a.backend.Close(); err == nil {
		err = cerr
	}
	return err
}
