package app

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/facefinder/internal/facefinder"
)

// ProcessFrame runs one BGR frame through the face finder and returns the
// painted output as JPEG. It must be called from a single goroutine.
func (a *App) ProcessFrame(frame *gocv.Mat, ts time.Time) ([]byte, error) {
	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}

	in := a.backend.NewTexture()
	a.backend.Put(in, *frame)
	defer a.backend.Release(in)

	out, err := a.finder.Process(facefinder.Frame{Texture: in, Image: img, Timestamp: ts})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.frames++
	a.mu.Unlock()

	return a.backend.Encode(out)
}

// activity tracks idle/active mode from motion and tracked faces.
type activity struct {
	active     bool
	lastActive time.Time
}

// update returns the new mode and whether it changed.
func (s *activity) update(now time.Time, busy bool) (bool, bool) {
	if busy {
		s.lastActive = now
		if !s.active {
			s.active = true
			return true, true
		}
		return true, false
	}
	if s.active && now.Sub(s.lastActive) > IdleTimeout {
		s.active = false
		return false, true
	}
	return s.active, false
}

// runPipeline is the main loop. It paces reads to the source FPS and, in
// adaptive mode, switches between idle and active rates:
//  1. start idle (IdleFPS)
//  2. on motion or a tracked face, switch to ActiveFPS
//  3. after IdleTimeout of stillness with no face, switch back
func (a *App) runPipeline(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	src := a.config.Source
	state := activity{lastActive: time.Now()}

	interval := time.Second / time.Duration(max(src.FPS(), 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, io.EOF) {
			a.logger.Info("end of stream", "frames", a.Frames())
			return
		}
		if err != nil {
			a.logger.Warn("error reading frame", "error", err)
			continue
		}

		if !a.IsEnabled() {
			frame.Close()
			continue
		}

		now := time.Now()
		if a.config.Adaptive {
			motion := a.motion.Detect(frame)
			busy := motion.Detected || !a.LastScene().Empty()
			if active, changed := state.update(now, busy); changed {
				fps := IdleFPS
				if active {
					fps = ActiveFPS
				}
				src.SetFPS(fps)
				ticker.Reset(time.Second / time.Duration(fps))
				a.logger.Info("capture rate changed", "active", active, "fps", fps, "motion", motion.Percent)
			}
		}

		jpeg, err := a.ProcessFrame(frame, now)
		frame.Close()
		if err != nil {
			a.logger.Warn("error processing frame", "error", err)
			continue
		}
		if a.config.Output != nil {
			a.config.Output(jpeg)
		}
	}
}
