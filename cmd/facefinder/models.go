package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ayusman/facefinder/internal/acf"
	"github.com/ayusman/facefinder/internal/config"
	"github.com/ayusman/facefinder/internal/detector"
	"github.com/ayusman/facefinder/internal/facefinder"
)

// loadedModels are the finder models plus whatever must be closed after
// the finder stops.
type loadedModels struct {
	facefinder.Models
	closers []io.Closer
	onnx    bool
}

func (m *loadedModels) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	if m.onnx {
		errs = append(errs, detector.ShutdownRuntime())
	}
	return errors.Join(errs...)
}

// loadModels builds the models the configured params need. Optional models
// that are configured but missing on disk are skipped with a warning.
func loadModels(c *config.Config) (*loadedModels, error) {
	m := &loadedModels{}
	params := c.Finder.Params

	faces, err := detector.NewFaceDetector(c.DetectorConfig())
	if err != nil {
		return nil, err
	}
	m.Detector = faces

	sens, err := c.Sensor()
	if err != nil {
		return nil, fmt.Errorf("sensor: %w", err)
	}
	m.Sensor = sens
	m.Channels = acf.NewSource(c.Finder.ACFShrink)

	if c.Models.Puploc != "" {
		eyes, err := detector.NewPupilLocator(c.DetectorConfig())
		switch {
		case err == nil:
			m.Eyes = eyes
		case params.DoIris:
			return nil, err
		default:
			logger.Warn("pupil locator unavailable", "path", c.Models.Puploc, "error", err)
		}
	}

	switch {
	case len(c.Models.LandmarkCommand) > 0:
		reg, err := detector.NewProcessRegressor(c.Models.LandmarkCommand...)
		if err != nil {
			return nil, err
		}
		m.Regressor = reg
		m.closers = append(m.closers, reg)
	case c.Models.Landmarks != "":
		if _, err := os.Stat(c.Models.Landmarks); err != nil && !params.DoLandmarks {
			logger.Warn("landmark model unavailable", "path", c.Models.Landmarks)
			break
		}
		if err := detector.InitializeRuntime(c.Models.OnnxLibrary); err != nil {
			return nil, err
		}
		m.onnx = true
		reg, err := detector.NewLandmarkRegressor(c.Models.Landmarks)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Regressor = reg
		m.closers = append(m.closers, reg)
	}

	return m, nil
}
