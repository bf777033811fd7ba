// Package config loads the facefinder YAML configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/facefinder/internal/detector"
	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/sensor"
)

// Config is the complete configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Finder  FinderConfig  `yaml:"finder"`
	Camera  CameraConfig  `yaml:"camera"`
	Models  ModelsConfig  `yaml:"models"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Plugins PluginsConfig `yaml:"plugins"`
	Tray    bool          `yaml:"tray"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// FinderConfig holds the face finder construction settings and the
// initial runtime params.
type FinderConfig struct {
	Workers         int     `yaml:"workers"`
	Orientation     int     `yaml:"orientation"`
	FrameDelay      int     `yaml:"frame_delay"`
	StashDepth      int     `yaml:"stash_depth"`
	FaceWidth       float64 `yaml:"face_width"`
	ACFShrink       int     `yaml:"acf_shrink"`
	ScalesPerOctave int     `yaml:"scales_per_octave"`
	EyeWidth        int     `yaml:"eye_width"`
	EyeHeight       int     `yaml:"eye_height"`
	BlobThreshold   float64 `yaml:"blob_threshold"`
	GazeHistory     int     `yaml:"gaze_history"`
	GazeSmoothing   float64 `yaml:"gaze_smoothing"`

	Params facefinder.Params `yaml:"params"`
}

// CameraConfig describes the capture device and its optics.
type CameraConfig struct {
	Device int     `yaml:"device"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FPS    float64 `yaml:"fps"`

	// Fx is the focal length in pixels. When zero it is derived from HFOV.
	Fx   float64 `yaml:"fx"`
	HFOV float64 `yaml:"hfov"`

	// Adaptive switches between idle and active frame rates on motion.
	Adaptive        bool    `yaml:"adaptive"`
	MotionThreshold float64 `yaml:"motion_threshold"`
}

// ModelsConfig locates the detector and regressor models.
type ModelsConfig struct {
	Cascade string `yaml:"cascade"`
	Puploc  string `yaml:"puploc"`

	// Landmarks is an ONNX landmark model. LandmarkCommand runs an external
	// landmark service instead when set.
	Landmarks       string   `yaml:"landmarks"`
	OnnxLibrary     string   `yaml:"onnx_library"`
	LandmarkCommand []string `yaml:"landmark_command"`

	Window      int     `yaml:"window"`
	MinQuality  float64 `yaml:"min_quality"`
	ShiftFactor float64 `yaml:"shift_factor"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// StoreConfig configures the SQLite recorder. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig configures the scene publisher. An empty broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
	SceneQoS byte   `yaml:"scene_qos"`
	FullQoS  byte   `yaml:"full_qos"`
	Queue    int    `yaml:"queue"`
}

// PluginsConfig configures plugin hooks. An empty dir disables them.
type PluginsConfig struct {
	Dir         string                    `yaml:"dir"`
	Timeout     time.Duration             `yaml:"timeout"`
	MaxInFlight int                       `yaml:"max_in_flight"`
	Config      map[string]map[string]any `yaml:"config"`
}

// Default returns the configuration used for absent keys.
func Default() *Config {
	s := facefinder.DefaultSettings()
	d := detector.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Finder: FinderConfig{
			Workers:         s.Workers,
			FrameDelay:      s.FrameDelay,
			StashDepth:      s.StashDepth,
			FaceWidth:       s.FaceWidthMeters,
			ACFShrink:       s.ACFShrink,
			ScalesPerOctave: s.ScalesPerOctave,
			EyeWidth:        s.EyeSize.X,
			EyeHeight:       s.EyeSize.Y,
			BlobThreshold:   s.BlobThreshold,
			GazeHistory:     s.GazeHistory,
			GazeSmoothing:   s.GazeSmoothing,
			Params:          s.Params,
		},
		Camera: CameraConfig{Width: 640, Height: 480, FPS: 30, HFOV: 60, MotionThreshold: 1.0},
		Models: ModelsConfig{
			Cascade:     d.CascadePath,
			Landmarks:   "models/2d106det.onnx",
			Puploc:      d.PuplocPath,
			Window:      d.Window,
			MinQuality:  d.MinQuality,
			ShiftFactor: d.ShiftFactor,
		},
		Server: ServerConfig{Addr: ":8080"},
		MQTT:   MQTTConfig{Prefix: "facefinder", FullQoS: 1},
		Plugins: PluginsConfig{
			Timeout:     5 * time.Second,
			MaxInFlight: 4,
		},
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// FinderSettings converts the finder section. Backend, Logger and the
// sinks are left for the caller.
func (c *Config) FinderSettings() facefinder.Settings {
	f := c.Finder
	s := facefinder.DefaultSettings()
	s.Workers = f.Workers
	s.Orientation = f.Orientation
	s.FrameDelay = f.FrameDelay
	s.StashDepth = f.StashDepth
	s.FaceWidthMeters = f.FaceWidth
	s.ACFShrink = f.ACFShrink
	s.ScalesPerOctave = f.ScalesPerOctave
	s.EyeSize = image.Pt(f.EyeWidth, f.EyeHeight)
	s.BlobThreshold = f.BlobThreshold
	s.GazeHistory = f.GazeHistory
	s.GazeSmoothing = f.GazeSmoothing
	s.Params = f.Params
	return s
}

// Sensor returns the camera model for the configured resolution.
func (c *Config) Sensor() (*sensor.Pinhole, error) {
	size := image.Pt(c.Camera.Width, c.Camera.Height)
	if c.Camera.Fx > 0 {
		return &sensor.Pinhole{Size: size, Fx: c.Camera.Fx, FaceWidth: c.Finder.FaceWidth}, nil
	}
	p, err := sensor.FromFOV(size, c.Camera.HFOV)
	if err != nil {
		return nil, err
	}
	p.FaceWidth = c.Finder.FaceWidth
	return p, nil
}

// DetectorConfig returns the cascade detector settings.
func (c *Config) DetectorConfig() detector.Config {
	d := detector.DefaultConfig()
	d.CascadePath = c.Models.Cascade
	d.PuplocPath = c.Models.Puploc
	d.Window = c.Models.Window
	d.MinQuality = c.Models.MinQuality
	d.ShiftFactor = c.Models.ShiftFactor
	return d
}

// PluginConfigs encodes each plugin's config section as JSON for its
// requests.
func (c *Config) PluginConfigs() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(c.Plugins.Config))
	for name, section := range c.Plugins.Config {
		data, err := json.Marshal(section)
		if err != nil {
			return nil, fmt.Errorf("plugin %s config: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// Logger builds the slog logger for the log section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	level.UnmarshalText([]byte(c.Log.Level))
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
