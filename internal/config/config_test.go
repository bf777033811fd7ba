package config

import (
	"errors"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/facefinder/internal/facefinder"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facefinder.yaml")
	data := `
log:
  level: debug
  format: json
finder:
  workers: 2
  orientation: 90
  eye_width: 96
  eye_height: 48
  params:
    interval: 250ms
    max_distance: 2.5
    do_iris: true
    blob_policy: union
camera:
  device: 1
  width: 1280
  height: 720
  fx: 900
models:
  cascade: /opt/models/facefinder
  landmark_command: [python3, landmarks.py]
mqtt:
  broker: localhost:1883
plugins:
  dir: ./plugins
  config:
    face-log:
      path: /tmp/faces.jsonl
tray: true
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	p := cfg.Finder.Params
	if p.Interval != 250*time.Millisecond || p.MaxDistance != 2.5 || !p.DoIris || p.BlobPolicy != facefinder.BlobUnion {
		t.Errorf("params = %+v", p)
	}
	// Keys absent from the file keep their defaults.
	if !p.DoLandmarks || p.NMSThreshold != facefinder.DefaultParams().NMSThreshold {
		t.Errorf("defaults lost: %+v", p)
	}
	if cfg.Camera.FPS != 30 || cfg.Server.Addr != ":8080" {
		t.Errorf("camera fps = %v, server addr = %q", cfg.Camera.FPS, cfg.Server.Addr)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" || cfg.MQTT.ClientID != "facefinder" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if !cfg.Tray || cfg.Plugins.MaxInFlight != 4 {
		t.Errorf("tray = %v, max in flight = %d", cfg.Tray, cfg.Plugins.MaxInFlight)
	}

	s := cfg.FinderSettings()
	if s.Workers != 2 || s.Orientation != 90 || s.EyeSize != image.Pt(96, 48) || s.Params != p {
		t.Errorf("FinderSettings() = %+v", s)
	}

	sens, err := cfg.Sensor()
	if err != nil {
		t.Fatalf("Sensor() error = %v", err)
	}
	if sens.FocalLength() != 900 || sens.Size != image.Pt(1280, 720) {
		t.Errorf("sensor = %+v", sens)
	}

	det := cfg.DetectorConfig()
	if det.CascadePath != "/opt/models/facefinder" || det.Window != 64 {
		t.Errorf("DetectorConfig() = %+v", det)
	}

	configs, err := cfg.PluginConfigs()
	if err != nil {
		t.Fatalf("PluginConfigs() error = %v", err)
	}
	if got := string(configs["face-log"]); got != `{"path":"/tmp/faces.jsonl"}` {
		t.Errorf("face-log config = %s", got)
	}

	if cfg.Logger() == nil {
		t.Error("Logger() returned nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of a missing file returned no error")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	if cfg.Finder.Params != facefinder.DefaultParams() {
		t.Errorf("default params = %+v", cfg.Finder.Params)
	}

	// The default camera derives fx from a 60 degree field of view.
	sens, err := cfg.Sensor()
	if err != nil {
		t.Fatalf("Sensor() error = %v", err)
	}
	want := 320 / math.Tan(math.Pi/6)
	if math.Abs(sens.FocalLength()-want) > 1e-9 {
		t.Errorf("fx = %v, want %v", sens.FocalLength(), want)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"bad yaml", "finder: [", "failed to parse"},
		{"log level", "log: {level: loud}", "log.level"},
		{"log format", "log: {format: xml}", "log.format"},
		{"params", "finder: {params: {max_distance: -1}}", "finder.params"},
		{"zero interval", "finder: {params: {interval: 0s}}", "finder.params"},
		{"blob policy", "finder: {params: {blob_policy: merge}}", "failed to parse"},
		{"camera size", "camera: {width: 0}", "camera size"},
		{"hfov", "camera: {hfov: 200}", "camera.hfov"},
		{"no cascade", "models: {cascade: ''}", "models.cascade"},
		{"landmarks without model", "models: {landmarks: ''}", "do_landmarks"},
		{"iris without puploc", "finder: {params: {do_iris: true}}\nmodels: {puploc: ''}", "do_iris"},
		{"mqtt qos", "mqtt: {broker: x, full_qos: 3}", "qos"},
		{"plugin timeout", "plugins: {dir: p, timeout: 0s}", "plugins.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() returned no error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestParse_ParamsErrorWrapsErrConfig(t *testing.T) {
	_, err := Parse([]byte("finder: {params: {nms_threshold: 0}}"))
	if !errors.Is(err, facefinder.ErrConfig) {
		t.Errorf("error = %v, want ErrConfig", err)
	}
}
