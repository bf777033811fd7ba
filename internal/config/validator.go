package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration and fills defaults for values that
// were explicitly zeroed.
func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	case "":
		cfg.Log.Level = "info"
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	case "":
		cfg.Log.Format = "text"
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}

	// Finder settings are checked by facefinder.Settings.Validate once a
	// backend exists; only the params can be checked here.
	if err := cfg.Finder.Params.Validate(); err != nil {
		return fmt.Errorf("finder.params: %w", err)
	}

	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.FPS <= 0 {
		cfg.Camera.FPS = 30
	}
	if cfg.Camera.Fx < 0 {
		return fmt.Errorf("camera.fx must not be negative")
	}
	if cfg.Camera.Fx == 0 && (cfg.Camera.HFOV <= 0 || cfg.Camera.HFOV >= 180) {
		return fmt.Errorf("camera.hfov must be in (0,180) when camera.fx is unset, got %v", cfg.Camera.HFOV)
	}

	if cfg.Models.Cascade == "" {
		return fmt.Errorf("models.cascade is required")
	}
	if cfg.Models.Window <= 0 {
		cfg.Models.Window = 64
	}
	if cfg.Models.ShiftFactor <= 0 {
		cfg.Models.ShiftFactor = 0.1
	}
	if cfg.Finder.Params.DoLandmarks && cfg.Models.Landmarks == "" && len(cfg.Models.LandmarkCommand) == 0 {
		return fmt.Errorf("finder.params.do_landmarks needs models.landmarks or models.landmark_command")
	}
	if cfg.Finder.Params.DoIris && cfg.Models.Puploc == "" {
		return fmt.Errorf("finder.params.do_iris needs models.puploc")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}

	if cfg.MQTT.Broker != "" {
		if !strings.Contains(cfg.MQTT.Broker, "://") {
			cfg.MQTT.Broker = "tcp://" + cfg.MQTT.Broker
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "facefinder"
		}
		if cfg.MQTT.Prefix == "" {
			cfg.MQTT.Prefix = "facefinder"
		}
		if cfg.MQTT.SceneQoS > 2 || cfg.MQTT.FullQoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2")
		}
	}

	if cfg.Plugins.Dir != "" {
		if cfg.Plugins.Timeout <= 0 {
			return fmt.Errorf("plugins.timeout must be positive")
		}
		if cfg.Plugins.MaxInFlight <= 0 {
			cfg.Plugins.MaxInFlight = 4
		}
	}

	return nil
}
