package main

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/facefinder/internal/app"
	"github.com/ayusman/facefinder/internal/capture"
	"github.com/ayusman/facefinder/internal/emitter"
	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/plugin"
	"github.com/ayusman/facefinder/internal/server"
	"github.com/ayusman/facefinder/internal/store"
	"github.com/ayusman/facefinder/internal/tray"
)

var runOpts struct {
	device  int
	addr    string
	noTray  bool
	noStore bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track faces from a camera and serve the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("device") {
			cfg.Camera.Device = runOpts.device
		}
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = runOpts.addr
		}
		if runOpts.noTray {
			cfg.Tray = false
		}
		if runOpts.noStore {
			cfg.Store.Path = ""
		}
		return runCamera(cmd.Context())
	},
}

func init() {
	runCmd.Flags().IntVarP(&runOpts.device, "device", "d", 0, "Camera device index")
	runCmd.Flags().StringVarP(&runOpts.addr, "addr", "a", ":8080", "HTTP listen address")
	runCmd.Flags().BoolVar(&runOpts.noTray, "no-tray", false, "Do not show the system tray menu")
	runCmd.Flags().BoolVar(&runOpts.noStore, "no-store", false, "Do not record sessions")
}

// sinks are the optional scene monitors, closed after the finder stops.
type sinks struct {
	store    *store.Store
	recorder *store.Recorder
	emitter  *emitter.Emitter
	mqtt     *emitter.MQTT
	hooks    *plugin.Hooks
}

// openSinks opens the store, recorder, MQTT emitter and plugin hooks that
// the config enables. settings gains the recorder's phase sinks and any
// persisted params.
func openSinks(source string, settings *facefinder.Settings) (*sinks, error) {
	s := &sinks{}

	if cfg.Store.Path != "" {
		st, err := store.New(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.store = st

		params, err := st.Settings().LoadParams(settings.Params)
		if err != nil {
			logger.Warn("ignoring persisted params", "error", err)
		} else {
			settings.Params = params
		}

		rec, err := store.NewRecorder(st, source, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		s.recorder = rec
		settings.PhaseSinks = rec.PhaseSinks()
	}

	if cfg.MQTT.Broker != "" {
		m, err := emitter.Dial(emitter.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger)
		if err != nil {
			s.close()
			return nil, err
		}
		s.mqtt = m
		s.emitter = emitter.New(m, emitter.Options{
			Prefix:   cfg.MQTT.Prefix,
			SceneQoS: cfg.MQTT.SceneQoS,
			FullQoS:  cfg.MQTT.FullQoS,
			Queue:    cfg.MQTT.Queue,
			Logger:   logger,
		})
	}

	if cfg.Plugins.Dir != "" {
		manager := plugin.NewManager(cfg.Plugins.Dir, logger)
		if err := manager.Discover(); err != nil {
			s.close()
			return nil, fmt.Errorf("discover plugins: %w", err)
		}
		configs, err := cfg.PluginConfigs()
		if err != nil {
			s.close()
			return nil, err
		}
		s.hooks = plugin.NewHooks(manager, plugin.HooksConfig{
			Timeout:     cfg.Plugins.Timeout,
			MaxInFlight: cfg.Plugins.MaxInFlight,
			Configs:     configs,
			Logger:      logger,
		})
	}

	return s, nil
}

// attach registers the open sinks as finder monitors.
func (s *sinks) attach(f *facefinder.FaceFinder) {
	if s.recorder != nil {
		f.AddMonitor(s.recorder)
	}
	if s.emitter != nil {
		f.AddMonitor(s.emitter)
	}
	if s.hooks != nil {
		f.AddMonitor(s.hooks)
	}
}

func (s *sinks) close() {
	if s.hooks != nil {
		s.hooks.Close()
	}
	if s.emitter != nil {
		s.emitter.Close()
		logger.Info("mqtt emitter closed", "stats", s.emitter.Stats())
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			logger.Warn("recorder close failed", "error", err)
		}
		logger.Info("session recorded", "session", s.recorder.SessionID(),
			"scenes", s.recorder.Written(), "dropped", s.recorder.Dropped())
	}
	if s.store != nil {
		s.store.Close()
	}
}

func runCamera(ctx context.Context) error {
	models, err := loadModels(cfg)
	if err != nil {
		return err
	}
	defer models.Close()

	settings := cfg.FinderSettings()
	sk, err := openSinks(fmt.Sprintf("camera:%d", cfg.Camera.Device), &settings)
	if err != nil {
		return err
	}
	defer sk.close()

	stream := server.NewStreamHandler()
	hub := server.NewSceneHub()

	source := capture.NewCamera(cfg.Camera.Device, image.Pt(cfg.Camera.Width, cfg.Camera.Height))
	source.SetFPS(int(cfg.Camera.FPS))

	a, err := app.New(app.Config{
		Logger:          logger,
		Source:          source,
		Models:          models.Models,
		Finder:          settings,
		MotionThreshold: cfg.Camera.MotionThreshold,
		Adaptive:        cfg.Camera.Adaptive,
		Output:          stream.Publish,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	finder := a.Finder()
	finder.AddMonitor(hub)
	sk.attach(finder)

	srv := server.New(server.Config{
		StaticDir: cfg.Server.StaticDir,
		Store:     sk.store,
		Stream:    stream,
		Scenes:    hub,
		Tunables:  finder,
		Timer:     finder.Timer(),
	})
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr)
		srvErr <- srv.ListenAndServe(cfg.Server.Addr)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown failed", "error", err)
		}
	}()

	if err := a.Start(); err != nil {
		return err
	}

	wait := func() error {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case err := <-srvErr:
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		}
	}
	if !cfg.Tray {
		return wait()
	}

	t := tray.New(finder)
	t.OnToggle(a.SetEnabled)
	t.OnSettings(func() {
		logger.Info("settings are served over http", "url", "http://localhost"+cfg.Server.Addr+"/api/settings")
	})
	a.OnSceneChange(t.SetScene)

	result := make(chan error, 1)
	go func() {
		result <- wait()
		t.Quit()
	}()
	// Run blocks until Quit, from the menu or the goroutine above.
	t.Run()
	select {
	case err := <-result:
		return err
	default:
		return nil
	}
}
