// Package server provides the HTTP server for the face finder: health,
// the painted MJPEG stream, live scenes over WebSocket, runtime settings,
// timings and recorded sessions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/facefinder/internal/server/api"
	"github.com/ayusman/facefinder/internal/store"
)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Stream    *StreamHandler
	Scenes    *SceneHub

	// Tunables backs /api/settings, usually the face finder.
	Tunables api.Tunables

	// Timer backs /api/timing, usually the face finder's TimerInfo.
	Timer api.Timer
}

// Server represents the HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Tunables != nil {
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.Tunables, s.config.Store))
	}
	if s.config.Timer != nil || s.config.Store != nil {
		s.mux.Handle("/api/timing", api.NewTimingHandler(s.config.Timer, s.config.Store))
	}

	if s.config.Store != nil {
		sessions := api.NewSessionsHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.Stream != nil {
		s.mux.Handle("/api/stream", s.config.Stream)
	}
	if s.config.Scenes != nil {
		s.mux.Handle("/api/scenes", s.config.Scenes)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Scenes != nil {
		response["scene_clients"] = s.config.Scenes.Clients()
	}
	if s.config.Stream != nil {
		response["stream_clients"] = s.config.Stream.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address. It returns
// nil after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a server started with ListenAndServe. Open
// streams are closed first so it does not wait on them.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.Stream != nil {
		s.config.Stream.Close()
	}
	if s.config.Scenes != nil {
		s.config.Scenes.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
