// Package plugin runs external programs on face finder scenes.
//
// A plugin is a directory holding a plugin.json manifest and an
// executable. The executable receives one Request as JSON on stdin and
// answers with one Response on stdout.
package plugin

import (
	"encoding/json"
	"slices"

	"github.com/ayusman/facefinder/internal/facefinder"
)

// Events a plugin may subscribe to.
const (
	// EventScene fires when the displayed scene changes.
	EventScene = "scene"
	// EventFull fires when landmark regression for a scene completes.
	EventFull = "full"
)

// Manifest describes a plugin's metadata and subscriptions.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Events      []string `json:"events"`

	// MinFaces skips scenes with fewer faces. Zero delivers every scene,
	// including empty ones, so a plugin can observe faces leaving.
	MinFaces int `json:"minFaces,omitempty"`

	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
}

// Handles reports whether the manifest subscribes to event.
func (m *Manifest) Handles(event string) bool {
	return slices.Contains(m.Events, event)
}

// Request is sent to a plugin for one scene.
type Request struct {
	Event  string            `json:"event"`
	Scene  *facefinder.Scene `json:"scene"`
	Config json.RawMessage   `json:"config,omitempty"`
}

// Response is the plugin's answer.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin represents a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
