package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/vision"
)

// writePlugin creates a plugin directory with a shell script executable
// and returns the Plugin as Discover would load it.
func writePlugin(t *testing.T, root, name, script string, events ...string) *Plugin {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	manifest := Manifest{
		Name:       name,
		Version:    "1.0.0",
		Executable: name + ".sh",
		Events:     events,
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plugin.json"), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	exe := filepath.Join(dir, manifest.Executable)
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return &Plugin{Manifest: manifest, Path: dir, Executable: exe}
}

func testScene(faces int) *facefinder.Scene {
	s := &facefinder.Scene{ID: uuid.New(), Timestamp: time.Unix(1000, 0)}
	for i := 0; i < faces; i++ {
		x := float64(100 * i)
		s.Faces = append(s.Faces, facefinder.Face{Region: vision.Rect{X1: x, Y1: 0, X2: x + 50, Y2: 50}, Distance: 0.5})
	}
	return s
}

func TestExecutor_Execute(t *testing.T) {
	plugin := writePlugin(t, t.TempDir(), "hello",
		`echo '{"success":true,"data":{"message":"hello world"}}'`+"\n", EventScene)

	response, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, &Request{Event: EventScene, Scene: testScene(1)})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !response.Success || response.Error != "" {
		t.Errorf("response = %+v, want success", response)
	}

	var data map[string]interface{}
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}
	if data["message"] != "hello world" {
		t.Errorf("expected message 'hello world', got %v", data["message"])
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	plugin := writePlugin(t, t.TempDir(), "echo",
		"INPUT=$(cat)\necho \"{\\\"success\\\":true,\\\"data\\\":$INPUT}\"\n", EventFull)

	scene := testScene(2)
	req := &Request{Event: EventFull, Scene: scene, Config: json.RawMessage(`{"path":"faces.log"}`)}
	response, err := NewExecutor(5*time.Second).Execute(context.Background(), plugin, req)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var received Request
	if err := json.Unmarshal(response.Data, &received); err != nil {
		t.Fatalf("failed to unmarshal echoed request: %v", err)
	}
	if received.Event != EventFull {
		t.Errorf("event = %q, want %q", received.Event, EventFull)
	}
	if received.Scene == nil || received.Scene.ID != scene.ID || len(received.Scene.Faces) != 2 {
		t.Errorf("scene = %+v", received.Scene)
	}
	if string(received.Config) != `{"path":"faces.log"}` {
		t.Errorf("config = %s", received.Config)
	}
}

func TestExecutor_Errors(t *testing.T) {
	tests := []struct {
		name        string
		script      string
		timeout     time.Duration
		wantErr     bool
		wantTimeout bool
		wantMsg     string
	}{
		{"timeout", "sleep 10\necho '{\"success\":true}'\n", 100 * time.Millisecond, true, true, ""},
		{"error response", "echo '{\"success\":false,\"error\":\"something went wrong\"}'\n", 5 * time.Second, false, false, "something went wrong"},
		{"invalid json", "echo 'not valid json'\n", 5 * time.Second, true, false, ""},
		{"non-zero exit", "echo 'Error: something failed' >&2\nexit 1\n", 5 * time.Second, true, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plugin := writePlugin(t, t.TempDir(), "p", tt.script, EventScene)
			resp, err := NewExecutor(tt.timeout).Execute(context.Background(), plugin, &Request{Event: EventScene})

			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Execute() error = %v", err)
				}
				if resp.Success || resp.Error != tt.wantMsg {
					t.Errorf("response = %+v, want error %q", resp, tt.wantMsg)
				}
				return
			}
			if err == nil {
				t.Fatal("Execute() returned no error")
			}
			if tt.wantTimeout && !errors.Is(err, ErrTimeout) {
				t.Errorf("error = %v, want ErrTimeout", err)
			}
		})
	}
}

func TestExecutor_Cancelled(t *testing.T) {
	plugin := writePlugin(t, t.TempDir(), "slow", "sleep 10\n", EventScene)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if _, err := NewExecutor(5*time.Second).Execute(ctx, plugin, &Request{}); err == nil {
		t.Fatal("Execute() on a cancelled context returned no error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancelled execution was not killed")
	}
}
