// Command face-log is a face finder plugin that appends a line per scene
// to a JSON Lines file.
//
// Build it next to its manifest:
//
//	go build -o plugins/face-log/face-log ./plugins/face-log
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Request mirrors the executor's request; only the fields used here are
// decoded.
type Request struct {
	Event string `json:"event"`
	Scene *struct {
		ID        string    `json:"id"`
		Timestamp time.Time `json:"timestamp"`
		Faces     []struct {
			Distance float64 `json:"distance"`
		} `json:"faces"`
		Regressed bool `json:"regressed"`
	} `json:"scene"`
	Config json.RawMessage `json:"config"`
}

// Response is written to stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type config struct {
	Path string `json:"path"`
}

type line struct {
	Event     string    `json:"event"`
	Scene     string    `json:"scene"`
	Timestamp time.Time `json:"ts"`
	Faces     int       `json:"faces"`
	Nearest   float64   `json:"nearest,omitempty"`
	Regressed bool      `json:"regressed"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		respond(fmt.Errorf("failed to decode request: %w", err))
		return
	}
	respond(appendLine(req))
}

func appendLine(req Request) error {
	if req.Scene == nil {
		return fmt.Errorf("request has no scene")
	}

	cfg := config{Path: "faces.jsonl"}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}

	l := line{
		Event:     req.Event,
		Scene:     req.Scene.ID,
		Timestamp: req.Scene.Timestamp,
		Faces:     len(req.Scene.Faces),
		Regressed: req.Scene.Regressed,
	}
	for i, f := range req.Scene.Faces {
		if i == 0 || f.Distance < l.Nearest {
			l.Nearest = f.Distance
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(l)
}

func respond(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
