package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/store"
)

func TestServer_Health(t *testing.T) {
	s := New(Config{Stream: NewStreamHandler(), Scenes: NewSceneHub()})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}
		for _, key := range []string{"uptime", "scene_clients", "stream_clients"} {
			if _, exists := response[key]; !exists {
				t.Errorf("expected %q field in response", key)
			}
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/nonexistent", "/api/settings", "/api/sessions", "/api/stream", "/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()
	testContent := "<html><body>faces</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != testContent {
		t.Errorf("GET / = %d %q", rec.Code, rec.Body.String())
	}
}

// fakeFinder implements api.Tunables and api.Timer.
type fakeFinder struct {
	mu     sync.Mutex
	params facefinder.Params
}

func (f *fakeFinder) Params() facefinder.Params {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params
}

func (f *fakeFinder) UpdateParams(fn func(p *facefinder.Params)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.params
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	f.params = next
	return nil
}

func (f *fakeFinder) Snapshot() map[string]time.Duration {
	return map[string]time.Duration{"detection": 3 * time.Millisecond}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServer_Settings(t *testing.T) {
	finder := &fakeFinder{params: facefinder.DefaultParams()}
	st := newTestStore(t)
	s := New(Config{Tunables: finder, Timer: finder, Store: st})

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var got facefinder.Params
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode GET /api/settings: %v", err)
	}
	if got != facefinder.DefaultParams() {
		t.Errorf("GET /api/settings = %+v", got)
	}

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"partial update", `{"do_iris": true, "blob_policy": "union"}`, http.StatusOK},
		{"invalid json", `{`, http.StatusBadRequest},
		{"invalid params", `{"max_distance": -1}`, http.StatusBadRequest},
		{"unknown policy", `{"blob_policy": "merge"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("PUT status = %d, want %d (%s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}

	p := finder.Params()
	if !p.DoIris || p.BlobPolicy != facefinder.BlobUnion || p.MaxDistance != 1 {
		t.Errorf("params after updates = %+v", p)
	}
	saved, err := st.Settings().LoadParams(facefinder.DefaultParams())
	if err != nil || saved != p {
		t.Errorf("persisted params = %+v, %v", saved, err)
	}
}

func TestServer_Timing(t *testing.T) {
	finder := &fakeFinder{}
	st := newTestStore(t)
	sess := &store.Session{Source: "test"}
	st.Sessions().Create(sess)
	st.Timings().Insert(sess.ID, "acf", 2*time.Millisecond, time.Now())

	s := New(Config{Timer: finder, Store: st})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/timing", nil))
	var live struct {
		Phases map[string]float64 `json:"phases_ms"`
	}
	json.NewDecoder(rec.Body).Decode(&live)
	if live.Phases["detection"] != 3 {
		t.Errorf("live timing = %v, want detection 3ms", live.Phases)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/timing?session="+sess.ID, nil))
	var stored struct {
		Phases []struct {
			Phase  string  `json:"phase"`
			MeanMs float64 `json:"mean_ms"`
		} `json:"phases"`
	}
	json.NewDecoder(rec.Body).Decode(&stored)
	if len(stored.Phases) != 1 || stored.Phases[0].Phase != "acf" || stored.Phases[0].MeanMs != 2 {
		t.Errorf("stored timing = %+v", stored)
	}
}

func TestServer_SessionWorkflow(t *testing.T) {
	st := newTestStore(t)
	rec, err := store.NewRecorder(st, "replay:clip.mp4", nil)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}
	now := time.Now()
	rec.OnScene(&facefinder.Scene{ID: uuid.New(), Timestamp: now}, now, false)
	rec.Close()

	srv := New(Config{Store: st})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	// 1. List sessions
	resp, err := client.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET /api/sessions error = %v", err)
	}
	var listed struct {
		Sessions []struct {
			ID     string `json:"id"`
			Scenes int    `json:"scenes"`
		} `json:"sessions"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()
	if len(listed.Sessions) != 1 || listed.Sessions[0].Scenes != 1 {
		t.Fatalf("sessions = %+v", listed.Sessions)
	}
	id := listed.Sessions[0].ID

	// 2. Scenes of the session
	resp, _ = client.Get(ts.URL + "/api/sessions/" + id + "/scenes?limit=10")
	var scenes struct {
		Scenes []facefinder.Scene `json:"scenes"`
	}
	json.NewDecoder(resp.Body).Decode(&scenes)
	resp.Body.Close()
	if len(scenes.Scenes) != 1 {
		t.Errorf("scenes = %d, want 1", len(scenes.Scenes))
	}

	// 3. Delete
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	resp, _ = client.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	// 4. Verify deleted
	resp, _ = client.Get(ts.URL + "/api/sessions/" + id)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestStreamHandler(t *testing.T) {
	stream := NewStreamHandler()
	ts := httptest.NewServer(New(Config{Stream: stream}))
	defer ts.Close()

	// A client connecting after a publish receives the latest frame first.
	frame := []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}
	stream.Publish([]byte{0xFF, 0xD8, 0xFF, 0xD9})
	stream.Publish(frame)

	resp, err := ts.Client().Get(ts.URL + "/api/stream")
	if err != nil {
		t.Fatalf("GET /api/stream error = %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	if line, _ := r.ReadString('\n'); line != "--frame\r\n" {
		t.Fatalf("boundary line = %q", line)
	}
	r.ReadString('\n') // Content-Type
	r.ReadString('\n') // Content-Length
	r.ReadString('\n') // blank
	body := make([]byte, len(frame))
	if _, err := io.ReadFull(r, body); err != nil || !bytes.Equal(body, frame) {
		t.Errorf("frame body = %v, %v", body, err)
	}

	if stream.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", stream.Clients())
	}
	stream.Close()
}

func TestSceneHub(t *testing.T) {
	hub := NewSceneHub()
	ts := httptest.NewServer(New(Config{Scenes: hub}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/scenes"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	now := time.Now()
	scene := &facefinder.Scene{ID: uuid.New(), Timestamp: now, Regressed: true}
	hub.OnScene(scene, now, false)
	hub.OnScene(scene, now, false) // repeat of the displayed scene is skipped
	hub.OnScene(scene, now, true)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var kinds []string
	for i := 0; i < 2; i++ {
		var msg struct {
			Kind  string           `json:"kind"`
			Scene facefinder.Scene `json:"scene"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		if msg.Scene.ID != scene.ID {
			t.Errorf("message scene id = %v, want %v", msg.Scene.ID, scene.ID)
		}
		kinds = append(kinds, msg.Kind)
	}
	if kinds[0] != "scene" || kinds[1] != "full" {
		t.Errorf("message kinds = %v, want [scene full]", kinds)
	}

	hub.Close()
	if hub.Clients() != 0 {
		t.Errorf("Clients() after Close = %d", hub.Clients())
	}
}
