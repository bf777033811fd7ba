package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newHooks(t *testing.T, root string, cfg HooksConfig) *Hooks {
	t.Helper()
	manager := NewManager(root, nil)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	h := NewHooks(manager, cfg)
	t.Cleanup(h.Close)
	return h
}

// appendScript appends the event of each request to out.
func appendScript(out string) string {
	return `INPUT=$(cat)
case "$INPUT" in
  *'"event":"full"'*) echo full >> ` + out + ` ;;
  *) echo scene >> ` + out + ` ;;
esac
echo '{"success":true}'
`
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Fields(string(data))
}

func TestHooks_RoutesEvents(t *testing.T) {
	root := t.TempDir()
	sceneOut := filepath.Join(root, "scene.out")
	fullOut := filepath.Join(root, "full.out")
	writePlugin(t, root, "on-scene", appendScript(sceneOut), EventScene)
	writePlugin(t, root, "on-full", appendScript(fullOut), EventFull)

	h := newHooks(t, root, HooksConfig{MaxInFlight: 8})

	scene := testScene(1)
	now := time.Now()
	h.OnScene(scene, now, false)
	h.OnScene(scene, now, false) // same scene displayed again
	h.Wait()
	h.OnScene(scene, now, true)
	h.Wait()

	if got := readLines(t, sceneOut); len(got) != 1 || got[0] != "scene" {
		t.Errorf("scene plugin saw %v, want [scene]", got)
	}
	if got := readLines(t, fullOut); len(got) != 1 || got[0] != "full" {
		t.Errorf("full plugin saw %v, want [full]", got)
	}
	if s := h.Stats(); s.Ran != 2 || s.Failed != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHooks_MinFaces(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	p := writePlugin(t, root, "crowd", appendScript(out), EventFull)

	p.Manifest.MinFaces = 2
	data, _ := json.Marshal(p.Manifest)
	if err := os.WriteFile(filepath.Join(p.Path, "plugin.json"), data, 0644); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}

	h := newHooks(t, root, HooksConfig{})
	h.OnScene(testScene(1), time.Now(), true)
	h.OnScene(testScene(2), time.Now(), true)
	h.Wait()

	if got := readLines(t, out); len(got) != 1 {
		t.Errorf("plugin ran %d times, want 1", len(got))
	}
}

func TestHooks_BoundedInFlight(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "slow", "sleep 1\necho '{\"success\":true}'\n", EventFull)

	h := newHooks(t, root, HooksConfig{MaxInFlight: 1})
	for i := 0; i < 4; i++ {
		h.OnScene(testScene(1), time.Now(), true)
	}
	h.Wait()

	s := h.Stats()
	if s.Ran != 1 || s.Dropped != 3 {
		t.Errorf("stats = %+v, want 1 ran and 3 dropped", s)
	}
}

func TestHooks_FailuresCounted(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "broken", "echo '{\"success\":false,\"error\":\"nope\"}'\n", EventFull)
	writePlugin(t, root, "crash", "exit 3\n", EventFull)

	h := newHooks(t, root, HooksConfig{})
	h.OnScene(testScene(1), time.Now(), true)
	h.Wait()

	if s := h.Stats(); s.Failed != 2 || s.Ran != 0 {
		t.Errorf("stats = %+v, want 2 failed", s)
	}
}

func TestHooks_CloseKillsRunning(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "hang", "sleep 30\n", EventFull)

	manager := NewManager(root, nil)
	if err := manager.Discover(); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	h := NewHooks(manager, HooksConfig{Timeout: time.Minute})
	h.OnScene(testScene(1), time.Now(), true)

	start := time.Now()
	h.Close()
	if time.Since(start) > 5*time.Second {
		t.Error("Close() waited for the plugin to finish")
	}
	h.OnScene(testScene(1), time.Now(), true)
	if s := h.Stats(); s.Ran != 0 {
		t.Errorf("stats after close = %+v", s)
	}
}
