// Package tray provides a system tray menu for the face finder: pause,
// per-stage toggles and a live face count.
package tray

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/facefinder/internal/facefinder"
)

// Tunables is the part of the face finder the toggles drive.
type Tunables interface {
	Params() facefinder.Params
	UpdateParams(fn func(p *facefinder.Params)) error
}

// toggle is one checkable stage switch.
type toggle struct {
	title   string
	tooltip string
	get     func(p *facefinder.Params) bool
	set     func(p *facefinder.Params, on bool)
}

var toggles = []toggle{
	{"Landmarks", "Run landmark regression", func(p *facefinder.Params) bool { return p.DoLandmarks },
		func(p *facefinder.Params, on bool) { p.DoLandmarks = on }},
	{"Optical flow", "Track faces and eyes between detections", func(p *facefinder.Params) bool { return p.DoFlow },
		func(p *facefinder.Params, on bool) { p.DoFlow = on }},
	{"Iris", "Locate pupils and irises", func(p *facefinder.Params) bool { return p.DoIris },
		func(p *facefinder.Params, on bool) { p.DoIris = on }},
	{"Blobs", "Add faces from motion blobs", func(p *facefinder.Params) bool { return p.DoBlobs },
		func(p *facefinder.Params, on bool) { p.DoBlobs = on }},
	{"Annotations", "Paint overlays on the output", func(p *facefinder.Params) bool { return p.DoAnnotations },
		func(p *facefinder.Params, on bool) { p.DoAnnotations = on }},
}

// flip inverts toggle i in the finder's params and returns the new state.
func flip(tun Tunables, i int) (bool, error) {
	var on bool
	err := tun.UpdateParams(func(p *facefinder.Params) {
		on = !toggles[i].get(p)
		toggles[i].set(p, on)
	})
	return on, err
}

// facesTitle is the status line for a scene.
func facesTitle(scene *facefinder.Scene) string {
	if scene.Empty() {
		return "Faces: none"
	}
	title := fmt.Sprintf("Faces: %d", len(scene.Faces))
	if f := scene.Largest(); f != nil && f.Distance > 0 {
		title += fmt.Sprintf(" (nearest %.2f m)", f.Distance)
	}
	return title
}

// Tray represents the system tray application.
type Tray struct {
	finder     Tunables
	onToggle   func(enabled bool)
	onSettings func()
	onQuit     func()
	enabled    bool
	mu         sync.RWMutex

	// Menu items stored for later updates
	menuToggle *systray.MenuItem
	menuFaces  *systray.MenuItem
	menuStages []*systray.MenuItem
}

// New creates a Tray driving finder's params, enabled by default.
func New(finder Tunables) *Tray {
	return &Tray{
		finder:  finder,
		enabled: true,
	}
}

// OnToggle sets the callback for pausing and resuming.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSettings sets the callback for the settings menu item.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback for the quit menu item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application. It blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("FaceFinder")
	systray.SetTooltip("FaceFinder face tracking")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem("● Enabled", "Pause or resume face tracking")
	systray.AddSeparator()

	t.menuFaces = systray.AddMenuItem("Faces: none", "Faces in the displayed scene")
	t.menuFaces.Disable()
	systray.AddSeparator()

	params := t.finder.Params()
	t.menuStages = make([]*systray.MenuItem, len(toggles))
	for i, tg := range toggles {
		t.menuStages[i] = systray.AddMenuItemCheckbox(tg.title, tg.tooltip, tg.get(&params))
	}
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	menuQuit := systray.AddMenuItem("Quit", "Quit FaceFinder")
	t.mu.Unlock()

	for i, item := range t.menuStages {
		go func() {
			for range item.ClickedCh {
				t.handleStage(i)
			}
		}()
	}

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled
	if enabled {
		t.menuToggle.SetTitle("● Enabled")
	} else {
		t.menuToggle.SetTitle("○ Paused")
	}
	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

func (t *Tray) handleStage(i int) {
	on, err := flip(t.finder, i)
	if err != nil {
		slog.Warn("tray toggle rejected", "stage", toggles[i].title, "error", err)
		return
	}
	if on {
		t.menuStages[i].Check()
	} else {
		t.menuStages[i].Uncheck()
	}
	slog.Info("stage toggled", "stage", toggles[i].title, "enabled", on)
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

// SetScene updates the face count line. It is safe to call before the
// menu exists and from any goroutine.
func (t *Tray) SetScene(scene *facefinder.Scene) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuFaces != nil {
		t.menuFaces.SetTitle(facesTitle(scene))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}
