package facefinder

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/facefinder/internal/vision"
)

// Monitor observes scenes. Full notifications come from the worker when a
// cycle with landmark regression completes; lightweight ones come from the
// render goroutine every frame. Implementations must not block.
type Monitor interface {
	OnScene(scene *Scene, ts time.Time, full bool)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(scene *Scene, ts time.Time, full bool)

// OnScene calls f.
func (f MonitorFunc) OnScene(scene *Scene, ts time.Time, full bool) { f(scene, ts, full) }

// CaptureRequester is implemented by monitors that want a face crop
// attached to full scenes for faces at a given position.
type CaptureRequester interface {
	WantsCapture(position vision.Point3, ts time.Time) bool
}

// MonitorID identifies a registration.
type MonitorID = uuid.UUID

// monitors is the listener registry. Notification works on a snapshot of
// ids and re-checks each before calling, so a monitor removed mid
// notification is skipped.
type monitors struct {
	mu    sync.RWMutex
	items map[MonitorID]Monitor
	order []MonitorID
}

func newMonitors() *monitors {
	return &monitors{items: make(map[MonitorID]Monitor)}
}

func (m *monitors) add(mon Monitor) MonitorID {
	id := uuid.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[id] = mon
	m.order = append(m.order, id)
	return id
}

func (m *monitors) remove(id MonitorID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *monitors) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *monitors) snapshot() []MonitorID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]MonitorID, len(m.order))
	copy(ids, m.order)
	return ids
}

func (m *monitors) get(id MonitorID) (Monitor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mon, ok := m.items[id]
	return mon, ok
}

// notify calls every registered monitor in registration order. Callbacks
// run outside the lock.
func (m *monitors) notify(scene *Scene, ts time.Time, full bool) {
	for _, id := range m.snapshot() {
		mon, ok := m.get(id)
		if !ok {
			continue
		}
		mon.OnScene(scene, ts, full)
	}
}

// wantsCapture reports whether any CaptureRequester asks for a face at
// position.
func (m *monitors) wantsCapture(position vision.Point3, ts time.Time) bool {
	for _, id := range m.snapshot() {
		mon, ok := m.get(id)
		if !ok {
			continue
		}
		if req, ok := mon.(CaptureRequester); ok && req.WantsCapture(position, ts) {
			return true
		}
	}
	return false
}
