package facefinder

import (
	"sync"
	"time"
)

// gate decides when a new detection cycle is due. Querying never changes
// state; markDispatched records a dispatch.
type gate struct {
	mu         sync.Mutex
	last       time.Time
	dispatched bool
}

// needsDetection is true iff interval has elapsed since the last dispatch
// and no cycle is in flight. The first query is always due.
func (g *gate) needsDetection(now time.Time, interval time.Duration, inFlight bool) bool {
	if inFlight {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dispatched {
		return true
	}
	return now.Sub(g.last) >= interval
}

func (g *gate) markDispatched(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.last = now
	g.dispatched = true
}

func (g *gate) lastDispatch() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.dispatched
}
