package facefinder

import "sync"

// stash is the bounded queue of completed scenes waiting to be rendered.
// Pushes arrive from the worker, pops from the render goroutine.
type stash struct {
	mu       sync.Mutex
	capacity int
	items    []*Scene
	// current is the scene most recently handed to the render side.
	current *Scene
	evicted int
}

func newStash(capacity int) *stash {
	return &stash{
		capacity: capacity,
		items:    make([]*Scene, 0, capacity),
	}
}

// push appends a scene, evicting the oldest when full. Scenes older than
// the newest queued or rendered one are dropped so consumers only ever see
// non-decreasing timestamps.
func (s *stash) push(scene *Scene) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.items); n > 0 && scene.Timestamp.Before(s.items[n-1].Timestamp) {
		return false
	}
	if s.current != nil && scene.Timestamp.Before(s.current.Timestamp) {
		return false
	}

	if len(s.items) >= s.capacity {
		copy(s.items, s.items[1:])
		s.items = s.items[:s.capacity-1]
		s.evicted++
	}
	s.items = append(s.items, scene)
	return true
}

// next returns the scene to render for this frame. With no delay the newest
// scene wins and older ones are discarded. With a delay the display texture
// lags capture, so scenes are consumed oldest first, one per frame. When
// nothing new is ready the previous scene is returned again.
func (s *stash) next(delay int) *Scene {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case len(s.items) == 0:
	case delay == 0:
		s.current = s.items[len(s.items)-1]
		s.items = s.items[:0]
	default:
		s.current = s.items[0]
		copy(s.items, s.items[1:])
		s.items = s.items[:len(s.items)-1]
	}
	return s.current
}

func (s *stash) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// snapshot returns the queued scenes oldest first.
func (s *stash) snapshot() []*Scene {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Scene, len(s.items))
	copy(out, s.items)
	return out
}

func (s *stash) evictions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}
