package facefinder

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handle tracks one in-flight detection cycle.
type Handle struct {
	dispatched time.Time
	done       chan struct{}
	scene      *Scene
	err        error
}

// Dispatched returns the frame timestamp the cycle was started for.
func (h *Handle) Dispatched() time.Time { return h.dispatched }

// Ready reports whether the cycle has completed. It never blocks.
func (h *Handle) Ready() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Scene returns the result if the cycle has completed.
func (h *Handle) Scene() (*Scene, bool) {
	if !h.Ready() {
		return nil, false
	}
	return h.scene, true
}

// Err returns the failure that emptied the scene, if any.
func (h *Handle) Err() error {
	if !h.Ready() {
		return nil
	}
	return h.err
}

// Wait blocks until the cycle completes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Scene, error) {
	select {
	case <-h.done:
		return h.scene, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cycleFunc computes a scene. A returned error or a panic yields an empty
// scene stamped with the dispatch time.
type cycleFunc func() (*Scene, error)

// dispatcher keeps at most one cycle in flight on the pool.
type dispatcher struct {
	pool     Pool
	mu       sync.Mutex
	inflight *Handle
}

func (d *dispatcher) busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight != nil
}

func (d *dispatcher) current() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight
}

// dispatch submits fn without blocking. complete runs on the worker with the
// final scene before the handle is released and marked ready.
//
// The handle is published before Submit and the lock is not held across
// it, so a pool may also run the task before Submit returns.
func (d *dispatcher) dispatch(ts time.Time, fn cycleFunc, complete func(*Scene, error)) (*Handle, error) {
	h := &Handle{dispatched: ts, done: make(chan struct{})}

	d.mu.Lock()
	if d.inflight != nil {
		d.mu.Unlock()
		return nil, ErrBusy
	}
	d.inflight = h
	d.mu.Unlock()

	err := d.pool.Submit(func() {
		scene, err := runCycle(ts, fn)
		h.scene, h.err = scene, err
		if complete != nil {
			complete(scene, err)
		}
		d.release(h)
		close(h.done)
	})
	if err != nil {
		d.release(h)
		return nil, err
	}
	return h, nil
}

// release clears the in-flight slot if h still holds it.
func (d *dispatcher) release(h *Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight == h {
		d.inflight = nil
	}
}

func runCycle(ts time.Time, fn cycleFunc) (scene *Scene, err error) {
	defer func() {
		if r := recover(); r != nil {
			scene = emptyScene(ts, true)
			err = fmt.Errorf("detection cycle panic: %v", r)
		}
	}()

	scene, err = fn()
	if err != nil || scene == nil {
		return emptyScene(ts, true), err
	}
	return scene, nil
}
