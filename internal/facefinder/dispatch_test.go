package facefinder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWorkerPool_Saturation(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	if err := p.Submit(func() { close(started); <-block }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	// One slot in the queue, then saturation.
	if err := p.Submit(func() {}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolSaturated) {
		t.Errorf("Submit() error = %v, want ErrPoolSaturated", err)
	}
	close(block)
}

func TestWorkerPool_CloseDrains(t *testing.T) {
	p := NewWorkerPool(2)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 2; i++ {
		if err := p.Submit(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	p.Close()

	if ran != 2 {
		t.Errorf("ran %d tasks, want 2", ran)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrPoolClosed", err)
	}
}

func TestDispatcher_SingleInFlight(t *testing.T) {
	p := NewWorkerPool(4)
	defer p.Close()
	d := &dispatcher{pool: p}

	release := make(chan struct{})
	ts := time.Unix(1000, 0)

	h, err := d.dispatch(ts, func() (*Scene, error) {
		<-release
		return &Scene{Timestamp: ts}, nil
	}, nil)
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if h.Ready() {
		t.Error("handle ready before the cycle finished")
	}

	if _, err := d.dispatch(ts, func() (*Scene, error) { return nil, nil }, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second dispatch error = %v, want ErrBusy", err)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	scene, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if scene.Failed {
		t.Error("scene marked failed")
	}
	if d.busy() {
		t.Error("dispatcher still busy after completion")
	}
}

func TestDispatcher_FailureYieldsEmptyScene(t *testing.T) {
	p := NewWorkerPool(1)
	defer p.Close()

	tests := []struct {
		name string
		fn   cycleFunc
	}{
		{"error", func() (*Scene, error) { return nil, errors.New("no pyramid") }},
		{"panic", func() (*Scene, error) { panic("boom") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &dispatcher{pool: p}
			ts := time.Unix(2000, 0)

			var completed *Scene
			h, err := d.dispatch(ts, tt.fn, func(s *Scene, err error) {
				completed = s
			})
			if err != nil {
				t.Fatalf("dispatch() error = %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			scene, err := h.Wait(ctx)
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}

			if !scene.Empty() || !scene.Failed {
				t.Errorf("scene = %+v, want empty and failed", scene)
			}
			if !scene.Timestamp.Equal(ts) {
				t.Errorf("timestamp = %v, want %v", scene.Timestamp, ts)
			}
			if h.Err() == nil {
				t.Error("handle error should be set")
			}
			if completed != scene {
				t.Error("completion callback did not receive the scene")
			}
		})
	}
}

func TestHandle_WaitHonorsContext(t *testing.T) {
	h := &Handle{done: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
	if _, ok := h.Scene(); ok {
		t.Error("Scene() reported a result for a pending handle")
	}
}

// inlinePool runs every task on the submitting goroutine.
type inlinePool struct{}

func (inlinePool) Submit(task func()) error {
	task()
	return nil
}

type refusingPool struct{}

func (refusingPool) Submit(func()) error { return ErrPoolSaturated }

func TestDispatcher_InlinePool(t *testing.T) {
	d := &dispatcher{pool: inlinePool{}}
	want := &Scene{Timestamp: time.Unix(3000, 0)}

	done := make(chan *Handle, 1)
	go func() {
		h, err := d.dispatch(want.Timestamp, func() (*Scene, error) { return want, nil }, nil)
		if err != nil {
			t.Errorf("dispatch() error = %v", err)
		}
		done <- h
	}()

	select {
	case h := <-done:
		if h == nil {
			return
		}
		if sc, ok := h.Scene(); !ok || sc != want {
			t.Errorf("Scene() = %v, %v", sc, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch deadlocked on an inline pool")
	}
	if d.busy() {
		t.Error("dispatcher still busy after the inline cycle")
	}
}

func TestDispatcher_SubmitFailureFreesSlot(t *testing.T) {
	d := &dispatcher{pool: refusingPool{}}
	_, err := d.dispatch(time.Unix(3000, 0), func() (*Scene, error) { return nil, nil }, nil)
	if !errors.Is(err, ErrPoolSaturated) {
		t.Fatalf("dispatch() error = %v, want ErrPoolSaturated", err)
	}
	if d.busy() || d.current() != nil {
		t.Error("refused cycle left the dispatcher busy")
	}
}
