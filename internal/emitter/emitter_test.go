package emitter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/vision"
)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu    sync.Mutex
	msgs  []published
	err   error
	block chan struct{}
}

func (f *fakePublisher) Publish(topic string, qos byte, payload []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, qos, payload})
	return nil
}

func (f *fakePublisher) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func testScene() *facefinder.Scene {
	return &facefinder.Scene{
		ID:        uuid.New(),
		Timestamp: time.UnixMilli(1700000000123),
		Faces: []facefinder.Face{
			{Region: vision.Rect{X1: 10, Y1: 20, X2: 60, Y2: 80}, Score: 9, Distance: 0.7},
		},
		Regressed: true,
	}
}

func TestEmitter_Topics(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, Options{Prefix: "lab/cam0", FullQoS: 1})

	scene := testScene()
	now := time.Now()
	e.OnScene(scene, now, false)
	e.OnScene(scene, now, false) // unchanged scene
	e.OnScene(scene, now, true)
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	msgs := pub.messages()
	if len(msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(msgs))
	}
	if msgs[0].topic != "lab/cam0/scene" || msgs[1].topic != "lab/cam0/full" {
		t.Errorf("topics = %q, %q", msgs[0].topic, msgs[1].topic)
	}
	if msgs[1].qos != 1 {
		t.Errorf("full qos = %d, want 1", msgs[1].qos)
	}

	var summary Summary
	if err := msgpack.Unmarshal(msgs[0].payload, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.ID != scene.ID || summary.Faces != 1 || summary.Timestamp != 1700000000123 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Distances) != 1 || summary.Distances[0] != 0.7 {
		t.Errorf("summary distances = %v", summary.Distances)
	}

	var full facefinder.Scene
	if err := msgpack.Unmarshal(msgs[1].payload, &full); err != nil {
		t.Fatalf("decode full scene: %v", err)
	}
	if full.ID != scene.ID || len(full.Faces) != 1 || full.Faces[0].Region != scene.Faces[0].Region {
		t.Errorf("full scene = %+v", full)
	}

	stats := e.Stats()
	if stats.Published["lab/cam0/scene"] != 1 || stats.Published["lab/cam0/full"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestEmitter_DropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	e := New(pub, Options{Queue: 1})

	now := time.Now()
	for i := 0; i < 5; i++ {
		e.OnScene(testScene(), now, true)
	}
	close(pub.block)
	e.Close()

	stats := e.Stats()
	// One payload may be held by the publishing goroutine, one by the queue.
	if stats.Dropped < 3 {
		t.Errorf("dropped = %d, want at least 3", stats.Dropped)
	}
	if got := uint64(len(pub.messages())) + stats.Dropped; got != 5 {
		t.Errorf("published + dropped = %d, want 5", got)
	}
}

func TestEmitter_PublishErrorsCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	e := New(pub, Options{})

	e.OnScene(testScene(), time.Now(), true)
	e.Close()

	if e.Stats().Errors != 1 {
		t.Errorf("errors = %d, want 1", e.Stats().Errors)
	}
}

func TestEmitter_Closed(t *testing.T) {
	pub := &fakePublisher{}
	e := New(pub, Options{})
	e.Close()

	e.OnScene(testScene(), time.Now(), true)
	if len(pub.messages()) != 0 {
		t.Error("closed emitter published")
	}
	if err := e.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
	e.OnScene(nil, time.Now(), false)
}
