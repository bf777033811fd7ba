// Package emitter publishes face finder scenes to an MQTT broker as
// msgpack payloads.
//
// Two topics are used under a configurable prefix: <prefix>/scene carries
// a compact Summary each time the displayed scene changes, and
// <prefix>/full carries the complete scene once landmark regression for it
// has finished.
package emitter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/vision"
)

// DefaultQueue bounds the payloads waiting to be published.
const DefaultQueue = 64

var ErrClosed = errors.New("emitter closed")

// Publisher sends one payload to a topic. MQTT implements it over a paho
// client.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Summary is the payload of the scene topic.
type Summary struct {
	ID        uuid.UUID     `msgpack:"id"`
	Timestamp int64         `msgpack:"ts"`
	Faces     int           `msgpack:"faces"`
	Regions   []vision.Rect `msgpack:"regions,omitempty"`
	Distances []float64     `msgpack:"distances,omitempty"`
	Regressed bool          `msgpack:"regressed"`
	Failed    bool          `msgpack:"failed,omitempty"`
}

// Summarize reduces a scene to its Summary.
func Summarize(scene *facefinder.Scene) Summary {
	s := Summary{
		ID:        scene.ID,
		Timestamp: scene.Timestamp.UnixMilli(),
		Faces:     len(scene.Faces),
		Regressed: scene.Regressed,
		Failed:    scene.Failed,
	}
	for _, f := range scene.Faces {
		s.Regions = append(s.Regions, f.Region)
		s.Distances = append(s.Distances, f.Distance)
	}
	return s
}

// Options configures an Emitter.
type Options struct {
	Prefix   string
	SceneQoS byte
	FullQoS  byte
	Queue    int
	Logger   *slog.Logger
}

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// Emitter is a facefinder.Monitor. OnScene encodes on the caller's
// goroutine and queues the payload; a single goroutine publishes in order.
// When the queue is full the payload is dropped and counted.
type Emitter struct {
	pub    Publisher
	opts   Options
	logger *slog.Logger

	queue chan message
	done  chan struct{}

	mu        sync.RWMutex
	lastID    uuid.UUID
	published map[string]uint64
	errors    uint64
	closed    bool

	dropped atomic.Uint64
}

// New starts an emitter publishing through pub.
func New(pub Publisher, opts Options) *Emitter {
	if opts.Prefix == "" {
		opts.Prefix = "facefinder"
	}
	if opts.Queue <= 0 {
		opts.Queue = DefaultQueue
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Emitter{
		pub:       pub,
		opts:      opts,
		logger:    logger,
		queue:     make(chan message, opts.Queue),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}
	go e.run()
	return e
}

// SceneTopic returns the topic for scene summaries.
func (e *Emitter) SceneTopic() string { return e.opts.Prefix + "/scene" }

// FullTopic returns the topic for fully regressed scenes.
func (e *Emitter) FullTopic() string { return e.opts.Prefix + "/full" }

// OnScene implements facefinder.Monitor.
func (e *Emitter) OnScene(scene *facefinder.Scene, ts time.Time, full bool) {
	if scene == nil {
		return
	}

	var (
		msg message
		err error
	)
	if full {
		msg.topic, msg.qos = e.FullTopic(), e.opts.FullQoS
		msg.payload, err = msgpack.Marshal(scene)
	} else {
		e.mu.Lock()
		changed := scene.ID != e.lastID
		e.lastID = scene.ID
		e.mu.Unlock()
		if !changed {
			return
		}
		msg.topic, msg.qos = e.SceneTopic(), e.opts.SceneQoS
		msg.payload, err = msgpack.Marshal(Summarize(scene))
	}
	if err != nil {
		e.logger.Warn("scene encode failed", "error", err)
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- msg:
	default:
		e.dropped.Add(1)
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	for msg := range e.queue {
		err := e.pub.Publish(msg.topic, msg.qos, msg.payload)

		e.mu.Lock()
		if err != nil {
			e.errors++
		} else {
			e.published[msg.topic]++
		}
		e.mu.Unlock()

		if err != nil {
			e.logger.Warn("scene publish failed", "topic", msg.topic, "error", err)
			continue
		}
		e.logger.Debug("scene published", "topic", msg.topic, "qos", msg.qos, "size", len(msg.payload))
	}
}

// Stats contains emitter statistics.
type Stats struct {
	Published map[string]uint64
	Dropped   uint64
	Errors    uint64
}

// Stats returns a copy of the counters.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Published: published, Dropped: e.dropped.Load(), Errors: e.errors}
}

// Close stops accepting scenes and waits for queued payloads to be
// published.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("close: %w", ErrClosed)
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	<-e.done
	return nil
}
