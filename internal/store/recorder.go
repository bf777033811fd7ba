package store

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/facefinder/internal/facefinder"
)

// DefaultRecorderQueue bounds the writes waiting for the database.
const DefaultRecorderQueue = 256

// Recorder is a scene monitor that persists a session. Notifications only
// enqueue; a single goroutine writes, and records are dropped when the
// queue is full so the pipeline never waits on the disk.
type Recorder struct {
	store   *Store
	session *Session
	logger  *slog.Logger

	queue   chan record
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool

	lastID  uuid.UUID
	frames  atomic.Int64
	dropped atomic.Int64
	written atomic.Int64
}

type record struct {
	scene *facefinder.Scene
	phase string
	d     time.Duration
	at    time.Time
}

// NewRecorder starts a session for source and its writer goroutine.
func NewRecorder(s *Store, source string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sess := &Session{Source: source}
	if err := s.Sessions().Create(sess); err != nil {
		return nil, err
	}

	r := &Recorder{
		store:   s,
		session: sess,
		logger:  logger,
		queue:   make(chan record, DefaultRecorderQueue),
		done:    make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// SessionID returns the recorded session.
func (r *Recorder) SessionID() string {
	return r.session.ID
}

// OnScene implements facefinder.Monitor. Every lightweight notification
// counts a frame; each scene is stored once, and again when its full
// notification adds landmarks.
func (r *Recorder) OnScene(scene *facefinder.Scene, ts time.Time, full bool) {
	if !full {
		r.frames.Add(1)
		if scene.ID == r.lastID {
			return
		}
		r.lastID = scene.ID
	}
	r.enqueue(record{scene: scene})
}

// PhaseSink returns a timer sink that records samples of phase.
func (r *Recorder) PhaseSink(phase facefinder.Phase) func(time.Duration) {
	name := phase.String()
	return func(d time.Duration) {
		r.enqueue(record{phase: name, d: d, at: time.Now()})
	}
}

// PhaseSinks returns sinks for every phase, ready for
// facefinder.Settings.PhaseSinks.
func (r *Recorder) PhaseSinks() map[facefinder.Phase]func(time.Duration) {
	sinks := make(map[facefinder.Phase]func(time.Duration))
	for _, p := range []facefinder.Phase{
		facefinder.PhaseDetection,
		facefinder.PhaseRegression,
		facefinder.PhaseEyeRegression,
		facefinder.PhaseACF,
		facefinder.PhaseBlob,
		facefinder.PhaseRenderScene,
	} {
		sinks[p] = r.PhaseSink(p)
	}
	return sinks
}

func (r *Recorder) enqueue(rec record) {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for rec := range r.queue {
		var err error
		if rec.scene != nil {
			err = r.store.Scenes().Insert(r.session.ID, rec.scene)
		} else {
			err = r.store.Timings().Insert(r.session.ID, rec.phase, rec.d, rec.at)
		}
		if err != nil {
			r.logger.Warn("recorder write failed", "session", r.session.ID, "error", err)
			continue
		}
		r.written.Add(1)
	}
}

// Dropped returns the number of records discarded on a full queue.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the number of records stored.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Close flushes queued records and ends the session.
func (r *Recorder) Close() error {
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.closeMu.Unlock()

	<-r.done
	return r.store.Sessions().End(r.session.ID, time.Now(), r.frames.Load(), r.dropped.Load())
}
