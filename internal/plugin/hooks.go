package plugin

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/facefinder/internal/facefinder"
)

// DefaultMaxInFlight bounds concurrently running plugin processes.
const DefaultMaxInFlight = 4

// Hooks is a facefinder.Monitor that runs subscribed plugins for each
// scene event. Plugins run on their own goroutines; when MaxInFlight
// executions are already running the event is dropped for that plugin.
type Hooks struct {
	manager  *Manager
	executor *Executor
	configs  map[string]json.RawMessage
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	slots  chan struct{}

	mu     sync.Mutex
	lastID uuid.UUID

	ran     atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// HooksConfig configures Hooks.
type HooksConfig struct {
	Timeout     time.Duration
	MaxInFlight int

	// Configs holds per-plugin configuration passed in each Request.
	Configs map[string]json.RawMessage

	Logger *slog.Logger
}

// NewHooks creates Hooks over the manager's discovered plugins.
func NewHooks(manager *Manager, cfg HooksConfig) *Hooks {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hooks{
		manager:  manager,
		executor: NewExecutor(cfg.Timeout),
		configs:  cfg.Configs,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(chan struct{}, cfg.MaxInFlight),
	}
}

// OnScene implements facefinder.Monitor. Lightweight notifications only
// trigger plugins when the displayed scene changes.
func (h *Hooks) OnScene(scene *facefinder.Scene, ts time.Time, full bool) {
	if scene == nil || h.ctx.Err() != nil {
		return
	}

	event := EventFull
	if !full {
		h.mu.Lock()
		changed := scene.ID != h.lastID
		h.lastID = scene.ID
		h.mu.Unlock()
		if !changed {
			return
		}
		event = EventScene
	}

	for _, p := range h.manager.Subscribers(event) {
		if len(scene.Faces) < p.Manifest.MinFaces {
			continue
		}
		select {
		case h.slots <- struct{}{}:
		default:
			h.dropped.Add(1)
			h.logger.Debug("plugin busy, event dropped", "plugin", p.Manifest.Name, "event", event)
			continue
		}

		req := &Request{Event: event, Scene: scene, Config: h.configs[p.Manifest.Name]}
		h.wg.Add(1)
		go h.run(p, req)
	}
}

func (h *Hooks) run(p *Plugin, req *Request) {
	defer h.wg.Done()
	defer func() { <-h.slots }()

	resp, err := h.executor.Execute(h.ctx, p, req)
	if err == nil && !resp.Success {
		h.logger.Warn("plugin reported failure", "plugin", p.Manifest.Name, "event", req.Event, "error", resp.Error)
		h.failed.Add(1)
		return
	}
	if err != nil {
		if h.ctx.Err() == nil {
			h.logger.Warn("plugin execution failed", "plugin", p.Manifest.Name, "event", req.Event, "error", err)
		}
		h.failed.Add(1)
		return
	}
	h.ran.Add(1)
}

// HookStats counts plugin executions.
type HookStats struct {
	Ran     int64
	Failed  int64
	Dropped int64
}

// Stats returns the execution counters.
func (h *Hooks) Stats() HookStats {
	return HookStats{Ran: h.ran.Load(), Failed: h.failed.Load(), Dropped: h.dropped.Load()}
}

// Wait blocks until running plugins finish.
func (h *Hooks) Wait() {
	h.wg.Wait()
}

// Close kills running plugins and waits for them to exit. Remove the
// monitor from the face finder first.
func (h *Hooks) Close() {
	h.cancel()
	h.wg.Wait()
}
