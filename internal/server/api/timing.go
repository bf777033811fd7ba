package api

import (
	"net/http"
	"time"

	"github.com/ayusman/facefinder/internal/store"
)

// Timer exposes the latest phase durations.
type Timer interface {
	Snapshot() map[string]time.Duration
}

// TimingHandler serves GET /api/timing. Without parameters it returns the
// latest duration of each phase in milliseconds; with ?session=id it
// returns the stored per-phase summary of that session.
type TimingHandler struct {
	timer Timer
	store *store.Store
}

// NewTimingHandler creates a handler. Either argument may be nil.
func NewTimingHandler(timer Timer, s *store.Store) *TimingHandler {
	return &TimingHandler{timer: timer, store: s}
}

type phaseSummaryResponse struct {
	Phase  string  `json:"phase"`
	Count  int     `json:"count"`
	MeanMs float64 `json:"mean_ms"`
	MaxMs  float64 `json:"max_ms"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ServeHTTP implements http.Handler.
func (h *TimingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if id := r.URL.Query().Get("session"); id != "" {
		if h.store == nil {
			writeError(w, http.StatusNotFound, "No recorder configured")
			return
		}
		summary, err := h.store.Timings().Summary(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load timings")
			return
		}
		out := make([]phaseSummaryResponse, 0, len(summary))
		for _, s := range summary {
			out = append(out, phaseSummaryResponse{
				Phase:  s.Phase,
				Count:  s.Count,
				MeanMs: millis(s.Mean),
				MaxMs:  millis(s.Max),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": id, "phases": out})
		return
	}

	if h.timer == nil {
		writeError(w, http.StatusNotFound, "No face finder running")
		return
	}
	phases := make(map[string]float64)
	for name, d := range h.timer.Snapshot() {
		phases[name] = millis(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"phases_ms": phases})
}
