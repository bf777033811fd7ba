package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/store"
)

// Tunables is the part of the face finder the settings API drives.
type Tunables interface {
	Params() facefinder.Params
	UpdateParams(fn func(p *facefinder.Params)) error
}

// SettingsHandler serves GET and PUT /api/settings. A PUT body may carry
// any subset of the params; absent fields keep their current value.
type SettingsHandler struct {
	finder Tunables
	store  *store.Store
}

// NewSettingsHandler creates a handler. With a store, accepted updates are
// persisted.
func NewSettingsHandler(finder Tunables, s *store.Store) *SettingsHandler {
	return &SettingsHandler{finder: finder, store: s}
}

// ServeHTTP implements http.Handler.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.finder.Params())
	case http.MethodPut:
		h.update(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	next := h.finder.Params()
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	err := h.finder.UpdateParams(func(p *facefinder.Params) { *p = next })
	if errors.Is(err, facefinder.ErrConfig) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.store != nil {
		if err := h.store.Settings().SaveParams(next); err != nil {
			slog.Warn("failed to persist params", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, h.finder.Params())
}
