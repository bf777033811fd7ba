package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/facefinder/internal/facefinder"
	"github.com/ayusman/facefinder/internal/store"
)

// SessionsHandler handles HTTP requests for recorded sessions:
//
//	GET    /api/sessions
//	GET    /api/sessions/{id}
//	GET    /api/sessions/{id}/scenes?offset=&limit=
//	DELETE /api/sessions/{id}
type SessionsHandler struct {
	store *store.Store
}

// NewSessionsHandler creates a new SessionsHandler with the given store.
func NewSessionsHandler(s *store.Store) *SessionsHandler {
	return &SessionsHandler{store: s}
}

type sessionResponse struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
	Frames    int64  `json:"frames"`
	Dropped   int64  `json:"dropped"`
	Scenes    int    `json:"scenes"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type listScenesResponse struct {
	Scenes []*facefinder.Scene `json:"scenes"`
}

func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:        s.ID,
		Source:    s.Source,
		StartedAt: s.StartedAt.Format(time.RFC3339),
		Frames:    s.Frames,
		Dropped:   s.Dropped,
		Scenes:    s.Scenes,
	}
	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// ServeHTTP implements the http.Handler interface and routes requests.
func (h *SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.Trim(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w)
		return
	}

	id, sub, _ := strings.Cut(path, "/")
	switch {
	case sub == "scenes" && r.Method == http.MethodGet:
		h.scenes(w, r, id)
	case sub != "":
		writeError(w, http.StatusNotFound, "Not found")
	case r.Method == http.MethodGet:
		h.get(w, id)
	case r.Method == http.MethodDelete:
		h.delete(w, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionsHandler) list(w http.ResponseWriter) {
	sessions, err := h.store.Sessions().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	resp := listSessionsResponse{Sessions: make([]sessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) get(w http.ResponseWriter, id string) {
	s, err := h.store.Sessions().GetByID(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *SessionsHandler) scenes(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Sessions().GetByID(id); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	recs, err := h.store.Scenes().List(id, queryInt(r, "offset", 0), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list scenes")
		return
	}
	resp := listScenesResponse{Scenes: make([]*facefinder.Scene, 0, len(recs))}
	for _, rec := range recs {
		resp.Scenes = append(resp.Scenes, rec.Scene)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) delete(w http.ResponseWriter, id string) {
	err := h.store.Sessions().Delete(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
