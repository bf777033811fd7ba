package server

import (
	"fmt"
	"net/http"
	"sync"
)

// StreamHandler serves the painted output frames as MJPEG. The pipeline
// publishes each JPEG once; every client receives the latest frame and
// skips any it was too slow to write.
type StreamHandler struct {
	mu      sync.Mutex
	frame   []byte
	seq     uint64
	update  chan struct{}
	clients int
	closed  bool
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler() *StreamHandler {
	return &StreamHandler{update: make(chan struct{})}
}

// Publish replaces the current frame and wakes waiting clients.
func (h *StreamHandler) Publish(jpeg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.frame = jpeg
	h.seq++
	close(h.update)
	h.update = make(chan struct{})
}

// Close ends all streams.
func (h *StreamHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.update)
}

// Clients returns the number of connected stream clients.
func (h *StreamHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

// next returns the newest frame after seq, or a channel to wait on.
func (h *StreamHandler) next(seq uint64) ([]byte, uint64, <-chan struct{}, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq != seq && h.frame != nil {
		return h.frame, h.seq, nil, h.closed
	}
	return nil, seq, h.update, h.closed
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.mu.Lock()
	h.clients++
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.clients--
		h.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var seq uint64
	for {
		frame, next, wait, closed := h.next(seq)
		if closed {
			return
		}
		if frame == nil {
			select {
			case <-r.Context().Done():
				return
			case <-wait:
			}
			continue
		}
		seq = next

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
