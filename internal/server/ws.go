package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/facefinder/internal/facefinder"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// clientQueue bounds the messages waiting for one slow client.
const clientQueue = 16

const writeWait = 5 * time.Second

// sceneMessage is one WebSocket message. Kind is "scene" when the
// displayed scene changes and "full" when landmark regression completes.
type sceneMessage struct {
	Kind      string            `json:"kind"`
	Timestamp int64             `json:"timestamp"`
	Scene     *facefinder.Scene `json:"scene"`
}

// SceneHub broadcasts scenes to WebSocket clients. It is a face finder
// monitor: OnScene encodes once and hands the message to each client's
// queue without blocking, dropping it for clients that fall behind.
type SceneHub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	lastID  uuid.UUID
	closed  bool
}

// NewSceneHub creates an empty hub.
func NewSceneHub() *SceneHub {
	return &SceneHub{clients: make(map[*websocket.Conn]chan []byte)}
}

// OnScene implements facefinder.Monitor. Lightweight notifications repeat
// the displayed scene every frame; only changes are sent.
func (h *SceneHub) OnScene(scene *facefinder.Scene, ts time.Time, full bool) {
	h.mu.Lock()
	if len(h.clients) == 0 || h.closed {
		h.mu.Unlock()
		return
	}
	kind := "full"
	if !full {
		if scene.ID == h.lastID {
			h.mu.Unlock()
			return
		}
		h.lastID = scene.ID
		kind = "scene"
	}
	h.mu.Unlock()

	msg, err := json.Marshal(sceneMessage{Kind: kind, Timestamp: ts.UnixMilli(), Scene: scene})
	if err != nil {
		slog.Warn("scene encode failed", "error", err)
		return
	}

	// Queues are only closed under the write lock, so every queue in the
	// map is open while the read lock is held.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, queue := range h.clients {
		select {
		case queue <- msg:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (h *SceneHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *SceneHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for conn, queue := range h.clients {
		close(queue)
		delete(h.clients, conn)
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *SceneHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	queue := make(chan []byte, clientQueue)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.clients[conn] = queue
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[conn]; ok {
			delete(h.clients, conn)
			close(queue)
		}
		h.mu.Unlock()
	}()

	// Reads only detect the close; clients send nothing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-queue:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
