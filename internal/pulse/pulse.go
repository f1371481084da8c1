package pulse

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is one live observability message. Events flow one way: the engine
// publishes them, subscribers watch them, nothing is read back.
type Event struct {
	ID        string         `json:"id"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Hub fans events out to websocket subscribers through a bounded buffer.
// Publish is non-blocking best effort: when the buffer is full the oldest
// event is dropped so the trading loop never stalls on observability.
type Hub struct {
	events   chan Event
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		events:  make(chan Event, buffer),
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish queues an event for broadcast. Never blocks.
func (h *Hub) Publish(category, message string, meta map[string]any) {
	ev := Event{
		ID:        uuid.NewString(),
		Category:  category,
		Message:   message,
		Meta:      meta,
		Timestamp: time.Now(),
	}

	select {
	case h.events <- ev:
		return
	default:
	}

	// Buffer full: drop the oldest event to make room for the newest.
	select {
	case <-h.events:
	default:
	}
	select {
	case h.events <- ev:
	default:
	}
}

// Run broadcasts queued events to connected subscribers until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode pulse event", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Subscribers only listen; the read loop exists to notice disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				if _, ok := h.clients[conn]; ok {
					conn.Close()
					delete(h.clients, conn)
				}
				h.mu.Unlock()
				return
			}
		}
	}()
}
