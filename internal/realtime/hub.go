// Package realtime delivers chat turns over websockets. Connections live in
// a per-instance Hub; events travel through a Bus so every socket of a user
// receives them, on whichever instance it is connected.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Hub tracks the open connections of this instance by user and connection id.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]Conn
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]Conn),
		logger: logger,
	}
}

// Register adds a connection. A different connection already registered
// under the same id is closed and replaced.
func (h *Hub) Register(userID, connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]Conn)
	}
	if existing, exists := h.active[userID][connID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "connection replaced")
	}
	h.active[userID][connID] = conn
	h.logger.Info("Chat connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a connection if it is still the registered one.
func (h *Hub) Unregister(userID, connID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.active[userID]
	if !ok {
		return
	}
	if current, exists := conns[connID]; exists && current == conn {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.active, userID)
		}
		h.logger.Info("Chat connection unregistered", "user_id", userID, "conn_id", connID)
	}
}

// Count returns the number of open connections for a user.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// Deliver writes payload to every connection of userID and returns how many
// writes succeeded.
func (h *Hub) Deliver(ctx context.Context, userID string, payload []byte) int {
	h.mu.RLock()
	conns := make(map[string]Conn, len(h.active[userID]))
	for id, c := range h.active[userID] {
		conns[id] = c
	}
	h.mu.RUnlock()

	delivered := 0
	for id, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(writeCtx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			h.logger.Debug("Chat delivery failed", "user_id", userID, "conn_id", id, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll closes every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.active {
		for _, c := range conns {
			_ = c.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, userID)
	}
}

// Forward delivers a bus envelope to this instance's connections. It is the
// callback passed to Bus.Start.
func (h *Hub) Forward(env Envelope) {
	h.Deliver(context.Background(), env.UserID, env.Payload)
}
