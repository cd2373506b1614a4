package notifications

import (
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// Hub tracks the portal's own websocket clients, keyed by session ID, and
// pushes notifications to them as they arrive from the backend. A session
// can hold several sockets (multiple tabs); each gets every push.
type Hub struct {
	logger *logging.Logger

	mu sync.RWMutex
	// Each socket carries its own write lock: gorilla/websocket allows at
	// most one concurrent writer per connection.
	conns map[string]map[*websocket.Conn]*sync.Mutex
}

func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger.Component("notify-hub"),
		conns:  make(map[string]map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *Hub) Register(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	set, ok := h.conns[sessionID]
	if !ok {
		set = make(map[*websocket.Conn]*sync.Mutex)
		h.conns[sessionID] = set
	}
	set[conn] = &sync.Mutex{}
	h.mu.Unlock()
	h.logger.Debug("push client connected", "session_id", sessionID)
}

func (h *Hub) Unregister(sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	if set, ok := h.conns[sessionID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, sessionID)
		}
	}
	h.mu.Unlock()
}

// Push sends one notification to every socket of a session. Write
// failures drop only the broken socket; the client reconnects on its own.
func (h *Hub) Push(sessionID string, n Notification) {
	payload, err := Encode(n)
	if err != nil {
		h.logger.Error("push encode failed", "error", err)
		return
	}

	type target struct {
		conn *websocket.Conn
		wmu  *sync.Mutex
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.conns[sessionID]))
	for conn, wmu := range h.conns[sessionID] {
		targets = append(targets, target{conn, wmu})
	}
	h.mu.RUnlock()

	for _, t := range targets {
		t.wmu.Lock()
		err := t.conn.WriteMessage(websocket.TextMessage, payload)
		t.wmu.Unlock()
		if err != nil {
			h.logger.Debug("push write failed, dropping socket",
				"session_id", sessionID, "error", err)
			h.Unregister(sessionID, t.conn)
			_ = t.conn.Close()
		}
	}
}

// Sessions reports how many sessions currently hold open sockets.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
