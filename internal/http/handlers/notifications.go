package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/internal/notifications"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// NotificationsHandler serves the notification feed and the portal's own
// websocket push endpoint.
type NotificationsHandler struct {
	svc      *notifications.Service
	hub      *notifications.Hub
	auth     *auth.Service
	source   notifications.SourceFactory
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sources map[string]*sessionSource
}

// sessionSource is the one backend source shared by every socket of a
// session, reference-counted so it stops when the last tab disconnects.
type sessionSource struct {
	cancel context.CancelFunc
	refs   int
}

func NewNotificationsHandler(authSvc *auth.Service, svc *notifications.Service, hub *notifications.Hub, source notifications.SourceFactory, logger *logging.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		svc:     svc,
		hub:     hub,
		auth:    authSvc,
		source:  source,
		sources: make(map[string]*sessionSource),
		logger:  logger.Component("notifications-handler"),
		// Origins are already vetted by the CORS layer; the upgrade
		// itself rides the session cookie.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// List handles GET /notifications, with ?unread=true to filter.
func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	cred := h.auth.Credential(sess.ID)

	var (
		items []notifications.Notification
		err   error
	)
	if r.URL.Query().Get("unread") == "true" {
		items, err = h.svc.Unread(r.Context(), cred)
	} else {
		items, err = h.svc.List(r.Context(), cred)
	}
	if err != nil {
		serviceError(w, err)
		return
	}
	if items == nil {
		items = []notifications.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

// MarkRead handles POST /notifications/{id}/read. Always 204: the
// acknowledgement is optimistic.
func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid notification id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	h.svc.MarkRead(r.Context(), h.auth.Credential(sess.ID), id)
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /notifications/read-all.
func (h *NotificationsHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	h.svc.MarkAllRead(r.Context(), h.auth.Credential(sess.ID))
	w.WriteHeader(http.StatusNoContent)
}

// Push handles GET /notifications/ws: upgrades the connection and parks
// it in the hub until the client disconnects.
func (h *NotificationsHandler) Push(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	h.hub.Register(sess.ID, conn)
	defer func() {
		h.hub.Unregister(sess.ID, conn)
		_ = conn.Close()
	}()

	// One backend source per session, no matter how many tabs are open:
	// the hub fans each delivery out to every socket. The source starts
	// with the first socket and stops when the last one goes away.
	if h.source != nil {
		h.acquireSource(sess.ID)
		defer h.releaseSource(sess.ID)
	}

	// Drain client frames; pings keep intermediaries from reaping the
	// socket, everything else is ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// acquireSource starts the session's source if it is not already running.
// The source outlives any single request context; it is cancelled only
// when releaseSource drops the last reference.
func (h *NotificationsHandler) acquireSource(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if src, ok := h.sources[sessionID]; ok {
		src.refs++
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.sources[sessionID] = &sessionSource{cancel: cancel, refs: 1}
	run := h.source(h.auth.Credential(sessionID), func(n notifications.Notification) {
		h.hub.Push(sessionID, n)
	})
	go run(ctx)
}

func (h *NotificationsHandler) releaseSource(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.sources[sessionID]
	if !ok {
		return
	}
	src.refs--
	if src.refs == 0 {
		src.cancel()
		delete(h.sources, sessionID)
	}
}
