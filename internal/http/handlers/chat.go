package handlers

import (
	"net/http"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/chat"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

type ChatHandler struct {
	svc    *chat.Service
	auth   *auth.Service
	logger *logging.Logger
}

func NewChatHandler(authSvc *auth.Service, svc *chat.Service, logger *logging.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, auth: authSvc, logger: logger.Component("chat-handler")}
}

func (h *ChatHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	items, err := h.svc.Conversations(r.Context(), h.auth.Credential(sess.ID))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var body struct {
		ParticipantID int64  `json:"participant_id"`
		Subject       string `json:"subject"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	conv, err := h.svc.Start(r.Context(), h.auth.Credential(sess.ID), body.ParticipantID, body.Subject)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	cred := h.auth.Credential(sess.ID)
	msgs, err := h.svc.Messages(r.Context(), cred, id)
	if err != nil {
		serviceError(w, err)
		return
	}
	// Opening a thread reads it.
	h.svc.MarkRead(r.Context(), cred, id)
	writeJSON(w, http.StatusOK, msgs)
}

func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	var body struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	msg, err := h.svc.Send(r.Context(), h.auth.Credential(sess.ID), id, body.Content)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
