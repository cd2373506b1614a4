package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cabinetmed/cabinet-portal/internal/audit"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// AuditHandler exposes the portal's action trail to administrators.
type AuditHandler struct {
	trail  *audit.Store
	logger *logging.Logger
}

func NewAuditHandler(trail *audit.Store, logger *logging.Logger) *AuditHandler {
	return &AuditHandler{trail: trail, logger: logger.Component("audit-handler")}
}

// Recent handles GET /admin/audit?limit=N.
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		jsonError(w, "audit trail not configured", http.StatusNotImplemented)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.trail.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		jsonError(w, "audit query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ForEntity handles GET /admin/audit/{entity}/{entityID}.
func (h *AuditHandler) ForEntity(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		jsonError(w, "audit trail not configured", http.StatusNotImplemented)
		return
	}
	entity := chi.URLParam(r, "entity")
	entityID := chi.URLParam(r, "entityID")
	if entity == "" || entityID == "" {
		jsonError(w, "entity and entityID are required", http.StatusBadRequest)
		return
	}
	entries, err := h.trail.ForEntity(r.Context(), entity, entityID)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		jsonError(w, "audit query failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
