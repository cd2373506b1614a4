package handlers

import (
	"fmt"
	"net/http"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/internal/prescriptions"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

type PrescriptionsHandler struct {
	svc    *prescriptions.Service
	auth   *auth.Service
	logger *logging.Logger
}

func NewPrescriptionsHandler(authSvc *auth.Service, svc *prescriptions.Service, logger *logging.Logger) *PrescriptionsHandler {
	return &PrescriptionsHandler{svc: svc, auth: authSvc, logger: logger.Component("prescriptions-handler")}
}

func (h *PrescriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	cred := h.auth.Credential(sess.ID)

	if patientID, ok := urlID(r, "patientID"); ok {
		items, err := h.svc.ListForPatient(r.Context(), cred, patientID)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	items, err := h.svc.List(r.Context(), cred)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PrescriptionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid prescription id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	p, err := h.svc.Get(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PrescriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var input prescriptions.Prescription
	if !decodeBody(w, r, &input) {
		return
	}
	created, err := h.svc.Create(r.Context(), h.auth.Credential(sess.ID), input)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *PrescriptionsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid prescription id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	var input prescriptions.Prescription
	if !decodeBody(w, r, &input) {
		return
	}
	updated, err := h.svc.Update(r.Context(), h.auth.Credential(sess.ID), id, input)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *PrescriptionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid prescription id", http.StatusBadRequest)
		return
	}
	if !confirmed(w, r) {
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	if err := h.svc.Delete(r.Context(), h.auth.Credential(sess.ID), id); err != nil {
		serviceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PDF handles GET /prescriptions/{id}/pdf.
func (h *PrescriptionsHandler) PDF(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid prescription id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	body, contentType, err := h.svc.PDF(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	copyStream(w, body, contentType, fmt.Sprintf("prescription-%d.pdf", id))
}
