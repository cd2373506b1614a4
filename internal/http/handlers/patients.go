package handlers

import (
	"net/http"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/internal/patients"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

type PatientsHandler struct {
	svc    *patients.Service
	auth   *auth.Service
	logger *logging.Logger
}

func NewPatientsHandler(authSvc *auth.Service, svc *patients.Service, logger *logging.Logger) *PatientsHandler {
	return &PatientsHandler{svc: svc, auth: authSvc, logger: logger.Component("patients-handler")}
}

// List handles GET /patients, with optional ?q= search.
func (h *PatientsHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	cred := h.auth.Credential(sess.ID)

	if q := r.URL.Query().Get("q"); q != "" {
		items, err := h.svc.Search(r.Context(), cred, q)
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

// Dropdown handles GET /patients/dropdown: the trimmed list the booking
// form shows to staff.
func (h *PatientsHandler) Dropdown(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	items, err := h.svc.ListForDropdown(r.Context(), h.auth.Credential(sess.ID))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *PatientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	patient, err := h.svc.Get(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}

func (h *PatientsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var input patients.Patient
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

func (h *PatientsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid patient id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	var input patients.Patient
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

func (h *PatientsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid patient id", http.StatusBadRequest)
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
