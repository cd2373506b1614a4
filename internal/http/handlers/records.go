package handlers

import (
	"fmt"
	"net/http"

	"github.com/cabinetmed/cabinet-portal/internal/audit"
	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/internal/records"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// maxUploadBytes bounds record attachments (scans, lab reports).
const maxUploadBytes = 20 << 20

type RecordsHandler struct {
	svc    *records.Service
	auth   *auth.Service
	trail  *audit.Store
	logger *logging.Logger
}

func NewRecordsHandler(authSvc *auth.Service, svc *records.Service, trail *audit.Store, logger *logging.Logger) *RecordsHandler {
	return &RecordsHandler{svc: svc, auth: authSvc, trail: trail, logger: logger.Component("records-handler")}
}

func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
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

// Get handles GET /records/{id}. Opening a record leaves an audit entry;
// record access is the one read path the trail covers.
func (h *RecordsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid record id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	rec, err := h.svc.Get(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	_ = h.trail.Record(r.Context(), audit.Entry{
		ActorID:   sess.UserID,
		ActorRole: string(sess.Role),
		Action:    audit.ActionRecordAccess,
		Entity:    "record",
		EntityID:  fmt.Sprintf("%d", id),
	})
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var input records.Record
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

func (h *RecordsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid record id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	var input records.Record
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

func (h *RecordsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid record id", http.StatusBadRequest)
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

func (h *RecordsHandler) Notes(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid record id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	notes, err := h.svc.Notes(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *RecordsHandler) AddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid record id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	var body struct {
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	note, err := h.svc.AddNote(r.Context(), h.auth.Credential(sess.ID), id, body.Content)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *RecordsHandler) Files(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid record id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	files, err := h.svc.Files(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// Upload handles POST /records/{id}/files as a multipart form with a
// "file" part.
func (h *RecordsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid record id", http.StatusBadRequest)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "a file part is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	sess := middleware.SessionFromContext(r.Context())
	uploaded, err := h.svc.Upload(r.Context(), h.auth.Credential(sess.ID), id, header.Filename, file)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploaded)
}

// Download handles GET /records/{id}/files/{fileID}.
func (h *RecordsHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	fileID, okFile := urlID(r, "fileID")
	if !ok || !okFile {
		jsonError(w, "invalid record or file id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	body, contentType, err := h.svc.Download(r.Context(), h.auth.Credential(sess.ID), id, fileID)
	if err != nil {
		serviceError(w, err)
		return
	}
	_ = h.trail.Record(r.Context(), audit.Entry{
		ActorID:   sess.UserID,
		ActorRole: string(sess.Role),
		Action:    audit.ActionFileDownload,
		Entity:    "record",
		EntityID:  fmt.Sprintf("%d", id),
		Detail:    map[string]any{"file_id": fileID},
	})
	copyStream(w, body, contentType, "")
}
