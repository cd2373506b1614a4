package handlers

import (
	"fmt"
	"net/http"

	"github.com/cabinetmed/cabinet-portal/internal/appointments"
	"github.com/cabinetmed/cabinet-portal/internal/audit"
	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/availability"
	"github.com/cabinetmed/cabinet-portal/internal/booking"
	"github.com/cabinetmed/cabinet-portal/internal/calendar"
	"github.com/cabinetmed/cabinet-portal/internal/http/middleware"
	"github.com/cabinetmed/cabinet-portal/internal/observability/metrics"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// AppointmentsHandler serves the scheduling surface: appointment CRUD,
// booking, status transitions, calendar events, and slot availability.
type AppointmentsHandler struct {
	appts    *appointments.Service
	booking  *booking.Service
	view     *calendar.View
	resolver *availability.Resolver
	selects  *availability.SelectionStore
	auth     *auth.Service
	trail    *audit.Store
	metrics  *metrics.PortalMetrics
	logger   *logging.Logger
}

func NewAppointmentsHandler(
	authSvc *auth.Service,
	appts *appointments.Service,
	bookingSvc *booking.Service,
	view *calendar.View,
	resolver *availability.Resolver,
	selects *availability.SelectionStore,
	trail *audit.Store,
	portalMetrics *metrics.PortalMetrics,
	logger *logging.Logger,
) *AppointmentsHandler {
	return &AppointmentsHandler{
		auth:     authSvc,
		appts:    appts,
		booking:  bookingSvc,
		view:     view,
		resolver: resolver,
		selects:  selects,
		trail:    trail,
		metrics:  portalMetrics,
		logger:   logger.Component("appointments-handler"),
	}
}

// List handles GET /appointments. Patients see their own appointments,
// staff see everything.
func (h *AppointmentsHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	cred := h.auth.Credential(sess.ID)

	var (
		items []appointments.Appointment
		err   error
	)
	if sess.Role == auth.RolePatient {
		items, err = h.appts.ListForPatient(r.Context(), cred, sess.UserID)
	} else {
		items, err = h.appts.List(r.Context(), cred)
	}
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// Get handles GET /appointments/{id}.
func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	appt, err := h.appts.Get(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Create handles POST /appointments.
func (h *AppointmentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var input booking.Input
	if !decodeBody(w, r, &input) {
		return
	}
	if input.SlotID == "" {
		// The grid records picks server-side; a submit without an explicit
		// slot falls back to the session's recorded one.
		input.SlotID = h.selects.SlotID(sess.ID)
	}

	result, err := h.booking.Create(r.Context(), h.auth.Credential(sess.ID), sess, input)
	if err != nil {
		h.metrics.ObserveBooking("unknown", false)
		serviceError(w, err)
		return
	}
	h.metrics.ObserveBooking(result.Endpoint, true)
	h.selects.Clear(sess.ID)
	h.view.Invalidate()

	_ = h.trail.Record(r.Context(), audit.Entry{
		ActorID:   sess.UserID,
		ActorRole: string(sess.Role),
		Action:    audit.ActionBooking,
		Entity:    "appointment",
		EntityID:  fmt.Sprintf("%d", result.AppointmentID),
	})
	writeJSON(w, http.StatusCreated, result)
}

// Update handles PUT /appointments/{id}.
func (h *AppointmentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	var body struct {
		booking.Input
		Status string `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.booking.Update(r.Context(), h.auth.Credential(sess.ID), id, body.Input, body.Status); err != nil {
		serviceError(w, err)
		return
	}
	h.view.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Transition handles PUT /appointments/{id}/status?confirm=true.
func (h *AppointmentsHandler) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	if !confirmed(w, r) {
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	var body struct {
		Status appointments.Status `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	cred := h.auth.Credential(sess.ID)
	appt, err := h.appts.Get(r.Context(), cred, id)
	if err != nil {
		serviceError(w, err)
		return
	}
	from := appt.Status
	updated, err := h.appts.Transition(r.Context(), cred, sess.Role, appt, body.Status)
	if err != nil {
		serviceError(w, err)
		return
	}
	h.view.Invalidate()

	_ = h.trail.Record(r.Context(), audit.Entry{
		ActorID:   sess.UserID,
		ActorRole: string(sess.Role),
		Action:    audit.ActionStatusChange,
		Entity:    "appointment",
		EntityID:  fmt.Sprintf("%d", id),
		Detail:    map[string]any{"from": string(from), "to": string(body.Status)},
	})
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /appointments/{id}?confirm=true.
func (h *AppointmentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	if !confirmed(w, r) {
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	if err := h.appts.Delete(r.Context(), h.auth.Credential(sess.ID), sess.Role, id); err != nil {
		serviceError(w, err)
		return
	}
	h.view.Invalidate()

	_ = h.trail.Record(r.Context(), audit.Entry{
		ActorID:   sess.UserID,
		ActorRole: string(sess.Role),
		Action:    audit.ActionDelete,
		Entity:    "appointment",
		EntityID:  fmt.Sprintf("%d", id),
	})
	w.WriteHeader(http.StatusNoContent)
}

// ICS handles GET /appointments/{id}/ical: the calendar-file export.
func (h *AppointmentsHandler) ICS(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		jsonError(w, "invalid appointment id", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	body, contentType, err := h.appts.ICS(r.Context(), h.auth.Credential(sess.ID), id)
	if err != nil {
		serviceError(w, err)
		return
	}
	copyStream(w, body, contentType, fmt.Sprintf("appointment-%d.ics", id))
}

// Calendar handles GET /calendar/events?start=...&end=....
func (h *AppointmentsHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if start == "" || end == "" {
		jsonError(w, "start and end are required", http.StatusBadRequest)
		return
	}
	sess := middleware.SessionFromContext(r.Context())
	events, err := h.view.Events(r.Context(), h.auth.Credential(sess.ID), sess.ID, start, end)
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Slots handles GET /availability?doctor_id=...&date=.... Both parameters
// are required; without them the response is an empty list, mirroring the
// form's behavior of not loading slots until both pickers are set.
func (h *AppointmentsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	doctorID := r.URL.Query().Get("doctor_id")
	date := r.URL.Query().Get("date")
	sess := middleware.SessionFromContext(r.Context())
	// Loading a grid is a context switch: a slot picked under another
	// doctor or date must not survive into this one.
	h.selects.SetContext(sess.ID, doctorID, date)

	slots, err := h.resolver.Resolve(r.Context(), h.auth.Credential(sess.ID), doctorID, date)
	if err != nil {
		serviceError(w, err)
		return
	}
	if slots == nil {
		slots = []availability.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

// SelectSlot handles POST /availability/select: records the slot picked in
// the grid so a later submit without an explicit slot can use it.
func (h *AppointmentsHandler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	var body struct {
		SlotID string `json:"slot_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.SlotID == "" {
		jsonError(w, "slot_id is required", http.StatusBadRequest)
		return
	}
	h.selects.Select(sess.ID, body.SlotID)
	w.WriteHeader(http.StatusNoContent)
}

// Doctors handles GET /doctors: the booking form's doctor dropdown.
func (h *AppointmentsHandler) Doctors(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	doctors, err := h.booking.Doctors(r.Context(), h.auth.Credential(sess.ID))
	if err != nil {
		serviceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doctors)
}
