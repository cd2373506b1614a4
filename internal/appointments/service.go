// Package appointments wraps the backend appointment resource: listing,
// detail, status transitions, deletion and calendar-range queries. Scheduling
// conflict resolution stays on the backend; the portal only enforces the
// status lattice and role gates before a request goes out.
package appointments

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// PersonRef is the embedded patient/doctor reference the backend returns.
type PersonRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Appointment is the backend appointment resource.
type Appointment struct {
	ID        int64     `json:"id"`
	Patient   PersonRef `json:"patient"`
	Doctor    PersonRef `json:"doctor"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason"`
	Notes     string    `json:"notes"`
}

// Service is the portal's appointment operations.
type Service struct {
	api    *upstream.Client
	logger *logging.Logger
}

// NewService creates the appointment service.
func NewService(api *upstream.Client, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{api: api, logger: logger.Component("appointments")}
}

// List returns all appointments visible to the session's role.
func (s *Service) List(ctx context.Context, cred upstream.Credential) ([]Appointment, error) {
	var out []Appointment
	if err := s.api.Get(ctx, cred, "/appointments/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListForPatient returns one patient's appointments.
func (s *Service) ListForPatient(ctx context.Context, cred upstream.Credential, patientID int64) ([]Appointment, error) {
	var out []Appointment
	path := fmt.Sprintf("/appointments/patient/%d/", patientID)
	if err := s.api.Get(ctx, cred, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one appointment.
func (s *Service) Get(ctx context.Context, cred upstream.Credential, id int64) (*Appointment, error) {
	var out Appointment
	if err := s.api.Get(ctx, cred, fmt.Sprintf("/appointments/%d/", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Range returns the appointments overlapping [start, end] for calendar
// rendering.
func (s *Service) Range(ctx context.Context, cred upstream.Credential, start, end string) ([]Appointment, error) {
	query := url.Values{}
	query.Set("start", start)
	query.Set("end", end)
	var out []Appointment
	if err := s.api.Get(ctx, cred, "/appointments/calendar/", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Transition moves an appointment to a new status. Patients can never
// transition; terminal statuses accept nothing.
func (s *Service) Transition(ctx context.Context, cred upstream.Credential, role auth.Role, appt *Appointment, next Status) (*Appointment, error) {
	if !role.Can(auth.CapTransitionStatus) {
		return nil, upstream.NewValidation("status", "role may not change appointment status")
	}
	if !next.Valid() {
		return nil, upstream.NewValidation("status", "unknown status "+string(next))
	}
	if !appt.Status.CanTransition(next) {
		return nil, upstream.NewValidation("status", fmt.Sprintf("cannot move %s appointment to %s", appt.Status, next))
	}

	body := map[string]any{
		"patient_id": appt.Patient.ID,
		"doctor_id":  appt.Doctor.ID,
		"reason":     appt.Reason,
		"notes":      appt.Notes,
		"status":     next,
	}
	var out Appointment
	if err := s.api.Put(ctx, cred, fmt.Sprintf("/appointments/%d/", appt.ID), body, &out); err != nil {
		return nil, err
	}
	s.logger.Info("appointment status changed", "appointment_id", appt.ID, "from", appt.Status, "to", next)
	return &out, nil
}

// Delete removes an appointment. Irreversible; handlers require explicit
// user confirmation before calling this.
func (s *Service) Delete(ctx context.Context, cred upstream.Credential, role auth.Role, id int64) error {
	if !role.Can(auth.CapDeleteAppointments) {
		return upstream.NewValidation("", "role may not delete appointments")
	}
	if err := s.api.Delete(ctx, cred, fmt.Sprintf("/appointments/%d/", id)); err != nil {
		return err
	}
	s.logger.Info("appointment deleted", "appointment_id", id)
	return nil
}

// ICS downloads the calendar file for one appointment. The backend needs the
// bearer header on a raw fetch; the JSON client cannot carry the binary body.
func (s *Service) ICS(ctx context.Context, cred upstream.Credential, id int64) (io.ReadCloser, string, error) {
	return s.api.DoRaw(ctx, cred, http.MethodGet, fmt.Sprintf("/appointments/%d/ical/", id))
}
