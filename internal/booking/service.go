// Package booking composes patient, doctor, date and time choices into an
// appointment create request. Time can be given two ways, a server slot id or
// an explicit hour/minute; a real slot id wins when both are present, and a
// synthesized slot id is never submitted.
package booking

import (
	"context"
	"strconv"
	"strings"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/patients"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// Doctor is the reduced account shape the doctors endpoint returns.
type Doctor struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Input is the booking form state at submit time. SlotID may be a synthesized
// id; it is filtered out before the payload is built.
type Input struct {
	PatientID      int64  `json:"patient_id,omitempty"`
	DoctorID       int64  `json:"doctor_id,omitempty"`
	Date           string `json:"date"`
	SlotID         string `json:"time_slot_id,omitempty"`
	SpecificHour   string `json:"specific_hour,omitempty"`
	SpecificMinute string `json:"specific_minute,omitempty"`
	Reason         string `json:"reason"`
	Notes          string `json:"notes,omitempty"`
}

// payload is the exact body the appointments service expects.
type payload struct {
	PatientID    int64  `json:"patient_id"`
	DoctorID     int64  `json:"doctor_id"`
	TimeSlotID   int64  `json:"time_slot_id,omitempty"`
	Reason       string `json:"reason"`
	Notes        string `json:"notes"`
	SpecificTime string `json:"specific_time,omitempty"`
	Date         string `json:"date,omitempty"`
}

// Result is the created appointment plus the endpoint that was used, which
// tests and audit records care about.
type Result struct {
	AppointmentID int64  `json:"id"`
	Status        string `json:"status"`
	Endpoint      string `json:"-"`
}

// Service orchestrates booking submissions.
type Service struct {
	api      *upstream.Client
	patients *patients.Service
	logger   *logging.Logger
}

// NewService wires the booking service.
func NewService(api *upstream.Client, patientSvc *patients.Service, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{api: api, patients: patientSvc, logger: logger.Component("booking")}
}

// Doctors lists the practice's doctors. The product assumes a single-doctor
// practice, so callers auto-select the first entry.
func (s *Service) Doctors(ctx context.Context, cred upstream.Credential) ([]Doctor, error) {
	var out []Doctor
	if err := s.api.Get(ctx, cred, "/accounts/doctors/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create validates the form and submits the booking. The acting session
// decides both the patient identity (patients book for themselves) and the
// backend endpoint.
func (s *Service) Create(ctx context.Context, cred upstream.Credential, sess *auth.Session, input Input) (*Result, error) {
	actingAsPatient := sess.Role == auth.RolePatient

	// Validation order: patient, doctor, then time. All checks run before
	// any write reaches the backend.
	if !actingAsPatient && input.PatientID == 0 {
		return nil, upstream.NewValidation("patient", "a patient must be selected")
	}

	doctorID := input.DoctorID
	if doctorID == 0 {
		doctors, err := s.Doctors(ctx, cred)
		if err != nil {
			return nil, err
		}
		if len(doctors) == 0 {
			return nil, upstream.NewValidation("doctor", "no doctor available in the system")
		}
		doctorID = doctors[0].ID
	}

	slotID := realSlotID(input.SlotID)
	hasSpecific := input.SpecificHour != "" && input.SpecificMinute != ""
	if slotID == 0 && !hasSpecific {
		return nil, upstream.NewValidation("time", "select a time slot or specify an exact time")
	}

	patientID := input.PatientID
	if actingAsPatient {
		// Appointment creation requires a linked patient record; make sure
		// one exists before submitting.
		if _, err := s.patients.GetOrCreateProfile(ctx, cred, sess.UserID); err != nil {
			return nil, err
		}
		patientID = sess.UserID
	}

	body := payload{
		PatientID:  patientID,
		DoctorID:   doctorID,
		TimeSlotID: slotID,
		Reason:     input.Reason,
		Notes:      input.Notes,
	}
	if hasSpecific {
		body.SpecificTime = specificTime(input.SpecificHour, input.SpecificMinute)
	}
	if slotID == 0 {
		// Without a real slot the backend resolves the absolute start from
		// date + specific_time.
		body.Date = input.Date
	}

	endpoint := "/appointments/create/"
	if actingAsPatient {
		endpoint = "/appointments/create-patient/"
	}

	var created struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := s.api.Post(ctx, cred, endpoint, body, &created); err != nil {
		return nil, err
	}

	s.logger.Info("appointment booked",
		"appointment_id", created.ID,
		"patient_id", patientID,
		"doctor_id", doctorID,
		"via_slot", slotID != 0,
	)
	return &Result{AppointmentID: created.ID, Status: created.Status, Endpoint: endpoint}, nil
}

// Update rewrites an existing appointment from form state.
func (s *Service) Update(ctx context.Context, cred upstream.Credential, id int64, input Input, status string) error {
	body := map[string]any{
		"patient_id": input.PatientID,
		"doctor_id":  input.DoctorID,
		"reason":     input.Reason,
		"notes":      input.Notes,
		"status":     status,
	}
	if slotID := realSlotID(input.SlotID); slotID != 0 {
		body["time_slot_id"] = slotID
	}
	return s.api.Put(ctx, cred, "/appointments/"+strconv.FormatInt(id, 10)+"/", body, nil)
}

// realSlotID parses a slot id, rejecting synthesized and malformed values.
// Only a positive numeric backend id survives.
func realSlotID(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

// specificTime normalizes hour/minute into "HH:MM".
func specificTime(hour, minute string) string {
	if len(hour) == 1 {
		hour = "0" + hour
	}
	if len(minute) == 1 {
		minute = "0" + minute
	}
	return hour + ":" + minute
}
