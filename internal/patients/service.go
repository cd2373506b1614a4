// Package patients proxies the patient resource and owns the fetch-or-create
// profile flow that appointment booking depends on for the patient role.
package patients

import (
	"context"
	"fmt"
	"net/url"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// UserDetails is the account embedded in a patient record.
type UserDetails struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Patient is the backend patient record.
type Patient struct {
	ID          int64        `json:"id"`
	UserDetails *UserDetails `json:"user_details,omitempty"`
	DateOfBirth string       `json:"date_of_birth,omitempty"`
	BloodType   string       `json:"blood_type,omitempty"`
	Allergies   string       `json:"allergies,omitempty"`
	Address     string       `json:"address,omitempty"`
}

// ListItem is the reduced shape used to fill dropdowns.
type ListItem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Service is the portal's patient operations.
type Service struct {
	api    *upstream.Client
	logger *logging.Logger
}

// NewService creates the patient service.
func NewService(api *upstream.Client, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{api: api, logger: logger.Component("patients")}
}

// List returns the patients visible to the session.
func (s *Service) List(ctx context.Context, cred upstream.Credential) ([]Patient, error) {
	var out []Patient
	if err := s.api.Get(ctx, cred, "/patients/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListForDropdown returns the reduced id/name list used by forms.
func (s *Service) ListForDropdown(ctx context.Context, cred upstream.Credential) ([]ListItem, error) {
	var out []ListItem
	if err := s.api.Get(ctx, cred, "/patients/list/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get fetches one patient.
func (s *Service) Get(ctx context.Context, cred upstream.Credential, id int64) (*Patient, error) {
	var out Patient
	if err := s.api.Get(ctx, cred, fmt.Sprintf("/patients/%d/", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create registers a new patient record.
func (s *Service) Create(ctx context.Context, cred upstream.Credential, patient Patient) (*Patient, error) {
	var out Patient
	if err := s.api.Post(ctx, cred, "/patients/", patient, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update rewrites a patient record.
func (s *Service) Update(ctx context.Context, cred upstream.Credential, id int64, patient Patient) (*Patient, error) {
	var out Patient
	if err := s.api.Put(ctx, cred, fmt.Sprintf("/patients/%d/", id), patient, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a patient record.
func (s *Service) Delete(ctx context.Context, cred upstream.Credential, id int64) error {
	return s.api.Delete(ctx, cred, fmt.Sprintf("/patients/%d/", id))
}

// Search queries patients by free text.
func (s *Service) Search(ctx context.Context, cred upstream.Credential, q string) ([]Patient, error) {
	query := url.Values{}
	query.Set("q", q)
	var out []Patient
	if err := s.api.Get(ctx, cred, "/patients/search/", query, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOrCreateProfile ensures the acting patient user has a patient record and
// returns it. Appointment creation requires a linked record, so this runs
// before the first booking of a fresh account.
func (s *Service) GetOrCreateProfile(ctx context.Context, cred upstream.Credential, userID int64) (*Patient, error) {
	existing, err := s.List(ctx, cred)
	if err == nil {
		for _, p := range existing {
			if p.UserDetails != nil && p.UserDetails.ID == userID {
				return &p, nil
			}
		}
	} else if upstream.IsAuth(err) {
		return nil, err
	}

	// The backend links the new record to the requesting user; an empty body
	// is enough.
	created, err := s.Create(ctx, cred, Patient{BloodType: "", Allergies: ""})
	if err != nil {
		return nil, fmt.Errorf("patients: create profile: %w", err)
	}
	s.logger.Info("patient profile created", "user_id", userID, "patient_id", created.ID)
	return created, nil
}
