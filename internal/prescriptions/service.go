// Package prescriptions proxies the backend prescription resource.
package prescriptions

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

type Prescription struct {
	ID           int64  `json:"id"`
	PatientID    int64  `json:"patient_id"`
	DoctorID     int64  `json:"doctor_id"`
	Medication   string `json:"medication"`
	Dosage       string `json:"dosage"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Instructions string `json:"instructions"`
	CreatedAt    string `json:"created_at"`
}

type Service struct {
	api    *upstream.Client
	logger *logging.Logger
}

func NewService(api *upstream.Client, logger *logging.Logger) *Service {
	return &Service{api: api, logger: logger.Component("prescriptions")}
}

func (s *Service) List(ctx context.Context, cred upstream.Credential) ([]Prescription, error) {
	var items []Prescription
	if err := s.api.Get(ctx, cred, "/prescriptions/", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) ListForPatient(ctx context.Context, cred upstream.Credential, patientID int64) ([]Prescription, error) {
	var items []Prescription
	path := fmt.Sprintf("/prescriptions/patient/%d/", patientID)
	if err := s.api.Get(ctx, cred, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, cred upstream.Credential, id int64) (*Prescription, error) {
	var p Prescription
	if err := s.api.Get(ctx, cred, fmt.Sprintf("/prescriptions/%d/", id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Create(ctx context.Context, cred upstream.Credential, input Prescription) (*Prescription, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	var p Prescription
	if err := s.api.Post(ctx, cred, "/prescriptions/", input, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Update(ctx context.Context, cred upstream.Credential, id int64, input Prescription) (*Prescription, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	var p Prescription
	if err := s.api.Put(ctx, cred, fmt.Sprintf("/prescriptions/%d/", id), input, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) Delete(ctx context.Context, cred upstream.Credential, id int64) error {
	return s.api.Delete(ctx, cred, fmt.Sprintf("/prescriptions/%d/", id))
}

// PDF streams the rendered prescription document. The caller owns the
// reader.
func (s *Service) PDF(ctx context.Context, cred upstream.Credential, id int64) (io.ReadCloser, string, error) {
	return s.api.DoRaw(ctx, cred, http.MethodGet, fmt.Sprintf("/prescriptions/%d/pdf/", id))
}

func validate(input Prescription) error {
	if input.PatientID <= 0 {
		return upstream.NewValidation("patient_id", "patient is required")
	}
	if strings.TrimSpace(input.Medication) == "" {
		return upstream.NewValidation("medication", "medication is required")
	}
	if strings.TrimSpace(input.Dosage) == "" {
		return upstream.NewValidation("dosage", "dosage is required")
	}
	return nil
}
