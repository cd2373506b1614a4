// Package records proxies medical records and their attached notes and
// files.
package records

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

type Record struct {
	ID        int64  `json:"id"`
	PatientID int64  `json:"patient_id"`
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type Note struct {
	ID        int64  `json:"id"`
	RecordID  int64  `json:"record_id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

type File struct {
	ID         int64  `json:"id"`
	RecordID   int64  `json:"record_id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at"`
}

type Service struct {
	api    *upstream.Client
	logger *logging.Logger
}

func NewService(api *upstream.Client, logger *logging.Logger) *Service {
	return &Service{api: api, logger: logger.Component("records")}
}

func (s *Service) List(ctx context.Context, cred upstream.Credential) ([]Record, error) {
	var items []Record
	if err := s.api.Get(ctx, cred, "/medical-records/", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) ListForPatient(ctx context.Context, cred upstream.Credential, patientID int64) ([]Record, error) {
	var items []Record
	path := fmt.Sprintf("/medical-records/patient/%d/", patientID)
	if err := s.api.Get(ctx, cred, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, cred upstream.Credential, id int64) (*Record, error) {
	var rec Record
	if err := s.api.Get(ctx, cred, fmt.Sprintf("/medical-records/%d/", id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) Create(ctx context.Context, cred upstream.Credential, input Record) (*Record, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	var rec Record
	if err := s.api.Post(ctx, cred, "/medical-records/", input, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) Update(ctx context.Context, cred upstream.Credential, id int64, input Record) (*Record, error) {
	if err := validate(input); err != nil {
		return nil, err
	}
	var rec Record
	if err := s.api.Put(ctx, cred, fmt.Sprintf("/medical-records/%d/", id), input, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Service) Delete(ctx context.Context, cred upstream.Credential, id int64) error {
	return s.api.Delete(ctx, cred, fmt.Sprintf("/medical-records/%d/", id))
}

func (s *Service) Notes(ctx context.Context, cred upstream.Credential, recordID int64) ([]Note, error) {
	var items []Note
	path := fmt.Sprintf("/medical-records/%d/notes/", recordID)
	if err := s.api.Get(ctx, cred, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) AddNote(ctx context.Context, cred upstream.Credential, recordID int64, content string) (*Note, error) {
	if strings.TrimSpace(content) == "" {
		return nil, upstream.NewValidation("content", "note content is required")
	}
	var note Note
	path := fmt.Sprintf("/medical-records/%d/notes/", recordID)
	if err := s.api.Post(ctx, cred, path, map[string]string{"content": content}, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Service) Files(ctx context.Context, cred upstream.Credential, recordID int64) ([]File, error) {
	var items []File
	path := fmt.Sprintf("/medical-records/%d/files/", recordID)
	if err := s.api.Get(ctx, cred, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Upload attaches a file to a record as a multipart form. The whole body
// is buffered before sending; attachments here are scans and lab reports,
// small enough to hold.
func (s *Service) Upload(ctx context.Context, cred upstream.Credential, recordID int64, name string, content io.Reader) (*File, error) {
	if strings.TrimSpace(name) == "" {
		return nil, upstream.NewValidation("file", "file name is required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var file File
	path := fmt.Sprintf("/medical-records/%d/files/", recordID)
	if err := s.api.PostMultipart(ctx, cred, path, mw.FormDataContentType(), &buf, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// Download streams an attached file. The caller owns the reader.
func (s *Service) Download(ctx context.Context, cred upstream.Credential, recordID, fileID int64) (io.ReadCloser, string, error) {
	path := fmt.Sprintf("/medical-records/%d/files/%d/download/", recordID, fileID)
	return s.api.DoRaw(ctx, cred, http.MethodGet, path)
}

func validate(input Record) error {
	if input.PatientID <= 0 {
		return upstream.NewValidation("patient_id", "patient is required")
	}
	if strings.TrimSpace(input.Title) == "" {
		return upstream.NewValidation("title", "title is required")
	}
	return nil
}
