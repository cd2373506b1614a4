package appointments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cabinetmed/cabinet-portal/internal/auth"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
)

func newService(t *testing.T, backend http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	return NewService(upstream.New(srv.URL, nil), nil)
}

func TestTransitionRejectsPatientRole(t *testing.T) {
	var calls int32
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	appt := &Appointment{ID: 1, Status: StatusScheduled}
	_, err := svc.Transition(context.Background(), nil, auth.RolePatient, appt, StatusConfirmed)
	if !upstream.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if calls != 0 {
		t.Error("rejected transition must not reach the backend")
	}
}

func TestTransitionRejectsTerminalStatus(t *testing.T) {
	var calls int32
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	appt := &Appointment{ID: 1, Status: StatusCompleted}
	_, err := svc.Transition(context.Background(), nil, auth.RoleDoctor, appt, StatusCancelled)
	if !upstream.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if calls != 0 {
		t.Error("terminal appointment must not be submitted")
	}
}

func TestTransitionSubmitsUpdate(t *testing.T) {
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/appointments/7/" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["status"] != "confirmed" {
			t.Errorf("expected status confirmed, got %v", body["status"])
		}
		_ = json.NewEncoder(w).Encode(Appointment{ID: 7, Status: StatusConfirmed})
	}))

	appt := &Appointment{
		ID:      7,
		Patient: PersonRef{ID: 2},
		Doctor:  PersonRef{ID: 3},
		Status:  StatusScheduled,
	}
	updated, err := svc.Transition(context.Background(), nil, auth.RoleSecretary, appt, StatusConfirmed)
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if updated.Status != StatusConfirmed {
		t.Errorf("unexpected status %s", updated.Status)
	}
}

func TestDeleteIssuesRequest(t *testing.T) {
	var gotMethod, gotPath string
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := svc.Delete(context.Background(), nil, auth.RoleStaff, 42); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/appointments/42/" {
		t.Errorf("unexpected request %s %s", gotMethod, gotPath)
	}
}

func TestDeleteRejectsPatientRole(t *testing.T) {
	var calls int32
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))

	if err := svc.Delete(context.Background(), nil, auth.RolePatient, 42); !upstream.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if calls != 0 {
		t.Error("patient delete must not reach the backend")
	}
}

func TestRangeQuery(t *testing.T) {
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("start") != "2025-06-01" || q.Get("end") != "2025-06-30" {
			t.Errorf("unexpected range query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`[{"id":1,"status":"scheduled"}]`))
	}))

	appts, err := svc.Range(context.Background(), nil, "2025-06-01", "2025-06-30")
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(appts) != 1 {
		t.Errorf("expected one appointment, got %d", len(appts))
	}
}

func TestICSDownload(t *testing.T) {
	svc := newService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/appointments/42/ical/" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") == "" {
			t.Error("ICS download must carry the bearer header")
		}
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\nEND:VCALENDAR\n"))
	}))

	body, contentType, err := svc.ICS(context.Background(), staticCred("tok"), 42)
	if err != nil {
		t.Fatalf("ICS: %v", err)
	}
	defer func() { _ = body.Close() }()
	if contentType != "text/calendar" {
		t.Errorf("unexpected content type %q", contentType)
	}
	if data, _ := io.ReadAll(body); len(data) == 0 {
		t.Error("expected calendar body")
	}
}

type staticCred string

func (c staticCred) AccessToken(ctx context.Context) (string, error) { return string(c), nil }
func (c staticCred) Refresh(ctx context.Context) (string, error) { return string(c), nil }
