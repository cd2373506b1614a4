package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cabinetmed/cabinet-portal/internal/appointments"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
)

func TestStatusColors(t *testing.T) {
	cases := map[appointments.Status]string{
		appointments.StatusScheduled: "#3788d8",
		appointments.StatusConfirmed: "#38b000",
		appointments.StatusCompleted: "#8338ec",
		appointments.StatusCancelled: "#d00000",
		appointments.StatusNoShow:    "#ff9e00",
		appointments.Status("weird"): "#6c757d",
		appointments.Status(""):      "#6c757d",
	}
	for status, want := range cases {
		if got := StatusColor(status); got != want {
			t.Errorf("StatusColor(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestProject(t *testing.T) {
	appts := []appointments.Appointment{
		{
			ID:        1,
			Patient:   appointments.PersonRef{ID: 5, Name: "Jean Petit"},
			StartTime: "2025-06-10T09:00:00Z",
			EndTime:   "2025-06-10T09:30:00Z",
			Status:    appointments.StatusConfirmed,
			Reason:    "follow-up",
		},
		{
			ID:      2,
			Patient: appointments.PersonRef{ID: 6},
			Status:  appointments.StatusScheduled,
			// no start time: not renderable
		},
		{
			ID:        3,
			Patient:   appointments.PersonRef{ID: 7},
			StartTime: "2025-06-10T10:00:00Z",
			Status:    appointments.Status("unknown"),
		},
	}

	events := Project(appts)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Title != "Jean Petit - follow-up" {
		t.Errorf("unexpected title %q", events[0].Title)
	}
	if events[0].Color != "#38b000" {
		t.Errorf("unexpected color %q", events[0].Color)
	}
	if events[0].Props["status"] != "confirmed" {
		t.Errorf("unexpected status prop %v", events[0].Props["status"])
	}
	if events[1].Title != "Patient #7" {
		t.Errorf("unexpected fallback title %q", events[1].Title)
	}
	if events[1].Color != "#6c757d" {
		t.Errorf("unknown status must render gray, got %q", events[1].Color)
	}
}

func newTestView(t *testing.T, fetches *int32) *View {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fetches, 1)
		_, _ = w.Write([]byte(`[{"id":1,"patient":{"id":5,"name":"Jean Petit"},"start_time":"2025-06-10T09:00:00Z","status":"scheduled"}]`))
	}))
	t.Cleanup(srv.Close)
	api := upstream.New(srv.URL, nil)
	return NewView(appointments.NewService(api, nil), nil)
}

func TestEventsDedupsIdenticalRange(t *testing.T) {
	var fetches int32
	v := newTestView(t, &fetches)
	ctx := context.Background()

	first, err := v.Events(ctx, nil, "sess-1", "2025-06-01", "2025-06-30")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	second, err := v.Events(ctx, nil, "sess-1", "2025-06-01", "2025-06-30")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if fetches != 1 {
		t.Fatalf("identical consecutive ranges must fetch once, got %d fetches", fetches)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Errorf("both calls must see the projection, got %d and %d", len(first), len(second))
	}

	if _, err := v.Events(ctx, nil, "sess-1", "2025-07-01", "2025-07-31"); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if fetches != 2 {
		t.Errorf("a new range must fetch, got %d fetches", fetches)
	}
}

func TestEventsRefetchesAfterInvalidate(t *testing.T) {
	var fetches int32
	v := newTestView(t, &fetches)
	ctx := context.Background()

	if _, err := v.Events(ctx, nil, "sess-1", "2025-06-01", "2025-06-30"); err != nil {
		t.Fatalf("Events: %v", err)
	}
	v.Invalidate()
	if _, err := v.Events(ctx, nil, "sess-1", "2025-06-01", "2025-06-30"); err != nil {
		t.Fatalf("Events: %v", err)
	}
	if fetches != 2 {
		t.Errorf("invalidated range must refetch, got %d fetches", fetches)
	}
}

func TestEventsFailedFetchRetries(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&fetches, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	v := NewView(appointments.NewService(upstream.New(srv.URL, nil), nil), nil)
	ctx := context.Background()

	if _, err := v.Events(ctx, nil, "sess-1", "2025-06-01", "2025-06-30"); err == nil {
		t.Fatal("expected first fetch to fail")
	}
	if _, err := v.Events(ctx, nil, "sess-1", "2025-06-01", "2025-06-30"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if fetches != 2 {
		t.Errorf("failed range must not be remembered, got %d fetches", fetches)
	}
}

type staticCred string

func (c staticCred) AccessToken(context.Context) (string, error) { return string(c), nil }
func (c staticCred) Refresh(context.Context) (string, error)     { return string(c), nil }

func TestEventsCacheIsScopedPerViewer(t *testing.T) {
	// The backend narrows the range query to the caller: staff see the
	// whole schedule, a patient only their own appointments.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer staff" {
			_, _ = w.Write([]byte(`[
				{"id":1,"patient":{"id":5,"name":"Jean Petit"},"start_time":"2025-06-10T09:00:00Z","status":"scheduled"},
				{"id":2,"patient":{"id":6,"name":"Anne Roy"},"start_time":"2025-06-10T10:00:00Z","status":"confirmed"}
			]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(srv.Close)
	v := NewView(appointments.NewService(upstream.New(srv.URL, nil), nil), nil)
	ctx := context.Background()

	staffEvents, err := v.Events(ctx, staticCred("staff"), "sess-staff", "2025-06-01", "2025-06-30")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(staffEvents) != 2 {
		t.Fatalf("staff must see 2 events, got %d", len(staffEvents))
	}

	patientEvents, err := v.Events(ctx, staticCred("patient"), "sess-patient", "2025-06-01", "2025-06-30")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(patientEvents) != 0 {
		t.Fatalf("patient asking for the same range must get their own fetch, got %d events", len(patientEvents))
	}

	// The staff projection stays served from cache, untouched.
	again, err := v.Events(ctx, staticCred("staff"), "sess-staff", "2025-06-01", "2025-06-30")
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("staff cache entry must survive another viewer's fetch, got %d events", len(again))
	}
}
