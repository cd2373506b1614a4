// Package calendar projects appointments into renderable calendar events
// and keeps range fetches cheap: a viewer asking for the same range twice
// in a row is served from the last result without a backend call.
package calendar

import (
	"context"
	"fmt"
	"sync"

	"github.com/cabinetmed/cabinet-portal/internal/appointments"
	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// Event is one calendar entry, shaped for the rendering layer.
type Event struct {
	ID    int64          `json:"id"`
	Title string         `json:"title"`
	Start string         `json:"start"`
	End   string         `json:"end,omitempty"`
	Color string         `json:"color"`
	Props map[string]any `json:"extendedProps,omitempty"`
}

const defaultColor = "#6c757d"

var statusColors = map[appointments.Status]string{
	appointments.StatusScheduled: "#3788d8",
	appointments.StatusConfirmed: "#38b000",
	appointments.StatusCompleted: "#8338ec",
	appointments.StatusCancelled: "#d00000",
	appointments.StatusNoShow:    "#ff9e00",
}

// StatusColor returns the display color for an appointment status. Unknown
// statuses fall back to a neutral gray rather than failing.
func StatusColor(status appointments.Status) string {
	if c, ok := statusColors[status]; ok {
		return c
	}
	return defaultColor
}

// Project converts appointments into events. Appointments without a start
// time are skipped; everything else renders, even with unknown statuses.
func Project(appts []appointments.Appointment) []Event {
	events := make([]Event, 0, len(appts))
	for _, a := range appts {
		if a.StartTime == "" {
			continue
		}
		events = append(events, Event{
			ID:    a.ID,
			Title: eventTitle(a),
			Start: a.StartTime,
			End:   a.EndTime,
			Color: StatusColor(a.Status),
			Props: map[string]any{
				"status":     string(a.Status),
				"doctor_id":  a.Doctor.ID,
				"patient_id": a.Patient.ID,
				"reason":     a.Reason,
			},
		})
	}
	return events
}

func eventTitle(a appointments.Appointment) string {
	name := a.Patient.Name
	if name == "" {
		name = fmt.Sprintf("Patient #%d", a.Patient.ID)
	}
	if a.Reason == "" {
		return name
	}
	return name + " - " + a.Reason
}

// View serves calendar events for a date range and remembers, per viewer,
// the last fetched range. The backend scopes the range query to the
// caller's credential (a patient sees only their own appointments), so the
// cache must never hand one viewer's projection to another: every entry is
// keyed by the viewer's session id on top of the range.
type View struct {
	appts  *appointments.Service
	logger *logging.Logger

	mu     sync.Mutex
	ranges map[string]rangeCache
}

type rangeCache struct {
	key    string
	events []Event
}

// maxViewers bounds the per-session cache map; sessions come and go and
// the entries are tiny, so a full reset on overflow is fine.
const maxViewers = 512

func NewView(appts *appointments.Service, logger *logging.Logger) *View {
	return &View{
		appts:  appts,
		logger: logger.Component("calendar"),
		ranges: make(map[string]rangeCache),
	}
}

// Events returns the events for [start, end) as seen by viewer. An
// identical consecutive range for the same viewer is answered from the
// cached projection without a backend call. Any other range replaces that
// viewer's cache; a failed fetch keeps the previous range key intact so
// the next attempt retries.
func (v *View) Events(ctx context.Context, cred upstream.Credential, viewer, start, end string) ([]Event, error) {
	key := start + "|" + end

	v.mu.Lock()
	if rc, ok := v.ranges[viewer]; ok && rc.key == key {
		v.mu.Unlock()
		return rc.events, nil
	}
	v.mu.Unlock()

	appts, err := v.appts.Range(ctx, cred, start, end)
	if err != nil {
		return nil, err
	}
	events := Project(appts)

	v.mu.Lock()
	if len(v.ranges) >= maxViewers {
		v.ranges = make(map[string]rangeCache)
	}
	v.ranges[viewer] = rangeCache{key: key, events: events}
	v.mu.Unlock()

	v.logger.Debug("calendar range fetched", "start", start, "end", end, "events", len(events))
	return events, nil
}

// Invalidate drops every cached range so the next Events call refetches.
// Called after a booking, status change, or delete lands; one session's
// mutation changes what every other session's calendar shows.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.ranges = make(map[string]rangeCache)
	v.mu.Unlock()
}
