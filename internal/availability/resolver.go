// Package availability resolves bookable time slots for a doctor and date.
// When the backend has no slots for a date, a default office-hours grid is
// synthesized client-side; synthesized slots never leave the portal as real
// slot ids.
package availability

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

const (
	// synthesizedPrefix marks client-generated slot ids so they can never be
	// mistaken for backend ids.
	synthesizedPrefix = "client-"

	defaultGridStartHour = 8
	defaultGridEndHour   = 18
	defaultGridStep      = 30 * time.Minute
)

// Slot is one bookable interval for a doctor on a date.
type Slot struct {
	ID          string `json:"id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Available   bool   `json:"is_available"`
	Synthesized bool   `json:"is_default,omitempty"`
}

// BookableID returns the backend slot id, or "" when the slot was synthesized
// and must not be submitted.
func (s Slot) BookableID() string {
	if s.Synthesized || strings.HasPrefix(s.ID, synthesizedPrefix) {
		return ""
	}
	return s.ID
}

// Resolver fetches slots from the appointments service.
type Resolver struct {
	api    *upstream.Client
	logger *logging.Logger
}

// NewResolver creates a slot resolver.
func NewResolver(api *upstream.Client, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{api: api, logger: logger.Component("availability")}
}

// Resolve returns the available slots for one doctor on one date. Missing
// doctor or date resolves to an empty list without touching the backend.
// Zero backend slots, or a failed call, falls back to the default grid.
func (r *Resolver) Resolve(ctx context.Context, cred upstream.Credential, doctorID, date string) ([]Slot, error) {
	if strings.TrimSpace(doctorID) == "" || strings.TrimSpace(date) == "" {
		return nil, nil
	}

	query := url.Values{}
	query.Set("doctor_id", doctorID)
	query.Set("start_date", date)
	query.Set("end_date", date)
	query.Set("include_unavailable", "false")

	var slots []Slot
	if err := r.api.Get(ctx, cred, "/appointments/timeslots/", query, &slots); err != nil {
		if upstream.IsAuth(err) {
			return nil, err
		}
		// The office still takes appointments during nominal hours when the
		// slot list is unreachable.
		r.logger.Warn("slot fetch failed, using default grid", "doctor_id", doctorID, "date", date, "error", err)
		return DefaultGrid(date), nil
	}
	if len(slots) == 0 {
		return DefaultGrid(date), nil
	}
	return slots, nil
}

// DefaultGrid synthesizes half-hour slots over the office's nominal hours,
// 08:00 up to (not including) 18:00. Every slot is available and flagged
// synthesized.
func DefaultGrid(date string) []Slot {
	slots := make([]Slot, 0, (defaultGridEndHour-defaultGridStartHour)*2)
	day := time.Date(0, 1, 1, defaultGridStartHour, 0, 0, 0, time.UTC)
	end := time.Date(0, 1, 1, defaultGridEndHour, 0, 0, 0, time.UTC)

	for cursor := day; cursor.Before(end); cursor = cursor.Add(defaultGridStep) {
		next := cursor.Add(defaultGridStep)
		slots = append(slots, Slot{
			ID:          fmt.Sprintf("%s%02d-%02d", synthesizedPrefix, cursor.Hour(), cursor.Minute()),
			Date:        date,
			StartTime:   cursor.Format("15:04"),
			EndTime:     next.Format("15:04"),
			Available:   true,
			Synthesized: true,
		})
	}
	return slots
}
