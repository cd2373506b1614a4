// Package notifications fetches user notifications from the backend and
// fans them out to connected portal clients, either by polling or over a
// backend websocket stream.
package notifications

import (
	"context"
	"fmt"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

// Notification is one backend notification.
type Notification struct {
	ID            int64  `json:"id"`
	Type          string `json:"notification_type"`
	Message       string `json:"message"`
	Read          bool   `json:"is_read"`
	CreatedAt     string `json:"created_at"`
	AppointmentID int64  `json:"appointment_id,omitempty"`
}

// Service reads and acknowledges notifications for the signed-in user.
type Service struct {
	api    *upstream.Client
	logger *logging.Logger
}

func NewService(api *upstream.Client, logger *logging.Logger) *Service {
	return &Service{api: api, logger: logger.Component("notifications")}
}

func (s *Service) List(ctx context.Context, cred upstream.Credential) ([]Notification, error) {
	var items []Notification
	if err := s.api.Get(ctx, cred, "/notifications/", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Unread returns the notifications not yet acknowledged.
func (s *Service) Unread(ctx context.Context, cred upstream.Credential) ([]Notification, error) {
	items, err := s.List(ctx, cred)
	if err != nil {
		return nil, err
	}
	unread := items[:0]
	for _, n := range items {
		if !n.Read {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

// MarkRead acknowledges one notification. The UI flips the notification
// immediately, so a failed acknowledgement is logged and swallowed; the
// next poll reconciles the state.
func (s *Service) MarkRead(ctx context.Context, cred upstream.Credential, id int64) {
	path := fmt.Sprintf("/notifications/%d/mark-read/", id)
	if err := s.api.Post(ctx, cred, path, nil, nil); err != nil {
		s.logger.Debug("mark-read failed", "notification_id", id, "error", err)
	}
}

// MarkAllRead acknowledges everything, with the same optimistic contract
// as MarkRead.
func (s *Service) MarkAllRead(ctx context.Context, cred upstream.Credential) {
	if err := s.api.Post(ctx, cred, "/notifications/mark-all-read/", nil, nil); err != nil {
		s.logger.Debug("mark-all-read failed", "error", err)
	}
}
