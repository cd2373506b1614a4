// Package chat proxies the backend messaging threads between patients
// and clinic staff.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/cabinetmed/cabinet-portal/internal/upstream"
	"github.com/cabinetmed/cabinet-portal/pkg/logging"
)

type Conversation struct {
	ID            int64  `json:"id"`
	Subject       string `json:"subject"`
	Participant   string `json:"participant"`
	ParticipantID int64  `json:"participant_id"`
	LastMessage   string `json:"last_message"`
	UnreadCount   int    `json:"unread_count"`
	UpdatedAt     string `json:"updated_at"`
}

type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Content        string `json:"content"`
	SentAt         string `json:"sent_at"`
	Read           bool   `json:"is_read"`
}

type Service struct {
	api    *upstream.Client
	logger *logging.Logger
}

func NewService(api *upstream.Client, logger *logging.Logger) *Service {
	return &Service{api: api, logger: logger.Component("chat")}
}

func (s *Service) Conversations(ctx context.Context, cred upstream.Credential) ([]Conversation, error) {
	var items []Conversation
	if err := s.api.Get(ctx, cred, "/chat/conversations/", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Start opens a conversation with another user, or returns the existing
// one if the backend already has a thread between the pair.
func (s *Service) Start(ctx context.Context, cred upstream.Credential, participantID int64, subject string) (*Conversation, error) {
	if participantID <= 0 {
		return nil, upstream.NewValidation("participant", "a participant must be selected")
	}
	var conv Conversation
	body := map[string]any{"participant_id": participantID, "subject": subject}
	if err := s.api.Post(ctx, cred, "/chat/conversations/", body, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Service) Messages(ctx context.Context, cred upstream.Credential, conversationID int64) ([]Message, error) {
	var items []Message
	path := fmt.Sprintf("/chat/conversations/%d/messages/", conversationID)
	if err := s.api.Get(ctx, cred, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) Send(ctx context.Context, cred upstream.Credential, conversationID int64, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, upstream.NewValidation("content", "message content is required")
	}
	var msg Message
	path := fmt.Sprintf("/chat/conversations/%d/messages/", conversationID)
	if err := s.api.Post(ctx, cred, path, map[string]string{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead acknowledges a thread. Same optimistic contract as
// notification acknowledgements: failures are logged and the next fetch
// reconciles.
func (s *Service) MarkRead(ctx context.Context, cred upstream.Credential, conversationID int64) {
	path := fmt.Sprintf("/chat/conversations/%d/mark-read/", conversationID)
	if err := s.api.Post(ctx, cred, path, nil, nil); err != nil {
		s.logger.Debug("conversation mark-read failed", "conversation_id", conversationID, "error", err)
	}
}
