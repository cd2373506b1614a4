package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrSessionNotFound means no session exists for the given id (expired,
// logged out, or never created).
var ErrSessionNotFound = errors.New("auth: session not found")

// Session is one authenticated portal session. The token pair lives here and
// nowhere else; every read goes through the store so writes stay atomic.
type Session struct {
	ID           string `json:"id"`
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionStore persists sessions in Redis. Each session is a single JSON
// value; Save replaces the whole record in one SET so a reader never observes
// a new access token next to a stale refresh token.
type SessionStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewSessionStore creates a session store with the given TTL.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if client == nil {
		panic("auth: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("cabinet.internal.auth.sessions"),
	}
}

// Save writes the full session record and refreshes its TTL.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	ctx, span := s.tracer.Start(ctx, "auth.save_session")
	defer span.End()

	data, err := json.Marshal(sess)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("auth: encode session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("auth: persist session: %w", err)
	}
	return nil
}

// Load fetches a session by id.
func (s *SessionStore) Load(ctx context.Context, id string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "auth.load_session")
	defer span.End()

	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("auth: load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("auth: decode session: %w", err)
	}
	return &sess, nil
}

// Delete removes a session. Deleting an absent session is not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	ctx, span := s.tracer.Start(ctx, "auth.delete_session")
	defer span.End()

	if err := s.redis.Del(ctx, sessionKey(id)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("auth: delete session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return "session:" + id
}
