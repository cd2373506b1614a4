// Package audit persists a local trail of privileged portal actions:
// status transitions, deletions, and record access. The backend holds the
// clinical truth; this trail answers who did what through the portal.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Entry is one audited action.
type Entry struct {
	ID        uuid.UUID
	ActorID   int64
	ActorRole string
	Action    string
	Entity    string
	EntityID  string
	Detail    map[string]any
	CreatedAt time.Time
}

// Actions recorded by the portal.
const (
	ActionStatusChange = "appointment.status_change"
	ActionDelete       = "appointment.delete"
	ActionBooking      = "appointment.create"
	ActionRecordAccess = "record.access"
	ActionFileDownload = "record.file_download"
	ActionLogin        = "session.login"
	ActionLogout       = "session.logout"
)

type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Record appends one entry. A nil store (no database configured) drops
// the entry silently so handlers do not have to branch.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if s == nil {
		return nil
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("audit: encode detail: %w", err)
	}
	query := `
		INSERT INTO audit_entries (id, actor_id, actor_role, action, entity, entity_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.pool.Exec(ctx, query,
		entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.Entity, entry.EntityID, detail); err != nil {
		return fmt.Errorf("audit: record entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, actor_id, actor_role, action, entity, entity_id, detail, created_at
		FROM audit_entries
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ForEntity returns the trail for one entity, newest first.
func (s *Store) ForEntity(ctx context.Context, entity, entityID string) ([]Entry, error) {
	query := `
		SELECT id, actor_id, actor_role, action, entity, entity_id, detail, created_at
		FROM audit_entries
		WHERE entity = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, entity, entityID)
	if err != nil {
		return nil, fmt.Errorf("audit: list for entity: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorRole, &e.Action, &e.Entity, &e.EntityID, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("audit: decode detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return entries, nil
}
