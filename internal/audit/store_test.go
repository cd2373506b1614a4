package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestRecordInsertsEntry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("INSERT INTO audit_entries").
		WithArgs(pgxmock.AnyArg(), int64(7), "doctor", ActionStatusChange,
			"appointment", "42", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewStore(mock)
	err = store.Record(context.Background(), Entry{
		ActorID:   7,
		ActorRole: "doctor",
		Action:    ActionStatusChange,
		Entity:    "appointment",
		EntityID:  "42",
		Detail:    map[string]any{"from": "scheduled", "to": "confirmed"},
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordOnNilStoreIsNoop(t *testing.T) {
	var store *Store
	if err := store.Record(context.Background(), Entry{Action: ActionLogin}); err != nil {
		t.Fatalf("nil store must drop entries, got %v", err)
	}
}

func TestForEntityScansTrail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "actor_id", "actor_role", "action", "entity", "entity_id", "detail", "created_at",
	}).AddRow(
		uuid.New(), int64(7), "secretary", ActionDelete, "appointment", "42",
		[]byte(`{"reason":"duplicate"}`), now,
	)
	mock.ExpectQuery("SELECT (.+) FROM audit_entries").
		WithArgs("appointment", "42").
		WillReturnRows(rows)

	store := NewStore(mock)
	entries, err := store.ForEntity(context.Background(), "appointment", "42")
	if err != nil {
		t.Fatalf("ForEntity: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Detail["reason"] != "duplicate" {
		t.Errorf("unexpected detail %+v", entries[0].Detail)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecentUsesDefaultLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM audit_entries").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "actor_id", "actor_role", "action", "entity", "entity_id", "detail", "created_at",
		}))

	store := NewStore(mock)
	entries, err := store.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty trail, got %d", len(entries))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
