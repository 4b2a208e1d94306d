package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store, err := Open(db, Options{Dialect: DialectSQLite, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return store
}

func TestAppendAndListAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := AuditRow{
		ID:        "a1",
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ActorID:   "user-1",
		Action:    "read:own_delivery",
		Resource:  "delivery/D1",
		Result:    "success",
		Metadata:  map[string]any{"b": 2, "a": 1},
		PrevHash:  "GENESIS",
		Hash:      "deadbeef",
	}
	if err := s.AppendAudit(ctx, row); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	rows, err := s.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(rows) != 1 || rows[0].Hash != "deadbeef" {
		t.Fatalf("expected one matching row, got %+v", rows)
	}
}

func TestAppendAuditRejectsMissingID(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendAudit(context.Background(), AuditRow{Hash: "x"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpsertAndGetNotification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := NotificationRow{
		ID:          "n1",
		RecipientID: "user-1",
		Channel:     "push",
		TemplateID:  "delivery_arriving",
		Priority:    "normal",
		Status:      "pending",
		Attempts:    1,
	}
	if err := s.UpsertNotification(ctx, row); err != nil {
		t.Fatalf("UpsertNotification: %v", err)
	}

	row.Status = "sent"
	row.Attempts = 2
	if err := s.UpsertNotification(ctx, row); err != nil {
		t.Fatalf("UpsertNotification (update): %v", err)
	}

	got, err := s.GetNotification(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNotification: %v", err)
	}
	if got.Status != "sent" || got.Attempts != 2 {
		t.Fatalf("expected updated row, got %+v", got)
	}
}

func TestGetNotificationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetNotification(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for missing notification")
	}
}

func TestValidateTableNameRejectsInjectionAttempt(t *testing.T) {
	if err := validateTableName("x; DROP TABLE y"); err == nil {
		t.Fatal("expected invalid table name to be rejected")
	}
}
