// Package storage provides an optional database/sql-backed durable sink for
// the audit ledger and notification history. Selecting a driver is the
// composition root's job (blank-imported by DATABASE_URL scheme); this
// package only issues portable SQL against whichever *sql.DB it is given.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidInput indicates a caller passed an empty/invalid argument.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrNotFound indicates no matching row.
	ErrNotFound = errors.New("storage: not found")
	// ErrDB wraps an underlying driver error.
	ErrDB = errors.New("storage: db error")
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateTableName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid table name %q", ErrInvalidInput, name)
	}
	return nil
}

// Dialect selects placeholder syntax and driver-specific DDL.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Clock supplies timestamps; defaults to time.Now().UTC() so tests can pin it.
type Clock func() time.Time

// Options configures a Store.
type Options struct {
	Dialect        Dialect
	AuditTable     string // default "courier_audit_entries"
	NotifyTable    string // default "courier_notifications"
	Clock          Clock
}

// Store is a durable backing for audit entries and notification records,
// independent of the in-memory internal/audit and internal/notify state
// each component also keeps for hot-path reads.
type Store struct {
	db          *sql.DB
	dialect     Dialect
	auditTable  string
	notifyTable string
	clock       Clock
}

// Open wraps an already-opened *sql.DB (the driver import and sql.Open call
// are the composition root's responsibility, matching how the teacher's own
// storage layer takes an *sql.DB rather than a DSN).
func Open(db *sql.DB, opt Options) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db is nil", ErrInvalidInput)
	}
	dialect := opt.Dialect
	if dialect == "" {
		dialect = DialectPostgres
	}
	auditTable := strings.TrimSpace(opt.AuditTable)
	if auditTable == "" {
		auditTable = "courier_audit_entries"
	}
	notifyTable := strings.TrimSpace(opt.NotifyTable)
	if notifyTable == "" {
		notifyTable = "courier_notifications"
	}
	if err := validateTableName(auditTable); err != nil {
		return nil, err
	}
	if err := validateTableName(notifyTable); err != nil {
		return nil, err
	}
	clock := opt.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Store{db: db, dialect: dialect, auditTable: auditTable, notifyTable: notifyTable, clock: clock}, nil
}

// ph returns the n-th (1-based) placeholder in this store's dialect.
func (s *Store) ph(n int) string {
	if s.dialect == DialectSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// EnsureSchema creates both backing tables if they do not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	auditDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id          TEXT PRIMARY KEY,
  ts          TIMESTAMP NOT NULL,
  actor_id    TEXT NOT NULL,
  action      TEXT NOT NULL,
  resource    TEXT NOT NULL,
  result      TEXT NOT NULL,
  metadata    TEXT NOT NULL,
  prev_hash   TEXT NOT NULL,
  hash        TEXT NOT NULL
);`, s.auditTable)
	notifyDDL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id            TEXT PRIMARY KEY,
  recipient_id  TEXT NOT NULL,
  channel       TEXT NOT NULL,
  template_id   TEXT NOT NULL,
  priority      TEXT NOT NULL,
  status        TEXT NOT NULL,
  attempts      INTEGER NOT NULL,
  created_at    TIMESTAMP NOT NULL,
  updated_at    TIMESTAMP NOT NULL
);`, s.notifyTable)

	if _, err := s.db.ExecContext(ctx, auditDDL); err != nil {
		return fmt.Errorf("%w: ensure audit schema: %v", ErrDB, err)
	}
	if _, err := s.db.ExecContext(ctx, notifyDDL); err != nil {
		return fmt.Errorf("%w: ensure notify schema: %v", ErrDB, err)
	}
	return nil
}

// AuditRow mirrors internal/audit.Entry for durable persistence.
type AuditRow struct {
	ID         string
	Timestamp  time.Time
	ActorID    string
	Action     string
	Resource   string
	Result     string
	Metadata   map[string]any
	PrevHash   string
	Hash       string
}

// AppendAudit persists one audit entry. Callers append to the in-memory hash
// chain first and pass the already-stamped row here; this store never
// computes hashes itself.
func (s *Store) AppendAudit(ctx context.Context, row AuditRow) error {
	if row.ID == "" || row.Hash == "" {
		return fmt.Errorf("%w: id and hash are required", ErrInvalidInput)
	}
	metaJSON, err := canonicalJSON(row.Metadata)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, ts, actor_id, action, resource, result, metadata, prev_hash, hash)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s);`,
		s.auditTable, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9))
	_, err = s.db.ExecContext(ctx, q, row.ID, row.Timestamp, row.ActorID, row.Action, row.Resource, row.Result, metaJSON, row.PrevHash, row.Hash)
	if err != nil {
		return fmt.Errorf("%w: append audit: %v", ErrDB, err)
	}
	return nil
}

// ListAudit returns persisted audit rows in append order.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditRow, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := fmt.Sprintf(`SELECT id, ts, actor_id, action, resource, result, metadata, prev_hash, hash
FROM %s ORDER BY ts ASC LIMIT %s;`, s.auditTable, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list audit: %v", ErrDB, err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var metaJSON string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.ActorID, &r.Action, &r.Resource, &r.Result, &metaJSON, &r.PrevHash, &r.Hash); err != nil {
			return nil, fmt.Errorf("%w: scan audit row: %v", ErrDB, err)
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &r.Metadata)
		}
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// NotificationRow mirrors the persisted subset of internal/notify.Notification.
type NotificationRow struct {
	ID          string
	RecipientID string
	Channel     string
	TemplateID  string
	Priority    string
	Status      string
	Attempts    int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertNotification inserts or replaces a notification's durable row.
func (s *Store) UpsertNotification(ctx context.Context, row NotificationRow) error {
	if row.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = s.clock()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = row.UpdatedAt
	}

	var q string
	switch s.dialect {
	case DialectSQLite:
		q = fmt.Sprintf(`INSERT INTO %s (id, recipient_id, channel, template_id, priority, status, attempts, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, attempts=excluded.attempts, updated_at=excluded.updated_at;`, s.notifyTable)
	default:
		q = fmt.Sprintf(`INSERT INTO %s (id, recipient_id, channel, template_id, priority, status, attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, attempts = EXCLUDED.attempts, updated_at = EXCLUDED.updated_at;`, s.notifyTable)
	}

	_, err := s.db.ExecContext(ctx, q, row.ID, row.RecipientID, row.Channel, row.TemplateID, row.Priority, row.Status, row.Attempts, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert notification: %v", ErrDB, err)
	}
	return nil
}

// GetNotification returns a durable notification row by id.
func (s *Store) GetNotification(ctx context.Context, id string) (NotificationRow, error) {
	q := fmt.Sprintf(`SELECT id, recipient_id, channel, template_id, priority, status, attempts, created_at, updated_at
FROM %s WHERE id = %s;`, s.notifyTable, s.ph(1))
	var r NotificationRow
	err := s.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.RecipientID, &r.Channel, &r.TemplateID, &r.Priority, &r.Status, &r.Attempts, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotificationRow{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return NotificationRow{}, fmt.Errorf("%w: get notification: %v", ErrDB, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// canonicalJSON serializes v with map keys sorted, matching internal/audit's
// own canonicalization so durable rows hash-verify against the in-memory
// chain if ever cross-checked.
func canonicalJSON(v map[string]any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]struct {
		K string
		V any
	}, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, struct {
			K string
			V any
		}{k, v[k]})
	}
	b := strings.Builder{}
	b.WriteByte('{')
	for i, kv := range ordered {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(kv.K)
		vb, err := json.Marshal(kv.V)
		if err != nil {
			return "", err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String(), nil
}
