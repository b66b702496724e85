/*
Package sqlite provides the SQLite-backed audit log.

PURPOSE:
  Persists the lifecycle of every draft (opened, submitted, approved,
  rejected, commission_calculated, discarded, expired) and every run of
  the idle-draft reaper. Transactions themselves live in the calculation
  service; nothing here is a source of truth for deal data.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on audit_entries
  - Entry ids are unique; a second append of the same id fails

KEY TABLES:
  audit_entries: One row per draft lifecycle event
  reaper_runs:   One row per DraftReaper tick

INDEXES:
  - idx_audit_transaction: history of a transaction (GET /api/audit)
  - idx_audit_draft:       history of a draft

CONCURRENCY:
  Uses sync.RWMutex for thread-safety; SQLite allows one writer.

WAL MODE:
  Opened with WAL so readers never block the writer.

USAGE:
  store, err := sqlite.New("./data/deal-desk.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  manager := session.NewManager(client, store, opts)

SEE ALSO:
  - session/calculator.go: AuditLog interface
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/session"
)

// ErrDuplicateEntry is returned when an audit entry id already exists.
var ErrDuplicateEntry = errors.New("duplicate audit entry id")

// Fixed-width UTC timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements session.AuditLog using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Draft lifecycle events (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		draft_id TEXT NOT NULL,
		transaction_id TEXT,
		actor_id TEXT NOT NULL,
		role TEXT NOT NULL,
		action TEXT NOT NULL,
		detail_json TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_transaction
		ON audit_entries(transaction_id, at);

	CREATE INDEX IF NOT EXISTS idx_audit_draft
		ON audit_entries(draft_id, at);

	-- Idle-draft reaper runs
	CREATE TABLE IF NOT EXISTS reaper_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		expired INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// AUDIT LOG (session.AuditLog interface)
// =============================================================================

// Append adds an audit entry.
func (s *Store) Append(ctx context.Context, e session.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		return errors.New("audit entry id is required")
	}

	var detailJSON sql.NullString
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
		detailJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO audit_entries
		(id, draft_id, transaction_id, actor_id, role, action, detail_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.DraftID,
		nullString(e.TransactionID),
		e.ActorID,
		string(e.Role),
		string(e.Action),
		detailJSON,
		e.At.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries oldest first. A Limit keeps the newest.
func (s *Store) Query(ctx context.Context, f session.AuditFilter) ([]session.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if f.DraftID != "" {
		where = append(where, "draft_id = ?")
		args = append(args, f.DraftID)
	}
	if f.TransactionID != "" {
		where = append(where, "transaction_id = ?")
		args = append(args, f.TransactionID)
	}

	inner := `
		SELECT seq, id, draft_id, transaction_id, actor_id, role, action, detail_json, at
		FROM audit_entries`
	if len(where) > 0 {
		inner += " WHERE " + strings.Join(where, " AND ")
	}
	inner += " ORDER BY at DESC, seq DESC"
	if f.Limit > 0 {
		inner += " LIMIT ?"
		args = append(args, f.Limit)
	}

	query := `SELECT id, draft_id, transaction_id, actor_id, role, action, detail_json, at
		FROM (` + inner + `) ORDER BY at ASC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []session.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (session.AuditEntry, error) {
	var (
		e             session.AuditEntry
		transactionID sql.NullString
		role          string
		action        string
		detailJSON    sql.NullString
		at            string
	)

	err := rows.Scan(&e.ID, &e.DraftID, &transactionID, &e.ActorID, &role, &action, &detailJSON, &at)
	if err != nil {
		return e, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	e.TransactionID = transactionID.String
	e.Role = deal.Role(role)
	e.Action = session.AuditAction(action)
	e.At, _ = time.Parse(timeLayout, at)
	if detailJSON.Valid && detailJSON.String != "" {
		if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
			return e, fmt.Errorf("failed to decode audit detail: %w", err)
		}
	}
	return e, nil
}

// =============================================================================
// REAPER RUNS
// =============================================================================

// ReaperRun records one tick of the idle-draft reaper.
type ReaperRun struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"` // running, completed
	Expired     int        `json:"expired"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SaveReaperRun inserts or updates a reaper run.
func (s *Store) SaveReaperRun(ctx context.Context, r ReaperRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reaper_runs (id, status, expired, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			expired = excluded.expired,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		c := r.CompletedAt.UTC().Format(timeLayout)
		completedAt = &c
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Status, r.Expired, nullString(r.Error),
		r.StartedAt.UTC().Format(timeLayout), completedAt,
	)
	return err
}

// GetReaperRuns returns the most recent reaper runs, newest first.
func (s *Store) GetReaperRuns(ctx context.Context, limit int) ([]ReaperRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, expired, error, started_at, completed_at
		FROM reaper_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ReaperRun
	for rows.Next() {
		var r ReaperRun
		var runErr, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&r.ID, &r.Status, &r.Expired, &runErr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		r.Error = runErr.String
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(timeLayout, completedAt.String)
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
