/*
Package sqlite provides a SQLite-backed implementation of generic.Ledger.

PURPOSE:
  Persists rooms, blackout windows, leave balances, commitments (bookings and
  leave requests) and the audit trail. In production, the same patterns apply
  to PostgreSQL - only minor SQL dialect differences (FOR UPDATE instead of
  BEGIN IMMEDIATE).

APPEND-ONLY ENFORCEMENT:
  - No DELETE statements anywhere
  - Commitments only change status and decision fields
  - audit_entries rejects UPDATE and DELETE through triggers

KEY TABLES:
  rooms, blackout_windows:    Resources and exclusion windows
  leave_balances:             One row per (user, policy); decimals as TEXT
  bookings:                   Room commitments, half-open [start_time, end_time)
  leave_requests:             Leave commitments, inclusive [start_date, end_date]
  audit_entries:              Immutable transition log

INDEXES:
  - idx_bookings_idempotency: UNIQUE (room_id, idempotency_key), the
    backstop behind replay detection
  - idx_bookings_room_active: overlap scan of approved bookings (hot path)
  - idx_leave_requests_user_dates: overlap scan of a user's requests

CONCURRENCY:
  Transactions start with BEGIN IMMEDIATE (_txlock=immediate) so the write
  lock is taken before the conflict check reads. Together with the Manager's
  per-resource lock this makes check-then-insert atomic.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

TIME ENCODING:
  Instants are stored as fixed-width UTC text (nanosecond precision) so
  lexicographic comparison in SQL matches chronological order. Calendar
  dates are stored as YYYY-MM-DD.

USAGE:
  ledger, err := sqlite.New("./data/reservations.db")
  if err != nil {
      log.Fatal(err)
  }
  defer ledger.Close()

  mgr := generic.NewManager(ledger, generic.NewKeyedLocker())

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/reservation-core/generic"
)

// timeLayout is fixed width so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements generic.Ledger using SQLite.
type Store struct {
	db *sql.DB
}

var _ generic.Ledger = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	inMemory := dbPath == ":memory:" || strings.HasPrefix(dbPath, "file::memory:")
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
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

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS blackout_windows (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		CHECK (start_time < end_time)
	);

	CREATE INDEX IF NOT EXISTS idx_blackouts_room
		ON blackout_windows(room_id, start_time, end_time);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL REFERENCES rooms(id),
		requester_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('approved', 'cancelled')),
		idempotency_key TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_time < end_time)
	);

	-- CRITICAL: replay backstop. One booking per (room, idempotency key).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_idempotency
		ON bookings(room_id, idempotency_key);

	CREATE INDEX IF NOT EXISTS idx_bookings_room_active
		ON bookings(room_id, start_time, end_time)
		WHERE status = 'approved';

	CREATE TABLE IF NOT EXISTS leave_balances (
		user_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		allocated_days TEXT NOT NULL,
		used_days TEXT NOT NULL,
		remaining_days TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, policy_id)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days INTEGER NOT NULL CHECK (total_days >= 1),
		reason TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'cancelled')),
		approver_id TEXT,
		approved_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (start_date <= end_date),
		FOREIGN KEY (user_id, policy_id) REFERENCES leave_balances(user_id, policy_id)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_user_dates
		ON leave_requests(user_id, start_date, end_date);

	CREATE TABLE IF NOT EXISTS audit_entries (
		id TEXT PRIMARY KEY,
		commitment_kind TEXT NOT NULL,
		commitment_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_commitment
		ON audit_entries(commitment_kind, commitment_id, created_at);

	CREATE TRIGGER IF NOT EXISTS audit_entries_no_update
		BEFORE UPDATE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END;

	CREATE TRIGGER IF NOT EXISTS audit_entries_no_delete
		BEFORE DELETE ON audit_entries
		BEGIN SELECT RAISE(ABORT, 'audit entries are append-only'); END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (generic.Ledger interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx generic.LedgerTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn against the database outside any transaction.
func (s *Store) View(ctx context.Context, fn func(tx generic.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&conn{q: s.db})
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Accept anything RFC3339 in case rows were written by hand.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func formatDate(t time.Time) string { return generic.DateOf(t).Format(generic.DateLayout) }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
