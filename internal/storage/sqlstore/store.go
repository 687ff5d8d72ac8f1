// Package sqlstore implements storage.Storage over database/sql.
//
// The SQL is shared between the sqlite and mysql backends; the differences
// (schema types, how a write transaction is opened, how printer rows are
// locked, which driver errors are transient) are captured by a Dialect.
//
// Layout:
//   - store.go: Store, New, Close, transaction plumbing
//   - printers.go: printer CRUD and status updates
//   - catalog.go: gcodes, products, components
//   - entries.go: schedule entry reads and writes
//   - codec.go: column encodings (times, durations, windows, materials)
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/printfleet/printfleet/internal/storage"
)

// SchemaVersion is written to the metadata table on open.
const SchemaVersion = "1"

// Dialect captures the per-engine differences.
type Dialect struct {
	Name string
	// Schema is executed statement by statement on open; every statement
	// must be idempotent.
	Schema []string
	// BeginStmt opens a write transaction on a dedicated connection.
	BeginStmt string
	// LockSuffix is appended to the printer SELECT in LockPrinters. Empty
	// means BeginStmt already serialises writers.
	LockSuffix string
	// IsRetryable reports transient lock errors worth retrying on begin.
	IsRetryable func(error) bool
	// IsDuplicate reports unique-key violations.
	IsDuplicate func(error) bool
}

// querier is satisfied by *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Storage.
type Store struct {
	db      *sql.DB
	dialect *Dialect
	closed  atomic.Bool
	now     func() time.Time

	// beginRetries bounds retries of BeginStmt on transient lock errors.
	beginRetries uint64
}

var _ storage.Storage = (*Store)(nil)

// New initialises the schema on db and returns a Store that owns db.
func New(ctx context.Context, db *sql.DB, d *Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize schema (%s): %w", firstLine(stmt), err)
		}
	}
	if _, err := db.ExecContext(ctx, `REPLACE INTO metadata (meta_key, meta_value) VALUES (?, ?)`, "schema_version", SchemaVersion); err != nil {
		return nil, fmt.Errorf("failed to record schema version: %w", err)
	}
	return &Store{
		db:           db,
		dialect:      d,
		now:          time.Now,
		beginRetries: 5,
	}, nil
}

// SetClock overrides the timestamp source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying handle for backend-specific maintenance.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the engine name.
func (s *Store) Dialect() string {
	return s.dialect.Name
}

// GetMetadata reads a metadata value. Missing keys return "" and no error.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT meta_value FROM metadata WHERE meta_key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, wrapDBError("get metadata", err)
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	return nil
}

// RunInTransaction executes fn on a dedicated connection inside one
// transaction.
//
// Transaction lifecycle:
//  1. Acquire dedicated connection from pool
//  2. Run BeginStmt, retrying with backoff on transient lock errors
//  3. Execute fn with the Transaction interface
//  4. On success: COMMIT
//  5. On error or panic: ROLLBACK (panics are re-raised)
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	return s.inTx(ctx, func(conn *sql.Conn) error {
		return fn(&txStore{conn: conn, parent: s})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := s.begin(ctx, conn); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is cancelled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			// Rollback happens via the committed=false check above
			panic(r)
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) begin(ctx context.Context, conn *sql.Conn) error {
	op := func() error {
		_, err := conn.ExecContext(ctx, s.dialect.BeginStmt)
		if err != nil && (s.dialect.IsRetryable == nil || !s.dialect.IsRetryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 10 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, s.beginRetries), ctx))
}

func (s *Store) isDuplicate(err error) bool {
	return err != nil && s.dialect.IsDuplicate != nil && s.dialect.IsDuplicate(err)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return stmt[:i]
	}
	return stmt
}
