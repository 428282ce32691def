// Package store provides SQLite-backed storage for widget trees and their
// version history.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"widgetree/internal/tree"
	"widgetree/internal/version"
)

//go:embed schema.sql
var schemaSQL string

// DefaultBusyTimeout is used when Open is given a zero timeout.
const DefaultBusyTimeout = 5 * time.Second

// Stats counts statements issued against the database. Every query is one
// read and every exec one write, inside or outside a transaction.
type Stats struct {
	reads  atomic.Int64
	writes atomic.Int64
}

// Reads returns the number of read statements issued.
func (s *Stats) Reads() int64 {
	return s.reads.Load()
}

// Writes returns the number of write statements issued.
func (s *Stats) Writes() int64 {
	return s.writes.Load()
}

// Reset zeroes both counters.
func (s *Stats) Reset() {
	s.reads.Store(0)
	s.writes.Store(0)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// conn issues counted statements. It carries every read and write method so
// that DB and Tx share one implementation.
type conn struct {
	q     querier
	stats *Stats
}

func (c *conn) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	c.stats.writes.Add(1)
	return c.q.ExecContext(ctx, query, args...)
}

func (c *conn) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	c.stats.reads.Add(1)
	return c.q.QueryContext(ctx, query, args...)
}

func (c *conn) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	c.stats.reads.Add(1)
	return c.q.QueryRowContext(ctx, query, args...)
}

// DB wraps a SQLite connection pool.
type DB struct {
	conn
	db   *sql.DB
	path string
}

// Tx is an open transaction. It implements tree.Writer and version.Writer.
type Tx struct {
	conn
}

var (
	_ tree.Store     = (*DB)(nil)
	_ version.Store  = (*DB)(nil)
	_ version.Writer = (*Tx)(nil)
)

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string, busyTimeout time.Duration) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}

	// Pragmas go in the DSN so that every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	dsn := "file:" + dbPath + "?" + q.Encode()

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := sqldb.Exec(schemaSQL); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{
		conn: conn{q: sqldb, stats: &Stats{}},
		db:   sqldb,
		path: dbPath,
	}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Stats returns the statement counters.
func (db *DB) Stats() *Stats {
	return db.stats
}

// Begin starts a transaction. Callers must Commit or Rollback it.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	sqltx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{conn: conn{q: sqltx, stats: db.stats}}, nil
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	return tx.q.(*sql.Tx).Commit()
}

// Rollback aborts the transaction.
func (tx *Tx) Rollback() error {
	return tx.q.(*sql.Tx).Rollback()
}

// Atomic runs fn in a transaction and commits it if fn succeeds.
func (db *DB) Atomic(ctx context.Context, fn func(w tree.Writer) error) error {
	return db.withTx(ctx, func(tx *Tx) error { return fn(tx) })
}

// AtomicVersion is Atomic with the version writer.
func (db *DB) AtomicVersion(ctx context.Context, fn func(w version.Writer) error) error {
	return db.withTx(ctx, func(tx *Tx) error { return fn(tx) })
}

func (db *DB) withTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// notFound maps sql.ErrNoRows to tree.ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, tree.ErrNotFound)
	}
	return fmt.Errorf("querying %s: %w", what, err)
}

// placeholders returns "?,?,?" for n values.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
