// Package store provides the SQL persistence adapter for Guardian: rule
// documents, action/decision records, and approval requests.
//
// The backend is selected by DSN: "postgres://" or "postgresql://" uses
// PostgreSQL via pgx, anything else is treated as a SQLite file path
// (modernc, no cgo). Queries are written with ? placeholders and rebound to
// $N for PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store is the SQL-backed implementation of the Guardian persistence
// interfaces (policy.RuleStore, decision.RecordStore, approval.Store).
type Store struct {
	db         *sql.DB
	isPostgres bool
	logger     *slog.Logger
}

// Open connects to the database named by dsn, creates the schema when
// missing, and returns the store.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	if dsn == "" {
		dsn = "guardian.db"
	}
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	var db *sql.DB
	var err error
	if isPostgres {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	} else {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." && !strings.HasPrefix(dsn, ":") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// A shared in-memory database vanishes when its last connection
		// closes; a single pooled connection keeps it alive and also
		// serializes writers for file databases under test.
		if strings.Contains(dsn, ":memory:") {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db, isPostgres: isPostgres, logger: logger}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// IsPostgres reports whether the store is backed by PostgreSQL.
func (s *Store) IsPostgres() bool { return s.isPostgres }

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		policy_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		priority INTEGER NOT NULL,
		enabled INTEGER NOT NULL,
		document TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS actions (
		event_id TEXT PRIMARY KEY,
		trace_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		target TEXT NOT NULL,
		args_hash TEXT NOT NULL,
		context_json TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS decisions (
		event_id TEXT PRIMARY KEY,
		intent_event_id TEXT NOT NULL REFERENCES actions(event_id),
		decision TEXT NOT NULL,
		risk_score REAL NOT NULL,
		severity TEXT NOT NULL,
		reasons_json TEXT,
		policy_hits_json TEXT,
		rewrite_json TEXT,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS approvals (
		request_id TEXT PRIMARY KEY,
		intent_event_id TEXT NOT NULL,
		decision_event_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reviewer_id TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approvals_status_created ON approvals(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_intent ON decisions(intent_event_id);
	`
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into $N placeholders for PostgreSQL.
func rebind(isPostgres bool, query string) string {
	if !isPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// isDuplicate reports whether err is a primary-key/unique violation on
// either backend (SQLite "UNIQUE constraint failed", PostgreSQL SQLSTATE
// 23505 "duplicate key").
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "23505")
}

// timeLayout is RFC 3339 with a fixed-width nanosecond fraction. RFC3339Nano
// trims trailing zeros, which breaks lexicographic ORDER BY on the TEXT
// column for rows within the same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
