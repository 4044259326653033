// Package store implements the Session Store: the embedded relational store
// holding sessions and approval_tasks, the only source of truth for
// resumable daemon state across restarts.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB for either sqlite or postgres, selected by the
// scheme of the database URL passed to Open, following the same
// dual-dialect detection as Intercessio's teacher codebase.
type Store struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

// Open opens (and creates, for sqlite) the database named by databaseURL.
// A "sqlite://" prefix or a bare path selects sqlite; "postgres://" selects
// Postgres.
func Open(databaseURL string) (*Store, error) {
	driver, dsn := detectDriver(databaseURL)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			return nil, fmt.Errorf("store: set WAL mode: %w", err)
		}
		if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
			return nil, fmt.Errorf("store: set busy_timeout: %w", err)
		}
		if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
			return nil, fmt.Errorf("store: enable foreign keys: %w", err)
		}
		if _, err := db.Exec(`PRAGMA synchronous=NORMAL`); err != nil {
			return nil, fmt.Errorf("store: set synchronous mode: %w", err)
		}
		db.SetMaxOpenConns(4)
	}

	return &Store{db: db, driver: driver}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func detectDriver(databaseURL string) (driver, dsn string) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return "postgres", databaseURL
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return "sqlite", strings.TrimPrefix(databaseURL, "sqlite://")
	default:
		return "sqlite", databaseURL
	}
}

// ph returns a driver-appropriate positional placeholder for argument index
// n (1-based): "?" for sqlite, "$n" for postgres.
func (s *Store) ph(n int) string {
	if s.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Migrate applies additive schema migrations. Safe to call on every boot.
func (s *Store) Migrate() error {
	stmts := commonMigrations
	if s.driver == "postgres" {
		stmts = append(stmts, postgresOnlyMigrations...)
	} else {
		stmts = append(stmts, sqliteOnlyMigrations...)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration failed (%q): %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// commonMigrations is additive-only: every statement uses IF NOT EXISTS so
// re-running against an up-to-date database is a no-op, and new columns
// introduced by a later version get a safe default rather than a
// destructive rewrite.
var commonMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		key_id TEXT NOT NULL,
		alias TEXT NOT NULL DEFAULT '',
		relays_json TEXT NOT NULL DEFAULT '[]',
		secret TEXT,
		uri TEXT,
		auto_approve INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'waiting',
		last_client TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		template TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active)`,
	`CREATE TABLE IF NOT EXISTS approval_tasks (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		session_alias TEXT NOT NULL DEFAULT '',
		session_type TEXT NOT NULL DEFAULT '',
		client TEXT NOT NULL DEFAULT '',
		event_kind INTEGER NOT NULL DEFAULT 0,
		event_summary TEXT NOT NULL DEFAULT '',
		policy_id TEXT NOT NULL DEFAULT '',
		policy_label TEXT NOT NULL DEFAULT '',
		draft_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_tasks_session ON approval_tasks(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_approval_tasks_status ON approval_tasks(status)`,
}

var sqliteOnlyMigrations = []string{}

var postgresOnlyMigrations = []string{}
