// Package store provides SQLite-based persistence for deliberations and
// their submissions. Submission rows are append-only and participant-scoped;
// stage, round, and candidate ranks are only written through the state
// machine's critical section.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection with caucus-specific operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens an SQLite database at the given path, creating parent
// directories if needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Deliberations},
		{2, migrationV2Submissions},
		{3, migrationV3Statements},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Deliberations = `
CREATE TABLE IF NOT EXISTS deliberations (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT 'opinion',
	capacity INTEGER NOT NULL,
	critique_rounds INTEGER NOT NULL DEFAULT 1,
	round INTEGER NOT NULL DEFAULT 0,
	failure TEXT NOT NULL DEFAULT '',
	prior_stage TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	concluded_at DATETIME,
	finalized_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_deliberations_stage ON deliberations(stage);
`

const migrationV2Submissions = `
CREATE TABLE IF NOT EXISTS opinions (
	id TEXT PRIMARY KEY,
	deliberation_id TEXT NOT NULL REFERENCES deliberations(id),
	participant_id TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(deliberation_id, participant_id)
);

CREATE TABLE IF NOT EXISTS rankings (
	id TEXT PRIMARY KEY,
	deliberation_id TEXT NOT NULL REFERENCES deliberations(id),
	participant_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	ordered TEXT NOT NULL,
	predicted INTEGER NOT NULL DEFAULT 0,
	fallback INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	UNIQUE(deliberation_id, participant_id, round)
);

CREATE TABLE IF NOT EXISTS critiques (
	id TEXT PRIMARY KEY,
	deliberation_id TEXT NOT NULL REFERENCES deliberations(id),
	participant_id TEXT NOT NULL,
	round INTEGER NOT NULL,
	text TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	UNIQUE(deliberation_id, participant_id, round)
);

CREATE TABLE IF NOT EXISTS feedback (
	id TEXT PRIMARY KEY,
	deliberation_id TEXT NOT NULL REFERENCES deliberations(id),
	participant_id TEXT NOT NULL,
	agreement INTEGER NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(deliberation_id, participant_id)
);

CREATE INDEX IF NOT EXISTS idx_opinions_deliberation ON opinions(deliberation_id);
CREATE INDEX IF NOT EXISTS idx_rankings_deliberation ON rankings(deliberation_id, round);
CREATE INDEX IF NOT EXISTS idx_critiques_deliberation ON critiques(deliberation_id, round);
CREATE INDEX IF NOT EXISTS idx_feedback_deliberation ON feedback(deliberation_id);
`

const migrationV3Statements = `
CREATE TABLE IF NOT EXISTS statements (
	id TEXT PRIMARY KEY,
	deliberation_id TEXT NOT NULL REFERENCES deliberations(id),
	round INTEGER NOT NULL,
	text TEXT NOT NULL,
	rank INTEGER NOT NULL DEFAULT 0,
	ordinal INTEGER NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	explanation TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(deliberation_id, round, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_statements_deliberation ON statements(deliberation_id, round);
CREATE INDEX IF NOT EXISTS idx_statements_rank ON statements(deliberation_id, round, rank);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// Transaction runs the given function within a transaction.
func (db *DB) Transaction(fn func(tx *sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// formatNullableTime formats an optional time for SQLite storage.
func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
