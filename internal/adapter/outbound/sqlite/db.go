// Package sqlite provides the persistent catalog store backing the
// tool registry and workflow engine. One database file holds tools,
// categories, workflows, terminal executions, and the event log.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// SQLite driver (required for database/sql registration).
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database and implements the persistent store
// interfaces of the tool, category, and workflow domains.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the SQLite database at the given path, creating the file,
// its parent directories, and the schema if they don't exist.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout, synchronous, and foreign_keys are per-connection
	// settings; a single pooled connection keeps them in force for every
	// statement and sidesteps SQLite's one-writer lock contention.
	db.SetMaxOpenConns(1)

	// Concurrency and durability pragmas.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("database ready", "path", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection, for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) init() error {
	schema := `
	-- ============================================================
	-- TOOL CATALOG
	-- ============================================================
	-- The document column is the canonical JSON-serialized tool;
	-- the remaining columns are a flattened projection for queries.
	-- Tags and metrics are stored as JSON strings in their own
	-- columns; embeddings live in a binary column outside the
	-- document.

	CREATE TABLE IF NOT EXISTS tools (
		name            TEXT PRIMARY KEY,
		document        TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		category        TEXT NOT NULL DEFAULT '',
		tags            TEXT NOT NULL DEFAULT '[]',
		metrics         TEXT NOT NULL DEFAULT '{}',
		use_count       INTEGER NOT NULL DEFAULT 0,
		last_used       INTEGER,
		embedding       BLOB,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tools_category ON tools(category);

	-- ============================================================
	-- CATEGORIES
	-- ============================================================

	CREATE TABLE IF NOT EXISTS categories (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		parent_id       TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id);

	-- ============================================================
	-- WORKFLOWS & EXECUTIONS
	-- ============================================================

	CREATE TABLE IF NOT EXISTS workflows (
		id              TEXT PRIMARY KEY,
		document        TEXT NOT NULL,
		name            TEXT NOT NULL,
		tags            TEXT NOT NULL DEFAULT '[]',
		run_count       INTEGER NOT NULL DEFAULT 0,
		last_run        INTEGER,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	);

	-- Terminal executions only; live progress stays in memory.
	CREATE TABLE IF NOT EXISTS executions (
		id              TEXT PRIMARY KEY,
		workflow_id     TEXT NOT NULL,
		document        TEXT NOT NULL,
		status          TEXT NOT NULL,
		success         INTEGER NOT NULL DEFAULT 0,
		started_at      INTEGER NOT NULL,
		finished_at     INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at DESC);

	-- ============================================================
	-- EVENT LOG
	-- ============================================================

	CREATE TABLE IF NOT EXISTS events (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		kind            TEXT NOT NULL,
		subject         TEXT NOT NULL DEFAULT '',
		detail          TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}
