// Package device is the client half of the sync loop: a durable SQLite
// operation log, a local entity mirror, and the push/pull engine that runs
// against the server when connectivity allows.
package device

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the device's SQLite database connection
type DB struct {
	db *sql.DB
}

// OpenDB opens or creates the device database
func OpenDB(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &DB{db: db}
	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema initializes the device database schema
func (d *DB) initSchema() error {
	schema := `
	-- Durable operation log: one row per local edit, insertion-ordered,
	-- deleted only after the server acknowledges the operation
	CREATE TABLE IF NOT EXISTS oplog (
		sequence INTEGER PRIMARY KEY AUTOINCREMENT,
		op_id TEXT UNIQUE NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT,
		local_id TEXT,
		changes TEXT NOT NULL,
		clock TEXT NOT NULL,
		client_time REAL NOT NULL
	);

	-- Local mirror of entity state, optimistically updated by local edits and
	-- overwritten by pulled server state
	CREATE TABLE IF NOT EXISTS entities (
		entity_id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		fields TEXT NOT NULL,
		clock TEXT NOT NULL,
		deleted INTEGER DEFAULT 0,
		updated_at REAL DEFAULT (unixepoch())
	);

	-- Conflict records known to this device, replaced on every sync
	CREATE TABLE IF NOT EXISTS conflicts (
		conflict_id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		field TEXT NOT NULL,
		record TEXT NOT NULL,
		created_at REAL DEFAULT (unixepoch())
	);

	-- Permanent rejections kept for the UI to surface
	CREATE TABLE IF NOT EXISTS rejections (
		op_id TEXT PRIMARY KEY,
		entity_id TEXT,
		code TEXT NOT NULL,
		created_at REAL DEFAULT (unixepoch())
	);

	-- Device clock, last pulled server clock, local id mappings
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at REAL DEFAULT (unixepoch())
	);

	CREATE INDEX IF NOT EXISTS idx_oplog_entity ON oplog(entity_id);
	CREATE INDEX IF NOT EXISTS idx_conflicts_entity ON conflicts(entity_id);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}
