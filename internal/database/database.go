// Package database provides the SQLite-backed key and settings stores.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB implements keystore.Store and settings.Store on a single SQLite file.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Config contains the database configuration.
type Config struct {
	// Path is the path to the SQLite database file.
	Path string
	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int
	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a default database configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "data/chatgate.db",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// New creates a new database connection and initializes the schema.
func New(config Config) (*DB, error) {
	if err := ensureDirExists(filepath.Dir(config.Path)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.Path+"?_journal=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory SQLite databases are per-connection; force a single
	// connection so schema and data stay visible across queries.
	if config.Path == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		_ = d.db.Close()
	}
	return nil
}

// SetClock overrides the store's clock. Intended for tests.
func (d *DB) SetClock(now func() time.Time) {
	d.now = now
}

// ensureDirExists creates the directory if it doesn't exist.
func ensureDirExists(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return os.MkdirAll(dir, 0755)
	} else if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s exists and is not a directory", dir)
	}
	return nil
}

// initSchema creates the tables and indexes if they don't exist.
func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
	-- Access keys. daily_limit IS NULL marks a legacy row that is migrated
	-- in place on first read; max_activations is the legacy seat count the
	-- migration infers the daily limit from.
	CREATE TABLE IF NOT EXISTS access_keys (
		key TEXT PRIMARY KEY,
		expires_at DATETIME,
		daily_limit INTEGER,
		usage_date TEXT,
		usage_count INTEGER NOT NULL DEFAULT 0,
		session_timeout_minutes INTEGER,
		max_activations INTEGER,
		selected_model TEXT,
		selected_api_profile_id TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_access_keys_expires_at ON access_keys(expires_at);

	-- Alternate upstream endpoints a key can select.
	CREATE TABLE IF NOT EXISTS api_profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		api_url TEXT NOT NULL,
		api_key TEXT NOT NULL,
		speed TEXT NOT NULL DEFAULT 'standard',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		capabilities TEXT NOT NULL DEFAULT '[]',
		description TEXT NOT NULL DEFAULT '',
		model_actual TEXT NOT NULL DEFAULT ''
	);

	-- Selectable model configurations with per-model system prompts.
	CREATE TABLE IF NOT EXISTS model_configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT ''
	);

	-- Global settings singleton (always exactly one row, id = 1).
	CREATE TABLE IF NOT EXISTS gateway_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		api_url TEXT NOT NULL DEFAULT '',
		api_key TEXT NOT NULL DEFAULT '',
		model_display TEXT NOT NULL DEFAULT '',
		model_actual TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT ''
	);
	INSERT OR IGNORE INTO gateway_settings (id) VALUES (1);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
