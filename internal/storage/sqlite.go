// Package storage opens and migrates the embedded SQLite database shared by
// the conversation, usage, and offline-queue stores.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds SQLite connection configuration.
type Config struct {
	// Path is the database file path. ":memory:" opens an in-process
	// database, useful for tests.
	Path string `yaml:"path"`

	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DefaultConfig returns default storage configuration.
func DefaultConfig() Config {
	return Config{
		Path:        "navixmind.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Open opens the database, applies pragmas, and runs migrations.
func Open(config Config) (*sql.DB, error) {
	if config.Path == "" {
		config = DefaultConfig()
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		config.Path, config.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema if it does not exist.
func Migrate(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		archived INTEGER NOT NULL DEFAULT 0,
		summary TEXT NOT NULL DEFAULT '',
		summarized_up_to_id INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		token_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, id)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL REFERENCES messages(id),
		type TEXT NOT NULL,
		path TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		mime_type TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		message_id INTEGER NOT NULL REFERENCES messages(id),
		name TEXT NOT NULL,
		input TEXT NOT NULL DEFAULT '{}',
		output TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		duration_ms INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS pending_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL DEFAULT 0,
		query TEXT NOT NULL,
		attachment_paths TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_queries_created
		ON pending_queries(created_at, id)`,
	`CREATE TABLE IF NOT EXISTS api_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		model TEXT NOT NULL,
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		date TIMESTAMP NOT NULL,
		estimated_cost_usd REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_usage_date ON api_usage(date)`,
}
