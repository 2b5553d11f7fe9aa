package database

import (
	"database/sql"
	"fmt"
)

// TableCreator handles the creation of database tables and indexes
type TableCreator struct{}

// NewTableCreator creates a new table creator instance
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema creates all required tables and indexes if they don't exist
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS user_fingerprints (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_key TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_key, fingerprint)
		)`,
		`CREATE TABLE IF NOT EXISTS user_meta (
			user_key TEXT PRIMARY KEY,
			total_count INTEGER NOT NULL DEFAULT 0,
			collection_hash TEXT NOT NULL DEFAULT '',
			last_sync_at TIMESTAMP,
			total_syncs INTEGER NOT NULL DEFAULT 0,
			last_sync_added INTEGER NOT NULL DEFAULT 0,
			last_sync_duration_ms INTEGER NOT NULL DEFAULT 0,
			bloom_filter BLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS diff_sessions (
			session_id TEXT PRIMARY KEY,
			user_key TEXT NOT NULL,
			missing_in_client TEXT NOT NULL DEFAULT '[]',
			missing_in_server TEXT NOT NULL DEFAULT '[]',
			sorted_missing_in_client TEXT,
			total_client INTEGER NOT NULL DEFAULT 0,
			total_server INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_keys (
			user_key TEXT PRIMARY KEY,
			is_active INTEGER NOT NULL DEFAULT 1,
			fingerprint_limit INTEGER NOT NULL DEFAULT 0,
			total_requests INTEGER NOT NULL DEFAULT 0,
			total_syncs INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_user_fingerprints_user_key ON user_fingerprints(user_key)`,
		`CREATE INDEX IF NOT EXISTS idx_diff_sessions_user_key ON diff_sessions(user_key)`,
		`CREATE INDEX IF NOT EXISTS idx_diff_sessions_expires_at ON diff_sessions(expires_at)`,
	}

	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
