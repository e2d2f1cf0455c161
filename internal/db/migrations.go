package db

import (
	"database/sql"
	"fmt"
)

// baseSchema holds the cache metadata index and the queryable history
// index. history_records rows carry Snowflake IDs (no AUTOINCREMENT);
// cache_entries has no id column and is keyed by (namespace, key).
const baseSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
  namespace TEXT NOT NULL,
  key TEXT NOT NULL,
  size INTEGER NOT NULL,
  created_at TEXT NOT NULL,
  last_access_at TEXT NOT NULL,
  ttl_seconds INTEGER,
  PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_ns_access ON cache_entries(namespace, last_access_at);

CREATE TABLE IF NOT EXISTS history_records (
  id INTEGER PRIMARY KEY,
  request_id TEXT NOT NULL UNIQUE,
  fingerprint TEXT NOT NULL,
  provider TEXT NOT NULL,
  model TEXT NOT NULL,
  workflow TEXT NOT NULL,
  entry_count INTEGER NOT NULL,
  duration_ms INTEGER NOT NULL,
  cached INTEGER NOT NULL DEFAULT 0,
  used_secondary INTEGER NOT NULL DEFAULT 0,
  primary_failure_reason TEXT,
  secondary_failure_reason TEXT,
  rate_limit_errors INTEGER NOT NULL DEFAULT 0,
  key_rotations INTEGER NOT NULL DEFAULT 0,
  mismatch_detected INTEGER NOT NULL DEFAULT 0,
  missing_entries INTEGER NOT NULL DEFAULT 0,
  recovered_entries INTEGER NOT NULL DEFAULT 0,
  error_types TEXT,
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_records_fingerprint ON history_records(fingerprint);
CREATE INDEX IF NOT EXISTS idx_history_records_created_at ON history_records(created_at);
`

// Migrate brings db up to the current schema, creating the base tables and
// then applying incremental migrations in order.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(baseSchema); err != nil {
		return fmt.Errorf("migrate base schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func runMigrations(db *sql.DB) error {
	// Migration 1: add a provider_key_index column to cache_entries so the
	// fs backend can record which api key slot a partial result used,
	// without needing a second table for a single int.
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('cache_entries') WHERE name = 'provider_key_index'
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check provider_key_index column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE cache_entries ADD COLUMN provider_key_index INTEGER`); err != nil {
			return fmt.Errorf("add provider_key_index column: %w", err)
		}
	}

	// Migration 2: history_records.model_used tracking for mismatch audits
	// where the fallback provider's model differs from the request's
	// default model id.
	err = db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('history_records') WHERE name = 'model_used'
	`).Scan(&count)
	if err != nil {
		return fmt.Errorf("check model_used column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE history_records ADD COLUMN model_used TEXT`); err != nil {
			return fmt.Errorf("add model_used column: %w", err)
		}
	}

	return nil
}
