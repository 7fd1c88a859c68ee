package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema SQL for version 1
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version     INTEGER PRIMARY KEY,
    applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Profiles (one per installation or user)
CREATE TABLE IF NOT EXISTS profiles (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT NOT NULL UNIQUE,
    timezone    TEXT NOT NULL DEFAULT 'UTC',
    is_active   INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

-- API server config
CREATE TABLE IF NOT EXISTS api_servers (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    profile_id  INTEGER NOT NULL UNIQUE REFERENCES profiles(id) ON DELETE CASCADE,
    host        TEXT NOT NULL DEFAULT '0.0.0.0',
    port        INTEGER NOT NULL DEFAULT 12345,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_profiles_active ON profiles(is_active);
`

// Schema SQL for version 2: per-profile device configuration, client
// protocol settings and remembered device identities.
const schemaV2 = `
ALTER TABLE profiles ADD COLUMN user_config TEXT NOT NULL DEFAULT '';

ALTER TABLE api_servers ADD COLUMN server_name TEXT NOT NULL DEFAULT 'plugd';
ALTER TABLE api_servers ADD COLUMN max_ping_ms INTEGER NOT NULL DEFAULT 0;

CREATE TABLE IF NOT EXISTS device_identities (
    address      TEXT NOT NULL,
    profile_id   INTEGER NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
    protocol     TEXT NOT NULL,
    identifier   TEXT NOT NULL DEFAULT '',
    device_index INTEGER NOT NULL,
    name         TEXT NOT NULL DEFAULT '',
    last_seen    TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (profile_id, address)
);

CREATE INDEX IF NOT EXISTS idx_device_identities_index ON device_identities(profile_id, device_index);
`

// migrations are applied in order; entry i brings the schema to version i+1.
var migrations = []string{schemaV1, schemaV2}

// currentSchemaVersion is the version Migrate brings a database to.
var currentSchemaVersion = len(migrations)

// Migrate runs database migrations to bring the schema up to date.
func (db *DB) Migrate(ctx context.Context) error {
	version, err := db.getSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	for v := version + 1; v <= currentSchemaVersion; v++ {
		if err := db.applySchema(ctx, v); err != nil {
			return fmt.Errorf("failed to apply schema v%d: %w", v, err)
		}
	}

	return nil
}

// getSchemaVersion returns the current schema version, or 0 if no schema exists.
func (db *DB) getSchemaVersion(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&count)
	if err != nil {
		return 0, err
	}

	if count == 0 {
		return 0, nil
	}

	var version int
	err = db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// applySchema applies one migration and records it.
func (db *DB) applySchema(ctx context.Context, version int) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migrations[version-1]); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("failed to record schema version: %w", err)
		}

		return nil
	})
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	return db.getSchemaVersion(ctx)
}
