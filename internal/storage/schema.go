package storage

import (
	"fmt"
	"log"
	"time"
)

// currentSchemaVersion is the latest telemetry schema version.
// Increment it and add a migrateToVN step when the schema changes.
const currentSchemaVersion = 2

// initSchema brings the database up to currentSchemaVersion.
func (s *TelemetryStore) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if version < 2 {
		if err := s.migrateToV2(); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

// migrateToV1 creates the interactions table.
func (s *TelemetryStore) migrateToV1() error {
	log.Printf("storage: applying migration to schema version 1")

	const interactionsTable = `
		CREATE TABLE IF NOT EXISTS interactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recorded_at TEXT NOT NULL,
			event_type TEXT NOT NULL,
			suggestion_id TEXT NOT NULL,
			file_path TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_interactions_suggestion ON interactions(suggestion_id);
	`
	if _, err := s.db.Exec(interactionsTable); err != nil {
		return fmt.Errorf("create interactions table: %w", err)
	}
	return s.markVersion(1)
}

// migrateToV2 adds the session id column and a time index for cleanup.
func (s *TelemetryStore) migrateToV2() error {
	log.Printf("storage: applying migration to schema version 2")

	const addSession = `
		ALTER TABLE interactions ADD COLUMN session_id TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_interactions_recorded_at ON interactions(recorded_at);
	`
	if _, err := s.db.Exec(addSession); err != nil {
		return fmt.Errorf("add session_id column: %w", err)
	}
	return s.markVersion(2)
}

func (s *TelemetryStore) markVersion(v int) error {
	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		v, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record schema version %d: %w", v, err)
	}
	return nil
}
