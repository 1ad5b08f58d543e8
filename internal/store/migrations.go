package store

import "fmt"

// currentSchemaVersion is the latest schema version.
const currentSchemaVersion = 1

// Migrate runs forward migrations to bring the database schema up to date.
func (db *DB) Migrate() error {
	// Create the schema_version table if it does not exist.
	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	version := 0
	row := db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&version); err != nil {
		// No rows means version 0 (fresh database).
		version = 0
	}

	if version < 1 {
		if err := db.migrateV1(); err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
	}

	return nil
}

// migrateV1 creates the owner partitions, sessions, rolls, and capture
// settings tables.
func (db *DB) migrateV1() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			owner_id          TEXT PRIMARY KEY,
			active_session_id TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			owner_id   TEXT NOT NULL REFERENCES owners(owner_id) ON DELETE CASCADE,
			session_id TEXT NOT NULL,
			started    TEXT,
			ended      TEXT,
			PRIMARY KEY (owner_id, session_id)
		)`,

		`CREATE TABLE IF NOT EXISTS rolls (
			owner_id          TEXT NOT NULL REFERENCES owners(owner_id) ON DELETE CASCADE,
			record_id         TEXT NOT NULL,
			die               INTEGER NOT NULL,
			session_id        TEXT,
			check_type        TEXT NOT NULL,
			roller_id         TEXT NOT NULL,
			vs_id             TEXT NOT NULL,
			dos               TEXT,
			needed            INTEGER,
			domains           TEXT,
			recorded_at       TEXT NOT NULL,
			source_message_id TEXT,
			PRIMARY KEY (owner_id, record_id)
		)`,

		// Client-scoped capture toggle; not part of the roll log partition.
		`CREATE TABLE IF NOT EXISTS capture_settings (
			owner_id TEXT PRIMARY KEY,
			enabled  BOOLEAN NOT NULL DEFAULT false
		)`,

		// Indexes.
		`CREATE INDEX IF NOT EXISTS idx_rolls_owner_die ON rolls(owner_id, die)`,
		`CREATE INDEX IF NOT EXISTS idx_rolls_session ON rolls(owner_id, session_id)`,
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:40], err)
		}
	}

	// Set schema version.
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
		return err
	}

	return tx.Commit()
}
