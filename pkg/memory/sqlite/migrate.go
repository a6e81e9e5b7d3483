package sqlite

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 1

// Migrate ensures the vector schema exists and is upgraded to SchemaVersion.
// It is safe to call on every start.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("sqlite migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("sqlite migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// seq preserves insertion order for tie-breaking in Search.
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			seq       INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT    NOT NULL,
			id        INTEGER NOT NULL,
			dims      INTEGER NOT NULL,
			vec       BLOB    NOT NULL,
			UNIQUE (namespace, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("sqlite migrate: create vectors table: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("sqlite migrate: record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite migrate: commit transaction: %w", err)
	}
	return nil
}
