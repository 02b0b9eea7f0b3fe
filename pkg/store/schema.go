package store

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

var schemaStatements = []struct {
	name string
	stmt string
}{
	{"schema_version", `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`},
	{"blobs", `
		CREATE TABLE IF NOT EXISTS blobs (
			id TEXT PRIMARY KEY NOT NULL,
			size INTEGER NOT NULL
		)`},
	{"rules", `
		CREATE TABLE IF NOT EXISTS rules (
			id TEXT PRIMARY KEY NOT NULL,
			name TEXT NOT NULL,
			tags_json TEXT NOT NULL,
			meta_json TEXT NOT NULL
		)`},
	{"matches", `
		CREATE TABLE IF NOT EXISTS matches (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			blob_id TEXT NOT NULL REFERENCES blobs(id),
			rule_id TEXT NOT NULL,
			name TEXT NOT NULL,
			tags_json TEXT NOT NULL,
			meta_json TEXT NOT NULL,
			atoms_json TEXT NOT NULL
		)`},
	{"matches index", `
		CREATE INDEX IF NOT EXISTS idx_matches_blob_id ON matches(blob_id)`},
	{"provenance", `
		CREATE TABLE IF NOT EXISTS provenance (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			blob_id TEXT NOT NULL REFERENCES blobs(id),
			type TEXT NOT NULL,
			path TEXT NOT NULL,
			UNIQUE(blob_id, type, path)
		)`},
	{"provenance index", `
		CREATE INDEX IF NOT EXISTS idx_provenance_blob_id ON provenance(blob_id)`},
}

// CreateSchema creates the database schema if it doesn't exist and records
// the schema version. Opening a database written with a different version
// fails.
func CreateSchema(db *sql.DB) error {
	for _, s := range schemaStatements {
		if _, err := db.Exec(s.stmt); err != nil {
			return fmt.Errorf("creating %s: %w", s.name, err)
		}
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return fmt.Errorf("recording schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case version != SchemaVersion:
		return fmt.Errorf("database schema version %d, expected %d", version, SchemaVersion)
	}
	return nil
}
