package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/praetorian-inc/augur/pkg/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-based store.
// Use ":memory:" for in-memory database (useful for testing).
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	// Initialize schema
	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// AddBlob stores a blob record.
func (s *SQLiteStore) AddBlob(id types.BlobID, size int64) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO blobs (id, size) VALUES (?, ?)", id.Hex(), size)
	if err != nil {
		return fmt.Errorf("inserting blob: %w", err)
	}
	return nil
}

// AddRule stores rule metadata.
func (s *SQLiteStore) AddRule(r *types.Rule) error {
	tagsJSON, err := marshalJSON(r.Tags, "[]")
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}
	metaJSON, err := marshalJSON(r.Meta, "{}")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO rules (id, name, tags_json, meta_json)
		VALUES (?, ?, ?, ?)
	`, r.ID, r.Name, tagsJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// AddMatch stores a match record.
func (s *SQLiteStore) AddMatch(rec *MatchRecord) error {
	tagsJSON, err := marshalJSON(rec.Tags, "[]")
	if err != nil {
		return fmt.Errorf("marshaling tags: %w", err)
	}
	metaJSON, err := marshalJSON(rec.Meta, "{}")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	atomsJSON, err := marshalJSON(rec.Atoms, "[]")
	if err != nil {
		return fmt.Errorf("marshaling atoms: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO matches (id, blob_id, rule_id, name, tags_json, meta_json, atoms_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.BlobID.Hex(),
		rec.RuleID,
		rec.Name,
		tagsJSON,
		metaJSON,
		atomsJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting match: %w", err)
	}
	return nil
}

// AddProvenance associates provenance with a blob.
func (s *SQLiteStore) AddProvenance(blobID types.BlobID, prov types.Provenance) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO provenance (blob_id, type, path)
		VALUES (?, ?, ?)
	`, blobID.Hex(), prov.Kind(), prov.Path())
	if err != nil {
		return fmt.Errorf("inserting provenance: %w", err)
	}
	return nil
}

// GetMatches retrieves matches for a blob.
func (s *SQLiteStore) GetMatches(blobID types.BlobID) ([]*MatchRecord, error) {
	return s.queryMatches(`
		SELECT id, blob_id, rule_id, name, tags_json, meta_json, atoms_json
		FROM matches
		WHERE blob_id = ?
		ORDER BY rule_id
	`, blobID.Hex())
}

// GetAllMatches retrieves all matches.
func (s *SQLiteStore) GetAllMatches() ([]*MatchRecord, error) {
	return s.queryMatches(`
		SELECT id, blob_id, rule_id, name, tags_json, meta_json, atoms_json
		FROM matches
		ORDER BY seq
	`)
}

func (s *SQLiteStore) queryMatches(query string, args ...any) ([]*MatchRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()

	matches := []*MatchRecord{}
	for rows.Next() {
		var (
			rec                           MatchRecord
			tagsJSON, metaJSON, atomsJSON string
		)
		if err := rows.Scan(&rec.ID, &rec.BlobID, &rec.RuleID, &rec.Name, &tagsJSON, &metaJSON, &atomsJSON); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, fmt.Errorf("unmarshaling tags: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &rec.Meta); err != nil {
			return nil, fmt.Errorf("unmarshaling meta: %w", err)
		}
		if err := json.Unmarshal([]byte(atomsJSON), &rec.Atoms); err != nil {
			return nil, fmt.Errorf("unmarshaling atoms: %w", err)
		}
		matches = append(matches, &rec)
	}
	return matches, rows.Err()
}

// GetProvenance retrieves provenance for a blob.
func (s *SQLiteStore) GetProvenance(blobID types.BlobID) ([]types.Provenance, error) {
	rows, err := s.db.Query(`
		SELECT type, path
		FROM provenance
		WHERE blob_id = ?
		ORDER BY id
	`, blobID.Hex())
	if err != nil {
		return nil, fmt.Errorf("querying provenance: %w", err)
	}
	defer rows.Close()

	var result []types.Provenance
	for rows.Next() {
		var kind, path string
		if err := rows.Scan(&kind, &path); err != nil {
			return nil, fmt.Errorf("scanning provenance: %w", err)
		}
		switch kind {
		case "file":
			result = append(result, types.FileProvenance{FilePath: path})
		default:
			result = append(result, types.InlineProvenance{Source: path})
		}
	}
	return result, rows.Err()
}

// BlobExists checks if a blob has already been scanned.
func (s *SQLiteStore) BlobExists(id types.BlobID) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM blobs WHERE id = ?", id.Hex()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking blob existence: %w", err)
	}
	return count > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalJSON encodes v, substituting empty for a nil value so columns
// always hold valid JSON of the expected shape.
func marshalJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}
