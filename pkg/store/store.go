// Package store persists scan results: scanned blobs, matching rules and the
// provenance of each blob.
package store

import (
	"fmt"

	"github.com/praetorian-inc/augur/pkg/types"
)

// MemoryPath selects the in-memory backend.
const MemoryPath = ":memory:"

// MatchRecord is a persisted rule match.
type MatchRecord struct {
	ID     string       `json:"id"` // RuleMatch.ComputeID(BlobID)
	BlobID types.BlobID `json:"blob_id"`
	types.RuleMatch
}

// NewMatchRecord builds the record of m firing on blobID.
func NewMatchRecord(blobID types.BlobID, m *types.RuleMatch) *MatchRecord {
	return &MatchRecord{
		ID:        m.ComputeID(blobID),
		BlobID:    blobID,
		RuleMatch: *m,
	}
}

// Store provides persistence for scan results.
// This interface abstracts the underlying storage implementation,
// allowing for different backends (SQLite, memory).
type Store interface {
	// AddBlob stores a blob record.
	AddBlob(id types.BlobID, size int64) error

	// AddRule stores rule metadata.
	AddRule(r *types.Rule) error

	// AddMatch stores a match record. Recording the same rule on the same
	// blob twice is a no-op.
	AddMatch(rec *MatchRecord) error

	// AddProvenance associates provenance with a blob.
	AddProvenance(blobID types.BlobID, prov types.Provenance) error

	// GetMatches retrieves matches for a blob, ordered by rule ID.
	GetMatches(blobID types.BlobID) ([]*MatchRecord, error)

	// GetAllMatches retrieves all matches in insertion order (for reporting).
	GetAllMatches() ([]*MatchRecord, error)

	// GetProvenance retrieves every provenance recorded for a blob.
	GetProvenance(blobID types.BlobID) ([]types.Provenance, error)

	// BlobExists checks if a blob has already been scanned.
	BlobExists(id types.BlobID) (bool, error)

	// Close closes the database connection.
	Close() error
}

// Config for store initialization.
type Config struct {
	// Path is the database file path.
	// Use ":memory:" for the in-memory store (useful for testing).
	Path string
}

// New creates a Store: the memory store for ":memory:", SQLite otherwise.
func New(cfg Config) (Store, error) {
	switch cfg.Path {
	case "":
		return nil, fmt.Errorf("path is required")
	case MemoryPath:
		return NewMemory(), nil
	default:
		return NewSQLite(cfg.Path)
	}
}
