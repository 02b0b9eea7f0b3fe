package store

import (
	"slices"
	"strings"
	"sync"

	"github.com/praetorian-inc/augur/pkg/types"
)

// MemoryStore implements Store using in-memory data structures.
type MemoryStore struct {
	mu         sync.RWMutex
	blobs      map[types.BlobID]int64
	rules      map[string]*types.Rule
	matches    []*MatchRecord
	matchIDs   map[string]bool
	provenance map[types.BlobID][]types.Provenance
}

// NewMemory creates a new in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		blobs:      make(map[types.BlobID]int64),
		rules:      make(map[string]*types.Rule),
		matchIDs:   make(map[string]bool),
		provenance: make(map[types.BlobID][]types.Provenance),
	}
}

// AddBlob stores a blob record. Adding a known blob is a no-op.
func (m *MemoryStore) AddBlob(id types.BlobID, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.blobs[id]; !exists {
		m.blobs[id] = size
	}
	return nil
}

// AddRule stores rule metadata.
func (m *MemoryStore) AddRule(r *types.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rules[r.ID] = r
	return nil
}

// AddMatch stores a match record.
func (m *MemoryStore) AddMatch(rec *MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.matchIDs[rec.ID] {
		return nil
	}
	m.matchIDs[rec.ID] = true
	m.matches = append(m.matches, rec)
	return nil
}

// AddProvenance associates provenance with a blob.
func (m *MemoryStore) AddProvenance(blobID types.BlobID, prov types.Provenance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.provenance[blobID] {
		if p.Kind() == prov.Kind() && p.Path() == prov.Path() {
			return nil
		}
	}
	m.provenance[blobID] = append(m.provenance[blobID], prov)
	return nil
}

// GetMatches retrieves matches for a blob.
func (m *MemoryStore) GetMatches(blobID types.BlobID) ([]*MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*MatchRecord{}
	for _, rec := range m.matches {
		if rec.BlobID == blobID {
			result = append(result, rec)
		}
	}
	slices.SortFunc(result, func(a, b *MatchRecord) int {
		return strings.Compare(a.RuleID, b.RuleID)
	})
	return result, nil
}

// GetAllMatches retrieves all matches.
func (m *MemoryStore) GetAllMatches() ([]*MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid external modifications
	return slices.Clone(m.matches), nil
}

// GetProvenance retrieves provenance for a blob.
func (m *MemoryStore) GetProvenance(blobID types.BlobID) ([]types.Provenance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]types.Provenance, len(m.provenance[blobID]))
	copy(result, m.provenance[blobID])
	return result, nil
}

// BlobExists checks if a blob has already been scanned.
func (m *MemoryStore) BlobExists(id types.BlobID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.blobs[id]
	return exists, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
