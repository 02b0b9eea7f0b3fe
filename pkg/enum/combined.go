package enum

import (
	"context"
	"sync"

	"github.com/praetorian-inc/augur/pkg/types"
)

// DuplicateFunc is told about a blob that was already yielded under other
// provenance.
type DuplicateFunc func(blobID types.BlobID, prov types.Provenance) error

// CombinedEnumerator runs multiple enumerators sequentially and deduplicates
// blobs by BlobID so each unique blob is yielded at most once.
type CombinedEnumerator struct {
	enumerators []Enumerator
	onDuplicate DuplicateFunc
}

// NewCombinedEnumerator creates a CombinedEnumerator that wraps the provided
// enumerators. They are run in order and duplicate blobs (same BlobID) are
// suppressed.
func NewCombinedEnumerator(enumerators ...Enumerator) *CombinedEnumerator {
	return &CombinedEnumerator{enumerators: enumerators}
}

// OnDuplicate registers fn to receive the provenance of suppressed blobs.
func (c *CombinedEnumerator) OnDuplicate(fn DuplicateFunc) *CombinedEnumerator {
	c.onDuplicate = fn
	return c
}

// Enumerate runs each child enumerator in sequence, passing unique blobs to
// callback. A blob is considered a duplicate if its BlobID was already seen
// by a previous call across any enumerator in this combined set.
func (c *CombinedEnumerator) Enumerate(ctx context.Context, callback Callback) error {
	var mu sync.Mutex
	seen := make(map[types.BlobID]bool)

	for _, e := range c.enumerators {
		err := e.Enumerate(ctx, func(content []byte, blobID types.BlobID, prov types.Provenance) error {
			mu.Lock()
			dup := seen[blobID]
			seen[blobID] = true
			mu.Unlock()

			if dup {
				if c.onDuplicate != nil {
					return c.onDuplicate(blobID, prov)
				}
				return nil
			}
			return callback(content, blobID, prov)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
