package scanner

import (
	"context"
	"runtime"

	"github.com/praetorian-inc/augur/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Item is one buffer of a batch scan.
type Item struct {
	Source  string
	Content []byte
}

// BatchResult is the outcome for the Item at the same index.
type BatchResult struct {
	Source string
	Result *types.ScanResult
	Err    error
}

// ScanBatch scans items on up to workers goroutines (GOMAXPROCS when
// workers <= 0). Results are returned in input order and per-item failures
// are reported in BatchResult.Err. The returned error is non-nil only when
// ctx ends before every item was scanned.
func (r *Rules) ScanBatch(ctx context.Context, items []Item, workers int) ([]BatchResult, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]BatchResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range items {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			item := &items[i]
			res, err := r.ScanContext(gctx, item.Content)
			results[i] = BatchResult{Source: item.Source, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
