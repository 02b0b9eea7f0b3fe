package enum

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/praetorian-inc/augur/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceEnumerator yields fixed buffers, one per entry, in order.
type sliceEnumerator []string

func (s sliceEnumerator) Enumerate(ctx context.Context, callback Callback) error {
	for i, content := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		data := []byte(content)
		prov := types.InlineProvenance{Source: content + "#" + string(rune('0'+i))}
		if err := callback(data, types.ComputeBlobID(data), prov); err != nil {
			return err
		}
	}
	return nil
}

func enumerateAll(t *testing.T, e Enumerator) []string {
	t.Helper()
	var mu sync.Mutex
	var got []string
	err := e.Enumerate(context.Background(), func(content []byte, blobID types.BlobID, _ types.Provenance) error {
		assert.Equal(t, types.ComputeBlobID(content), blobID)
		mu.Lock()
		got = append(got, string(content))
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestCombinedEnumerator_Yields(t *testing.T) {
	tests := []struct {
		name        string
		enumerators []Enumerator
		want        []string
	}{
		{
			name: "no enumerators",
		},
		{
			name:        "single enumerator keeps order",
			enumerators: []Enumerator{sliceEnumerator{"MZ", "ELF"}},
			want:        []string{"MZ", "ELF"},
		},
		{
			name:        "duplicates across enumerators",
			enumerators: []Enumerator{sliceEnumerator{"MZ"}, sliceEnumerator{"MZ", "%PDF"}},
			want:        []string{"MZ", "%PDF"},
		},
		{
			name:        "duplicates within one enumerator",
			enumerators: []Enumerator{sliceEnumerator{"PK", "PK", "PK"}},
			want:        []string{"PK"},
		},
		{
			name:        "all unique",
			enumerators: []Enumerator{sliceEnumerator{"a", "b"}, sliceEnumerator{"c"}},
			want:        []string{"a", "b", "c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := enumerateAll(t, NewCombinedEnumerator(tt.enumerators...))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCombinedEnumerator_OnDuplicate(t *testing.T) {
	var dups []types.Provenance
	combined := NewCombinedEnumerator(sliceEnumerator{"MZ"}, sliceEnumerator{"MZ"}).
		OnDuplicate(func(blobID types.BlobID, prov types.Provenance) error {
			assert.Equal(t, types.ComputeBlobID([]byte("MZ")), blobID)
			dups = append(dups, prov)
			return nil
		})

	assert.Equal(t, []string{"MZ"}, enumerateAll(t, combined))
	assert.Equal(t, []types.Provenance{types.InlineProvenance{Source: "MZ#0"}}, dups)
}

func TestCombinedEnumerator_DuplicateError(t *testing.T) {
	boom := errors.New("boom")
	combined := NewCombinedEnumerator(sliceEnumerator{"x", "x"}).
		OnDuplicate(func(types.BlobID, types.Provenance) error { return boom })

	err := combined.Enumerate(context.Background(), func([]byte, types.BlobID, types.Provenance) error {
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestCombinedEnumerator_CallbackError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	combined := NewCombinedEnumerator(sliceEnumerator{"a", "b"}, sliceEnumerator{"c"})

	err := combined.Enumerate(context.Background(), func([]byte, types.BlobID, types.Provenance) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "the first error stops enumeration")
}

func TestCombinedEnumerator_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	combined := NewCombinedEnumerator(sliceEnumerator{"a", "b"})
	err := combined.Enumerate(ctx, func([]byte, types.BlobID, types.Provenance) error {
		calls++
		cancel()
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "should stop after cancellation")
}

func TestCombinedEnumerator_FilesystemRoots(t *testing.T) {
	rootA, rootB := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rootA, "calc.exe"), []byte("MZ payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "calc-copy.exe"), []byte("MZ payload"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "notes.txt"), []byte("plain"), 0o644))

	var mu sync.Mutex
	var dupPaths []string
	combined := NewCombinedEnumerator(
		NewFilesystemEnumerator(Config{Root: rootA}),
		NewFilesystemEnumerator(Config{Root: rootB}),
	).OnDuplicate(func(_ types.BlobID, prov types.Provenance) error {
		mu.Lock()
		dupPaths = append(dupPaths, prov.Path())
		mu.Unlock()
		return nil
	})

	got := enumerateAll(t, combined)
	sort.Strings(got)
	assert.Equal(t, []string{"MZ payload", "plain"}, got)
	assert.Equal(t, []string{filepath.Join(rootB, "calc-copy.exe")}, dupPaths)
}
