// Package enum discovers raw buffers to scan.
package enum

import (
	"context"

	"github.com/praetorian-inc/augur/pkg/types"
)

// Callback receives one buffer, its content ID and where it came from.
// Enumerators may invoke it from several goroutines at once.
type Callback func(content []byte, blobID types.BlobID, prov types.Provenance) error

// Enumerator discovers content to scan from a source.
type Enumerator interface {
	// Enumerate yields blobs from the source.
	Enumerate(ctx context.Context, callback Callback) error
}

// DefaultIgnoreFile is read from the enumeration root when present.
const DefaultIgnoreFile = ".gitignore"

// Config for enumeration.
type Config struct {
	// Root is the starting path for enumeration. A regular file is yielded
	// on its own.
	Root string

	// IncludeHidden includes hidden files/directories (starting with .).
	IncludeHidden bool

	// MaxFileSize is the maximum file size to process (0 = no limit).
	MaxFileSize int64

	// FollowSymlinks follows symbolic links.
	FollowSymlinks bool

	// Extensions restricts enumeration to files with these extensions
	// (".exe", "dll"); empty means every file.
	Extensions []string

	// IgnoreFile names the gitignore-syntax file read from Root
	// ("" = DefaultIgnoreFile).
	IgnoreFile string

	// Workers is the number of parallel file readers (0 = NumCPU).
	Workers int
}
