package enum

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/praetorian-inc/augur/pkg/types"
	"golang.org/x/sync/errgroup"
)

// FilesystemEnumerator enumerates files from a filesystem directory.
type FilesystemEnumerator struct {
	config     Config
	extensions map[string]bool
}

// NewFilesystemEnumerator creates a new filesystem enumerator.
func NewFilesystemEnumerator(config Config) *FilesystemEnumerator {
	e := &FilesystemEnumerator{config: config}
	if len(config.Extensions) > 0 {
		e.extensions = make(map[string]bool, len(config.Extensions))
		for _, ext := range config.Extensions {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				e.extensions[ext] = true
			}
		}
	}
	return e
}

// Enumerate walks the filesystem and yields file contents unmodified.
// Phase 1: Walk directory tree and collect eligible file paths (fast, sequential).
// Phase 2: Read files and invoke callback in parallel.
func (e *FilesystemEnumerator) Enumerate(ctx context.Context, callback Callback) error {
	info, err := os.Stat(e.config.Root)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", e.config.Root, err)
	}
	if !info.IsDir() {
		return e.processFile(ctx, e.config.Root, callback)
	}

	files, err := e.walk(ctx)
	if err != nil {
		return err
	}

	numReaders := e.config.Workers
	if numReaders < 1 {
		numReaders = runtime.NumCPU()
	}

	origCtx := ctx
	g, ctx := errgroup.WithContext(ctx)
	pathsCh := make(chan string, numReaders*2)

	// Feed paths to readers
	g.Go(func() error {
		defer close(pathsCh)
		for _, f := range files {
			select {
			case pathsCh <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < numReaders; i++ {
		g.Go(func() error {
			for path := range pathsCh {
				if err := e.processFile(ctx, path, callback); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// If the caller's context was cancelled but all goroutines finished
	// before noticing, propagate the cancellation.
	return origCtx.Err()
}

// walk collects the eligible file paths under Root.
func (e *FilesystemEnumerator) walk(ctx context.Context) ([]string, error) {
	ignoreName := e.config.IgnoreFile
	if ignoreName == "" {
		ignoreName = DefaultIgnoreFile
	}
	var ignore *gitignore.GitIgnore
	ignorePath := filepath.Join(e.config.Root, ignoreName)
	if _, err := os.Stat(ignorePath); err == nil {
		ignore, err = gitignore.CompileIgnoreFile(ignorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ignorePath, err)
		}
	}

	var files []string
	err := filepath.Walk(e.config.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		var rel string
		if ignore != nil {
			rel, err = filepath.Rel(e.config.Root, path)
			if err != nil {
				return err
			}
		}

		if info.IsDir() {
			if path == e.config.Root {
				return nil
			}
			if !e.config.IncludeHidden && isHidden(info.Name()) {
				return filepath.SkipDir
			}
			if ignore != nil && ignore.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode()&os.ModeSymlink != 0 {
			if !e.config.FollowSymlinks {
				return nil
			}
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		if !e.config.IncludeHidden && isHidden(info.Name()) {
			return nil
		}
		if e.config.MaxFileSize > 0 && info.Size() > e.config.MaxFileSize {
			return nil
		}
		if !e.wantExtension(path) {
			return nil
		}
		if ignore != nil && ignore.MatchesPath(rel) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// processFile reads a single file and invokes the callback.
func (e *FilesystemEnumerator) processFile(ctx context.Context, path string, callback Callback) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", path, err)
	}
	if e.config.MaxFileSize > 0 && int64(len(content)) > e.config.MaxFileSize {
		return nil
	}

	return callback(content, types.ComputeBlobID(content), types.FileProvenance{FilePath: path})
}

func (e *FilesystemEnumerator) wantExtension(path string) bool {
	if e.extensions == nil {
		return true
	}
	return e.extensions[strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))]
}

// isHidden checks if a filename is hidden (starts with .).
// The special entries "." and ".." are NOT considered hidden.
func isHidden(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
