package types

// Provenance tracks where a scanned buffer came from.
type Provenance interface {
	Kind() string
	// Path returns a displayable location (file path, caller-supplied source).
	Path() string
}

// FileProvenance for buffers read from the filesystem.
type FileProvenance struct {
	FilePath string
}

// Kind returns "file".
func (f FileProvenance) Kind() string {
	return "file"
}

// Path returns the file path.
func (f FileProvenance) Path() string {
	return f.FilePath
}

// InlineProvenance for buffers handed over directly by a caller, e.g. a
// scan request on the NDJSON server.
type InlineProvenance struct {
	Source string
}

// Kind returns "inline".
func (i InlineProvenance) Kind() string {
	return "inline"
}

// Path returns the caller-supplied source label.
func (i InlineProvenance) Path() string {
	return i.Source
}
