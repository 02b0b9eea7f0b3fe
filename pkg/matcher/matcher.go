// Package matcher finds regex atoms. Literal atoms are handled by the
// automaton; regex atoms are gated by keyword prefiltering and verified here.
package matcher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/prefilter"
)

// Recorder receives regex atom hits. *types.MatchEvidence implements it.
type Recorder interface {
	Add(slot int, offset int64)
}

// Matcher scans content for regex atom matches.
type Matcher interface {
	// Match records the start offset, plus base, of every regex atom match
	// in content.
	Match(content []byte, base int64, rec Recorder) error

	// Close releases resources (e.g., Hyperscan scratch space).
	Close() error
}

// Engine selects the regex backend.
type Engine string

const (
	// EngineRegexp2 is the portable pure-Go backend.
	EngineRegexp2 Engine = "regexp2"
	// EngineHyperscan requires CGO and the hyperscan build tag.
	EngineHyperscan Engine = "hyperscan"
)

// DefaultTimeout bounds a single regex evaluation.
const DefaultTimeout = 5 * time.Second

// Config for matcher initialization.
type Config struct {
	// Store holds the regex atoms to compile.
	Store *atom.Store

	// Engine selects the backend; empty means EngineRegexp2.
	Engine Engine

	// Timeout bounds each regex evaluation (0 = DefaultTimeout).
	Timeout time.Duration

	Logger *slog.Logger
}

// New creates a matcher for the regex atoms in cfg.Store.
func New(cfg Config) (Matcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("no atom store provided")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	switch cfg.Engine {
	case "", EngineRegexp2:
		return NewPortableRegexp(cfg)
	case EngineHyperscan:
		return NewHyperscan(cfg)
	default:
		return nil, fmt.Errorf("unknown regex engine %q", cfg.Engine)
	}
}

// HyperscanAvailable reports whether this build includes the Hyperscan backend.
func HyperscanAvailable() bool {
	return hyperscanAvailable()
}

// candidates returns the regex slots worth running on content.
func candidates(pf *prefilter.Prefilter, content []byte) []int {
	if pf.Len() == 0 {
		return nil
	}
	return pf.Filter(content)
}

// fullwordOK reports whether content[start:end] is delimited by non-word
// bytes or the content edges.
func fullwordOK(content []byte, start, end int) bool {
	if start > 0 && atom.IsWordByte(content[start-1]) {
		return false
	}
	if end < len(content) && atom.IsWordByte(content[end]) {
		return false
	}
	return true
}
