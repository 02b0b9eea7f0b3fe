//go:build cgo && hyperscan

package matcher

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/flier/gohs/hyperscan"
	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/prefilter"
	"github.com/praetorian-inc/augur/pkg/types"
)

// HyperscanMatcher implements Matcher using Hyperscan block mode with
// leftmost start-of-match reporting. Every (slot, start) pair is reported
// once; Hyperscan reports each end offset, so one start may be seen several
// times.
type HyperscanMatcher struct {
	store     *atom.Store
	prefilter *prefilter.Prefilter
	db        hyperscan.BlockDatabase
	slots     []int // pattern ID -> slot
	logger    *slog.Logger

	mu      sync.Mutex
	scratch []*hyperscan.Scratch // idle scratch spaces
	proto   *hyperscan.Scratch
}

// NewHyperscan compiles every regex atom in cfg.Store into one database.
func NewHyperscan(cfg Config) (Matcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &HyperscanMatcher{
		store:     cfg.Store,
		prefilter: prefilter.New(cfg.Store),
		logger:    cfg.Logger,
	}

	regexSlots := cfg.Store.RegexSlots()
	if len(regexSlots) == 0 {
		return m, nil
	}

	patterns := make([]*hyperscan.Pattern, len(regexSlots))
	for i, slot := range regexSlots {
		a := cfg.Store.Atom(slot)
		flags := hyperscan.DotAll | hyperscan.SomLeftMost
		if a.Flags.Has(types.Nocase) {
			flags |= hyperscan.Caseless
		}
		p := hyperscan.NewPattern(expression(a.Pattern), flags)
		p.Id = i
		patterns[i] = p
		m.slots = append(m.slots, slot)
	}

	db, err := hyperscan.NewBlockDatabase(patterns...)
	if err != nil {
		return nil, types.Errorf(types.InvalidRuleSet, "matcher.NewHyperscan",
			"compile Hyperscan database: %v", err)
	}
	proto, err := hyperscan.NewScratch(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to allocate Hyperscan scratch: %w", err)
	}
	m.db = db
	m.proto = proto
	return m, nil
}

// Match scans content when at least one regex atom passes the prefilter.
func (m *HyperscanMatcher) Match(content []byte, base int64, rec Recorder) error {
	if m.db == nil || len(candidates(m.prefilter, content)) == 0 {
		return nil
	}

	scratch, err := m.acquire()
	if err != nil {
		return err
	}
	defer m.release(scratch)

	type key struct {
		slot  int
		start uint64
	}
	seen := make(map[key]bool)

	onMatch := func(id uint, from, to uint64, flags uint, context interface{}) error {
		if int(id) >= len(m.slots) {
			return fmt.Errorf("invalid pattern ID from Hyperscan: %d", id)
		}
		slot := m.slots[id]
		k := key{slot: slot, start: from}
		if seen[k] {
			return nil
		}
		if m.store.Atom(slot).Flags.Has(types.Fullword) && !fullwordOK(content, int(from), int(to)) {
			return nil
		}
		seen[k] = true
		rec.Add(slot, base+int64(from))
		return nil
	}

	if err := m.db.Scan(content, scratch, onMatch, nil); err != nil {
		return fmt.Errorf("Hyperscan scan failed: %w", err)
	}
	return nil
}

// acquire returns an idle scratch space or clones a new one.
func (m *HyperscanMatcher) acquire() (*hyperscan.Scratch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proto == nil {
		return nil, errors.New("matcher is closed")
	}
	if n := len(m.scratch); n > 0 {
		s := m.scratch[n-1]
		m.scratch = m.scratch[:n-1]
		return s, nil
	}
	s, err := m.proto.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone scratch: %w", err)
	}
	return s, nil
}

func (m *HyperscanMatcher) release(s *hyperscan.Scratch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.proto == nil {
		_ = s.Free()
		return
	}
	m.scratch = append(m.scratch, s)
}

// Close releases resources.
func (m *HyperscanMatcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, s := range m.scratch {
		errs = append(errs, s.Free())
	}
	m.scratch = nil
	if m.proto != nil {
		errs = append(errs, m.proto.Free())
		m.proto = nil
	}
	if m.db != nil {
		errs = append(errs, m.db.Close())
		m.db = nil
	}
	return errors.Join(errs...)
}

var commentRE = regexp.MustCompile(`\(\?#[^)]*\)`)

// expression rewrites a pattern into syntax Hyperscan accepts: extended
// mode (?x) is expanded by dropping comments and unescaped whitespace, and
// the inline (?s) flag is dropped since DotAll is always set.
func expression(pattern string) string {
	trimmed := strings.TrimSpace(pattern)
	if !strings.HasPrefix(trimmed, "(?x)") {
		return strings.ReplaceAll(pattern, "(?s)", "")
	}

	body := commentRE.ReplaceAllString(strings.TrimPrefix(trimmed, "(?x)"), "")
	body = strings.ReplaceAll(body, "(?s)", "")

	var b strings.Builder
	escaped := false
	for _, r := range body {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
