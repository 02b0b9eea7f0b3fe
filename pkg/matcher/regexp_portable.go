package matcher

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dlclark/regexp2"
	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/prefilter"
	"github.com/praetorian-inc/augur/pkg/types"
)

// PortableRegexpMatcher implements Matcher using regexp2. It does not
// require CGO.
//
// Content is handed to regexp2 as one rune per byte, so match indexes are
// byte offsets and arbitrary binary input is matched byte-for-byte.
//
// Thread Safety: compiled patterns are read-only after construction, so
// Match may be called concurrently.
type PortableRegexpMatcher struct {
	store     *atom.Store
	prefilter *prefilter.Prefilter
	regexes   map[int]*regexp2.Regexp // slot -> compiled pattern
	logger    *slog.Logger
}

// NewPortableRegexp compiles every regex atom in cfg.Store.
func NewPortableRegexp(cfg Config) (*PortableRegexpMatcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &PortableRegexpMatcher{
		store:     cfg.Store,
		prefilter: prefilter.New(cfg.Store),
		regexes:   make(map[int]*regexp2.Regexp),
		logger:    cfg.Logger,
	}

	for _, slot := range cfg.Store.RegexSlots() {
		a := cfg.Store.Atom(slot)
		opts := regexp2.RegexOptions(regexp2.RE2)
		// IgnoreCase also folds Latin-1 runes, so nocase regex atoms are
		// wider than the ASCII-only folding of literal atoms.
		if a.Flags.Has(types.Nocase) {
			opts |= regexp2.IgnoreCase
		}
		// Try RE2 mode first, then fall back to Perl-compatible syntax.
		re, err := regexp2.Compile(a.Pattern, opts)
		if err != nil {
			re, err = regexp2.Compile(a.Pattern, opts&^regexp2.RE2)
			if err != nil {
				return nil, types.Errorf(types.InvalidRuleSet, "matcher.NewPortableRegexp",
					"compile pattern %q for atom %s: %v", a.Pattern, a.ID, err)
			}
		}
		re.MatchTimeout = cfg.Timeout
		m.regexes[slot] = re
	}

	return m, nil
}

// Match scans content against the regex atoms that pass the prefilter.
func (m *PortableRegexpMatcher) Match(content []byte, base int64, rec Recorder) error {
	slots := candidates(m.prefilter, content)
	if len(slots) == 0 {
		return nil
	}

	runes := make([]rune, len(content))
	for i, b := range content {
		runes[i] = rune(b)
	}

	for _, slot := range slots {
		if err := m.matchSlot(slot, content, runes, base, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m *PortableRegexpMatcher) matchSlot(slot int, content []byte, runes []rune, base int64, rec Recorder) error {
	a := m.store.Atom(slot)
	re := m.regexes[slot]
	fullword := a.Flags.Has(types.Fullword)

	match, err := re.FindRunesMatch(runes)
	for err == nil && match != nil {
		start, end := match.Index, match.Index+match.Length
		if !fullword || fullwordOK(content, start, end) {
			rec.Add(slot, base+int64(start))
		}
		match, err = re.FindNextMatch(match)
	}
	if err != nil {
		if strings.Contains(err.Error(), "match timeout") {
			m.logger.Warn("regex atom timed out", "atom", a.ID, "timeout", re.MatchTimeout)
			return types.Errorf(types.ResourceExhausted, "matcher.Match",
				"regex atom %s exceeded %s", a.ID, re.MatchTimeout)
		}
		return fmt.Errorf("regex atom %s: %w", a.ID, err)
	}
	return nil
}

// Close releases resources (no-op for regexp2).
func (m *PortableRegexpMatcher) Close() error {
	return nil
}
