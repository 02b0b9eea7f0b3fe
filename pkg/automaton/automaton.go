// Package automaton implements the multi-pattern matcher: an Aho-Corasick
// automaton over the literal atoms of a store that finds every occurrence of
// every atom in one pass over the input.
//
// Case-sensitive atoms live in an exact automaton and case-insensitive atoms
// in a folded one; both advance on the same pass, the folded one on the
// case-folded input byte.
package automaton

import (
	"fmt"
	"strings"

	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/types"
)

// MatchMode selects how overlapping hits are reported.
type MatchMode int

const (
	// ReportAll records every terminal hit, including hits nested inside others.
	ReportAll MatchMode = iota
	// ReportMaximal drops hits whose span lies strictly inside another hit.
	ReportMaximal
)

// String returns the mode name.
func (m MatchMode) String() string {
	switch m {
	case ReportAll:
		return "all"
	case ReportMaximal:
		return "maximal"
	default:
		return fmt.Sprintf("MatchMode(%d)", int(m))
	}
}

// ParseMatchMode parses "all" or "maximal". The empty string is ReportAll.
func ParseMatchMode(s string) (MatchMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ReportAll, nil
	case "maximal":
		return ReportMaximal, nil
	default:
		return 0, fmt.Errorf("unknown match mode %q", s)
	}
}

// ScanOptions control a single scan.
type ScanOptions struct {
	Mode MatchMode
	// MaxMatches bounds the number of hits; exceeding it fails the scan
	// with types.ErrResourceExhausted. Zero means unlimited.
	MaxMatches int
}

// Option configures Build.
type Option func(*config)

type config struct {
	maxStates int
}

// WithMaxStates bounds the total number of automaton states. Build fails
// with types.ErrResourceExhausted when the atoms need more. Zero means
// unlimited.
func WithMaxStates(n int) Option {
	return func(c *config) {
		c.maxStates = n
	}
}

// Automaton matches the literal atoms of a store. It is immutable after
// Build and safe for concurrent scans.
type Automaton struct {
	store    *atom.Store
	exact    *trie
	folded   *trie
	lengths  []int64 // slot -> atom length
	fullword []bool  // slot -> fullword modifier
	states   int
}

// Build constructs the automaton for every literal atom in store.
func Build(store *atom.Store, opts ...Option) (*Automaton, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Automaton{
		store:    store,
		exact:    newTrie(),
		folded:   newTrie(),
		lengths:  make([]int64, store.Len()),
		fullword: make([]bool, store.Len()),
		states:   2,
	}

	for _, slot := range store.LiteralSlots() {
		at := store.Atom(slot)
		a.lengths[slot] = int64(len(at.Bytes))
		a.fullword[slot] = at.Flags.Has(types.Fullword)

		if at.Flags.Has(types.Nocase) {
			a.states += a.folded.insert(atom.FoldBytes(at.Bytes), int32(slot))
		} else {
			a.states += a.exact.insert(at.Bytes, int32(slot))
		}
		if cfg.maxStates > 0 && a.states > cfg.maxStates {
			return nil, types.Errorf(types.ResourceExhausted, "automaton.Build",
				"automaton exceeds %d states", cfg.maxStates)
		}
	}

	a.exact.finish()
	a.folded.finish()
	return a, nil
}

// States returns the number of states across both automata, roots included.
func (a *Automaton) States() int {
	return a.states
}

// Store returns the atom store the automaton was built from.
func (a *Automaton) Store() *atom.Store {
	return a.store
}

// Scan finds all literal atoms in buf. A zero-length buffer yields empty
// evidence.
func (a *Automaton) Scan(buf []byte, opts ScanOptions) (*types.MatchEvidence, error) {
	st := a.NewStream(opts)
	if err := st.Write(buf); err != nil {
		return nil, err
	}
	return st.Close()
}
