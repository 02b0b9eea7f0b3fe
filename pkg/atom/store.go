// Package atom deduplicates the atoms of a compiled rule set and assigns each
// distinct atom a stable slot used by the matcher and the evaluator.
package atom

import (
	"github.com/praetorian-inc/augur/pkg/types"
)

// Store holds the deduplicated atoms of a rule set.
// It is immutable after New and safe for concurrent use.
type Store struct {
	atoms   []*types.Atom // slot -> representative atom
	slots   []int         // atom table index -> slot
	literal []int         // slots matched by the automaton
	regex   []int         // slots matched by the regex engine
	maxLen  int           // longest literal atom
}

// dedupKey identifies atoms that can share a slot.
type dedupKey struct {
	kind    types.AtomKind
	flags   types.AtomFlags
	payload string
}

// New builds a store from the atom table of rs.
//
// Atoms with identical kind, payload and flags share a slot; slots are
// numbered in order of first occurrence. New fails with
// types.ErrInvalidRuleSet when an atom is empty or of unknown kind, when an
// ID is registered twice with different payloads, or when identical payloads
// are registered under the same ID with conflicting modifiers.
func New(rs *types.Ruleset) (*Store, error) {
	if rs == nil {
		return nil, types.Errorf(types.InvalidRuleSet, "atom.New", "rule set is nil")
	}

	s := &Store{
		slots: make([]int, len(rs.Atoms)),
	}
	byID := make(map[string]int, len(rs.Atoms))
	byKey := make(map[dedupKey]int, len(rs.Atoms))

	for i := range rs.Atoms {
		a := &rs.Atoms[i]

		key, err := keyFor(a)
		if err != nil {
			return nil, err
		}

		if prev, ok := byID[a.ID]; ok {
			if err := checkRedefinition(&rs.Atoms[prev], a); err != nil {
				return nil, err
			}
		} else {
			byID[a.ID] = i
		}

		slot, ok := byKey[key]
		if !ok {
			slot = len(s.atoms)
			byKey[key] = slot
			s.atoms = append(s.atoms, a)
			if a.IsRegex() {
				s.regex = append(s.regex, slot)
			} else {
				s.literal = append(s.literal, slot)
				if len(a.Bytes) > s.maxLen {
					s.maxLen = len(a.Bytes)
				}
			}
		}
		s.slots[i] = slot
	}

	return s, nil
}

func keyFor(a *types.Atom) (dedupKey, error) {
	if a.ID == "" {
		return dedupKey{}, types.Errorf(types.InvalidRuleSet, "atom.New", "atom without identifier")
	}
	switch a.Kind {
	case types.AtomLiteral, "":
		if len(a.Bytes) == 0 {
			return dedupKey{}, types.Errorf(types.InvalidRuleSet, "atom.New", "literal atom %s is empty", a.ID)
		}
		payload := string(a.Bytes)
		if a.Flags.Has(types.Nocase) {
			payload = string(FoldBytes(a.Bytes))
		}
		return dedupKey{kind: types.AtomLiteral, flags: a.Flags, payload: payload}, nil
	case types.AtomRegex:
		if a.Pattern == "" {
			return dedupKey{}, types.Errorf(types.InvalidRuleSet, "atom.New", "regex atom %s has no pattern", a.ID)
		}
		return dedupKey{kind: types.AtomRegex, flags: a.Flags, payload: a.Pattern}, nil
	default:
		return dedupKey{}, types.Errorf(types.InvalidRuleSet, "atom.New", "atom %s has unknown kind %q", a.ID, a.Kind)
	}
}

// checkRedefinition validates a second registration of the same ID.
func checkRedefinition(prev, next *types.Atom) error {
	samePayload := prev.IsRegex() == next.IsRegex() &&
		string(prev.Bytes) == string(next.Bytes) &&
		prev.Pattern == next.Pattern
	if !samePayload {
		return types.Errorf(types.InvalidRuleSet, "atom.New",
			"atom %s registered twice with different patterns", next.ID)
	}
	if prev.Flags.Has(types.Nocase) != next.Flags.Has(types.Nocase) {
		return types.Errorf(types.InvalidRuleSet, "atom.New",
			"atom %s registered with conflicting case sensitivity", next.ID)
	}
	if prev.Flags != next.Flags {
		return types.Errorf(types.InvalidRuleSet, "atom.New",
			"atom %s registered with conflicting modifiers %q and %q", next.ID, prev.Flags, next.Flags)
	}
	return nil
}

// Len returns the number of distinct slots.
func (s *Store) Len() int {
	return len(s.atoms)
}

// TableSize returns the number of atoms in the rule set's atom table.
func (s *Store) TableSize() int {
	return len(s.slots)
}

// Slots returns the table index to slot mapping. It must not be modified.
func (s *Store) Slots() []int {
	return s.slots
}

// Slot returns the slot of the atom at table index i, or -1 when i is out of range.
func (s *Store) Slot(i int) int {
	if i < 0 || i >= len(s.slots) {
		return -1
	}
	return s.slots[i]
}

// Atom returns the representative atom of a slot.
func (s *Store) Atom(slot int) *types.Atom {
	return s.atoms[slot]
}

// LiteralSlots returns the slots matched by the automaton, in slot order.
func (s *Store) LiteralSlots() []int {
	return s.literal
}

// RegexSlots returns the slots matched by the regex engine, in slot order.
func (s *Store) RegexSlots() []int {
	return s.regex
}

// MaxLiteralLen returns the length of the longest literal atom.
func (s *Store) MaxLiteralLen() int {
	return s.maxLen
}

// NewEvidence returns empty evidence sized for this store.
func (s *Store) NewEvidence() *types.MatchEvidence {
	return types.NewMatchEvidence(s.slots, len(s.atoms))
}
