package types

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
)

// Rule is a compiled detection rule: its atom references and condition tree.
type Rule struct {
	ID        string            // e.g., "pe.mz_dos_stub"
	Name      string            // human-readable name
	Tags      []string          // classification tags
	Meta      map[string]string // free-form metadata (author, reference, ...)
	Atoms     []int             // ordered indices into Ruleset.Atoms
	Condition *Condition        // boolean tree over atom evidence
	Private   bool              // never reported; only observable combined with Global
	Global    bool              // when false, no other rule matches
}

// Ruleset is a compiled rule set: a shared atom table and the rules that
// reference it. It is produced by an external rule compiler and treated as
// immutable once handed to the scanner.
type Ruleset struct {
	Name    string
	Version string
	Atoms   []Atom
	Rules   []*Rule
}

// Fingerprint computes a SHA-1 over the atom table and rules, including
// prefilter keywords and reported rule metadata.
// Two rule sets with the same fingerprint scan and report identically.
func (rs *Ruleset) Fingerprint() string {
	h := sha1.New()
	for i := range rs.Atoms {
		a := &rs.Atoms[i]
		h.Write([]byte(a.ID))
		h.Write([]byte{0})
		h.Write([]byte(a.Kind))
		h.Write([]byte{0})
		h.Write(a.Bytes)
		h.Write([]byte{0})
		h.Write([]byte(a.Pattern))
		h.Write([]byte{0, byte(a.Flags), 0})
		for _, kw := range a.Keywords {
			h.Write([]byte(kw))
			h.Write([]byte{0})
		}
		h.Write([]byte{0})
	}
	for _, r := range rs.Rules {
		h.Write([]byte(r.ID))
		h.Write([]byte{0})
		h.Write([]byte(r.Name))
		h.Write([]byte{0})
		for _, tag := range r.Tags {
			h.Write([]byte(tag))
			h.Write([]byte{0})
		}
		h.Write([]byte{0})
		keys := make([]string, 0, len(r.Meta))
		for k := range r.Meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			h.Write([]byte(k))
			h.Write([]byte{'='})
			h.Write([]byte(r.Meta[k]))
			h.Write([]byte{0})
		}
		h.Write([]byte{0})
		for _, idx := range r.Atoms {
			h.Write([]byte(strconv.Itoa(idx)))
			h.Write([]byte{','})
		}
		h.Write([]byte{0})
		h.Write([]byte(r.Condition.String()))
		h.Write([]byte{0})
		if r.Private {
			h.Write([]byte("private"))
		}
		if r.Global {
			h.Write([]byte("global"))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RuleIDs returns the rule IDs in rule-set order.
func (rs *Ruleset) RuleIDs() []string {
	ids := make([]string, len(rs.Rules))
	for i, r := range rs.Rules {
		ids[i] = r.ID
	}
	return ids
}

// Rule returns the rule with the given ID, or nil.
func (rs *Ruleset) Rule(id string) *Rule {
	for _, r := range rs.Rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Subset returns a rule set sharing the atom table but holding only the
// given rules, in their original order.
func (rs *Ruleset) Subset(rules []*Rule) *Ruleset {
	keep := make(map[*Rule]int, len(rules))
	for i, r := range rs.Rules {
		keep[r] = i
	}
	ordered := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if _, ok := keep[r]; ok {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return keep[ordered[i]] < keep[ordered[j]]
	})
	return &Ruleset{
		Name:    rs.Name,
		Version: rs.Version,
		Atoms:   rs.Atoms,
		Rules:   ordered,
	}
}
