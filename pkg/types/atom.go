package types

import (
	"fmt"
	"strings"
)

// AtomKind selects how an atom is matched.
type AtomKind string

const (
	// AtomLiteral atoms are fed to the Aho-Corasick automaton.
	AtomLiteral AtomKind = "literal"
	// AtomRegex atoms are verified by a regex engine after keyword prefiltering.
	AtomRegex AtomKind = "regex"
)

// AtomFlags modify how an atom matches.
type AtomFlags uint8

const (
	// Nocase matches ASCII letters regardless of case. Regex atoms also
	// fold Latin-1 letters (0xC0-0xFE).
	Nocase AtomFlags = 1 << iota
	// Fullword requires non-alphanumeric bytes (or a buffer edge) around the match.
	Fullword
)

// Has reports whether all bits of f are set.
func (a AtomFlags) Has(f AtomFlags) bool {
	return a&f == f
}

// String returns the flags as a space separated list, e.g. "nocase fullword".
func (a AtomFlags) String() string {
	var parts []string
	if a.Has(Nocase) {
		parts = append(parts, "nocase")
	}
	if a.Has(Fullword) {
		parts = append(parts, "fullword")
	}
	return strings.Join(parts, " ")
}

// ParseAtomFlags parses modifier names as written in rule files.
func ParseAtomFlags(names []string) (AtomFlags, error) {
	var flags AtomFlags
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "nocase":
			flags |= Nocase
		case "fullword":
			flags |= Fullword
		case "", "ascii":
			// ascii is the default encoding
		default:
			return 0, fmt.Errorf("unknown atom modifier %q", name)
		}
	}
	return flags, nil
}

// Atom is a pattern searched for by the scanner.
// Literal atoms carry their payload in Bytes; regex atoms carry a Pattern and
// optional Keywords used to skip the regex when none of them occur.
type Atom struct {
	ID       string    // e.g., "$mz"
	Kind     AtomKind  // literal (default) or regex
	Bytes    []byte    // literal payload
	Pattern  string    // regex source (regex atoms only)
	Keywords []string  // literal substrings any regex match must contain
	Flags    AtomFlags // nocase, fullword
}

// IsRegex reports whether the atom is matched by the regex engine.
func (a *Atom) IsRegex() bool {
	return a.Kind == AtomRegex
}

// Len returns the literal length of the atom (0 for regex atoms).
func (a *Atom) Len() int {
	if a.IsRegex() {
		return 0
	}
	return len(a.Bytes)
}

// String renders the atom for diagnostics.
func (a *Atom) String() string {
	var body string
	if a.IsRegex() {
		body = "/" + a.Pattern + "/"
	} else {
		body = fmt.Sprintf("%q", a.Bytes)
	}
	if a.Flags != 0 {
		body += " " + a.Flags.String()
	}
	return a.ID + " = " + body
}
