package types

import (
	"fmt"
	"strings"
)

// Op identifies the variant of a Condition node.
type Op string

const (
	OpTrue       Op = "true"
	OpFalse      Op = "false"
	OpPresent    Op = "present"     // atom matched at least once
	OpCount      Op = "count"       // atom matched at least N times
	OpAt         Op = "at"          // atom matched at exactly Offset
	OpIn         Op = "in"          // atom matched with start in [Offset, End]
	OpFollowedBy Op = "followed_by" // Next starts after Atom, at most Within bytes later
	OpOf         Op = "of"          // at least N of Atoms are present
	OpAnd        Op = "and"
	OpOr         Op = "or"
	OpNot        Op = "not"
)

// Condition is a node of a rule's boolean condition tree.
//
// It is a tagged variant: Op selects which of the remaining fields are
// meaningful. Leaves reference atoms by index into Ruleset.Atoms.
type Condition struct {
	Op     Op           `yaml:"op" json:"op"`
	Atom   int          `yaml:"atom,omitempty" json:"atom,omitempty"`
	Next   int          `yaml:"next,omitempty" json:"next,omitempty"`
	Atoms  []int        `yaml:"atoms,omitempty" json:"atoms,omitempty"`
	N      int          `yaml:"n,omitempty" json:"n,omitempty"`
	Offset int64        `yaml:"offset,omitempty" json:"offset,omitempty"`
	End    int64        `yaml:"end,omitempty" json:"end,omitempty"`
	Within int64        `yaml:"within,omitempty" json:"within,omitempty"`
	Args   []*Condition `yaml:"args,omitempty" json:"args,omitempty"`
}

// True returns a condition that always holds.
func True() *Condition { return &Condition{Op: OpTrue} }

// False returns a condition that never holds.
func False() *Condition { return &Condition{Op: OpFalse} }

// Present holds when the atom matched at least once.
func Present(atom int) *Condition {
	return &Condition{Op: OpPresent, Atom: atom}
}

// CountAtLeast holds when the atom matched at least n times.
func CountAtLeast(atom, n int) *Condition {
	return &Condition{Op: OpCount, Atom: atom, N: n}
}

// At holds when the atom matched starting exactly at offset.
func At(atom int, offset int64) *Condition {
	return &Condition{Op: OpAt, Atom: atom, Offset: offset}
}

// In holds when the atom matched starting anywhere in [lo, hi].
func In(atom int, lo, hi int64) *Condition {
	return &Condition{Op: OpIn, Atom: atom, Offset: lo, End: hi}
}

// FollowedBy holds when next starts after atom and no more than within
// bytes after it. within 0 means unbounded; negative is malformed.
func FollowedBy(atom, next int, within int64) *Condition {
	return &Condition{Op: OpFollowedBy, Atom: atom, Next: next, Within: within}
}

// Of holds when at least n of the atoms are present.
func Of(n int, atoms ...int) *Condition {
	return &Condition{Op: OpOf, N: n, Atoms: atoms}
}

// AnyOf holds when at least one of the atoms is present.
func AnyOf(atoms ...int) *Condition { return Of(1, atoms...) }

// AllOf holds when every atom is present.
func AllOf(atoms ...int) *Condition { return Of(len(atoms), atoms...) }

// And holds when every child holds.
func And(args ...*Condition) *Condition {
	return &Condition{Op: OpAnd, Args: args}
}

// Or holds when any child holds.
func Or(args ...*Condition) *Condition {
	return &Condition{Op: OpOr, Args: args}
}

// Not negates its child.
func Not(arg *Condition) *Condition {
	return &Condition{Op: OpNot, Args: []*Condition{arg}}
}

// String renders the condition in a compact prefix notation.
func (c *Condition) String() string {
	if c == nil {
		return "<nil>"
	}
	switch c.Op {
	case OpTrue, OpFalse:
		return string(c.Op)
	case OpPresent:
		return fmt.Sprintf("#%d", c.Atom)
	case OpCount:
		return fmt.Sprintf("count(#%d) >= %d", c.Atom, c.N)
	case OpAt:
		return fmt.Sprintf("#%d at %d", c.Atom, c.Offset)
	case OpIn:
		return fmt.Sprintf("#%d in (%d..%d)", c.Atom, c.Offset, c.End)
	case OpFollowedBy:
		return fmt.Sprintf("#%d -> #%d within %d", c.Atom, c.Next, c.Within)
	case OpOf:
		ids := make([]string, len(c.Atoms))
		for i, a := range c.Atoms {
			ids[i] = fmt.Sprintf("#%d", a)
		}
		return fmt.Sprintf("%d of (%s)", c.N, strings.Join(ids, ", "))
	case OpAnd, OpOr:
		parts := make([]string, len(c.Args))
		for i, a := range c.Args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, " "+string(c.Op)+" ") + ")"
	case OpNot:
		if len(c.Args) == 1 {
			return "not " + c.Args[0].String()
		}
		return "not <malformed>"
	default:
		return "<" + string(c.Op) + ">"
	}
}
