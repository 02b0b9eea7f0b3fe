package condition

import (
	"fmt"
	"slices"

	"github.com/praetorian-inc/augur/pkg/types"
)

func malformed(format string, args ...any) error {
	return types.Errorf(types.MalformedCondition, "condition", format, args...)
}

func checkAtom(idx, n int) error {
	if idx < 0 || idx >= n {
		return malformed("atom index %d out of range [0,%d)", idx, n)
	}
	return nil
}

func checkOf(c *types.Condition, n int) error {
	if len(c.Atoms) == 0 {
		return malformed("of without atoms")
	}
	if c.N < 1 || c.N > len(c.Atoms) {
		return malformed("%d of %d atoms", c.N, len(c.Atoms))
	}
	for _, a := range c.Atoms {
		if err := checkAtom(a, n); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the whole tree against an atom table of size n without
// evaluating it.
func Validate(c *types.Condition, n int) error {
	if c == nil {
		return malformed("nil condition")
	}
	switch c.Op {
	case types.OpTrue, types.OpFalse:
		return nil
	case types.OpPresent, types.OpAt:
		return checkAtom(c.Atom, n)
	case types.OpCount:
		if c.N < 0 {
			return malformed("negative count %d", c.N)
		}
		return checkAtom(c.Atom, n)
	case types.OpIn:
		if c.End < c.Offset {
			return malformed("empty range %d..%d", c.Offset, c.End)
		}
		return checkAtom(c.Atom, n)
	case types.OpFollowedBy:
		if c.Within < 0 {
			return malformed("negative distance %d", c.Within)
		}
		if err := checkAtom(c.Atom, n); err != nil {
			return err
		}
		return checkAtom(c.Next, n)
	case types.OpOf:
		return checkOf(c, n)
	case types.OpAnd, types.OpOr:
		if len(c.Args) == 0 {
			return malformed("%s without operands", c.Op)
		}
		for i, arg := range c.Args {
			if err := Validate(arg, n); err != nil {
				return fmt.Errorf("%s operand %d: %w", c.Op, i, err)
			}
		}
		return nil
	case types.OpNot:
		if len(c.Args) != 1 {
			return malformed("not takes one operand, got %d", len(c.Args))
		}
		return Validate(c.Args[0], n)
	default:
		return malformed("unknown op %q", c.Op)
	}
}

// Atoms returns the sorted, distinct atom indices referenced by c.
func Atoms(c *types.Condition) []int {
	var out []int
	var walk func(*types.Condition)
	walk = func(c *types.Condition) {
		if c == nil {
			return
		}
		switch c.Op {
		case types.OpPresent, types.OpCount, types.OpAt, types.OpIn:
			out = append(out, c.Atom)
		case types.OpFollowedBy:
			out = append(out, c.Atom, c.Next)
		case types.OpOf:
			out = append(out, c.Atoms...)
		}
		for _, arg := range c.Args {
			walk(arg)
		}
	}
	walk(c)
	slices.Sort(out)
	return slices.Compact(out)
}
