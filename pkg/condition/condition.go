// Package condition evaluates rule condition trees against atom evidence.
package condition

import (
	"sort"

	"github.com/praetorian-inc/augur/pkg/types"
)

// Evidence is the read-only view of scan evidence the evaluator needs.
// Offsets must be sorted ascending.
type Evidence interface {
	Len() int
	Offsets(atom int) []int64
}

// Evaluate reports whether c holds for ev. AND and OR short-circuit.
// Malformed nodes fail with types.ErrMalformedCondition when reached; use
// Validate to check a tree up front.
func Evaluate(c *types.Condition, ev Evidence) (bool, error) {
	if c == nil {
		return false, malformed("nil condition")
	}
	n := ev.Len()

	switch c.Op {
	case types.OpTrue:
		return true, nil
	case types.OpFalse:
		return false, nil

	case types.OpPresent:
		if err := checkAtom(c.Atom, n); err != nil {
			return false, err
		}
		return len(ev.Offsets(c.Atom)) > 0, nil

	case types.OpCount:
		if err := checkAtom(c.Atom, n); err != nil {
			return false, err
		}
		if c.N < 0 {
			return false, malformed("negative count %d", c.N)
		}
		return len(ev.Offsets(c.Atom)) >= c.N, nil

	case types.OpAt:
		if err := checkAtom(c.Atom, n); err != nil {
			return false, err
		}
		return contains(ev.Offsets(c.Atom), c.Offset), nil

	case types.OpIn:
		if err := checkAtom(c.Atom, n); err != nil {
			return false, err
		}
		if c.End < c.Offset {
			return false, malformed("empty range %d..%d", c.Offset, c.End)
		}
		return anyInRange(ev.Offsets(c.Atom), c.Offset, c.End), nil

	case types.OpFollowedBy:
		if err := checkAtom(c.Atom, n); err != nil {
			return false, err
		}
		if err := checkAtom(c.Next, n); err != nil {
			return false, err
		}
		if c.Within < 0 {
			return false, malformed("negative distance %d", c.Within)
		}
		return followedBy(ev.Offsets(c.Atom), ev.Offsets(c.Next), c.Within), nil

	case types.OpOf:
		if err := checkOf(c, n); err != nil {
			return false, err
		}
		present := 0
		for _, a := range c.Atoms {
			if len(ev.Offsets(a)) > 0 {
				present++
				if present >= c.N {
					return true, nil
				}
			}
		}
		return false, nil

	case types.OpAnd:
		if len(c.Args) == 0 {
			return false, malformed("and without operands")
		}
		for _, arg := range c.Args {
			ok, err := Evaluate(arg, ev)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case types.OpOr:
		if len(c.Args) == 0 {
			return false, malformed("or without operands")
		}
		for _, arg := range c.Args {
			ok, err := Evaluate(arg, ev)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case types.OpNot:
		if len(c.Args) != 1 {
			return false, malformed("not takes one operand, got %d", len(c.Args))
		}
		ok, err := Evaluate(c.Args[0], ev)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, malformed("unknown op %q", c.Op)
	}
}

// contains reports whether sorted offsets include off.
func contains(offsets []int64, off int64) bool {
	i := sort.Search(len(offsets), func(i int) bool { return offsets[i] >= off })
	return i < len(offsets) && offsets[i] == off
}

// anyInRange reports whether sorted offsets have an element in [lo, hi].
func anyInRange(offsets []int64, lo, hi int64) bool {
	i := sort.Search(len(offsets), func(i int) bool { return offsets[i] >= lo })
	return i < len(offsets) && offsets[i] <= hi
}

// followedBy reports whether some b in next satisfies 0 < b-a <= within for
// some a in first. within 0 means unbounded. Both lists are sorted; the
// sweep keeps the largest a below the current b, which minimises b-a.
func followedBy(first, next []int64, within int64) bool {
	if len(first) == 0 || len(next) == 0 {
		return false
	}
	if within == 0 {
		return next[len(next)-1] > first[0]
	}
	i := 0
	for _, b := range next {
		for i+1 < len(first) && first[i+1] < b {
			i++
		}
		if a := first[i]; a < b && b-a <= within {
			return true
		}
	}
	return false
}
