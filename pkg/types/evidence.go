package types

import "slices"

// MatchEvidence records, for one scan, where each atom matched.
//
// Offsets are stored per store slot (deduplicated atom) and looked up by
// atom table index, so atoms sharing identical bytes and flags share one
// offset list. A MatchEvidence is owned by a single scan and never shared.
type MatchEvidence struct {
	slots    []int     // atom table index -> slot
	offsets  [][]int64 // slot -> start offsets
	unsorted []bool    // slot -> offsets appended out of order
	total    int
}

// NewMatchEvidence creates empty evidence for a table whose atoms map to
// slots as given. nslots is the number of distinct slots.
func NewMatchEvidence(slots []int, nslots int) *MatchEvidence {
	return &MatchEvidence{
		slots:    slots,
		offsets:  make([][]int64, nslots),
		unsorted: make([]bool, nslots),
	}
}

// Add records a match of slot starting at offset.
func (e *MatchEvidence) Add(slot int, offset int64) {
	list := e.offsets[slot]
	if n := len(list); n > 0 && list[n-1] >= offset {
		e.unsorted[slot] = true
	}
	e.offsets[slot] = append(list, offset)
	e.total++
}

// Seal sorts and deduplicates any offset list that was appended out of
// order. Scanners call it once before handing evidence to the evaluator.
func (e *MatchEvidence) Seal() {
	for slot, dirty := range e.unsorted {
		if !dirty {
			continue
		}
		list := e.offsets[slot]
		slices.Sort(list)
		compacted := slices.Compact(list)
		e.total -= len(list) - len(compacted)
		e.offsets[slot] = compacted
		e.unsorted[slot] = false
	}
}

// Len returns the size of the atom table the evidence covers.
func (e *MatchEvidence) Len() int {
	return len(e.slots)
}

// Offsets returns the sorted start offsets of the atom at table index atom.
// The returned slice must not be modified.
func (e *MatchEvidence) Offsets(atom int) []int64 {
	if atom < 0 || atom >= len(e.slots) {
		return nil
	}
	return e.offsets[e.slots[atom]]
}

// Count returns the number of matches of the atom at table index atom.
func (e *MatchEvidence) Count(atom int) int {
	return len(e.Offsets(atom))
}

// SlotOffsets returns the offsets recorded for a store slot.
func (e *MatchEvidence) SlotOffsets(slot int) []int64 {
	return e.offsets[slot]
}

// SetSlotOffsets replaces the offsets of a slot.
func (e *MatchEvidence) SetSlotOffsets(slot int, offsets []int64) {
	e.total += len(offsets) - len(e.offsets[slot])
	e.offsets[slot] = offsets
	e.unsorted[slot] = true
}

// Total returns the number of recorded matches across all slots.
func (e *MatchEvidence) Total() int {
	return e.total
}

// Empty reports whether no atom matched.
func (e *MatchEvidence) Empty() bool {
	return e.total == 0
}

// Matched returns the table indices of every atom with at least one match.
func (e *MatchEvidence) Matched() []int {
	var out []int
	for i, slot := range e.slots {
		if len(e.offsets[slot]) > 0 {
			out = append(out, i)
		}
	}
	return out
}
