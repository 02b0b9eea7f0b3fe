package types

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
)

// AtomMatch lists where one atom of a matching rule was found.
type AtomMatch struct {
	AtomID  string  `json:"atom_id"`
	Index   int     `json:"index"`   // index into Ruleset.Atoms
	Offsets []int64 `json:"offsets"` // sorted start offsets
	Length  int     `json:"length"`  // literal length, 0 for regex atoms
}

// RuleMatch is a rule whose condition held for a scanned buffer.
type RuleMatch struct {
	RuleID string            `json:"rule_id"`
	Name   string            `json:"name,omitempty"`
	Tags   []string          `json:"tags,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
	Atoms  []AtomMatch       `json:"atoms,omitempty"` // populated when offsets are requested
}

// ComputeID returns SHA-1(rule_id + '\0' + blob_id), the identity of this
// rule firing on this blob.
func (m *RuleMatch) ComputeID(blobID BlobID) string {
	h := sha1.New()
	h.Write([]byte(m.RuleID))
	h.Write([]byte{0})
	h.Write(blobID[:])
	return hex.EncodeToString(h.Sum(nil))
}

// ScanResult is the outcome of scanning one buffer: the rules that fired,
// in rule-set order.
type ScanResult struct {
	BlobID      BlobID      `json:"blob_id"`
	Size        int64       `json:"size"`
	Matches     []RuleMatch `json:"matches"`
	AtomMatches int         `json:"atom_matches"` // total atom hits seen by the scan
}

// RuleIDs returns the IDs of the matching rules in order.
func (r *ScanResult) RuleIDs() []string {
	ids := make([]string, len(r.Matches))
	for i := range r.Matches {
		ids[i] = r.Matches[i].RuleID
	}
	return ids
}

// Matched reports whether the rule with the given ID fired.
func (r *ScanResult) Matched(ruleID string) bool {
	for i := range r.Matches {
		if r.Matches[i].RuleID == ruleID {
			return true
		}
	}
	return false
}

// String summarizes the result, e.g. "3 rules matched in 4096 bytes".
func (r *ScanResult) String() string {
	return strconv.Itoa(len(r.Matches)) + " rules matched in " + strconv.FormatInt(r.Size, 10) + " bytes"
}
