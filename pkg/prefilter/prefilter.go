// Package prefilter skips regex atoms whose required keywords do not occur
// in the content.
package prefilter

import (
	"slices"

	"github.com/cloudflare/ahocorasick"
	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/types"
)

// keywordSet is one Aho-Corasick matcher and the slots gated by each keyword.
type keywordSet struct {
	matcher  *ahocorasick.Matcher
	keywords []string         // keyword at each index
	slots    map[string][]int // keyword -> slots needing it
}

func newKeywordSet() *keywordSet {
	return &keywordSet{slots: make(map[string][]int)}
}

func (k *keywordSet) add(keyword string, slot int) {
	if _, ok := k.slots[keyword]; !ok {
		k.keywords = append(k.keywords, keyword)
	}
	k.slots[keyword] = append(k.slots[keyword], slot)
}

func (k *keywordSet) build() {
	if len(k.keywords) > 0 {
		k.matcher = ahocorasick.NewStringMatcher(k.keywords)
	}
}

// Prefilter uses Aho-Corasick for efficient keyword matching.
// Case-insensitive atoms have their keywords folded and are matched against
// folded content. A Prefilter is safe for concurrent use.
type Prefilter struct {
	exact     *keywordSet
	folded    *keywordSet
	always    []int // regex slots without keywords (always checked)
	candidate int   // number of regex slots
}

// New creates a prefilter over the regex atoms of store.
func New(store *atom.Store) *Prefilter {
	pf := &Prefilter{
		exact:  newKeywordSet(),
		folded: newKeywordSet(),
	}

	for _, slot := range store.RegexSlots() {
		a := store.Atom(slot)
		pf.candidate++
		if len(a.Keywords) == 0 {
			pf.always = append(pf.always, slot)
			continue
		}
		for _, kw := range a.Keywords {
			if kw == "" {
				continue
			}
			if a.Flags.Has(types.Nocase) {
				pf.folded.add(string(atom.FoldBytes([]byte(kw))), slot)
			} else {
				pf.exact.add(kw, slot)
			}
		}
	}

	pf.exact.build()
	pf.folded.build()
	return pf
}

// Len returns the number of regex atoms the prefilter covers.
func (pf *Prefilter) Len() int {
	return pf.candidate
}

// Filter returns, in slot order, the regex slots that might match content:
// those with a keyword present and those without keywords.
func (pf *Prefilter) Filter(content []byte) []int {
	result := make([]int, 0, len(pf.always))
	result = append(result, pf.always...)

	if pf.exact.matcher == nil && pf.folded.matcher == nil {
		return result
	}

	seen := make(map[int]bool, len(result))
	for _, slot := range result {
		seen[slot] = true
	}
	collect := func(k *keywordSet, data []byte) {
		if k.matcher == nil {
			return
		}
		for _, hit := range k.matcher.MatchThreadSafe(data) {
			for _, slot := range k.slots[k.keywords[hit]] {
				if !seen[slot] {
					seen[slot] = true
					result = append(result, slot)
				}
			}
		}
	}

	collect(pf.exact, content)
	if pf.folded.matcher != nil {
		collect(pf.folded, atom.FoldBytes(content))
	}

	slices.Sort(result)
	return result
}
