package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleRuleset() *Ruleset {
	return &Ruleset{
		Name: "sample",
		Atoms: []Atom{
			{ID: "$mz", Kind: AtomLiteral, Bytes: []byte("MZ")},
			{ID: "$dos", Kind: AtomLiteral, Bytes: []byte("This program cannot be run")},
		},
		Rules: []*Rule{
			{ID: "r1", Atoms: []int{0, 1}, Condition: And(At(0, 0), Present(1))},
			{ID: "r2", Atoms: []int{1}, Condition: Present(1)},
			{ID: "r3", Atoms: []int{0}, Condition: Present(0), Private: true},
		},
	}
}

func TestRuleset_Fingerprint(t *testing.T) {
	a := sampleRuleset()
	b := sampleRuleset()

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 40)

	b.Rules[1].Condition = CountAtLeast(1, 2)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := sampleRuleset()
	c.Atoms[0].Flags = Nocase
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestRuleset_FingerprintCoversKeywordsAndMetadata(t *testing.T) {
	build := func() *Ruleset {
		rs := sampleRuleset()
		rs.Atoms = append(rs.Atoms, Atom{ID: "$url", Kind: AtomRegex, Pattern: `https?://\S+`, Keywords: []string{"://"}})
		rs.Rules[0].Name = "PE stub"
		rs.Rules[0].Tags = []string{"pe"}
		rs.Rules[0].Meta = map[string]string{"author": "a", "ref": "x"}
		return rs
	}
	want := build().Fingerprint()

	tests := []struct {
		name   string
		mutate func(rs *Ruleset)
	}{
		{"keyword", func(rs *Ruleset) { rs.Atoms[2].Keywords = []string{"http"} }},
		{"keyword added", func(rs *Ruleset) { rs.Atoms[2].Keywords = append(rs.Atoms[2].Keywords, "www") }},
		{"name", func(rs *Ruleset) { rs.Rules[0].Name = "PE" }},
		{"tag", func(rs *Ruleset) { rs.Rules[0].Tags = []string{"exe"} }},
		{"meta value", func(rs *Ruleset) { rs.Rules[0].Meta["ref"] = "y" }},
		{"meta key", func(rs *Ruleset) { rs.Rules[0].Meta["extra"] = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := build()
			assert.Equal(t, want, rs.Fingerprint())

			tt.mutate(rs)
			assert.NotEqual(t, want, rs.Fingerprint())
		})
	}
}

func TestRuleset_Lookup(t *testing.T) {
	rs := sampleRuleset()

	assert.Equal(t, []string{"r1", "r2", "r3"}, rs.RuleIDs())
	assert.Equal(t, "r2", rs.Rule("r2").ID)
	assert.Nil(t, rs.Rule("missing"))
}

func TestRuleset_SubsetKeepsOrder(t *testing.T) {
	rs := sampleRuleset()

	sub := rs.Subset([]*Rule{rs.Rules[2], rs.Rules[0]})

	assert.Equal(t, []string{"r1", "r3"}, sub.RuleIDs())
	assert.Equal(t, rs.Atoms, sub.Atoms)
}

func TestAtomFlags(t *testing.T) {
	flags, err := ParseAtomFlags([]string{"nocase", " FULLWORD ", "ascii"})
	assert.NoError(t, err)
	assert.True(t, flags.Has(Nocase))
	assert.True(t, flags.Has(Fullword))
	assert.Equal(t, "nocase fullword", flags.String())

	_, err = ParseAtomFlags([]string{"wide"})
	assert.Error(t, err)
}

func TestAtom_String(t *testing.T) {
	lit := Atom{ID: "$a", Bytes: []byte("abc"), Flags: Nocase}
	assert.Equal(t, `$a = "abc" nocase`, lit.String())
	assert.Equal(t, 3, lit.Len())

	re := Atom{ID: "$r", Kind: AtomRegex, Pattern: `ab+c`}
	assert.Equal(t, "$r = /ab+c/", re.String())
	assert.Equal(t, 0, re.Len())
}
