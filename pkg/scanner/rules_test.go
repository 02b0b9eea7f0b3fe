package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/praetorian-inc/augur/pkg/automaton"
	"github.com/praetorian-inc/augur/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRuleset covers literal, nocase, fullword and regex atoms.
func testRuleset() *types.Ruleset {
	return &types.Ruleset{
		Name: "test",
		Atoms: []types.Atom{
			{ID: "$mz", Kind: types.AtomLiteral, Bytes: []byte("MZ")},
			{ID: "$dos", Kind: types.AtomLiteral, Bytes: []byte("This program cannot be run"), Flags: types.Nocase},
			{ID: "$cat", Bytes: []byte("cat"), Flags: types.Fullword},
			{ID: "$url", Kind: types.AtomRegex, Pattern: `https?://[a-z]+\.example`, Keywords: []string{"://"}},
		},
		Rules: []*types.Rule{
			{
				ID:        "pe.mz_dos_stub",
				Name:      "PE with DOS stub",
				Tags:      []string{"pe"},
				Meta:      map[string]string{"author": "augur"},
				Atoms:     []int{0, 1},
				Condition: types.And(types.At(0, 0), types.Present(1)),
			},
			{ID: "word.cat", Atoms: []int{2}, Condition: types.Present(2)},
			{ID: "net.url", Atoms: []int{3}, Condition: types.Present(3)},
		},
	}
}

func compile(t *testing.T, rs *types.Ruleset, opts ...Option) *Rules {
	t.Helper()
	rules, err := Compile(rs, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { rules.Close() })
	return rules
}

func peSample() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, "MZ\x90\x00\x03\x00\x00\x00"...)
	buf = append(buf, bytes.Repeat([]byte{0}, 56)...)
	buf = append(buf, "This program cannot be run in DOS mode.\r\r\n$"...)
	return buf
}

func TestScan_MZScenario(t *testing.T) {
	rules := compile(t, testRuleset())

	res, err := rules.Scan(peSample())
	require.NoError(t, err)
	assert.Equal(t, []string{"pe.mz_dos_stub"}, res.RuleIDs())
	assert.Equal(t, types.ComputeBlobID(peSample()), res.BlobID)
	assert.Equal(t, int64(len(peSample())), res.Size)

	m := res.Matches[0]
	assert.Equal(t, "PE with DOS stub", m.Name)
	assert.Equal(t, []string{"pe"}, m.Tags)
	assert.Empty(t, m.Atoms, "offsets are only reported on request")

	// The DOS stub message alone, with MZ elsewhere, does not match.
	shifted := append([]byte("\x00"), peSample()...)
	res, err = rules.Scan(shifted)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestScan_NocaseEquivalence(t *testing.T) {
	rules := compile(t, testRuleset())

	upper, err := rules.Scan([]byte("MZ THIS PROGRAM CANNOT BE RUN"))
	require.NoError(t, err)
	lower, err := rules.Scan([]byte("MZ this program cannot be run"))
	require.NoError(t, err)

	assert.Equal(t, []string{"pe.mz_dos_stub"}, upper.RuleIDs())
	assert.Equal(t, upper.RuleIDs(), lower.RuleIDs())
}

func TestScan_Fullword(t *testing.T) {
	rules := compile(t, testRuleset())

	tests := []struct {
		input string
		want  bool
	}{
		{"cat", true},
		{"the cat sat", true},
		{"(cat)", true},
		{"category", false},
		{"concat", false},
		{"cat9", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res, err := rules.Scan([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Matched("word.cat"))
		})
	}
}

func TestScan_RegexAtom(t *testing.T) {
	rules := compile(t, testRuleset(), WithOffsets(true))

	res, err := rules.Scan([]byte("see https://docs.example and http://cdn.example"))
	require.NoError(t, err)
	require.Equal(t, []string{"net.url"}, res.RuleIDs())

	atoms := res.Matches[0].Atoms
	require.Len(t, atoms, 1)
	assert.Equal(t, "$url", atoms[0].AtomID)
	assert.Equal(t, []int64{4, 29}, atoms[0].Offsets)
	assert.Equal(t, 0, atoms[0].Length)

	res, err = rules.Scan([]byte("no scheme here: docs.example"))
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
}

func TestScan_Offsets(t *testing.T) {
	rules := compile(t, testRuleset(), WithOffsets(true))

	res, err := rules.Scan(peSample())
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)

	atoms := res.Matches[0].Atoms
	require.Len(t, atoms, 2)
	assert.Equal(t, types.AtomMatch{AtomID: "$mz", Index: 0, Offsets: []int64{0}, Length: 2}, atoms[0])
	assert.Equal(t, "$dos", atoms[1].AtomID)
	assert.Equal(t, []int64{64}, atoms[1].Offsets)
	assert.Equal(t, 26, atoms[1].Length)
}

func TestScan_EmptyBuffer(t *testing.T) {
	rules := compile(t, testRuleset())

	res, err := rules.Scan(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 0, res.AtomMatches)
	assert.Equal(t, int64(0), res.Size)
}

func TestScan_Idempotent(t *testing.T) {
	rules := compile(t, testRuleset(), WithOffsets(true))
	buf := append(peSample(), " a cat at https://x.example"...)

	first, err := rules.Scan(buf)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := rules.Scan(buf)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// Run with -race: one Rules value serves every goroutine, including its
// keyword prefilter.
func TestScan_Concurrent(t *testing.T) {
	rules := compile(t, testRuleset(), WithOffsets(true))

	inputs := [][]byte{
		peSample(),
		[]byte("a cat"),
		[]byte("https://a.example cat"),
		[]byte("nothing to see"),
	}
	want := make([]*types.ScanResult, len(inputs))
	for i, in := range inputs {
		res, err := rules.Scan(in)
		require.NoError(t, err)
		want[i] = res
	}

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make(chan error, goroutines*len(inputs))
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i, in := range inputs {
				res, err := rules.Scan(in)
				if err != nil {
					errs <- err
					continue
				}
				if !assert.ObjectsAreEqual(want[i], res) {
					errs <- fmt.Errorf("input %d: got %v, want %v", i, res.RuleIDs(), want[i].RuleIDs())
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestScan_PrivateAndGlobal(t *testing.T) {
	rs := testRuleset()
	rs.Rules[1].Private = true

	rules := compile(t, rs)
	res, err := rules.Scan([]byte("MZ cat this program cannot be run"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pe.mz_dos_stub"}, res.RuleIDs(), "private rules are not reported")

	// A failing global rule suppresses everything.
	rs = testRuleset()
	rs.Rules = append(rs.Rules, &types.Rule{ID: "gate.url", Atoms: []int{3}, Condition: types.Present(3), Global: true})
	rules = compile(t, rs)

	res, err = rules.Scan([]byte("MZ cat this program cannot be run"))
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	res, err = rules.Scan([]byte("MZ cat this program cannot be run https://a.example"))
	require.NoError(t, err)
	assert.Equal(t, []string{"pe.mz_dos_stub", "word.cat", "net.url", "gate.url"}, res.RuleIDs())
}

func TestScan_PrivateGlobalGatesWithoutReporting(t *testing.T) {
	rs := testRuleset()
	rs.Rules = append(rs.Rules, &types.Rule{ID: "gate.mz", Atoms: []int{0}, Condition: types.At(0, 0), Global: true, Private: true})
	rules := compile(t, rs)

	res, err := rules.Scan([]byte("a cat"))
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	res, err = rules.Scan([]byte("MZ cat"))
	require.NoError(t, err)
	assert.Equal(t, []string{"word.cat"}, res.RuleIDs())
}

func TestScan_MatchMode(t *testing.T) {
	rs := &types.Ruleset{
		Atoms: []types.Atom{
			{ID: "$outer", Bytes: []byte("abcd")},
			{ID: "$inner", Bytes: []byte("bc")},
		},
		Rules: []*types.Rule{
			{ID: "inner", Condition: types.Present(1)},
		},
	}

	all := compile(t, rs, WithMatchMode(automaton.ReportAll))
	res, err := all.Scan([]byte("xabcdx"))
	require.NoError(t, err)
	assert.True(t, res.Matched("inner"))

	maximal := compile(t, rs, WithMatchMode(automaton.ReportMaximal))
	res, err = maximal.Scan([]byte("xabcdx"))
	require.NoError(t, err)
	assert.False(t, res.Matched("inner"))

	res, err = maximal.Scan([]byte("bc"))
	require.NoError(t, err)
	assert.True(t, res.Matched("inner"))
}

func TestScan_Limits(t *testing.T) {
	t.Run("buffer size", func(t *testing.T) {
		rules := compile(t, testRuleset(), WithMaxBufferSize(8))

		_, err := rules.Scan([]byte("12345678"))
		require.NoError(t, err)

		res, err := rules.Scan([]byte("123456789"))
		assert.Nil(t, res)
		assert.ErrorIs(t, err, types.ErrResourceExhausted)
	})

	t.Run("matches", func(t *testing.T) {
		rules := compile(t, testRuleset(), WithMaxMatches(2))

		_, err := rules.Scan([]byte("cat cat"))
		require.NoError(t, err)

		res, err := rules.Scan([]byte("cat cat cat"))
		assert.Nil(t, res)
		assert.ErrorIs(t, err, types.ErrResourceExhausted)
	})

	t.Run("regex matches count toward the limit", func(t *testing.T) {
		rules := compile(t, testRuleset(), WithMaxMatches(2))

		_, err := rules.Scan([]byte("cat cat http://a.example"))
		assert.ErrorIs(t, err, types.ErrResourceExhausted)
	})

	t.Run("states", func(t *testing.T) {
		rules := compile(t, testRuleset(), WithMaxStates(4))

		_, err := rules.Scan([]byte("MZ"))
		assert.ErrorIs(t, err, types.ErrResourceExhausted)

		// The build failure is cached.
		_, again := rules.Scan([]byte("MZ"))
		assert.Same(t, err, again)
	})
}

func TestScanContext_Canceled(t *testing.T) {
	rules := compile(t, testRuleset())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := rules.ScanContext(ctx, peSample())
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		rs   *types.Ruleset
		kind types.ErrorKind
	}{
		{
			name: "nil ruleset",
			rs:   nil,
			kind: types.InvalidRuleSet,
		},
		{
			name: "duplicate rule IDs",
			rs: &types.Ruleset{
				Atoms: []types.Atom{{ID: "$a", Bytes: []byte("a")}},
				Rules: []*types.Rule{
					{ID: "dup", Condition: types.Present(0)},
					{ID: "dup", Condition: types.Present(0)},
				},
			},
			kind: types.InvalidRuleSet,
		},
		{
			name: "atom out of range",
			rs: &types.Ruleset{
				Atoms: []types.Atom{{ID: "$a", Bytes: []byte("a")}},
				Rules: []*types.Rule{{ID: "r", Condition: types.Present(3)}},
			},
			kind: types.MalformedCondition,
		},
		{
			name: "empty literal",
			rs: &types.Ruleset{
				Atoms: []types.Atom{{ID: "$a"}},
				Rules: []*types.Rule{{ID: "r", Condition: types.Present(0)}},
			},
			kind: types.InvalidRuleSet,
		},
		{
			name: "bad regex",
			rs: &types.Ruleset{
				Atoms: []types.Atom{{ID: "$r", Kind: types.AtomRegex, Pattern: "a(b"}},
				Rules: []*types.Rule{{ID: "r", Condition: types.Present(0)}},
			},
			kind: types.InvalidRuleSet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := Compile(tt.rs)
			require.Error(t, err)
			assert.Nil(t, rules)
			assert.Equal(t, tt.kind, types.KindOf(err))
		})
	}
}

func TestRules_Fingerprint(t *testing.T) {
	a := compile(t, testRuleset())
	b := compile(t, testRuleset())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 40)
	assert.Equal(t, "test", a.Ruleset().Name)
}
