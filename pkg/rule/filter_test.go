package rule

import (
	"testing"

	"github.com/praetorian-inc/augur/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(rules []*types.Rule) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

func TestParsePatterns(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty string returns empty slice", "", []string{}},
		{"single pattern", "pe.*", []string{"pe.*"}},
		{"multiple patterns", "pe.*,elf.*,script", []string{"pe.*", "elf.*", "script"}},
		{"patterns are trimmed", " pe.* , elf.* ,, ", []string{"pe.*", "elf.*"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePatterns(tt.input))
		})
	}
}

func TestFilter(t *testing.T) {
	rules := []*types.Rule{
		{ID: "pe.mz_dos_stub"},
		{ID: "pe.pe_header"},
		{ID: "pe.deprecated.packer"},
		{ID: "elf.header"},
		{ID: "script.powershell_encoded"},
	}

	tests := []struct {
		name     string
		config   FilterConfig
		expected []string
	}{
		{
			name:     "empty config keeps all",
			config:   FilterConfig{},
			expected: ids(rules),
		},
		{
			name:     "include prefix",
			config:   FilterConfig{Include: []string{`^pe\.`}},
			expected: []string{"pe.mz_dos_stub", "pe.pe_header", "pe.deprecated.packer"},
		},
		{
			name:     "include several",
			config:   FilterConfig{Include: []string{`^elf\.`, `^script\.`}},
			expected: []string{"elf.header", "script.powershell_encoded"},
		},
		{
			name:     "exclude only",
			config:   FilterConfig{Exclude: []string{`^pe\.`}},
			expected: []string{"elf.header", "script.powershell_encoded"},
		},
		{
			name:     "include then exclude",
			config:   FilterConfig{Include: []string{`^pe\.`}, Exclude: []string{"deprecated"}},
			expected: []string{"pe.mz_dos_stub", "pe.pe_header"},
		},
		{
			name:     "include matches none",
			config:   FilterConfig{Include: []string{"^macho"}},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered, err := Filter(rules, tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(filtered))
		})
	}
}

func TestFilter_InvalidRegex(t *testing.T) {
	rules := []*types.Rule{{ID: "pe.mz_dos_stub"}}

	for _, cfg := range []FilterConfig{
		{Include: []string{"[invalid"}},
		{Exclude: []string{"[invalid"}},
		{Include: []string{"pe.*", "[invalid"}},
	} {
		_, err := Filter(rules, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid regex pattern")
	}
}

func TestFilterRuleset_SharesAtomTable(t *testing.T) {
	rs := &types.Ruleset{
		Name:  "test",
		Atoms: []types.Atom{{ID: "a", Bytes: []byte("MZ")}, {ID: "b", Bytes: []byte("ELF")}},
		Rules: []*types.Rule{
			{ID: "pe.mz", Atoms: []int{0}, Condition: types.Present(0)},
			{ID: "elf.magic", Atoms: []int{1}, Condition: types.Present(1)},
		},
	}

	out, err := FilterRuleset(rs, FilterConfig{Exclude: []string{"^pe"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"elf.magic"}, out.RuleIDs())
	assert.Len(t, out.Atoms, 2)
	assert.Equal(t, "test", out.Name)

	same, err := FilterRuleset(rs, FilterConfig{})
	require.NoError(t, err)
	assert.Same(t, rs, same)
}
