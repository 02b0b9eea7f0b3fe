package rule

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/types"
	"gopkg.in/yaml.v3"
)

// BuiltinName is the rule-set name given to the embedded rules.
const BuiltinName = "builtin"

// Loader handles loading compiled rule sets from YAML files.
type Loader struct {
	fs fs.FS // embedded filesystem for built-in rules
}

// NewLoader creates a loader with built-in rules from embedded filesystem.
func NewLoader() *Loader {
	return &Loader{
		fs: builtinRulesFS,
	}
}

// NewLoaderWithFS creates a loader with a custom filesystem. Built-in rules
// are read from its rules directory.
func NewLoaderWithFS(fsys fs.FS) *Loader {
	return &Loader{
		fs: fsys,
	}
}

// Load parses a single compiled rules file.
func (l *Loader) Load(data []byte) (*types.Ruleset, error) {
	b := newBuilder()
	if err := b.addFile("<bytes>", data); err != nil {
		return nil, err
	}
	return b.finish()
}

// LoadFile loads a compiled rules file from disk.
func (l *Loader) LoadFile(path string) (*types.Ruleset, error) {
	return l.LoadPaths(path)
}

// LoadPaths loads and merges rule files. Directories contribute every
// *.yml and *.yaml file directly inside them, in name order.
func (l *Loader) LoadPaths(paths ...string) (*types.Ruleset, error) {
	b := newBuilder()
	for _, p := range paths {
		files, err := expandPath(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read file %s: %w", f, err)
			}
			if err := b.addFile(f, data); err != nil {
				return nil, err
			}
		}
	}
	if len(paths) == 1 && b.rs.Name == "" {
		b.rs.Name = strings.TrimSuffix(filepath.Base(paths[0]), filepath.Ext(paths[0]))
	}
	return b.finish()
}

// LoadBuiltin loads all built-in rules from the embedded filesystem.
func (l *Loader) LoadBuiltin() (*types.Ruleset, error) {
	b := newBuilder()

	err := fs.WalkDir(l.fs, "rules", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".yml" {
			return nil
		}

		data, err := fs.ReadFile(l.fs, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		return b.addFile(path, data)
	})
	if err != nil {
		return nil, err
	}

	b.rs.Name = BuiltinName
	return b.finish()
}

// expandPath lists the rule files named by path.
func expandPath(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
	}
	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if !e.IsDir() && (ext == ".yml" || ext == ".yaml") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// builder accumulates rules from several files into one atom table.
type builder struct {
	rs *types.Ruleset
}

func newBuilder() *builder {
	return &builder{rs: &types.Ruleset{}}
}

func (b *builder) addFile(name string, data []byte) error {
	var file yamlRulesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return types.Errorf(types.InvalidRuleSet, "rule.Load", "parse %s: %v", name, err)
	}
	if b.rs.Name == "" {
		b.rs.Name = file.Name
	}
	if b.rs.Version == "" {
		b.rs.Version = file.Version
	}
	for i := range file.Rules {
		if err := b.addRule(&file.Rules[i]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (b *builder) addRule(yr *yamlRule) error {
	if yr.Condition == nil {
		return types.Errorf(types.InvalidRuleSet, "rule.Load", "rule %q has no condition", yr.ID)
	}

	base := len(b.rs.Atoms)
	r := &types.Rule{
		ID:      yr.ID,
		Name:    yr.Name,
		Tags:    yr.Tags,
		Meta:    yr.Meta,
		Private: yr.Private,
		Global:  yr.Global,
	}
	for _, ys := range yr.Strings {
		a, err := convertString(yr.ID, ys)
		if err != nil {
			return err
		}
		r.Atoms = append(r.Atoms, len(b.rs.Atoms))
		b.rs.Atoms = append(b.rs.Atoms, a)
	}

	cond, err := remap(yr.Condition, base, len(yr.Strings))
	if err != nil {
		return fmt.Errorf("rule %s: %w", yr.ID, err)
	}
	r.Condition = cond
	b.rs.Rules = append(b.rs.Rules, r)
	return nil
}

func (b *builder) finish() (*types.Ruleset, error) {
	if err := ValidateRuleset(b.rs); err != nil {
		return nil, err
	}
	if _, err := atom.New(b.rs); err != nil {
		return nil, err
	}
	return b.rs, nil
}

// convertString turns a string declaration into an atom whose ID is
// qualified by the rule ID, e.g. "pe.mz_header:$mz".
func convertString(ruleID string, ys yamlString) (types.Atom, error) {
	a := types.Atom{ID: ruleID + ":" + ys.ID}
	if ys.ID == "" {
		return a, types.Errorf(types.InvalidRuleSet, "rule.Load", "rule %s has a string without id", ruleID)
	}

	flags, err := types.ParseAtomFlags(ys.Modifiers)
	if err != nil {
		return a, types.Errorf(types.InvalidRuleSet, "rule.Load", "%s: %v", a.ID, err)
	}
	a.Flags = flags

	set := 0
	if ys.Text != nil {
		set++
		a.Kind = types.AtomLiteral
		a.Bytes = []byte(*ys.Text)
	}
	if ys.Hex != "" {
		set++
		a.Kind = types.AtomLiteral
		if a.Bytes, err = ParseHex(ys.Hex); err != nil {
			return a, types.Errorf(types.InvalidRuleSet, "rule.Load", "%s: %v", a.ID, err)
		}
	}
	if ys.Regex != "" {
		set++
		a.Kind = types.AtomRegex
		a.Pattern = ys.Regex
		a.Keywords = ys.Keywords
	}
	if set != 1 {
		return a, types.Errorf(types.InvalidRuleSet, "rule.Load",
			"%s must set exactly one of text, hex and regex", a.ID)
	}
	if len(ys.Keywords) > 0 && a.Kind != types.AtomRegex {
		return a, types.Errorf(types.InvalidRuleSet, "rule.Load", "%s: keywords apply to regex strings only", a.ID)
	}
	return a, nil
}

// ParseHex decodes a hex string such as "4D 5A 90 00" or "{ 4d5a }".
// Wildcards and jumps are not supported.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.Join(strings.Fields(s), "")
	if s == "" {
		return nil, fmt.Errorf("empty hex string")
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return out, nil
}

// remap copies c, shifting rule-local atom indices by base. Indices must lie
// in [0, n).
func remap(c *types.Condition, base, n int) (*types.Condition, error) {
	if c == nil {
		return nil, types.Errorf(types.MalformedCondition, "rule.Load", "missing operand")
	}
	check := func(idx int) error {
		if idx < 0 || idx >= n {
			return types.Errorf(types.MalformedCondition, "rule.Load",
				"string index %d out of range [0,%d)", idx, n)
		}
		return nil
	}

	out := *c
	out.Args = nil
	out.Atoms = nil

	switch c.Op {
	case types.OpPresent, types.OpCount, types.OpAt, types.OpIn:
		if err := check(c.Atom); err != nil {
			return nil, err
		}
		out.Atom = c.Atom + base
	case types.OpFollowedBy:
		if err := check(c.Atom); err != nil {
			return nil, err
		}
		if err := check(c.Next); err != nil {
			return nil, err
		}
		out.Atom, out.Next = c.Atom+base, c.Next+base
	case types.OpOf:
		// Without atoms, of covers every string of the rule; without n, all of them.
		atoms := c.Atoms
		if len(atoms) == 0 {
			for i := 0; i < n; i++ {
				atoms = append(atoms, i)
			}
		}
		for _, a := range atoms {
			if err := check(a); err != nil {
				return nil, err
			}
			out.Atoms = append(out.Atoms, a+base)
		}
		if out.N == 0 {
			out.N = len(out.Atoms)
		}
	}

	for _, arg := range c.Args {
		m, err := remap(arg, base, n)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, m)
	}
	return &out, nil
}
