package reload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/praetorian-inc/augur/pkg/rule"
	"github.com/praetorian-inc/augur/pkg/scanner"
	"github.com/praetorian-inc/augur/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const catRules = `name: animals
rules:
  - id: word.cat
    name: Cat
    strings:
      - id: $cat
        text: cat
        modifiers: [fullword]
    condition: {op: present, atom: 0}
`

const dogRules = `name: animals
rules:
  - id: word.dog
    name: Dog
    strings:
      - id: $dog
        text: dog
    condition: {op: present, atom: 0}
`

// staticLoader returns whatever document or error is currently set.
type staticLoader struct {
	mu  sync.Mutex
	doc string
	err error
}

func (l *staticLoader) set(doc string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.doc, l.err = doc, err
}

func (l *staticLoader) load() (*types.Ruleset, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return rule.NewLoader().Load([]byte(l.doc))
}

func matchedIDs(t *testing.T, rules *scanner.Rules, content string) []string {
	t.Helper()
	res, err := rules.Scan([]byte(content))
	require.NoError(t, err)
	ids := []string{}
	for _, m := range res.Matches {
		ids = append(ids, m.RuleID)
	}
	return ids
}

func TestReload_Initial(t *testing.T) {
	l := &staticLoader{doc: catRules}
	r := New(l.load, WithGracePeriod(0))
	assert.Nil(t, r.Rules())

	changed, err := r.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, r.Rules())
	assert.Equal(t, []string{"word.cat"}, matchedIDs(t, r.Rules(), "a cat and a dog"))

	md := r.Metadata()
	assert.Equal(t, 1, md.ReloadCount)
	assert.Equal(t, 1, md.RuleCount)
	assert.Equal(t, r.Rules().Fingerprint(), md.Fingerprint)
	assert.Empty(t, md.LastError)
}

func TestReload_UnchangedIsSkipped(t *testing.T) {
	l := &staticLoader{doc: catRules}
	r := New(l.load, WithGracePeriod(0))

	_, err := r.Reload()
	require.NoError(t, err)
	first := r.Rules()

	changed, err := r.Reload()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, first, r.Rules())
	assert.Equal(t, 1, r.Metadata().ReloadCount)
}

func TestReload_Swap(t *testing.T) {
	l := &staticLoader{doc: catRules}
	r := New(l.load, WithGracePeriod(0))
	_, err := r.Reload()
	require.NoError(t, err)

	l.set(dogRules, nil)
	changed, err := r.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"word.dog"}, matchedIDs(t, r.Rules(), "a cat and a dog"))
	assert.Equal(t, 2, r.Metadata().ReloadCount)
}

func TestReload_MetadataChangeIsApplied(t *testing.T) {
	l := &staticLoader{doc: catRules}
	r := New(l.load, WithGracePeriod(0))
	_, err := r.Reload()
	require.NoError(t, err)

	l.set(strings.Replace(catRules, "name: Cat", "name: Feline", 1), nil)
	changed, err := r.Reload()
	require.NoError(t, err)
	assert.True(t, changed)

	res, err := r.Rules().Scan([]byte("a cat"))
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "Feline", res.Matches[0].Name)
}

func TestReload_FailureKeepsPrevious(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		err  error
	}{
		{name: "load error", err: errors.New("disk on fire")},
		{name: "invalid document", doc: "rules: [{id: broken, condition: {op: present, atom: 7}}]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &staticLoader{doc: catRules}
			r := New(l.load, WithGracePeriod(0))
			_, err := r.Reload()
			require.NoError(t, err)
			before := r.Rules()

			l.set(tt.doc, tt.err)
			changed, err := r.Reload()
			require.Error(t, err)
			assert.False(t, changed)
			assert.Same(t, before, r.Rules())
			assert.NotEmpty(t, r.Metadata().LastError)
			assert.Equal(t, []string{"word.cat"}, matchedIDs(t, r.Rules(), "cat"))
		})
	}
}

func TestReload_WithSwapAndCurrent(t *testing.T) {
	core, err := scanner.NewCore(catRules)
	require.NoError(t, err)
	defer core.Close()

	l := &staticLoader{doc: catRules}
	r := New(l.load,
		WithCurrent(core.Rules()),
		WithSwap(core.SwapRules),
		WithGracePeriod(0))

	changed, err := r.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "seeded fingerprint matches")

	l.set(dogRules, nil)
	changed, err = r.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Same(t, r.Rules(), core.Rules())

	res, err := core.Scan("hot dog", "inline")
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "word.dog", res.Matches[0].RuleID)
}

func TestReload_GracePeriod(t *testing.T) {
	l := &staticLoader{doc: catRules}
	r := New(l.load, WithGracePeriod(time.Hour))
	_, err := r.Reload()
	require.NoError(t, err)
	old := r.Rules()

	l.set(dogRules, nil)
	_, err = r.Reload()
	require.NoError(t, err)

	// displaced rules remain usable during the grace period
	assert.Equal(t, []string{"word.cat"}, matchedIDs(t, old, "cat"))
	r.mu.Lock()
	assert.Len(t, r.retiring, 1)
	r.mu.Unlock()

	require.NoError(t, r.Close())
	r.mu.Lock()
	assert.Empty(t, r.retiring)
	r.mu.Unlock()
}

func TestReload_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	l := &staticLoader{doc: catRules}
	r := New(l.load, WithMeter(provider.Meter("test")), WithGracePeriod(0))
	_, _ = r.Reload()
	_, _ = r.Reload()
	l.set("", errors.New("gone"))
	_, _ = r.Reload()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	byResult := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "augur_rule_reloads_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value("result")
				byResult[v.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{"swapped": 1, "unchanged": 1, "failed": 1}, byResult)
}

func TestPathLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yml"), []byte(catRules), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte(dogRules), 0o644))

	rs, err := PathLoader(rule.FilterConfig{Exclude: []string{`^word\.cat$`}}, dir)()
	require.NoError(t, err)
	assert.Equal(t, []string{"word.dog"}, rs.RuleIDs())

	_, err = PathLoader(rule.FilterConfig{}, filepath.Join(dir, "missing.yml"))()
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yml")
	require.NoError(t, os.WriteFile(path, []byte(catRules), 0o644))

	r := New(PathLoader(rule.FilterConfig{}, path),
		WithDebounce(10*time.Millisecond),
		WithGracePeriod(0))
	_, err := r.Reload()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, path) }()

	// fsnotify registration is asynchronous; keep rewriting until seen
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(dogRules), 0o644)
		return r.Rules().Ruleset().Rule("word.dog") != nil
	}, 5*time.Second, 50*time.Millisecond)

	// unrelated files in the same directory are ignored
	count := r.Metadata().ReloadCount
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, count, r.Metadata().ReloadCount)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_MissingPath(t *testing.T) {
	r := New(func() (*types.Ruleset, error) { return nil, errors.New("unused") })
	err := r.Watch(context.Background(), filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
