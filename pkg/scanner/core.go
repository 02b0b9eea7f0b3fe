package scanner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/praetorian-inc/augur/pkg/rule"
	"github.com/praetorian-inc/augur/pkg/store"
	"github.com/praetorian-inc/augur/pkg/types"
)

var (
	// cachedBuiltinRules holds builtin rules loaded once per process
	cachedBuiltinRules *types.Ruleset
	cachedRulesErr     error
	cacheOnce          sync.Once
)

// loadBuiltinRulesCached loads builtin rules once and caches them
func loadBuiltinRulesCached() (*types.Ruleset, error) {
	cacheOnce.Do(func() {
		cachedBuiltinRules, cachedRulesErr = rule.NewLoader().LoadBuiltin()
	})
	return cachedBuiltinRules, cachedRulesErr
}

// GetBuiltinRules returns the built-in rule set (cached)
func GetBuiltinRules() (*types.Ruleset, error) {
	return loadBuiltinRulesCached()
}

// Core wraps compiled rules and a store for scanning operations. Every
// scanned buffer, its provenance and its matches are persisted.
type Core struct {
	rules   atomic.Pointer[Rules]
	store   store.Store
	workers int
	logger  *slog.Logger
}

// NewCore creates a Core from rulesYAML, which can be:
//   - "" or "builtin" to load builtin rules (cached)
//   - a compiled rules document
//
// Results are kept in an in-memory store.
func NewCore(rulesYAML string, opts ...Option) (*Core, error) {
	s, err := store.New(store.Config{Path: store.MemoryPath})
	if err != nil {
		return nil, err
	}
	c, err := NewCoreWithStore(rulesYAML, s, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	return c, nil
}

// NewCoreWithStore is NewCore persisting into s. The Core owns s.
func NewCoreWithStore(rulesYAML string, s store.Store, opts ...Option) (*Core, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	var rs *types.Ruleset
	var err error
	if rulesYAML == "" || rulesYAML == rule.BuiltinName {
		logger.Debug("loading builtin rules (cached)")
		rs, err = loadBuiltinRulesCached()
	} else {
		rs, err = rule.NewLoader().Load([]byte(rulesYAML))
	}
	if err != nil {
		logger.Debug("loading rules failed", "error", err)
		return nil, err
	}
	return NewCoreFromRuleset(rs, s, opts...)
}

// NewCoreFromRuleset compiles an already loaded rule set into a Core
// persisting into s. The Core owns s.
func NewCoreFromRuleset(rs *types.Ruleset, s store.Store, opts ...Option) (*Core, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	rules, err := Compile(rs, opts...)
	if err != nil {
		return nil, err
	}
	for _, r := range rs.Rules {
		if err := s.AddRule(r); err != nil {
			rules.Close()
			return nil, err
		}
	}
	logger.Debug("core ready", "ruleset", rs.Name, "rules", len(rs.Rules))

	c := &Core{store: s, workers: cfg.workers, logger: logger}
	c.rules.Store(rules)
	return c, nil
}

// Rules returns the compiled rules.
func (c *Core) Rules() *Rules {
	return c.rules.Load()
}

// SwapRules replaces the rules used by later scans and returns the previous
// ones. Scans already running finish with the rules they started with; the
// caller decides when the previous rules can be closed.
func (c *Core) SwapRules(rules *Rules) *Rules {
	for _, r := range rules.Ruleset().Rules {
		if err := c.store.AddRule(r); err != nil {
			c.logger.Warn("failed to store rule", "rule", r.ID, "error", err)
		}
	}
	return c.rules.Swap(rules)
}

// Store returns the result store.
func (c *Core) Store() store.Store {
	return c.store
}

// Scan scans a single content string and persists the result.
func (c *Core) Scan(content, source string) (*ScanResult, error) {
	res, err := c.Rules().Scan([]byte(content))
	if err != nil {
		return nil, err
	}
	if err := c.persist(res, source); err != nil {
		return nil, err
	}
	return toScanResult(source, res), nil
}

// ScanBatch scans multiple content items. Items that fail to scan are
// reported with their error and do not stop the batch.
func (c *Core) ScanBatch(items []ContentItem) (*BatchScanResult, error) {
	batch := make([]Item, len(items))
	for i, item := range items {
		batch[i] = Item{Source: item.Source, Content: []byte(item.Content)}
	}

	scanned, err := c.Rules().ScanBatch(context.Background(), batch, c.workers)
	if err != nil {
		return nil, err
	}

	out := &BatchScanResult{Results: make([]ScanResult, 0, len(scanned))}
	for _, br := range scanned {
		if br.Err != nil {
			c.logger.Warn("scan failed", "source", br.Source, "error", br.Err)
			out.Results = append(out.Results, ScanResult{Source: br.Source, Error: br.Err.Error()})
			continue
		}
		if err := c.persist(br.Result, br.Source); err != nil {
			return nil, err
		}
		out.Results = append(out.Results, *toScanResult(br.Source, br.Result))
		out.Total += len(br.Result.Matches)
	}
	return out, nil
}

func (c *Core) persist(res *types.ScanResult, source string) error {
	if err := c.store.AddBlob(res.BlobID, res.Size); err != nil {
		return err
	}
	if source != "" {
		if err := c.store.AddProvenance(res.BlobID, types.InlineProvenance{Source: source}); err != nil {
			return err
		}
	}
	for i := range res.Matches {
		if err := c.store.AddMatch(store.NewMatchRecord(res.BlobID, &res.Matches[i])); err != nil {
			return err
		}
	}
	return nil
}

func toScanResult(source string, res *types.ScanResult) *ScanResult {
	return &ScanResult{
		Source:  source,
		BlobID:  res.BlobID,
		Size:    res.Size,
		Matches: res.Matches,
	}
}

// Close releases scanner resources
func (c *Core) Close() error {
	var err error
	if rules := c.rules.Load(); rules != nil {
		err = rules.Close()
	}
	if c.store != nil {
		if serr := c.store.Close(); err == nil {
			err = serr
		}
	}
	return err
}
