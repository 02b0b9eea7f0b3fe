// Package augur matches compiled signature rules against raw byte buffers.
//
// A compiled rule set is a table of atoms (literal byte strings and regular
// expressions) and rules whose boolean conditions reference those atoms.
// augur finds every atom occurrence in one pass over the buffer and reports
// the rules whose conditions hold.
//
// # Basic Usage
//
// Create a scanner with the builtin rules and scan a buffer:
//
//	s, err := augur.NewScanner()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	res, err := s.ScanBytes(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, m := range res.Matches {
//	    fmt.Println(m.RuleID)
//	}
//
// # Directories
//
// ScanDir enumerates a directory, scans every file once per distinct content
// and records results in the scanner's store:
//
//	s, err := augur.NewScanner(augur.WithStore("results.db"))
//	summary, err := s.ScanDir(ctx, "/srv/uploads")
//	err = s.WriteSARIF(os.Stdout)
package augur

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/praetorian-inc/augur/pkg/automaton"
	"github.com/praetorian-inc/augur/pkg/enum"
	"github.com/praetorian-inc/augur/pkg/rule"
	"github.com/praetorian-inc/augur/pkg/sarif"
	"github.com/praetorian-inc/augur/pkg/scanner"
	"github.com/praetorian-inc/augur/pkg/store"
	"github.com/praetorian-inc/augur/pkg/types"
)

// Re-export commonly used types for convenience.
// Users can import just "github.com/praetorian-inc/augur" without subpackages.
type (
	// Ruleset is a compiled rule set.
	Ruleset = types.Ruleset

	// Rule is a compiled rule.
	Rule = types.Rule

	// Atom is a pattern referenced by rule conditions.
	Atom = types.Atom

	// Condition is a rule's boolean condition tree.
	Condition = types.Condition

	// ScanResult lists the rules that matched one buffer.
	ScanResult = types.ScanResult

	// RuleMatch is one matching rule.
	RuleMatch = types.RuleMatch

	// BlobID is the content ID of a scanned buffer.
	BlobID = types.BlobID

	// MatchMode selects how overlapping literal hits are reported.
	MatchMode = automaton.MatchMode
)

// Re-export match modes.
const (
	ReportAll     = automaton.ReportAll
	ReportMaximal = automaton.ReportMaximal
)

// Re-export error sentinels for errors.Is.
var (
	ErrInvalidRuleSet     = types.ErrInvalidRuleSet
	ErrMalformedCondition = types.ErrMalformedCondition
	ErrResourceExhausted  = types.ErrResourceExhausted
)

// Scanner scans buffers, readers, files and directories.
type Scanner struct {
	rules  *scanner.Rules
	store  store.Store
	config *scannerConfig
	logger *slog.Logger
}

// scannerConfig holds scanner configuration.
type scannerConfig struct {
	ruleset   *types.Ruleset
	storePath string
	enum      enum.Config
	scanOpts  []scanner.Option
	logger    *slog.Logger
}

// Option configures a Scanner.
type Option func(*scannerConfig)

// WithRules uses a compiled rule set instead of the builtin rules.
func WithRules(rs *Ruleset) Option {
	return func(c *scannerConfig) {
		c.ruleset = rs
	}
}

// WithStore persists results to the SQLite database at path.
// The default keeps results in memory.
func WithStore(path string) Option {
	return func(c *scannerConfig) {
		c.storePath = path
	}
}

// WithMatchMode sets the literal match reporting mode. Default is ReportAll.
func WithMatchMode(mode MatchMode) Option {
	return func(c *scannerConfig) {
		c.scanOpts = append(c.scanOpts, scanner.WithMatchMode(mode))
	}
}

// WithMaxBufferSize rejects buffers larger than n bytes.
func WithMaxBufferSize(n int64) Option {
	return func(c *scannerConfig) {
		c.scanOpts = append(c.scanOpts, scanner.WithMaxBufferSize(n))
	}
}

// WithOffsets includes per-atom offsets in rule matches.
func WithOffsets() Option {
	return func(c *scannerConfig) {
		c.scanOpts = append(c.scanOpts, scanner.WithOffsets(true))
	}
}

// WithScannerOptions passes low-level options to the rule compiler.
func WithScannerOptions(opts ...scanner.Option) Option {
	return func(c *scannerConfig) {
		c.scanOpts = append(c.scanOpts, opts...)
	}
}

// WithEnumConfig sets how ScanDir walks directories. Root is ignored.
func WithEnumConfig(cfg enum.Config) Option {
	return func(c *scannerConfig) {
		c.enum = cfg
	}
}

// WithLogger sets the logger used by the scanner and its rules.
func WithLogger(logger *slog.Logger) Option {
	return func(c *scannerConfig) {
		c.logger = logger
	}
}

// NewScanner creates a new Scanner with the given options.
//
// By default, the scanner uses the builtin rules, reports every literal hit
// and keeps results in memory.
func NewScanner(opts ...Option) (*Scanner, error) {
	config := &scannerConfig{storePath: store.MemoryPath}
	for _, opt := range opts {
		opt(config)
	}
	logger := config.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load rules if not provided
	if config.ruleset == nil {
		rs, err := scanner.GetBuiltinRules()
		if err != nil {
			return nil, fmt.Errorf("loading builtin rules: %w", err)
		}
		config.ruleset = rs
	}

	rules, err := scanner.Compile(config.ruleset, append(config.scanOpts, scanner.WithLogger(logger))...)
	if err != nil {
		return nil, fmt.Errorf("compiling rules: %w", err)
	}

	s, err := store.New(store.Config{Path: config.storePath})
	if err != nil {
		rules.Close()
		return nil, fmt.Errorf("opening store: %w", err)
	}
	for _, r := range config.ruleset.Rules {
		if err := s.AddRule(r); err != nil {
			rules.Close()
			s.Close()
			return nil, fmt.Errorf("storing rule %s: %w", r.ID, err)
		}
	}

	return &Scanner{
		rules:  rules,
		store:  s,
		config: config,
		logger: logger,
	}, nil
}

// ScanBytes scans a buffer and returns the matching rules.
func (s *Scanner) ScanBytes(content []byte) (*ScanResult, error) {
	return s.rules.Scan(content)
}

// ScanString scans a string.
func (s *Scanner) ScanString(content string) (*ScanResult, error) {
	return s.rules.Scan([]byte(content))
}

// ScanBytesWithContext scans a buffer, honoring ctx cancellation.
func (s *Scanner) ScanBytesWithContext(ctx context.Context, content []byte) (*ScanResult, error) {
	return s.rules.ScanContext(ctx, content)
}

// ScanReader scans everything read from r without buffering it whole.
func (s *Scanner) ScanReader(ctx context.Context, r io.Reader) (*ScanResult, error) {
	return s.rules.ScanReader(ctx, r)
}

// ScanFile streams a file through the scanner and records the result.
func (s *Scanner) ScanFile(ctx context.Context, path string) (*ScanResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	defer f.Close()

	res, err := s.rules.ScanReader(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := s.record(res, types.FileProvenance{FilePath: path}); err != nil {
		return nil, err
	}
	return res, nil
}

// FileResult is the outcome for one file of a directory scan.
type FileResult struct {
	Path   string
	Result *ScanResult // nil when Err is set
	Err    error
}

// DirSummary describes a directory scan.
type DirSummary struct {
	// Files holds one entry per scanned file, ordered by path.
	Files []FileResult
	// Skipped counts files whose content was already in the store.
	Skipped int
	// Duplicates counts files whose content appeared earlier in this scan.
	Duplicates int
}

// Matched returns the file results with at least one matching rule.
func (d *DirSummary) Matched() []FileResult {
	var out []FileResult
	for _, f := range d.Files {
		if f.Result != nil && len(f.Result.Matches) > 0 {
			out = append(out, f)
		}
	}
	return out
}

// ScanDir scans every file under root. Identical contents are scanned once,
// and contents already present in the store are skipped; in both cases the
// file's path is still recorded as provenance. A file that fails to scan is
// reported in its FileResult; only enumeration and store errors abort.
func (s *Scanner) ScanDir(ctx context.Context, root string) (*DirSummary, error) {
	cfg := s.config.enum
	cfg.Root = root

	var mu sync.Mutex
	summary := &DirSummary{}

	e := enum.NewCombinedEnumerator(enum.NewFilesystemEnumerator(cfg)).
		OnDuplicate(func(blobID types.BlobID, prov types.Provenance) error {
			mu.Lock()
			summary.Duplicates++
			mu.Unlock()
			return s.store.AddProvenance(blobID, prov)
		})

	err := e.Enumerate(ctx, func(content []byte, blobID types.BlobID, prov types.Provenance) error {
		exists, err := s.store.BlobExists(blobID)
		if err != nil {
			return err
		}
		if exists {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			return s.store.AddProvenance(blobID, prov)
		}

		res, err := s.rules.ScanContext(ctx, content)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			s.logger.Warn("scan failed", "path", prov.Path(), "error", err)
			mu.Lock()
			summary.Files = append(summary.Files, FileResult{Path: prov.Path(), Err: err})
			mu.Unlock()
			return nil
		}
		if err := s.record(res, prov); err != nil {
			return err
		}

		mu.Lock()
		summary.Files = append(summary.Files, FileResult{Path: prov.Path(), Result: res})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summary.Files, func(i, j int) bool {
		return summary.Files[i].Path < summary.Files[j].Path
	})
	s.logger.Debug("directory scanned",
		"root", root,
		"files", len(summary.Files),
		"matched", len(summary.Matched()),
		"skipped", summary.Skipped,
		"duplicates", summary.Duplicates)
	return summary, nil
}

// record persists a result under its provenance. Results without a content
// ID (unsized readers) are not persisted.
func (s *Scanner) record(res *ScanResult, prov types.Provenance) error {
	if res.BlobID.IsZero() {
		return nil
	}
	if err := s.store.AddBlob(res.BlobID, res.Size); err != nil {
		return err
	}
	if err := s.store.AddProvenance(res.BlobID, prov); err != nil {
		return err
	}
	for i := range res.Matches {
		if err := s.store.AddMatch(store.NewMatchRecord(res.BlobID, &res.Matches[i])); err != nil {
			return err
		}
	}
	return nil
}

// WriteSARIF writes every recorded match as a SARIF 2.1.0 report. Each
// match is reported once per file path it was seen under.
func (s *Scanner) WriteSARIF(w io.Writer) error {
	records, err := s.store.GetAllMatches()
	if err != nil {
		return err
	}

	report := sarif.NewReport()
	report.AddRuleset(s.config.ruleset)

	paths := make(map[types.BlobID][]string)
	for _, rec := range records {
		locs, ok := paths[rec.BlobID]
		if !ok {
			provs, err := s.store.GetProvenance(rec.BlobID)
			if err != nil {
				return err
			}
			for _, p := range provs {
				locs = append(locs, p.Path())
			}
			if len(locs) == 0 {
				locs = []string{""}
			}
			paths[rec.BlobID] = locs
		}
		for _, path := range locs {
			report.AddResult(&rec.RuleMatch, rec.BlobID, path)
		}
	}

	data, err := report.ToJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Store returns the result store.
func (s *Scanner) Store() store.Store {
	return s.store
}

// Ruleset returns the compiled rule set.
func (s *Scanner) Ruleset() *Ruleset {
	return s.config.ruleset
}

// RuleCount returns the number of rules loaded.
func (s *Scanner) RuleCount() int {
	return len(s.config.ruleset.Rules)
}

// Close releases scanner resources.
// Always call Close when done with the scanner.
func (s *Scanner) Close() error {
	return errors.Join(s.rules.Close(), s.store.Close())
}

// LoadRulesFromFile loads a compiled rule set from a YAML file or directory.
// Use this with WithRules to create a scanner with custom rules.
func LoadRulesFromFile(path string) (*Ruleset, error) {
	return rule.NewLoader().LoadPaths(path)
}

// LoadBuiltinRules returns the builtin rule set.
func LoadBuiltinRules() (*Ruleset, error) {
	return rule.NewLoader().LoadBuiltin()
}
