// Package scanner runs compiled rule sets against byte buffers: one literal
// automaton pass, one regex pass and the evaluation of every rule condition.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/praetorian-inc/augur/pkg/atom"
	"github.com/praetorian-inc/augur/pkg/automaton"
	"github.com/praetorian-inc/augur/pkg/condition"
	"github.com/praetorian-inc/augur/pkg/matcher"
	"github.com/praetorian-inc/augur/pkg/rule"
	"github.com/praetorian-inc/augur/pkg/types"
)

// Rules is a compiled rule set ready for scanning. It is immutable after
// Compile, and any number of goroutines may scan with it concurrently.
type Rules struct {
	rs          *types.Ruleset
	store       *atom.Store
	regex       matcher.Matcher
	reported    [][]int // rule index -> atom indices listed in results
	fingerprint string
	cfg         config
	logger      *slog.Logger
	metrics     *metrics

	buildOnce sync.Once
	ac        *automaton.Automaton
	buildErr  error
}

// Compile validates rs and prepares it for scanning. The literal automaton
// is built on the first scan.
func Compile(rs *types.Ruleset, opts ...Option) (*Rules, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := rule.ValidateRuleset(rs); err != nil {
		return nil, err
	}
	store, err := atom.New(rs)
	if err != nil {
		return nil, err
	}
	regex, err := matcher.New(matcher.Config{
		Store:  store,
		Engine: cfg.regexEngine,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating regex matcher: %w", err)
	}

	reported := make([][]int, len(rs.Rules))
	for i, r := range rs.Rules {
		if len(r.Atoms) > 0 {
			reported[i] = r.Atoms
		} else {
			reported[i] = condition.Atoms(r.Condition)
		}
	}

	logger.Debug("rules compiled",
		"ruleset", rs.Name,
		"rules", len(rs.Rules),
		"atoms", len(rs.Atoms),
		"slots", store.Len(),
		"regex_atoms", len(store.RegexSlots()))

	return &Rules{
		rs:          rs,
		store:       store,
		regex:       regex,
		reported:    reported,
		fingerprint: rs.Fingerprint(),
		cfg:         cfg,
		logger:      logger,
		metrics:     newMetrics(cfg.meter),
	}, nil
}

// Ruleset returns the compiled rule set.
func (r *Rules) Ruleset() *types.Ruleset {
	return r.rs
}

// Fingerprint identifies the rule set; see types.Ruleset.Fingerprint.
func (r *Rules) Fingerprint() string {
	return r.fingerprint
}

// Close releases the regex backend.
func (r *Rules) Close() error {
	return r.regex.Close()
}

// automaton builds the literal automaton once. A build failure is kept and
// returned by every later scan.
func (r *Rules) automaton() (*automaton.Automaton, error) {
	r.buildOnce.Do(func() {
		start := time.Now()
		r.ac, r.buildErr = automaton.Build(r.store, automaton.WithMaxStates(r.cfg.maxStates))
		if r.buildErr != nil {
			r.logger.Error("automaton build failed", "ruleset", r.rs.Name, "error", r.buildErr)
			return
		}
		r.metrics.recordBuild(time.Since(start))
		r.logger.Debug("automaton built",
			"ruleset", r.rs.Name,
			"states", r.ac.States(),
			"duration", time.Since(start))
	})
	return r.ac, r.buildErr
}

func (r *Rules) scanOptions() automaton.ScanOptions {
	return automaton.ScanOptions{Mode: r.cfg.mode, MaxMatches: r.cfg.maxMatches}
}

// Scan runs every rule against buf. On error no partial result is returned.
func (r *Rules) Scan(buf []byte) (*types.ScanResult, error) {
	return r.ScanContext(context.Background(), buf)
}

// ScanContext is Scan with cancellation checked before the scan starts and
// between the literal and regex passes.
func (r *Rules) ScanContext(ctx context.Context, buf []byte) (res *types.ScanResult, err error) {
	start := time.Now()
	defer func() {
		matched := 0
		if res != nil {
			matched = len(res.Matches)
		}
		r.metrics.recordScan(ctx, "buffer", int64(len(buf)), matched, start, err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.checkSize(int64(len(buf))); err != nil {
		return nil, err
	}
	ac, err := r.automaton()
	if err != nil {
		return nil, err
	}

	ev, err := ac.Scan(buf, r.scanOptions())
	if err != nil {
		return nil, err
	}
	if len(r.store.RegexSlots()) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.regex.Match(buf, 0, ev); err != nil {
			return nil, err
		}
		ev.Seal()
		if err := r.checkMatches(ev); err != nil {
			return nil, err
		}
	}

	return r.evaluate(types.ComputeBlobID(buf), int64(len(buf)), ev)
}

func (r *Rules) checkSize(n int64) error {
	if r.cfg.maxBufferSize > 0 && n > r.cfg.maxBufferSize {
		return types.Errorf(types.ResourceExhausted, "scanner.Scan",
			"buffer of %d bytes exceeds limit of %d", n, r.cfg.maxBufferSize)
	}
	return nil
}

func (r *Rules) checkMatches(ev *types.MatchEvidence) error {
	if r.cfg.maxMatches > 0 && ev.Total() > r.cfg.maxMatches {
		return types.Errorf(types.ResourceExhausted, "scanner.Scan",
			"more than %d atom matches", r.cfg.maxMatches)
	}
	return nil
}

// evaluate runs every rule condition over ev. Rules are reported in rule-set
// order; private rules are never reported and a failing global rule
// suppresses every match.
func (r *Rules) evaluate(blobID types.BlobID, size int64, ev *types.MatchEvidence) (*types.ScanResult, error) {
	res := &types.ScanResult{
		BlobID:      blobID,
		Size:        size,
		Matches:     []types.RuleMatch{},
		AtomMatches: ev.Total(),
	}

	held := make([]bool, len(r.rs.Rules))
	for i, rl := range r.rs.Rules {
		ok, err := condition.Evaluate(rl.Condition, ev)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rl.ID, err)
		}
		if rl.Global && !ok {
			return res, nil
		}
		held[i] = ok
	}

	for i, rl := range r.rs.Rules {
		if !held[i] || rl.Private {
			continue
		}
		m := types.RuleMatch{
			RuleID: rl.ID,
			Name:   rl.Name,
			Tags:   rl.Tags,
			Meta:   rl.Meta,
		}
		if r.cfg.offsets {
			m.Atoms = r.atomMatches(i, ev)
		}
		res.Matches = append(res.Matches, m)
	}
	return res, nil
}

func (r *Rules) atomMatches(ruleIdx int, ev *types.MatchEvidence) []types.AtomMatch {
	var out []types.AtomMatch
	for _, idx := range r.reported[ruleIdx] {
		offsets := ev.Offsets(idx)
		if len(offsets) == 0 {
			continue
		}
		a := &r.rs.Atoms[idx]
		out = append(out, types.AtomMatch{
			AtomID:  a.ID,
			Index:   idx,
			Offsets: append([]int64(nil), offsets...),
			Length:  a.Len(),
		})
	}
	return out
}

// errorKind labels err for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case types.KindOf(err) != 0:
		return types.KindOf(err).String()
	default:
		return "internal"
	}
}
