// Package reload keeps compiled rules in sync with rule files on disk.
//
// A Reloader compiles the rule set returned by its Loader and atomically
// swaps it in. Reloads whose rule set fingerprint did not change are
// skipped, and a failed load or compile keeps the previous rules active.
// Watch drives reloads from filesystem events.
package reload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/praetorian-inc/augur/pkg/rule"
	"github.com/praetorian-inc/augur/pkg/scanner"
	"github.com/praetorian-inc/augur/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultDebounce coalesces bursts of filesystem events.
	DefaultDebounce = 250 * time.Millisecond
	// DefaultGracePeriod is how long displaced rules stay open for scans
	// that started before the swap.
	DefaultGracePeriod = 30 * time.Second
)

// Loader produces the rule set to compile.
type Loader func() (*types.Ruleset, error)

// PathLoader loads and merges rule files or directories, applying filter.
func PathLoader(filter rule.FilterConfig, paths ...string) Loader {
	return func() (*types.Ruleset, error) {
		rs, err := rule.NewLoader().LoadPaths(paths...)
		if err != nil {
			return nil, err
		}
		return rule.FilterRuleset(rs, filter)
	}
}

// SwapFunc installs next and returns the rules it displaced.
type SwapFunc func(next *scanner.Rules) *scanner.Rules

// Metadata describes the reload history.
type Metadata struct {
	Fingerprint   string        `json:"fingerprint"`
	RuleCount     int           `json:"rule_count"`
	LoadedAt      time.Time     `json:"loaded_at"`
	BuildDuration time.Duration `json:"build_duration"`
	ReloadCount   int           `json:"reload_count"`
	LastError     string        `json:"last_error,omitempty"`
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithScannerOptions sets the options every reload compiles with.
func WithScannerOptions(opts ...scanner.Option) Option {
	return func(r *Reloader) { r.scanOpts = append(r.scanOpts, opts...) }
}

// WithCurrent seeds the reloader with already compiled rules.
func WithCurrent(rules *scanner.Rules) Option {
	return func(r *Reloader) {
		r.current.Store(rules)
		r.metadata.Fingerprint = rules.Fingerprint()
		r.metadata.RuleCount = len(rules.Ruleset().Rules)
		r.metadata.LoadedAt = time.Now()
	}
}

// WithSwap routes swaps through fn, e.g. scanner.Core.SwapRules.
func WithSwap(fn SwapFunc) Option {
	return func(r *Reloader) { r.swap = fn }
}

// WithDebounce sets how long Watch waits for events to settle.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) { r.debounce = d }
}

// WithGracePeriod sets how long displaced rules remain open. Zero closes
// them immediately.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Reloader) { r.grace = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reloader) { r.logger = logger }
}

// WithMeter sets the meter reload counts are recorded with.
func WithMeter(m metric.Meter) Option {
	return func(r *Reloader) { r.meter = m }
}

// Reloader owns the hot-swappable rules.
type Reloader struct {
	load     Loader
	scanOpts []scanner.Option
	swap     SwapFunc
	debounce time.Duration
	grace    time.Duration
	logger   *slog.Logger
	meter    metric.Meter
	reloads  metric.Int64Counter

	current atomic.Pointer[scanner.Rules]

	reloadMu sync.Mutex // serializes Reload

	mu       sync.Mutex
	metadata Metadata
	retiring map[*scanner.Rules]*time.Timer
}

// New creates a Reloader. No rules are loaded until Reload is called,
// unless WithCurrent seeds them.
func New(load Loader, opts ...Option) *Reloader {
	r := &Reloader{
		load:     load,
		debounce: DefaultDebounce,
		grace:    DefaultGracePeriod,
		retiring: make(map[*scanner.Rules]*time.Timer),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.meter == nil {
		r.meter = otel.Meter("github.com/praetorian-inc/augur/pkg/reload")
	}
	r.reloads, _ = r.meter.Int64Counter("augur_rule_reloads_total",
		metric.WithDescription("Rule reload attempts by result"))
	return r
}

// Rules returns the active rules, or nil before the first successful load.
func (r *Reloader) Rules() *scanner.Rules {
	return r.current.Load()
}

// Metadata returns a snapshot of the reload history.
func (r *Reloader) Metadata() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.metadata
}

// Reload loads and compiles the rule set and swaps it in. It reports
// whether the active rules changed. On error the previous rules stay
// active.
func (r *Reloader) Reload() (bool, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	start := time.Now()
	rs, err := r.load()
	if err != nil {
		return false, r.fail(fmt.Errorf("loading rules: %w", err))
	}

	fingerprint := rs.Fingerprint()
	if cur := r.current.Load(); cur != nil && cur.Fingerprint() == fingerprint {
		r.record("unchanged")
		r.logger.Debug("rules unchanged", "fingerprint", fingerprint)
		return false, nil
	}

	next, err := scanner.Compile(rs, r.scanOpts...)
	if err != nil {
		return false, r.fail(fmt.Errorf("compiling rules: %w", err))
	}

	prev := r.current.Swap(next)
	if r.swap != nil {
		prev = r.swap(next)
	}
	r.retire(prev)

	r.mu.Lock()
	r.metadata = Metadata{
		Fingerprint:   fingerprint,
		RuleCount:     len(rs.Rules),
		LoadedAt:      time.Now(),
		BuildDuration: time.Since(start),
		ReloadCount:   r.metadata.ReloadCount + 1,
	}
	r.mu.Unlock()

	r.record("swapped")
	r.logger.Info("rules reloaded",
		"ruleset", rs.Name,
		"rules", len(rs.Rules),
		"fingerprint", fingerprint,
		"duration", time.Since(start))
	return true, nil
}

func (r *Reloader) fail(err error) error {
	r.mu.Lock()
	r.metadata.LastError = err.Error()
	r.mu.Unlock()
	r.record("failed")
	r.logger.Warn("rule reload failed, keeping previous rules", "error", err)
	return err
}

func (r *Reloader) record(result string) {
	r.reloads.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

// retire closes displaced rules once the grace period has passed.
func (r *Reloader) retire(old *scanner.Rules) {
	if old == nil {
		return
	}
	if r.grace <= 0 {
		r.closeRules(old)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.retiring[old]; ok {
		return
	}
	r.retiring[old] = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		_, ok := r.retiring[old]
		delete(r.retiring, old)
		r.mu.Unlock()
		if ok {
			r.closeRules(old)
		}
	})
}

func (r *Reloader) closeRules(rules *scanner.Rules) {
	if err := rules.Close(); err != nil {
		r.logger.Warn("failed to close displaced rules", "fingerprint", rules.Fingerprint(), "error", err)
	}
}

// Close closes every displaced rule set still in its grace period. The
// active rules are left to their owner.
func (r *Reloader) Close() error {
	r.mu.Lock()
	pending := r.retiring
	r.retiring = make(map[*scanner.Rules]*time.Timer)
	r.mu.Unlock()

	var errs []error
	for rules, timer := range pending {
		timer.Stop()
		errs = append(errs, rules.Close())
	}
	return errors.Join(errs...)
}

// Watch reloads whenever one of paths changes, until ctx is done. Files
// are watched through their parent directory so editors that replace
// files by rename are seen; directories trigger on any rule file inside.
func (r *Reloader) Watch(ctx context.Context, paths ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		dir := abs
		if info.IsDir() {
			dirs[abs] = true
		} else {
			files[abs] = true
			dir = filepath.Dir(abs)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	r.logger.Debug("watching rule files", "paths", paths)

	relevant := func(ev fsnotify.Event) bool {
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
			!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
			return false
		}
		name, err := filepath.Abs(ev.Name)
		if err != nil {
			return false
		}
		if files[name] {
			return true
		}
		ext := filepath.Ext(name)
		return dirs[filepath.Dir(name)] && (ext == ".yml" || ext == ".yaml")
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if relevant(ev) {
				timer.Reset(r.debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("rule watcher error", "error", err)
		case <-timer.C:
			// errors are recorded in Metadata and logged
			_, _ = r.Reload()
		}
	}
}
