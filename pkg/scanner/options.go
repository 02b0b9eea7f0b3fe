package scanner

import (
	"log/slog"

	"github.com/praetorian-inc/augur/pkg/automaton"
	"github.com/praetorian-inc/augur/pkg/matcher"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultChunkSize is the read size used by ScanReader.
	DefaultChunkSize = 64 * 1024
	// DefaultRegexOverlap is the number of bytes regex windows share in
	// ScanReader. Regex matches longer than this may be missed when they
	// straddle a window edge.
	DefaultRegexOverlap = 4096
)

// Option configures Compile.
type Option func(*config)

type config struct {
	mode          automaton.MatchMode
	maxBufferSize int64
	maxMatches    int
	maxStates     int
	offsets       bool
	chunkSize     int
	regexOverlap  int
	regexEngine   matcher.Engine
	workers       int
	logger        *slog.Logger
	meter         metric.Meter
}

func defaultConfig() config {
	return config{
		mode:         automaton.ReportAll,
		chunkSize:    DefaultChunkSize,
		regexOverlap: DefaultRegexOverlap,
		regexEngine:  matcher.EngineRegexp2,
	}
}

// WithMatchMode selects how overlapping literal hits are reported.
func WithMatchMode(mode automaton.MatchMode) Option {
	return func(c *config) {
		c.mode = mode
	}
}

// WithMaxBufferSize rejects inputs larger than n bytes with
// types.ErrResourceExhausted. Zero means unlimited.
func WithMaxBufferSize(n int64) Option {
	return func(c *config) {
		c.maxBufferSize = n
	}
}

// WithMaxMatches fails a scan that records more than n atom hits.
// Zero means unlimited.
func WithMaxMatches(n int) Option {
	return func(c *config) {
		c.maxMatches = n
	}
}

// WithMaxStates bounds the size of the literal automaton.
func WithMaxStates(n int) Option {
	return func(c *config) {
		c.maxStates = n
	}
}

// WithOffsets includes per-atom offsets in every RuleMatch.
func WithOffsets(enabled bool) Option {
	return func(c *config) {
		c.offsets = enabled
	}
}

// WithChunkSize sets the ScanReader read size.
func WithChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithRegexOverlap sets how many bytes consecutive ScanReader regex
// windows share.
func WithRegexOverlap(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.regexOverlap = n
		}
	}
}

// WithRegexEngine selects the regex backend.
func WithRegexEngine(e matcher.Engine) Option {
	return func(c *config) {
		c.regexEngine = e
	}
}

// WithWorkers bounds the goroutines Core.ScanBatch uses. Zero means
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMeter records scan metrics on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(c *config) {
		c.meter = m
	}
}
