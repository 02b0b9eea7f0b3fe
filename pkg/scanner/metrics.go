package scanner

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/praetorian-inc/augur/pkg/scanner"

type metrics struct {
	scans     metric.Int64Counter
	matches   metric.Int64Counter
	errors    metric.Int64Counter
	bytes     metric.Int64Histogram
	duration  metric.Float64Histogram
	buildTime metric.Float64Histogram
}

func newMetrics(meter metric.Meter) *metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	// On error the meter still returns a usable noop instrument.
	scans, _ := meter.Int64Counter("augur_scans_total")
	matches, _ := meter.Int64Counter("augur_rule_matches_total")
	errs, _ := meter.Int64Counter("augur_scan_errors_total")
	bytes, _ := meter.Int64Histogram("augur_scan_bytes", metric.WithUnit("By"))
	duration, _ := meter.Float64Histogram("augur_scan_duration_seconds", metric.WithUnit("s"))
	buildTime, _ := meter.Float64Histogram("augur_automaton_build_seconds", metric.WithUnit("s"))
	return &metrics{
		scans:     scans,
		matches:   matches,
		errors:    errs,
		bytes:     bytes,
		duration:  duration,
		buildTime: buildTime,
	}
}

func (m *metrics) recordScan(ctx context.Context, mode string, size int64, matched int, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.scans.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	m.bytes.Record(ctx, size, attrs)
	if err != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode), attribute.String("kind", errorKind(err))))
		return
	}
	m.matches.Add(ctx, int64(matched), attrs)
}

func (m *metrics) recordBuild(d time.Duration) {
	m.buildTime.Record(context.Background(), d.Seconds())
}
