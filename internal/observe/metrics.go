// Package observe provides application-wide observability primitives for
// Lessonbook: OpenTelemetry metrics, tracing, and HTTP middleware that ties
// them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Lessonbook metrics.
const meterName = "github.com/lessonbook/lessonbook"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ParseDuration tracks transcript parsing latency.
	ParseDuration metric.Float64Histogram

	// ResolveDuration tracks entity resolution latency, including the
	// snapshot load.
	ResolveDuration metric.Float64Histogram

	// ExecuteDuration tracks command execution latency against the store.
	ExecuteDuration metric.Float64Histogram

	// --- Counters ---

	// Commands counts processed commands. Use with attributes:
	//   attribute.String("intent", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// AmbiguousCommands counts commands parked for clarification. Use with
	// attribute: attribute.String("kind", "student"|"interpretation")
	AmbiguousCommands metric.Int64Counter

	// DuplicatesCleaned counts lesson rows removed by the post-reschedule
	// verification pass.
	DuplicatesCleaned metric.Int64Counter

	// --- Gauges ---

	// PendingOpen tracks the number of commands currently awaiting
	// confirmation or clarification.
	PendingOpen metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Parsing
// and resolution are sub-millisecond; execution adds a database round-trip.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ParseDuration, err = m.Float64Histogram("lessonbook.parse.duration",
		metric.WithDescription("Latency of transcript parsing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("lessonbook.resolve.duration",
		metric.WithDescription("Latency of entity resolution including snapshot load."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExecuteDuration, err = m.Float64Histogram("lessonbook.execute.duration",
		metric.WithDescription("Latency of command execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Commands, err = m.Int64Counter("lessonbook.commands",
		metric.WithDescription("Total processed commands by intent and status."),
	); err != nil {
		return nil, err
	}
	if met.AmbiguousCommands, err = m.Int64Counter("lessonbook.commands.ambiguous",
		metric.WithDescription("Total commands parked for clarification by ambiguity kind."),
	); err != nil {
		return nil, err
	}
	if met.DuplicatesCleaned, err = m.Int64Counter("lessonbook.lessons.duplicates_cleaned",
		metric.WithDescription("Total duplicate lesson rows removed after reschedules."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingOpen, err = m.Int64UpDownCounter("lessonbook.pending.open",
		metric.WithDescription("Number of commands awaiting confirmation or clarification."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lessonbook.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand records a processed command with the standard attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, intent, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("status", status),
		),
	)
}

// RecordAmbiguity records a command parked for clarification.
func (m *Metrics) RecordAmbiguity(ctx context.Context, kind string) {
	m.AmbiguousCommands.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordDuplicatesCleaned records rows removed by a verification pass.
func (m *Metrics) RecordDuplicatesCleaned(ctx context.Context, n int) {
	if n > 0 {
		m.DuplicatesCleaned.Add(ctx, int64(n))
	}
}
