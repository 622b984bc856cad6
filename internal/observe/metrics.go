// Package observe provides application-wide observability primitives for
// voxqueue: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxqueue metrics.
const meterName = "github.com/MrWong99/voxqueue"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ResolveDuration tracks how long an item spends in the resolving
	// state (connect + synthesis or stream open). Use with attribute:
	//   attribute.String("kind", ...)
	ResolveDuration metric.Float64Histogram

	// --- Counters ---

	// ItemsEnqueued counts playback items accepted into a queue. Use with
	// attribute:
	//   attribute.String("kind", ...)
	ItemsEnqueued metric.Int64Counter

	// ItemsPlayed counts items that played to their natural end.
	ItemsPlayed metric.Int64Counter

	// ItemsFailed counts items that failed. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("stage", ...)
	ItemsFailed metric.Int64Counter

	// Teardowns counts session teardowns. Use with attribute:
	//   attribute.String("reason", ...)
	Teardowns metric.Int64Counter

	// ProviderRequests counts provider API calls, one per backend attempt.
	// Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...),
	//   attribute.String("status", ...), attribute.String("circuit", ...)
	ProviderRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live playback sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech synthesis and media lookups.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ResolveDuration, err = m.Float64Histogram("voxqueue.resolve.duration",
		metric.WithDescription("Time from dequeue until playback starts or fails."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ItemsEnqueued, err = m.Int64Counter("voxqueue.items.enqueued",
		metric.WithDescription("Total playback items enqueued by kind."),
	); err != nil {
		return nil, err
	}
	if met.ItemsPlayed, err = m.Int64Counter("voxqueue.items.played",
		metric.WithDescription("Total playback items that played to completion by kind."),
	); err != nil {
		return nil, err
	}
	if met.ItemsFailed, err = m.Int64Counter("voxqueue.items.failed",
		metric.WithDescription("Total playback items that failed by kind and stage."),
	); err != nil {
		return nil, err
	}
	if met.Teardowns, err = m.Int64Counter("voxqueue.teardowns",
		metric.WithDescription("Total session teardowns by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("voxqueue.provider.requests",
		metric.WithDescription("Total provider attempts by provider, kind, status and circuit state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxqueue.sessions.active",
		metric.WithDescription("Number of live playback sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxqueue.http.request.duration",
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

// RecordEnqueued records one accepted item of the given kind.
func (m *Metrics) RecordEnqueued(ctx context.Context, kind string) {
	m.ItemsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordPlayed records one item that played to completion.
func (m *Metrics) RecordPlayed(ctx context.Context, kind string) {
	m.ItemsPlayed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordFailed records one item failure at the given stage
// ("connect", "resolve", "playback").
func (m *Metrics) RecordFailed(ctx context.Context, kind, stage string) {
	m.ItemsFailed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("stage", stage),
		),
	)
}

// RecordResolve records the resolving latency for one item.
func (m *Metrics) RecordResolve(ctx context.Context, kind string, d time.Duration) {
	m.ResolveDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTeardown records one session teardown.
func (m *Metrics) RecordTeardown(ctx context.Context, reason string) {
	m.Teardowns.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderRequest records one attempt against a backend. circuit is
// the backend's breaker state after the attempt.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status, circuit string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
			attribute.String("circuit", circuit),
		),
	)
}
