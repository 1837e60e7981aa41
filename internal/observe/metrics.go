// Package observe provides application-wide observability primitives for
// the bristlenose pipeline: OpenTelemetry metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// bridges them to a Prometheus exporter registered with the default
// Prometheus registry; this package does not serve an HTTP endpoint. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all bristlenose metrics.
const meterName = "github.com/bristlenose/bristlenose"

// Metrics holds all OpenTelemetry metric instruments the pipeline records.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks wall-clock time spent in a pipeline stage. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// SessionsProcessed counts per-session stage completions. Use with
	// attribute.String("stage", ...), attribute.String("status", ...).
	SessionsProcessed metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// TokensUsed counts LLM tokens consumed. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("model", ...), attribute.String("direction", "input"|"output")
	TokensUsed metric.Int64Counter

	// EstimatedCostUSD accumulates the running cost estimate computed from
	// the static pricing table in internal/llmclient. Use with
	// attribute.String("provider", ...), attribute.String("model", ...).
	EstimatedCostUSD metric.Float64Counter

	// ActiveWorkers tracks the number of in-flight concurrent workers within
	// a bounded stage. Use with attribute.String("stage", ...).
	ActiveWorkers metric.Int64UpDownCounter
}

// stageDurationBuckets defines histogram bucket boundaries (in seconds)
// covering the range from a sub-second LLM call to a multi-minute ffmpeg
// decode or whisper transcription.
var stageDurationBuckets = []float64{
	0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("bristlenose.stage.duration",
		metric.WithDescription("Wall-clock duration of a pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageDurationBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SessionsProcessed, err = m.Int64Counter("bristlenose.sessions.processed",
		metric.WithDescription("Per-session stage completions by stage and status."),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("bristlenose.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	if met.ProviderErrors, err = m.Int64Counter("bristlenose.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.TokensUsed, err = m.Int64Counter("bristlenose.tokens.used",
		metric.WithDescription("LLM tokens consumed by provider, model, and direction."),
	); err != nil {
		return nil, err
	}

	if met.EstimatedCostUSD, err = m.Float64Counter("bristlenose.cost.estimated_usd",
		metric.WithDescription("Running cost estimate in USD by provider and model."),
		metric.WithUnit("{USD}"),
	); err != nil {
		return nil, err
	}

	if met.ActiveWorkers, err = m.Int64UpDownCounter("bristlenose.stage.active_workers",
		metric.WithDescription("In-flight concurrent workers within a bounded stage."),
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

// RecordStageDuration records how long a pipeline stage took to run.
func (m *Metrics) RecordStageDuration(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordSessionProcessed is a convenience method that records a per-session
// stage completion with the standard attribute set.
func (m *Metrics) RecordSessionProcessed(ctx context.Context, stage, status string) {
	m.SessionsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTokenUsage is a convenience method that records input and output
// token counts for a single LLM call.
func (m *Metrics) RecordTokenUsage(ctx context.Context, provider, model string, inputTokens, outputTokens int) {
	m.TokensUsed.Add(ctx, int64(inputTokens),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
			attribute.String("direction", "input"),
		),
	)
	m.TokensUsed.Add(ctx, int64(outputTokens),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
			attribute.String("direction", "output"),
		),
	)
}

// RecordCost is a convenience method that accumulates an estimated USD cost
// for a single LLM call.
func (m *Metrics) RecordCost(ctx context.Context, provider, model string, usd float64) {
	m.EstimatedCostUSD.Add(ctx, usd,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
		),
	)
}
