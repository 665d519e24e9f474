// Package observe provides application-wide observability primitives for
// Wordwise: OpenTelemetry metrics, tracing, trace-aware structured logging and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped from the ops server's /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Wordwise metrics.
const meterName = "github.com/MrWong99/wordwise"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// DetectorDuration tracks how long one snapshot submission spends in the
	// diff detector.
	DetectorDuration metric.Float64Histogram

	// LLMDuration tracks validator LLM round trips, including failover.
	LLMDuration metric.Float64Histogram

	// JobDuration tracks scheduler job runtimes. Use with attribute:
	//   attribute.String("job", ...)
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// CorrectionsDetected counts detector output. Use with attribute:
	//   attribute.String("error_type", ...)
	CorrectionsDetected metric.Int64Counter

	// ErrorsLogged counts events appended to the error log. Use with attributes:
	//   attribute.String("error_type", ...), attribute.String("source", ...)
	ErrorsLogged metric.Int64Counter

	// BatchItemFailures counts batch entries that could not be logged.
	BatchItemFailures metric.Int64Counter

	// ValidatorOutcomes counts validator verdicts. Use with attribute:
	//   attribute.String("outcome", ...)
	ValidatorOutcomes metric.Int64Counter

	// SnapshotRecomputes counts weekly progress snapshot upserts.
	SnapshotRecomputes metric.Int64Counter

	// JobRuns counts scheduler job executions. Use with attributes:
	//   attribute.String("job", ...), attribute.String("status", ...)
	JobRuns metric.Int64Counter

	// --- Breakers ---

	// BreakerTransitions counts breaker state changes. Use with attributes:
	//   attribute.String("breaker", ...), attribute.String("from", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// BreakerRejections counts calls rejected by an open breaker. Use with
	// attribute:
	//   attribute.String("breaker", ...)
	BreakerRejections metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks ops request latency. Attributes: "route"
	// (mux pattern or "unmatched") and "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.DetectorDuration, err = m.Float64Histogram("wordwise.detector.duration",
		metric.WithDescription("Latency of snapshot diff detection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("wordwise.llm.duration",
		metric.WithDescription("Latency of validator LLM calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("wordwise.scheduler.job.duration",
		metric.WithDescription("Runtime of scheduled jobs by job name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CorrectionsDetected, err = m.Int64Counter("wordwise.corrections.detected",
		metric.WithDescription("Self-corrections found by the diff detector, by error type."),
	); err != nil {
		return nil, err
	}
	if met.ErrorsLogged, err = m.Int64Counter("wordwise.errors.logged",
		metric.WithDescription("Error events logged, by error type and source."),
	); err != nil {
		return nil, err
	}
	if met.BatchItemFailures, err = m.Int64Counter("wordwise.batch.item_failures",
		metric.WithDescription("Batch log entries that failed."),
	); err != nil {
		return nil, err
	}
	if met.ValidatorOutcomes, err = m.Int64Counter("wordwise.validator.outcomes",
		metric.WithDescription("LLM validation verdicts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotRecomputes, err = m.Int64Counter("wordwise.snapshots.recomputed",
		metric.WithDescription("Weekly progress snapshots recomputed."),
	); err != nil {
		return nil, err
	}
	if met.JobRuns, err = m.Int64Counter("wordwise.scheduler.job.runs",
		metric.WithDescription("Scheduled job runs by job and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("wordwise.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions."),
	); err != nil {
		return nil, err
	}
	if met.BreakerRejections, err = m.Int64Counter("wordwise.breaker.rejections",
		metric.WithDescription("Calls rejected by an open circuit breaker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wordwise.http.request.duration",
		metric.WithDescription("Ops HTTP request latency by route pattern and status."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordCorrectionDetected increments the detector output counter.
func (m *Metrics) RecordCorrectionDetected(ctx context.Context, errorType string) {
	m.CorrectionsDetected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error_type", errorType)),
	)
}

// RecordErrorLogged increments the logged-events counter.
func (m *Metrics) RecordErrorLogged(ctx context.Context, errorType, source string) {
	m.ErrorsLogged.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("error_type", errorType),
			attribute.String("source", source),
		),
	)
}

// RecordBatchItemFailure increments the batch failure counter.
func (m *Metrics) RecordBatchItemFailure(ctx context.Context) {
	m.BatchItemFailures.Add(ctx, 1)
}

// RecordValidatorOutcome increments the validator verdict counter.
func (m *Metrics) RecordValidatorOutcome(ctx context.Context, outcome string) {
	m.ValidatorOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordSnapshotRecompute increments the weekly snapshot counter.
func (m *Metrics) RecordSnapshotRecompute(ctx context.Context) {
	m.SnapshotRecomputes.Add(ctx, 1)
}

// RecordJobRun records one scheduler job execution.
func (m *Metrics) RecordJobRun(ctx context.Context, job, status string, seconds float64) {
	m.JobRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("job", job),
			attribute.String("status", status),
		),
	)
	m.JobDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("job", job)),
	)
}

// RecordBreakerTransition increments the breaker transition counter.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, from, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordBreakerRejection increments the breaker rejection counter.
func (m *Metrics) RecordBreakerRejection(ctx context.Context, breaker string) {
	m.BreakerRejections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("breaker", breaker)),
	)
}
