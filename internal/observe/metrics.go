// Package observe provides application-wide observability primitives for
// Offbook: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Offbook metrics.
const meterName = "github.com/offbookhq/offbook"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per assessment stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// JudgeDuration tracks per-judge LLM evaluation latency.
	JudgeDuration metric.Float64Histogram

	// AssessmentDuration tracks end-to-end assessment latency from audio
	// receipt to stored result.
	AssessmentDuration metric.Float64Histogram

	// --- Counters ---

	// Assessments counts completed assessments. Use with attributes:
	//   attribute.String("passage", ...), attribute.String("status", ...)
	Assessments metric.Int64Counter

	// JudgeFailures counts judges that failed to deliver a usable verdict.
	// Use with attribute: attribute.String("judge", ...)
	JudgeFailures metric.Int64Counter

	// TranscriptionErrors counts failed transcription calls. Use with
	// attribute: attribute.String("provider", ...)
	TranscriptionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveAssessments tracks the number of assessments currently in flight.
	ActiveAssessments metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets are generous because an assessment waits on several LLM round
// trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("offbook.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JudgeDuration, err = m.Float64Histogram("offbook.judge.duration",
		metric.WithDescription("Latency of a single judge evaluation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssessmentDuration, err = m.Float64Histogram("offbook.assessment.duration",
		metric.WithDescription("End-to-end assessment latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Assessments, err = m.Int64Counter("offbook.assessments",
		metric.WithDescription("Total assessments by passage and status."),
	); err != nil {
		return nil, err
	}
	if met.JudgeFailures, err = m.Int64Counter("offbook.judge.failures",
		metric.WithDescription("Total failed judge evaluations by judge."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionErrors, err = m.Int64Counter("offbook.transcription.errors",
		metric.WithDescription("Total failed transcription calls by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAssessments, err = m.Int64UpDownCounter("offbook.active_assessments",
		metric.WithDescription("Number of assessments currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("offbook.http.request.duration",
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

// RecordAssessment is a convenience method that records an assessment counter
// increment with the standard attribute set.
func (m *Metrics) RecordAssessment(ctx context.Context, passage, status string) {
	m.Assessments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("passage", passage),
			attribute.String("status", status),
		),
	)
}

// RecordJudgeFailure is a convenience method that records a failed judge
// evaluation.
func (m *Metrics) RecordJudgeFailure(ctx context.Context, judge string) {
	m.JudgeFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("judge", judge)),
	)
}

// RecordTranscriptionError is a convenience method that records a failed
// transcription call.
func (m *Metrics) RecordTranscriptionError(ctx context.Context, provider string) {
	m.TranscriptionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
