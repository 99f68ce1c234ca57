// Package observe provides the service's observability primitives:
// OpenTelemetry metrics exported for Prometheus scraping, tracing spans, a
// trace-aware logger and HTTP middleware.
//
// Tests should build their own [Metrics] with [NewMetrics] and a
// ManualReader-backed provider instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nikhilbhutani/speechmentor"

// Metrics holds all metric instruments. Safe for concurrent use.
type Metrics struct {
	// ExecutionsStarted counts newly created executions.
	ExecutionsStarted metric.Int64Counter

	// ExecutionsFinished counts terminal executions. Attributes:
	//   attribute.String("status", ...), attribute.String("failure_kind", ...)
	ExecutionsFinished metric.Int64Counter

	// ExecutionDuration tracks trigger-to-terminal wall time.
	ExecutionDuration metric.Float64Histogram

	// StageDuration tracks each workflow state. Attribute:
	//   attribute.String("state", ...)
	StageDuration metric.Float64Histogram

	// TranscriptionPolls counts status polls. Attribute:
	//   attribute.String("status", ...)
	TranscriptionPolls metric.Int64Counter

	// LeafRetries counts retried external calls. Attribute:
	//   attribute.String("op", ...)
	LeafRetries metric.Int64Counter

	// HTTPRequestDuration tracks API latency by method and route.
	HTTPRequestDuration metric.Float64Histogram
}

var stageBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

var executionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200,
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ExecutionsStarted, err = m.Int64Counter("speechmentor.executions.started",
		metric.WithDescription("Executions created from trigger events."),
	); err != nil {
		return nil, err
	}
	if met.ExecutionsFinished, err = m.Int64Counter("speechmentor.executions.finished",
		metric.WithDescription("Executions that reached a terminal status."),
	); err != nil {
		return nil, err
	}
	if met.ExecutionDuration, err = m.Float64Histogram("speechmentor.execution.duration",
		metric.WithDescription("Wall time from trigger to terminal status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(executionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("speechmentor.stage.duration",
		metric.WithDescription("Latency of a single workflow state."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionPolls, err = m.Int64Counter("speechmentor.transcription.polls",
		metric.WithDescription("Transcription status polls by observed status."),
	); err != nil {
		return nil, err
	}
	if met.LeafRetries, err = m.Int64Counter("speechmentor.leaf.retries",
		metric.WithDescription("Retried external calls by operation."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("speechmentor.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider. Call it after [InitProvider].
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

func (m *Metrics) RecordStage(ctx context.Context, state string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("state", state)))
}

func (m *Metrics) RecordPoll(ctx context.Context, status string) {
	m.TranscriptionPolls.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordRetry(ctx context.Context, op string) {
	m.LeafRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) RecordFinished(ctx context.Context, status, failureKind string, elapsed time.Duration) {
	m.ExecutionsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("failure_kind", failureKind),
	))
	m.ExecutionDuration.Record(ctx, elapsed.Seconds())
}
