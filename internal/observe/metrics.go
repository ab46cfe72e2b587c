// Package observe holds the OpenTelemetry instruments for the dictation pipeline.
//
// Tests should build instruments with [NewMetrics] on their own
// [metric.MeterProvider]; the daemon uses [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/rbright/dictum"

// Metrics groups every instrument. A nil *Metrics records nothing.
type Metrics struct {
	// RecordingsSaved counts recordings made durable in the queue.
	RecordingsSaved metric.Int64Counter

	// RecordingsCompleted counts recordings removed from the queue after processing.
	RecordingsCompleted metric.Int64Counter

	// PipelineOutcomes counts stage results. Attributes: stage, outcome.
	PipelineOutcomes metric.Int64Counter

	// SweepsStarted counts retry sweeps that acquired the single-flight guard.
	SweepsStarted metric.Int64Counter

	// SweepsSkipped counts retry sweeps rejected because another was running.
	SweepsSkipped metric.Int64Counter

	// SweepItems counts items visited by sweeps. Attribute: status.
	SweepItems metric.Int64Counter

	// StageDuration tracks per-stage latency. Attribute: stage.
	StageDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecordingsSaved, err = m.Int64Counter("dictum.queue.saved",
		metric.WithDescription("Recordings persisted to the durable queue."),
	); err != nil {
		return nil, err
	}
	if met.RecordingsCompleted, err = m.Int64Counter("dictum.queue.completed",
		metric.WithDescription("Recordings removed from the queue after processing."),
	); err != nil {
		return nil, err
	}
	if met.PipelineOutcomes, err = m.Int64Counter("dictum.pipeline.outcomes",
		metric.WithDescription("Pipeline stage outcomes by stage and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SweepsStarted, err = m.Int64Counter("dictum.sweep.started",
		metric.WithDescription("Retry sweeps that ran."),
	); err != nil {
		return nil, err
	}
	if met.SweepsSkipped, err = m.Int64Counter("dictum.sweep.skipped",
		metric.WithDescription("Retry sweeps skipped because one was already running."),
	); err != nil {
		return nil, err
	}
	if met.SweepItems, err = m.Int64Counter("dictum.sweep.items",
		metric.WithDescription("Pending recordings visited by retry sweeps, by status."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("dictum.pipeline.stage.duration",
		metric.WithDescription("Latency of individual pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments bound to the global meter provider.
// It panics if instrument creation fails.
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

// Saved increments the saved-recordings counter.
func (m *Metrics) Saved(ctx context.Context) {
	if m == nil {
		return
	}
	m.RecordingsSaved.Add(ctx, 1)
}

// Completed increments the completed-recordings counter.
func (m *Metrics) Completed(ctx context.Context) {
	if m == nil {
		return
	}
	m.RecordingsCompleted.Add(ctx, 1)
}

// Sweep records whether a sweep ran or was skipped.
func (m *Metrics) Sweep(ctx context.Context, started bool) {
	if m == nil {
		return
	}
	if started {
		m.SweepsStarted.Add(ctx, 1)
		return
	}
	m.SweepsSkipped.Add(ctx, 1)
}

// SweepItem records one visited sweep item.
func (m *Metrics) SweepItem(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.SweepItems.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// Stage records a stage outcome and its latency.
func (m *Metrics) Stage(ctx context.Context, stage, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PipelineOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	))
	m.StageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
