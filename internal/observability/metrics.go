package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	metricSystemsSampled    = "popsynth.systems.sampled.total"
	metricBatches           = "popsynth.batches.total"
	metricCheckpoints       = "popsynth.checkpoints.total"
	metricMatchScore        = "popsynth.match.score"
	metricIterationDuration = "popsynth.iteration.duration.seconds"

	attrParam = "param"
)

// iterationBucketBoundaries covers sub-second stub integrations up to
// multi-minute real batches.
var iterationBucketBoundaries = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

// RunMetrics holds the OTel instruments for one experiment run. A nil
// *RunMetrics is a valid no-op recorder.
type RunMetrics struct {
	systemsSampled    metric.Int64Counter
	batches           metric.Int64Counter
	checkpoints       metric.Int64Counter
	matchScore        metric.Float64Gauge
	iterationDuration metric.Float64Histogram
}

// NewRunMetrics creates the run instruments from the global meter provider.
func NewRunMetrics() (*RunMetrics, error) {
	mt := otel.Meter(tracerName)

	systemsSampled, err := mt.Int64Counter(metricSystemsSampled,
		metric.WithDescription("Total systems drawn by the sampler"),
		metric.WithUnit("{system}"))
	if err != nil {
		return nil, err
	}

	batches, err := mt.Int64Counter(metricBatches,
		metric.WithDescription("Total batches evolved"),
		metric.WithUnit("{batch}"))
	if err != nil {
		return nil, err
	}

	checkpoints, err := mt.Int64Counter(metricCheckpoints,
		metric.WithDescription("Total checkpoints persisted"),
		metric.WithUnit("{checkpoint}"))
	if err != nil {
		return nil, err
	}

	matchScore, err := mt.Float64Gauge(metricMatchScore,
		metric.WithDescription("Latest per-parameter convergence score"))
	if err != nil {
		return nil, err
	}

	iterationDuration, err := mt.Float64Histogram(metricIterationDuration,
		metric.WithDescription("Wall time of one sample-evolve-filter iteration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(iterationBucketBoundaries...))
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		systemsSampled:    systemsSampled,
		batches:           batches,
		checkpoints:       checkpoints,
		matchScore:        matchScore,
		iterationDuration: iterationDuration,
	}, nil
}

// RecordBatch records one evolved batch of n systems taking d.
func (m *RunMetrics) RecordBatch(ctx context.Context, n int, d time.Duration) {
	if m == nil {
		return
	}

	m.systemsSampled.Add(ctx, int64(n))
	m.batches.Add(ctx, 1)
	m.iterationDuration.Record(ctx, d.Seconds())
}

// RecordCheckpoint records one persisted checkpoint and its score vector.
func (m *RunMetrics) RecordCheckpoint(ctx context.Context, scores map[string]float64) {
	if m == nil {
		return
	}

	m.checkpoints.Add(ctx, 1)

	for param, v := range scores {
		m.matchScore.Record(ctx, v, metric.WithAttributes(attribute.String(attrParam, param)))
	}
}
