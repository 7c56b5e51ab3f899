package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"theological-agent/internal/workflow"
)

// Metrics holds the service instruments.
type Metrics struct {
	runs         metric.Int64Counter
	cacheLookups metric.Int64Counter
	pauses       metric.Int64Counter
	resumes      metric.Int64Counter
	nodeDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider when
// mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("theological-agent")

	var (
		m   Metrics
		err error
	)
	if m.runs, err = meter.Int64Counter("analysis.runs",
		metric.WithDescription("Analysis runs by outcome")); err != nil {
		return nil, err
	}
	if m.cacheLookups, err = meter.Int64Counter("analysis.cache.lookups",
		metric.WithDescription("Cache lookups by result")); err != nil {
		return nil, err
	}
	if m.pauses, err = meter.Int64Counter("analysis.hitl.pauses",
		metric.WithDescription("Runs paused for human review")); err != nil {
		return nil, err
	}
	if m.resumes, err = meter.Int64Counter("analysis.hitl.resumes",
		metric.WithDescription("Reviews resolved by status")); err != nil {
		return nil, err
	}
	if m.nodeDuration, err = meter.Float64Histogram("analysis.node.duration",
		metric.WithDescription("Node execution time"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

// RunFinished counts a run. outcome is completed, paused, cached or failed.
func (m *Metrics) RunFinished(ctx context.Context, outcome string) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Paused counts a run suspended for review.
func (m *Metrics) Paused(ctx context.Context) {
	m.pauses.Add(ctx, 1)
}

// Resumed counts a resolved review.
func (m *Metrics) Resumed(ctx context.Context, status string) {
	m.resumes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// ObserveNode records one node execution. It has the workflow.NodeObserver
// signature.
func (m *Metrics) ObserveNode(ctx context.Context, node string, role workflow.Role, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.nodeDuration.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(
		attribute.String("node", node),
		attribute.String("role", role.String()),
		attribute.String("outcome", outcome),
	))
}
