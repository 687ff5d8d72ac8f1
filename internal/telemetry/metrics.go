package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Scheduling outcomes recorded on pf.schedule.requests besides the result
// status itself.
const (
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

// SchedulerMetrics holds the scheduler's instruments. The zero value is not
// usable; call NewSchedulerMetrics.
type SchedulerMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	nodes    metric.Int64Histogram
}

// NewSchedulerMetrics creates the pf.schedule.* and pf.solver.* instruments
// on the current global meter provider.
func NewSchedulerMetrics() *SchedulerMetrics {
	m := Meter("scheduler")
	requests, _ := m.Int64Counter("pf.schedule.requests",
		metric.WithDescription("Scheduling requests by outcome"),
	)
	duration, _ := m.Float64Histogram("pf.schedule.duration",
		metric.WithDescription("End-to-end scheduling request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	nodes, _ := m.Int64Histogram("pf.solver.nodes",
		metric.WithDescription("Search nodes visited per solver run"),
	)
	return &SchedulerMetrics{requests: requests, duration: duration, nodes: nodes}
}

// Request records one finished Schedule or Plan call.
func (s *SchedulerMetrics) Request(ctx context.Context, outcome string, dryRun bool, took time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.Bool("dry_run", dryRun))
	s.requests.Add(ctx, 1, attrs)
	s.duration.Record(ctx, float64(took)/float64(time.Millisecond), attrs)
}

// SolverNodes records the search nodes one solver run visited.
func (s *SchedulerMetrics) SolverNodes(ctx context.Context, n int) {
	s.nodes.Record(ctx, int64(n))
}
