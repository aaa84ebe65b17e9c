package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "reviewforge"

// Metrics holds the ReviewForge metric instruments.
type Metrics struct {
	ActionsAppended      metric.Int64Counter
	VerdictEvaluations   metric.Int64Counter
	CacheHits            metric.Int64Counter
	CacheMisses          metric.Int64Counter
	AssignmentsGranted   metric.Int64Counter
	AssignmentsExhausted metric.Int64Counter
	LockExpiries         metric.Int64Counter
	Arbitrations         metric.Int64Counter
	ArbitrationUndos     metric.Int64Counter
	AggregationDuration  metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ActionsAppended, "reviewforge.actions.appended", "Review actions appended to the log"},
		{&m.VerdictEvaluations, "reviewforge.verdicts.evaluated", "Lifecycle verdict evaluations"},
		{&m.CacheHits, "reviewforge.lifecycle_cache.hits", "Lifecycle cache hits"},
		{&m.CacheMisses, "reviewforge.lifecycle_cache.misses", "Lifecycle cache misses"},
		{&m.AssignmentsGranted, "reviewforge.assignments.granted", "Documents handed to reviewers"},
		{&m.AssignmentsExhausted, "reviewforge.assignments.unavailable", "Assignment requests with no document available"},
		{&m.LockExpiries, "reviewforge.locks.expired", "Reviewer holds dropped after the heartbeat timeout"},
		{&m.Arbitrations, "reviewforge.arbitrations", "Arbitration decisions recorded"},
		{&m.ArbitrationUndos, "reviewforge.arbitration_undos", "Arbitration decisions withdrawn"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.AggregationDuration, err = meter.Float64Histogram("reviewforge.aggregation.duration_seconds",
		metric.WithDescription("Time spent aggregating verdicts across documents"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return m, nil
}
