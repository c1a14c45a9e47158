package diagnostics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsListener records prometheus metrics for events.
type MetricsListener struct {
	queries  prometheus.Counter
	batches  *prometheus.CounterVec
	commands *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsListener creates the collectors and registers them with reg.
func NewMetricsListener(reg prometheus.Registerer) (*MetricsListener, error) {
	m := &MetricsListener{
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "veloxrt",
			Name:      "queries_compiled_total",
			Help:      "Number of compiled query plans.",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veloxrt",
			Name:      "batches_total",
			Help:      "Number of executed command batches.",
		}, []string{"table", "op"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veloxrt",
			Name:      "commands_total",
			Help:      "Number of executed modification commands.",
		}, []string{"table", "op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "veloxrt",
			Name:      "errors_total",
			Help:      "Number of failed operations.",
		}, []string{"table", "op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "veloxrt",
			Name:      "batch_duration_seconds",
			Help:      "Command batch execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "op"}),
	}
	for _, c := range []prometheus.Collector{m.queries, m.batches, m.commands, m.errors, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OnEvent implements Listener.
func (m *MetricsListener) OnEvent(_ context.Context, e Event) {
	switch e.Kind {
	case QueryCompiled:
		m.queries.Inc()
	case BatchExecuted:
		m.batches.WithLabelValues(e.Table, e.Op).Inc()
		m.commands.WithLabelValues(e.Table, e.Op).Add(float64(e.Commands))
		m.duration.WithLabelValues(e.Table, e.Op).Observe(e.Duration.Seconds())
	case Error:
		m.errors.WithLabelValues(e.Table, e.Op).Inc()
	}
}
