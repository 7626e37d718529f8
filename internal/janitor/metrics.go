package janitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the run-dir janitor.
type Metrics struct {
	SweepsTotal   prometheus.Counter
	DirsRemoved   prometheus.Counter
	SweepDuration prometheus.Histogram
}

// NewMetrics creates and registers janitor metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "janitor",
			Name:      "sweeps_total",
			Help:      "Total janitor sweep cycles.",
		}),
		DirsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kazi",
			Subsystem: "janitor",
			Name:      "dirs_removed_total",
			Help:      "Total orphaned run directories removed.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kazi",
			Subsystem: "janitor",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each janitor sweep.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.DirsRemoved,
		m.SweepDuration,
	)

	return m
}
