package differ

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the Prometheus metrics for the differ.
type Metrics struct {
	diffDuration *prometheus.HistogramVec
	diffsTotal   *prometheus.CounterVec
	entriesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the metrics for the differ.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		diffDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dex_differ_diff_duration_seconds",
			Help:    "Total time taken to compute a pool state diff.",
			Buckets: prometheus.DefBuckets,
		}, []string{}),
		diffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_differ_diffs_total",
			Help: "Total number of diffs computed, labeled by result.",
		}, []string{"result"}),
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dex_differ_entries_total",
			Help: "Total number of pool entries carried in diffs, labeled by change kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.diffDuration, m.diffsTotal, m.entriesTotal)
	return m
}
