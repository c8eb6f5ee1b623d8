// Package metrics exposes simulator counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the simulator collectors
type Metrics struct {
	Passes        *prometheus.CounterVec
	PassDuration  prometheus.Histogram
	Readings      prometheus.Counter
	Optimized     *prometheus.CounterVec
	SpacesSkipped prometheus.Counter
	Batches       prometheus.Counter
	CommitRetries prometheus.Counter
	LastTick      prometheus.Gauge
}

// New registers the collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campus_energy",
			Name:      "passes_total",
			Help:      "Simulation passes by final status.",
		}, []string{"status"}),
		PassDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "campus_energy",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of a simulation pass.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Readings: f.NewCounter(prometheus.CounterOpts{
			Namespace: "campus_energy",
			Name:      "readings_committed_total",
			Help:      "Energy readings durably appended.",
		}),
		Optimized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "campus_energy",
			Name:      "optimizations_total",
			Help:      "Optimizer rule firings.",
		}, []string{"rule"}),
		SpacesSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "campus_energy",
			Name:      "spaces_skipped_total",
			Help:      "Spaces skipped because their energy source is missing.",
		}),
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "campus_energy",
			Name:      "batches_committed_total",
			Help:      "Reading batches committed.",
		}),
		CommitRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "campus_energy",
			Name:      "commit_retries_total",
			Help:      "Batch commits retried after write contention.",
		}),
		LastTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "campus_energy",
			Name:      "last_pass_tick_timestamp_seconds",
			Help:      "Tick timestamp of the last finished pass.",
		}),
	}
}
