package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hostCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_host_cycles_total",
			Help: "Host cycles run, by kind (discovery or collect).",
		},
		[]string{"hostname", "kind"},
	)

	hostCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_host_cycle_duration_seconds",
			Help:    "Duration of a full host cycle.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"kind"},
	)

	sampleWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_sample_writes_total",
			Help: "Metric samples handled by the batch writer, by result.",
		},
		[]string{"result"},
	)
)
