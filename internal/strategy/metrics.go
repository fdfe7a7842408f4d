package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	strategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_strategy_duration_seconds",
			Help:    "Strategy run latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	strategyTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_strategy_timeouts_total",
			Help: "Strategy runs aborted by the strategy timeout",
		},
		[]string{"strategy"},
	)

	discoveredMonitors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_discovered_monitors",
			Help: "Monitors refreshed by the last discovery, per host and connector",
		},
		[]string{"hostname", "connector"},
	)
)
