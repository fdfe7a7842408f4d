package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK        = "ok"
	resultEmpty     = "empty"
	resultError     = "error"
	resultCancelled = "cancelled"
)

var (
	sourceExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_source_executions_total",
			Help: "Source executions by source type and outcome",
		},
		[]string{"type", "result"},
	)

	sourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_source_duration_seconds",
			Help:    "Source execution latency including computes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	sourceRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_source_retries_total",
			Help: "Source re-executions after a regression to an empty result",
		},
	)

	serializationTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_serialization_timeouts_total",
			Help: "Force-serialized sources skipped because the lock wait timed out",
		},
	)
)
