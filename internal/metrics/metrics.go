// Package metrics declares the Prometheus collectors shared by the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequests counts upstream source calls.
	// Labels: source, outcome ("success", "failure", "rejected").
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacewatch_upstream_requests_total",
			Help: "Upstream data source requests by outcome",
		},
		[]string{"source", "outcome"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spacewatch_circuit_breaker_state",
			Help: "Circuit breaker state per upstream source",
		},
		[]string{"source"},
	)

	// CacheRefreshes counts reading cache refresh attempts.
	CacheRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacewatch_cache_refresh_total",
			Help: "Reading cache refreshes by outcome",
		},
		[]string{"outcome"},
	)

	// AlertsFired counts dispatched alerts per topic.
	AlertsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacewatch_alerts_fired_total",
			Help: "Threshold alerts dispatched per topic",
		},
		[]string{"topic"},
	)

	// Deliveries counts per-subscriber push attempts.
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacewatch_deliveries_total",
			Help: "Per-subscriber push attempts by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	// TickDuration measures periodic task execution time.
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spacewatch_tick_duration_seconds",
			Help:    "Duration of periodic ticks",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"task"},
	)

	// RecorderWrites counts history writes per category.
	RecorderWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spacewatch_recorder_writes_total",
			Help: "Historical rows written per category by outcome",
		},
		[]string{"category", "outcome"},
	)
)
