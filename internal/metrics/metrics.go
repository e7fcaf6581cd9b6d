// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Learning pipeline
	LearningEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_learning_events_total",
			Help: "Learning events processed, by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: learned, fallback, skipped, failed, held, dropped
	)

	LearningDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tastemesh_learning_duration_seconds",
			Help:    "Time to fold one learning event into a preference vector",
			Buckets: prometheus.DefBuckets,
		},
	)

	LearningInstability = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tastemesh_learning_instability_total",
			Help: "Deltas whose L2 norm exceeded the instability threshold",
		},
	)

	// Adjustment mesh
	MeshResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_mesh_resolutions_total",
			Help: "Adjustment applications by domain and resolution kind",
		},
		[]string{"domain", "kind"}, // kind: direct, merged, averaged, duplicate
	)

	MeshPendingAdjustments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_mesh_pending_adjustments",
			Help: "Adjustments held while a conflict group is open",
		},
	)

	MeshActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_mesh_active_nodes",
			Help: "Registered mesh nodes seen within the node timeout",
		},
	)

	MeshPeerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_mesh_peer_messages_total",
			Help: "Peer transport messages by direction and result",
		},
		[]string{"direction", "result"},
	)

	// Consensus
	ConsensusAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_consensus_adjustments_total",
			Help: "Adjustments evaluated by domain and outcome",
		},
		[]string{"domain", "outcome"}, // outcome: accepted, rejected
	)

	ConsensusAcceptanceRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_consensus_acceptance_rate",
			Help: "Fraction of logged decisions that selected at least one adjustment",
		},
	)

	// Predictive bridge
	PredictiveAccuracy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_predictive_accuracy_index",
			Help: "Rolling share of actual actions that matched a prediction",
		},
	)

	// Orchestrator
	EngineStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tastemesh_engine_status",
			Help: "1 for the current engine status, 0 otherwise",
		},
		[]string{"status"},
	)

	ConnectionFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_connection_failures",
			Help: "Consecutive connection failures since the last reconnect",
		},
	)

	CacheHitRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_cache_hit_rate",
			Help: "EMA of recommendation cache hits",
		},
	)

	AvgLatency = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_avg_latency_seconds",
			Help: "EMA of learning and recommendation latency",
		},
	)

	CacheTTL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tastemesh_cache_ttl_seconds",
			Help: "Recommendation cache TTL chosen by the last sync cycle",
		},
	)

	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_sync_cycles_total",
			Help: "Sync cycle steps by step and result",
		},
		[]string{"step", "result"},
	)

	// Recommendation service
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_recommend_requests_total",
			Help: "Recommendation requests by strategy and cache state",
		},
		[]string{"strategy", "cached"},
	)

	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastemesh_recommend_duration_seconds",
			Help:    "Recommendation resolution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Activity log
	ActivityAppends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_activity_appends_total",
			Help: "Best-effort activity log writes by result",
		},
		[]string{"result"}, // ok, throttled, error
	)

	// Event bus
	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_bus_messages_total",
			Help: "Learning bus messages by stage and result",
		},
		[]string{"stage", "result"}, // stage: publish, handle, poison
	)

	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tastemesh_api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tastemesh_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)
)

var engineStatuses = []string{"standby", "active", "recovering"}

// RecordLearningEvent counts one processed learning event.
func RecordLearningEvent(action, outcome string, duration time.Duration) {
	LearningEvents.WithLabelValues(action, outcome).Inc()
	if duration > 0 {
		LearningDuration.Observe(duration.Seconds())
	}
}

// RecordMeshResolution counts one application to the global state.
func RecordMeshResolution(domain, kind string) {
	MeshResolutions.WithLabelValues(domain, kind).Inc()
}

// RecordConsensus counts one evaluated adjustment.
func RecordConsensus(domain string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	ConsensusAdjustments.WithLabelValues(domain, outcome).Inc()
}

// SetEngineStatus flips the status gauge so exactly one label is 1.
func SetEngineStatus(status string) {
	for _, s := range engineStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		EngineStatus.WithLabelValues(s).Set(v)
	}
}

// RecordRecommend counts one recommendation request.
func RecordRecommend(strategy string, cached bool, duration time.Duration) {
	c := "false"
	if cached {
		c = "true"
	}
	RecommendRequests.WithLabelValues(strategy, c).Inc()
	RecommendDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordSyncStep counts one guarded step of the sync cycle.
func RecordSyncStep(step string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SyncCycles.WithLabelValues(step, result).Inc()
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
