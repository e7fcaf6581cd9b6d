// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package orchestrator

import (
	"time"

	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/metrics"
)

// Status is the engine state.
type Status string

const (
	StatusStandby    Status = "standby"
	StatusActive     Status = "active"
	StatusRecovering Status = "recovering"
)

// AdaptiveMetrics is the process-wide adaptive state. It is what the
// recovery checkpoint stores.
type AdaptiveMetrics struct {
	EngineStatus       Status             `json:"engine_status"`
	TrainingOps        int64              `json:"training_ops"`
	CacheHitRate       float64            `json:"cache_hit_rate"`
	AvgLatencyMs       float64            `json:"avg_latency_ms"`
	ModelWeights       map[string]float64 `json:"model_weights"`
	ConnectionFailures int                `json:"connection_failures"`
	CacheTTLSeconds    int64              `json:"cache_ttl_seconds"`
	LastSync           time.Time          `json:"last_sync"`
	LastRecovery       time.Time          `json:"last_recovery"`
}

func (m AdaptiveMetrics) clone() AdaptiveMetrics {
	out := m
	out.ModelWeights = make(map[string]float64, len(m.ModelWeights))
	for k, v := range m.ModelWeights {
		out.ModelWeights[k] = v
	}
	return out
}

// restoreFrom copies the learned parts of a checkpoint. Status and the
// failure counter belong to the live process and are left alone.
func (m *AdaptiveMetrics) restoreFrom(cp AdaptiveMetrics) {
	m.TrainingOps = cp.TrainingOps
	m.CacheHitRate = clampRate(cp.CacheHitRate)
	if cp.AvgLatencyMs >= 0 {
		m.AvgLatencyMs = cp.AvgLatencyMs
	}
	m.ModelWeights = make(map[string]float64, len(cp.ModelWeights))
	for k, v := range learner.Sanitize(learner.Vector(cp.ModelWeights)) {
		m.ModelWeights[k] = v
	}
	if cp.CacheTTLSeconds > 0 {
		m.CacheTTLSeconds = cp.CacheTTLSeconds
	}
	m.LastSync = cp.LastSync
	m.LastRecovery = cp.LastRecovery
}

// Health is the diagnostic snapshot served by the API.
type Health struct {
	Engine             Status    `json:"engine"`
	TrainingOps        int64     `json:"training_ops"`
	CacheHitRate       float64   `json:"cache_hit_rate"`
	AvgLatencyMs       float64   `json:"avg_latency_ms"`
	ConnectionFailures int       `json:"connection_failures"`
	CacheTTLSeconds    int64     `json:"cache_ttl_seconds"`
	ModelWeights       int       `json:"model_weights"`
	LastSync           time.Time `json:"last_sync"`
	LastRecovery       time.Time `json:"last_recovery"`
}

func ema(prev, sample, alpha float64) float64 {
	return prev*(1-alpha) + sample*alpha
}

func clampRate(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func publishGauges(m *AdaptiveMetrics) {
	metrics.SetEngineStatus(string(m.EngineStatus))
	metrics.ConnectionFailures.Set(float64(m.ConnectionFailures))
	metrics.CacheHitRate.Set(m.CacheHitRate)
	metrics.AvgLatency.Set(m.AvgLatencyMs / 1000)
	metrics.CacheTTL.Set(float64(m.CacheTTLSeconds))
}
