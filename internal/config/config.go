// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package config loads Tastemesh configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import "time"

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Storage      StorageConfig      `koanf:"storage"`
	Learner      LearnerConfig      `koanf:"learner"`
	Mesh         MeshConfig         `koanf:"mesh"`
	Consensus    ConsensusConfig    `koanf:"consensus"`
	Predict      PredictConfig      `koanf:"predict"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Catalog      CatalogConfig      `koanf:"catalog"`
	Recommend    RecommendConfig    `koanf:"recommend"`
	Events       EventsConfig       `koanf:"events"`
	Security     SecurityConfig     `koanf:"security"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig selects the badger directory. InMemory is meant for tests
// and throwaway nodes.
type StorageConfig struct {
	Path        string        `koanf:"path"`
	InMemory    bool          `koanf:"in_memory"`
	CallTimeout time.Duration `koanf:"call_timeout"`
	GCInterval  time.Duration `koanf:"gc_interval"`

	// ActivityRetention bounds how long activity log entries live.
	ActivityRetention time.Duration `koanf:"activity_retention"`

	// ActivityRate caps best-effort activity appends per second.
	ActivityRate  float64 `koanf:"activity_rate"`
	ActivityBurst int     `koanf:"activity_burst"`
}

// LearnerConfig tunes the feature weight learner.
type LearnerConfig struct {
	LearningRate float64 `koanf:"learning_rate"`
	DecayRate    float64 `koanf:"decay_rate"`

	// InstabilityThreshold flags deltas whose L2 norm exceeds it.
	InstabilityThreshold float64 `koanf:"instability_threshold"`

	// ModelWeightRate scales deltas folded into the global model weights.
	ModelWeightRate float64 `koanf:"model_weight_rate"`
}

// MeshConfig tunes the adjustment mesh.
type MeshConfig struct {
	NodeID              string        `koanf:"node_id"`
	NodeType            string        `koanf:"node_type"`
	SimilarityTolerance float64       `koanf:"similarity_tolerance"`
	ContextTTL          time.Duration `koanf:"context_ttl"`
	NodeTimeout         time.Duration `koanf:"node_timeout"`
	PendingTTL          time.Duration `koanf:"pending_ttl"` // 0 keeps pending contributions until they conflict
	MaxPending          int           `koanf:"max_pending"`
	DedupeTTL           time.Duration `koanf:"dedupe_ttl"`
	SyncConfidence      float64       `koanf:"sync_confidence"`

	// NATSURL enables peer propagation when set.
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// ConsensusConfig tunes the consensus engine.
type ConsensusConfig struct {
	Threshold       float64 `koanf:"threshold"`
	RaisedThreshold float64 `koanf:"raised_threshold"`
	DominanceWindow int     `koanf:"dominance_window"`
	DominanceLimit  int     `koanf:"dominance_limit"`
	LogCapacity     int     `koanf:"log_capacity"`
}

// PredictConfig tunes the predictive bridge.
type PredictConfig struct {
	TopN             int `koanf:"top_n"`
	AccuracyWindow   int `koanf:"accuracy_window"`
	RecentActionsCap int `koanf:"recent_actions_cap"`
	NightStartHour   int `koanf:"night_start_hour"`
	NightEndHour     int `koanf:"night_end_hour"`
}

// OrchestratorConfig drives the cycle, reconnection and cache TTL.
type OrchestratorConfig struct {
	CycleInterval    time.Duration `koanf:"cycle_interval"`
	FailureThreshold int           `koanf:"failure_threshold"`
	FirstRetryDelay  time.Duration `koanf:"first_retry_delay"`
	RetryInterval    time.Duration `koanf:"retry_interval"`
	BaseTTL          time.Duration `koanf:"base_ttl"`
	SlowLatency      time.Duration `koanf:"slow_latency"`
	FastLatency      time.Duration `koanf:"fast_latency"`
	EMAAlpha         float64       `koanf:"ema_alpha"`
	RecoveryFile     string        `koanf:"recovery_file"`
	StepTimeout      time.Duration `koanf:"step_timeout"`

	// HeldEvents bounds the learning events kept while the engine is not
	// active. The oldest are dropped first.
	HeldEvents int `koanf:"held_events"`
}

// CatalogConfig points at the catalog seed and guards calls into it.
type CatalogConfig struct {
	SeedFile            string        `koanf:"seed_file"`
	CallTimeout         time.Duration `koanf:"call_timeout"`
	BreakerMaxRequests  uint32        `koanf:"breaker_max_requests"`
	BreakerInterval     time.Duration `koanf:"breaker_interval"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio"`
}

// RecommendConfig shapes recommendation results.
type RecommendConfig struct {
	ResultSize  int           `koanf:"result_size"`
	KeyPrefix   string        `koanf:"key_prefix"`
	SlowRequest time.Duration `koanf:"slow_request"`

	// BuildTimeout caps a shared cache-miss build, independent of the
	// requests waiting on it.
	BuildTimeout time.Duration `koanf:"build_timeout"`

	// CacheBackend is "badger" (durable, shared with the store) or "memory".
	CacheBackend string `koanf:"cache_backend"`
}

// EventsConfig tunes the in-process learning event router.
type EventsConfig struct {
	Topic               string        `koanf:"topic"`
	BufferSize          int64         `koanf:"buffer_size"`
	MaxRetries          int           `koanf:"max_retries"`
	RetryInitialBackoff time.Duration `koanf:"retry_initial_backoff"`
	CloseTimeout        time.Duration `koanf:"close_timeout"`
}

// SecurityConfig covers the HTTP edge.
type SecurityConfig struct {
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// Load reads configuration using koanf layering.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
