// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tastemesh/config.yaml",
	"/etc/tastemesh/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3857,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Path:              "/data/tastemesh",
			CallTimeout:       2 * time.Second,
			GCInterval:        10 * time.Minute,
			ActivityRetention: 30 * 24 * time.Hour,
			ActivityRate:      200,
			ActivityBurst:     50,
		},
		Learner: LearnerConfig{
			LearningRate:         0.1,
			DecayRate:            0.05,
			InstabilityThreshold: 0.5,
			ModelWeightRate:      0.01,
		},
		Mesh: MeshConfig{
			NodeID:              "core-1",
			NodeType:            "learner",
			SimilarityTolerance: 0.1,
			ContextTTL:          5 * time.Minute,
			NodeTimeout:         2 * time.Minute,
			MaxPending:          1024,
			DedupeTTL:           24 * time.Hour,
			SyncConfidence:      0.7,
			Subject:             "tastemesh.mesh",
		},
		Consensus: ConsensusConfig{
			Threshold:       0.6,
			RaisedThreshold: 0.75,
			DominanceWindow: 10,
			DominanceLimit:  5,
			LogCapacity:     1000,
		},
		Predict: PredictConfig{
			TopN:             5,
			AccuracyWindow:   10,
			RecentActionsCap: 20,
			NightStartHour:   20,
			NightEndHour:     6,
		},
		Orchestrator: OrchestratorConfig{
			CycleInterval:    5 * time.Minute,
			FailureThreshold: 3,
			FirstRetryDelay:  5 * time.Second,
			RetryInterval:    30 * time.Second,
			BaseTTL:          time.Hour,
			SlowLatency:      500 * time.Millisecond,
			FastLatency:      100 * time.Millisecond,
			EMAAlpha:         0.1,
			RecoveryFile:     "localdata/recovery.json",
			StepTimeout:      30 * time.Second,
			HeldEvents:       1024,
		},
		Catalog: CatalogConfig{
			CallTimeout:         2 * time.Second,
			BreakerMaxRequests:  3,
			BreakerInterval:     time.Minute,
			BreakerTimeout:      30 * time.Second,
			BreakerMinRequests:  10,
			BreakerFailureRatio: 0.6,
		},
		Recommend: RecommendConfig{
			ResultSize:   5,
			KeyPrefix:    "rec_",
			SlowRequest:  500 * time.Millisecond,
			BuildTimeout: 10 * time.Second,
			CacheBackend: "badger",
		},
		Events: EventsConfig{
			Topic:               "learning.events",
			BufferSize:          1024,
			MaxRetries:          3,
			RetryInitialBackoff: 100 * time.Millisecond,
			CloseTimeout:        10 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
	}
}

// LoadWithKoanf layers defaults, the config file and environment variables
// (highest priority), then validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		raw, ok := k.Get(path).(string)
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"http_request_timeout":  "server.request_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"storage_path":               "storage.path",
	"storage_in_memory":          "storage.in_memory",
	"storage_call_timeout":       "storage.call_timeout",
	"storage_gc_interval":        "storage.gc_interval",
	"activity_retention":         "storage.activity_retention",
	"activity_rate":              "storage.activity_rate",
	"activity_burst":             "storage.activity_burst",
	"learner_learning_rate":      "learner.learning_rate",
	"learner_decay_rate":         "learner.decay_rate",
	"learner_instability":        "learner.instability_threshold",
	"learner_model_weight_rate":  "learner.model_weight_rate",
	"mesh_node_id":               "mesh.node_id",
	"mesh_node_type":             "mesh.node_type",
	"mesh_similarity_tolerance":  "mesh.similarity_tolerance",
	"mesh_context_ttl":           "mesh.context_ttl",
	"mesh_node_timeout":          "mesh.node_timeout",
	"mesh_pending_ttl":           "mesh.pending_ttl",
	"mesh_max_pending":           "mesh.max_pending",
	"mesh_dedupe_ttl":            "mesh.dedupe_ttl",
	"mesh_sync_confidence":       "mesh.sync_confidence",
	"nats_url":                   "mesh.nats_url",
	"mesh_subject":               "mesh.subject",
	"consensus_threshold":        "consensus.threshold",
	"consensus_raised_threshold": "consensus.raised_threshold",
	"consensus_dominance_window": "consensus.dominance_window",
	"consensus_dominance_limit":  "consensus.dominance_limit",
	"consensus_log_capacity":     "consensus.log_capacity",

	"predict_top_n":              "predict.top_n",
	"predict_accuracy_window":    "predict.accuracy_window",
	"predict_recent_actions_cap": "predict.recent_actions_cap",
	"predict_night_start_hour":   "predict.night_start_hour",
	"predict_night_end_hour":     "predict.night_end_hour",

	"cycle_interval":    "orchestrator.cycle_interval",
	"failure_threshold": "orchestrator.failure_threshold",
	"first_retry_delay": "orchestrator.first_retry_delay",
	"retry_interval":    "orchestrator.retry_interval",
	"cache_base_ttl":    "orchestrator.base_ttl",
	"slow_latency":      "orchestrator.slow_latency",
	"fast_latency":      "orchestrator.fast_latency",
	"ema_alpha":         "orchestrator.ema_alpha",
	"recovery_file":     "orchestrator.recovery_file",
	"step_timeout":      "orchestrator.step_timeout",
	"held_events":       "orchestrator.held_events",

	"catalog_seed_file":             "catalog.seed_file",
	"catalog_call_timeout":          "catalog.call_timeout",
	"catalog_breaker_max_requests":  "catalog.breaker_max_requests",
	"catalog_breaker_interval":      "catalog.breaker_interval",
	"catalog_breaker_timeout":       "catalog.breaker_timeout",
	"catalog_breaker_min_requests":  "catalog.breaker_min_requests",
	"catalog_breaker_failure_ratio": "catalog.breaker_failure_ratio",

	"recommend_result_size":   "recommend.result_size",
	"recommend_key_prefix":    "recommend.key_prefix",
	"recommend_slow_request":  "recommend.slow_request",
	"recommend_build_timeout": "recommend.build_timeout",
	"cache_backend":           "recommend.cache_backend",

	"events_topic":                 "events.topic",
	"events_buffer_size":           "events.buffer_size",
	"events_max_retries":           "events.max_retries",
	"events_retry_initial_backoff": "events.retry_initial_backoff",
	"events_close_timeout":         "events.close_timeout",

	"cors_origins":      "security.cors_origins",
	"rate_limit_reqs":   "security.rate_limit_requests",
	"rate_limit_window": "security.rate_limit_window",
}

// envTransformFunc maps environment variable names onto koanf paths.
// Unmapped variables return "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
