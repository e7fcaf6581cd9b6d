// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package config

import (
	"fmt"
	"strings"
)

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateLogging,
		c.validateStorage,
		c.validateLearner,
		c.validateMesh,
		c.validateConsensus,
		c.validatePredict,
		c.validateOrchestrator,
		c.validateCatalog,
		c.validateRecommend,
		c.validateEvents,
	}
	for _, v := range validators {
		if err := v(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %s", c.Server.RequestTimeout)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a valid level", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	if c.Storage.CallTimeout <= 0 {
		return fmt.Errorf("storage.call_timeout must be positive, got %s", c.Storage.CallTimeout)
	}
	if c.Storage.ActivityRate <= 0 || c.Storage.ActivityBurst < 1 {
		return fmt.Errorf("storage.activity_rate and storage.activity_burst must be positive")
	}
	return nil
}

func (c *Config) validateLearner() error {
	if c.Learner.LearningRate <= 0 || c.Learner.LearningRate > 1 {
		return fmt.Errorf("learner.learning_rate must be in (0, 1], got %f", c.Learner.LearningRate)
	}
	if c.Learner.DecayRate < 0 {
		return fmt.Errorf("learner.decay_rate must be non-negative, got %f", c.Learner.DecayRate)
	}
	return nil
}

func (c *Config) validateMesh() error {
	if c.Mesh.NodeID == "" {
		return fmt.Errorf("mesh.node_id is required")
	}
	if c.Mesh.SimilarityTolerance < 0 || c.Mesh.SimilarityTolerance > 1 {
		return fmt.Errorf("mesh.similarity_tolerance must be in [0, 1], got %f", c.Mesh.SimilarityTolerance)
	}
	if c.Mesh.PendingTTL < 0 {
		return fmt.Errorf("mesh.pending_ttl must not be negative, got %s", c.Mesh.PendingTTL)
	}
	if c.Mesh.MaxPending < 1 {
		return fmt.Errorf("mesh.max_pending must be positive, got %d", c.Mesh.MaxPending)
	}
	if c.Mesh.ContextTTL <= 0 {
		return fmt.Errorf("mesh.context_ttl must be positive, got %s", c.Mesh.ContextTTL)
	}
	if c.Mesh.SyncConfidence < 0 || c.Mesh.SyncConfidence > 1 {
		return fmt.Errorf("mesh.sync_confidence must be in [0, 1], got %f", c.Mesh.SyncConfidence)
	}
	if c.Mesh.NATSURL != "" && c.Mesh.Subject == "" {
		return fmt.Errorf("mesh.subject is required when mesh.nats_url is set")
	}
	return nil
}

func (c *Config) validateConsensus() error {
	cc := c.Consensus
	if cc.Threshold < 0 || cc.Threshold > 1 || cc.RaisedThreshold < 0 || cc.RaisedThreshold > 1 {
		return fmt.Errorf("consensus thresholds must be in [0, 1], got %f and %f", cc.Threshold, cc.RaisedThreshold)
	}
	if cc.DominanceWindow < 1 || cc.DominanceLimit < 0 {
		return fmt.Errorf("consensus.dominance_window must be positive and dominance_limit non-negative")
	}
	if cc.LogCapacity < cc.DominanceWindow {
		return fmt.Errorf("consensus.log_capacity (%d) must cover dominance_window (%d)", cc.LogCapacity, cc.DominanceWindow)
	}
	return nil
}

func (c *Config) validatePredict() error {
	p := c.Predict
	if p.TopN < 1 || p.AccuracyWindow < 1 || p.RecentActionsCap < 1 {
		return fmt.Errorf("predict.top_n, accuracy_window and recent_actions_cap must be positive")
	}
	if p.NightStartHour < 0 || p.NightStartHour > 23 || p.NightEndHour < 0 || p.NightEndHour > 23 {
		return fmt.Errorf("predict night hours must be in [0, 23], got %d and %d", p.NightStartHour, p.NightEndHour)
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	o := c.Orchestrator
	if o.CycleInterval <= 0 || o.FirstRetryDelay <= 0 || o.RetryInterval <= 0 {
		return fmt.Errorf("orchestrator intervals must be positive")
	}
	if o.BaseTTL <= 0 {
		return fmt.Errorf("orchestrator.base_ttl must be positive, got %s", o.BaseTTL)
	}
	if o.FastLatency >= o.SlowLatency {
		return fmt.Errorf("orchestrator.fast_latency (%s) must be below slow_latency (%s)", o.FastLatency, o.SlowLatency)
	}
	if o.EMAAlpha <= 0 || o.EMAAlpha > 1 {
		return fmt.Errorf("orchestrator.ema_alpha must be in (0, 1], got %f", o.EMAAlpha)
	}
	if o.RecoveryFile == "" {
		return fmt.Errorf("orchestrator.recovery_file is required")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if c.Catalog.CallTimeout <= 0 {
		return fmt.Errorf("catalog.call_timeout must be positive, got %s", c.Catalog.CallTimeout)
	}
	if c.Catalog.BreakerFailureRatio <= 0 || c.Catalog.BreakerFailureRatio > 1 {
		return fmt.Errorf("catalog.breaker_failure_ratio must be in (0, 1], got %f", c.Catalog.BreakerFailureRatio)
	}
	return nil
}

func (c *Config) validateRecommend() error {
	if c.Recommend.ResultSize < 1 {
		return fmt.Errorf("recommend.result_size must be positive, got %d", c.Recommend.ResultSize)
	}
	if c.Recommend.KeyPrefix == "" {
		return fmt.Errorf("recommend.key_prefix is required")
	}
	if c.Recommend.BuildTimeout <= 0 {
		return fmt.Errorf("recommend.build_timeout must be positive, got %s", c.Recommend.BuildTimeout)
	}
	switch c.Recommend.CacheBackend {
	case "badger", "memory":
	default:
		return fmt.Errorf("recommend.cache_backend must be badger or memory, got %q", c.Recommend.CacheBackend)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.Topic == "" {
		return fmt.Errorf("events.topic is required")
	}
	if c.Events.MaxRetries < 0 {
		return fmt.Errorf("events.max_retries must be non-negative, got %d", c.Events.MaxRetries)
	}
	return nil
}
