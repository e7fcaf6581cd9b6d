// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package orchestrator

import (
	"context"
	"time"

	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/metrics"
)

const lastSyncKey = "meta:last_sync"

// RunCycle runs the sync pass every CycleInterval while the engine is
// active. It blocks until ctx is done.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.CycleInterval)
	defer ticker.Stop()

	o.logger.Info().Dur("interval", o.cfg.CycleInterval).Msg("sync cycle running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if o.Status() != StatusActive {
				o.logger.Debug().Msg("sync pass skipped, engine not active")
				continue
			}
			o.SyncOnce(ctx)
		}
	}
}

// SyncOnce runs one sync pass. Every step is guarded on its own so a
// failing step never blocks the ones after it.
func (o *Orchestrator) SyncOnce(ctx context.Context) {
	start := o.now()

	o.step(ctx, "timestamp", func(ctx context.Context) error {
		if err := o.deps.Store.SetJSON(ctx, lastSyncKey, start.UTC(), 0); err != nil {
			o.fail("sync_timestamp", err)
			return err
		}
		o.mu.Lock()
		o.m.LastSync = start
		o.mu.Unlock()
		return nil
	})

	o.step(ctx, "diagnostics", func(context.Context) error {
		o.logDiagnostics()
		return nil
	})

	o.step(ctx, "mesh", func(ctx context.Context) error {
		if o.deps.Mesh == nil {
			return nil
		}
		weights := o.Snapshot().ModelWeights
		if len(weights) == 0 {
			return nil
		}
		_, err := o.deps.Mesh.Contribute(ctx, mesh.Adjustment{
			SourceNode: o.deps.Mesh.NodeID(),
			Domain:     mesh.DomainWeights,
			Values:     weights,
			Confidence: o.cfg.SyncConfidence,
		})
		if IsConnectionFailure(err) {
			o.fail("sync_mesh", err)
		}
		return err
	})

	o.step(ctx, "ttl", func(context.Context) error {
		o.mu.Lock()
		avg := time.Duration(o.m.AvgLatencyMs * float64(time.Millisecond))
		ttl := o.cfg.TTLFor(avg)
		o.m.CacheTTLSeconds = int64(ttl / time.Second)
		o.mu.Unlock()
		metrics.CacheTTL.Set(ttl.Seconds())
		return nil
	})

	o.step(ctx, "checkpoint", func(context.Context) error {
		return o.checkpoint.write(o.Snapshot(), o.now())
	})

	o.logger.Debug().Dur("duration", o.now().Sub(start)).Msg("sync pass complete")
}

func (o *Orchestrator) step(ctx context.Context, name string, fn func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	err := fn(stepCtx)
	metrics.RecordSyncStep(name, err)
	if err != nil {
		o.logger.Warn().Err(err).Str("step", name).Msg("sync step failed")
	}
}

func (o *Orchestrator) logDiagnostics() {
	h := o.Health()
	evt := o.logger.Info().
		Str("engine", string(h.Engine)).
		Int64("training_ops", h.TrainingOps).
		Float64("cache_hit_rate", h.CacheHitRate).
		Float64("avg_latency_ms", h.AvgLatencyMs).
		Int("model_weights", h.ModelWeights)

	if o.deps.Mesh != nil {
		st := o.deps.Mesh.Status()
		evt = evt.Int("mesh_nodes", st.ActiveNodes).Int("mesh_pending", st.Pending)
	}
	if o.deps.Consensus != nil {
		st := o.deps.Consensus.Statistics()
		evt = evt.Float64("consensus_acceptance", st.AcceptanceRate).Int("consensus_decisions", st.TotalDecisions)
	}
	if o.deps.Predict != nil {
		pai, samples := o.deps.Predict.Accuracy()
		evt = evt.Float64("predictive_accuracy", pai).Int("prediction_samples", samples)
	}
	evt.Msg("sync diagnostics")
}

// Reconnect makes one reconnection attempt. It reports whether the engine
// is active afterwards. A failed probe goes through the failure path.
func (o *Orchestrator) Reconnect(ctx context.Context) bool {
	if o.Status() != StatusRecovering {
		return o.Status() == StatusActive
	}

	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	err := o.deps.Store.Ping(probeCtx)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			o.fail("reconnect_probe", err)
		}
		return false
	}

	cp, ok, cpErr := o.checkpoint.read()
	if cpErr != nil {
		o.logger.Warn().Err(cpErr).Msg("discarding unreadable recovery checkpoint")
	}

	o.mu.Lock()
	if ok {
		o.m.restoreFrom(cp.Metrics)
	}
	o.m.EngineStatus = StatusActive
	o.m.ConnectionFailures = 0
	publishGauges(&o.m)
	o.mu.Unlock()

	o.logger.Info().Bool("checkpoint_restored", ok).Msg("store reconnected, engine active")
	o.replayHeld(ctx)
	return o.Status() == StatusActive
}

// RunReconnect waits for the engine to enter recovery and then probes the
// store: first after FirstRetryDelay, then every RetryInterval, with no
// attempt limit. It blocks until ctx is done.
func (o *Orchestrator) RunReconnect(ctx context.Context) error {
	for {
		if o.Status() != StatusRecovering {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-o.wake:
				continue
			}
		}

		delay := o.cfg.FirstRetryDelay
		for attempt := 1; ; attempt++ {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}

			if o.Reconnect(ctx) {
				break
			}
			o.logger.Info().Int("attempt", attempt).Dur("next_in", o.cfg.RetryInterval).Msg("reconnection attempt failed")
			delay = o.cfg.RetryInterval
		}

		// drain the nudges left by failures during this recovery
		select {
		case <-o.wake:
		default:
		}
	}
}

// Shutdown runs a final sync pass when active and writes the checkpoint.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.Status() == StatusActive {
		o.SyncOnce(ctx)
	}
	snap := o.Snapshot()
	if err := o.checkpoint.write(snap, o.now()); err != nil {
		return err
	}
	o.logger.Info().Str("engine", string(snap.EngineStatus)).Int64("training_ops", snap.TrainingOps).Msg("orchestrator checkpoint written on shutdown")
	return nil
}
