// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package orchestrator owns the adaptive engine state machine. It folds
// learning events into preference vectors, feeds accepted deltas through
// consensus into the mesh, keeps the cache hit rate and latency EMAs,
// runs the periodic sync pass and drives reconnection after store
// failures.
//
// States move standby -> active on a successful startup probe,
// active -> recovering on any probe or persistence failure, and
// recovering -> active on a successful reconnection probe. Learning only
// happens while active; bus events that arrive in any other state are held
// and replayed once the engine is active again.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/activity"
	"github.com/tomtom215/tastemesh/internal/breaker"
	"github.com/tomtom215/tastemesh/internal/consensus"
	"github.com/tomtom215/tastemesh/internal/events"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/metrics"
	"github.com/tomtom215/tastemesh/internal/predict"
	"github.com/tomtom215/tastemesh/internal/preferences"
	"github.com/tomtom215/tastemesh/internal/store"
)

// ErrNotActive is returned by LearnFromActivity outside the active state.
var ErrNotActive = errors.New("engine is not active")

// Store is the slice of the durable store the orchestrator probes and
// stamps.
type Store interface {
	Ping(ctx context.Context) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Deps are the collaborators. Predict and Activity are optional.
type Deps struct {
	Store     Store
	Prefs     preferences.Store
	Learner   *learner.Learner
	Mesh      *mesh.Mesh
	Consensus *consensus.Engine
	Predict   *predict.Bridge
	Activity  activity.Sink
}

// Config tunes the engine.
type Config struct {
	CycleInterval        time.Duration
	FailureThreshold     int
	FirstRetryDelay      time.Duration
	RetryInterval        time.Duration
	BaseTTL              time.Duration
	SlowLatency          time.Duration
	FastLatency          time.Duration
	EMAAlpha             float64
	RecoveryFile         string
	StepTimeout          time.Duration
	ModelWeightRate      float64
	InstabilityThreshold float64
	SyncConfidence       float64
	HeldEvents           int
}

// DefaultConfig returns the engine defaults: a five minute cycle, escalation
// past three failures, 5s then 30s reconnection, a one hour base TTL with
// 500ms/100ms latency bounds, EMA smoothing of 0.1 and up to 1024 held
// learning events.
func DefaultConfig() Config {
	return Config{
		CycleInterval:        5 * time.Minute,
		FailureThreshold:     3,
		FirstRetryDelay:      5 * time.Second,
		RetryInterval:        30 * time.Second,
		BaseTTL:              time.Hour,
		SlowLatency:          500 * time.Millisecond,
		FastLatency:          100 * time.Millisecond,
		EMAAlpha:             0.1,
		RecoveryFile:         "localdata/recovery.json",
		StepTimeout:          30 * time.Second,
		ModelWeightRate:      0.01,
		InstabilityThreshold: 0.5,
		SyncConfidence:       0.7,
		HeldEvents:           1024,
	}
}

// TTLFor maps an average latency to a cache TTL: the base TTL doubled
// above SlowLatency, halved below FastLatency, unchanged otherwise.
func (c Config) TTLFor(avgLatency time.Duration) time.Duration {
	switch {
	case avgLatency > c.SlowLatency:
		return c.BaseTTL * 2
	case avgLatency < c.FastLatency:
		return c.BaseTTL / 2
	}
	return c.BaseTTL
}

const lockStripes = 64

// Orchestrator is the adaptive engine.
type Orchestrator struct {
	cfg        Config
	deps       Deps
	checkpoint *checkpointFile
	logger     zerolog.Logger
	now        func() time.Time

	mu             sync.Mutex
	m              AdaptiveMetrics
	cacheSamples   int64
	latencySamples int64

	// userLocks serialize learning per user; distinct users mostly land on
	// different stripes.
	userLocks [lockStripes]sync.Mutex

	// wake nudges the reconnect loop when the engine enters recovery.
	wake chan struct{}

	heldMu sync.Mutex
	held   []events.LearningEvent
}

// New creates an orchestrator in standby.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(cfg Config, deps Deps, logger zerolog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = def.CycleInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FirstRetryDelay <= 0 {
		cfg.FirstRetryDelay = def.FirstRetryDelay
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = def.BaseTTL
	}
	if cfg.SlowLatency <= 0 {
		cfg.SlowLatency = def.SlowLatency
	}
	if cfg.FastLatency <= 0 {
		cfg.FastLatency = def.FastLatency
	}
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		cfg.EMAAlpha = def.EMAAlpha
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.ModelWeightRate <= 0 {
		cfg.ModelWeightRate = def.ModelWeightRate
	}
	if cfg.InstabilityThreshold <= 0 {
		cfg.InstabilityThreshold = def.InstabilityThreshold
	}
	if cfg.SyncConfidence <= 0 || cfg.SyncConfidence > 1 {
		cfg.SyncConfidence = def.SyncConfidence
	}
	if cfg.HeldEvents <= 0 {
		cfg.HeldEvents = def.HeldEvents
	}

	o := &Orchestrator{
		cfg:        cfg,
		deps:       deps,
		checkpoint: &checkpointFile{path: cfg.RecoveryFile},
		logger:     logger.With().Str("component", "orchestrator").Logger(),
		now:        time.Now,
		m: AdaptiveMetrics{
			EngineStatus:    StatusStandby,
			ModelWeights:    make(map[string]float64),
			CacheTTLSeconds: int64(cfg.BaseTTL / time.Second),
		},
		wake: make(chan struct{}, 1),
	}
	publishGauges(&o.m)
	return o
}

// Start restores the last checkpoint and the mesh state, then probes the
// store. Success makes the engine active; failure enters recovery. Start
// only returns an error for a cancelled context.
func (o *Orchestrator) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp, ok, err := o.checkpoint.read()
	switch {
	case err != nil:
		o.logger.Warn().Err(err).Str("path", o.cfg.RecoveryFile).Msg("discarding unreadable recovery checkpoint")
	case ok:
		o.mu.Lock()
		o.m.restoreFrom(cp.Metrics)
		o.mu.Unlock()
		o.logger.Info().Time("checkpoint_at", cp.Timestamp).Int64("training_ops", cp.Metrics.TrainingOps).Msg("recovery checkpoint restored")
	}

	if o.deps.Mesh != nil {
		loadCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		err := o.deps.Mesh.Load(loadCtx)
		cancel()
		if err != nil {
			o.logger.Warn().Err(err).Msg("global learning state not restored")
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()
	if err := o.deps.Store.Ping(probeCtx); err != nil {
		o.fail("startup_probe", err)
		return nil
	}

	o.mu.Lock()
	prev := o.m.EngineStatus
	o.m.EngineStatus = StatusActive
	publishGauges(&o.m)
	o.mu.Unlock()
	o.logger.Info().Str("from", string(prev)).Str("to", string(StatusActive)).Msg("engine status changed")
	o.replayHeld(ctx)
	return nil
}

// Status returns the current engine status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m.EngineStatus
}

// Snapshot returns a copy of the adaptive metrics.
func (o *Orchestrator) Snapshot() AdaptiveMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.m.clone()
}

// Health returns the diagnostic snapshot.
func (o *Orchestrator) Health() Health {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Health{
		Engine:             o.m.EngineStatus,
		TrainingOps:        o.m.TrainingOps,
		CacheHitRate:       o.m.CacheHitRate,
		AvgLatencyMs:       o.m.AvgLatencyMs,
		ConnectionFailures: o.m.ConnectionFailures,
		CacheTTLSeconds:    o.m.CacheTTLSeconds,
		ModelWeights:       len(o.m.ModelWeights),
		LastSync:           o.m.LastSync,
		LastRecovery:       o.m.LastRecovery,
	}
}

// CacheTTL is the TTL chosen by the last sync pass.
func (o *Orchestrator) CacheTTL() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return time.Duration(o.m.CacheTTLSeconds) * time.Second
}

// RecordCacheSample feeds one recommendation lookup into the EMAs. Hits and
// misses both move the hit rate; only misses carry a latency sample.
func (o *Orchestrator) RecordCacheSample(hit bool, latency time.Duration) {
	sample := 0.0
	if hit {
		sample = 1
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.m.CacheHitRate = clampRate(ema(o.m.CacheHitRate, sample, o.cfg.EMAAlpha))
	o.cacheSamples++
	if !hit {
		o.observeLatencyLocked(latency)
	}
	metrics.CacheHitRate.Set(o.m.CacheHitRate)
}

// observeLatencyLocked seeds the latency EMA with the first sample.
func (o *Orchestrator) observeLatencyLocked(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	if o.latencySamples == 0 {
		o.m.AvgLatencyMs = ms
	} else {
		o.m.AvgLatencyMs = ema(o.m.AvgLatencyMs, ms, o.cfg.EMAAlpha)
	}
	o.latencySamples++
	metrics.AvgLatency.Set(o.m.AvgLatencyMs / 1000)
}

// Signals returns the two independent accuracy signals consensus weighs:
// the predictive accuracy index and the cache hit rate. Each reads 0.5
// until it has at least one sample.
func (o *Orchestrator) Signals() (predictive, engagement float64) {
	predictive, engagement = 0.5, 0.5
	if o.deps.Predict != nil {
		if pai, samples := o.deps.Predict.Accuracy(); samples > 0 {
			predictive = pai
		}
	}
	o.mu.Lock()
	if o.cacheSamples > 0 {
		engagement = o.m.CacheHitRate
	}
	o.mu.Unlock()
	return predictive, engagement
}

// HandleEvent is the learning bus consumer. Events that arrive while the
// engine is not active are held for replay instead of failing the message.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev events.LearningEvent) error {
	err := o.LearnFromActivity(ctx, ev)
	if errors.Is(err, ErrNotActive) {
		o.hold(ev)
		return nil
	}
	return err
}

// ReportFailure feeds a store error seen outside the learning loop, such
// as on the recommendation path, into the failure path. Errors that are
// not connection failures are ignored.
func (o *Orchestrator) ReportFailure(op string, err error) {
	if !IsConnectionFailure(err) {
		return
	}
	o.fail(op, err)
}

// LearnFromActivity folds one user action into that user's preference
// vector and offers the delta to the mesh through consensus.
func (o *Orchestrator) LearnFromActivity(ctx context.Context, ev events.LearningEvent) error {
	if o.Status() != StatusActive {
		return ErrNotActive
	}
	start := o.now()

	unlock := o.lockUser(ev.UserID)
	defer unlock()

	sig := learner.SignalFor(ev.Action)
	outcome := "learned"

	var delta learner.Vector
	if ev.ItemID == "" {
		delta = learner.FallbackDelta(ev.Action)
		outcome = "fallback"
	} else {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		d, err := o.deps.Learner.Learn(stepCtx, ev.UserID, ev.ItemID, ev.Action, sig)
		cancel()
		if err != nil {
			if IsConnectionFailure(err) {
				o.fail("catalog_lookup", err)
			}
			metrics.RecordLearningEvent(ev.Action, "failed", 0)
			return fmt.Errorf("learn %s on %s: %w", ev.Action, ev.ItemID, err)
		}
		delta = d
	}

	o.observeActual(ev)
	if len(delta) == 0 {
		metrics.RecordLearningEvent(ev.Action, "skipped", 0)
		return nil
	}

	if err := o.foldPreferences(ctx, ev.UserID, delta, start); err != nil {
		metrics.RecordLearningEvent(ev.Action, "failed", 0)
		return err
	}

	impact := learner.Norm(delta)
	if impact > o.cfg.InstabilityThreshold {
		metrics.LearningInstability.Inc()
		o.logger.Warn().Str("user_id", ev.UserID).Str("action", ev.Action).Float64("impact", impact).Msg("learning delta exceeds stability bound")
	}

	o.mu.Lock()
	for k, v := range delta {
		o.m.ModelWeights[k] += v * o.cfg.ModelWeightRate
	}
	learner.Sanitize(learner.Vector(o.m.ModelWeights))
	o.mu.Unlock()

	o.submit(ctx, delta, sig.Strength)
	o.appendActivity(ctx, ev)

	elapsed := o.now().Sub(start)
	o.mu.Lock()
	o.m.TrainingOps++
	o.observeLatencyLocked(elapsed)
	o.mu.Unlock()

	metrics.RecordLearningEvent(ev.Action, outcome, elapsed)
	return nil
}

func (o *Orchestrator) foldPreferences(ctx context.Context, userID string, delta learner.Vector, now time.Time) error {
	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	rec, _, err := o.deps.Prefs.Load(stepCtx, userID)
	if err != nil {
		o.fail("preference_load", err)
		return fmt.Errorf("load preferences for %s: %w", userID, err)
	}
	merged := o.deps.Learner.Fold(rec.Vector, rec.UpdatedAt, now, delta)
	if err := o.deps.Prefs.Save(stepCtx, userID, preferences.Record{Vector: merged, UpdatedAt: now}); err != nil {
		o.fail("preference_save", err)
		return fmt.Errorf("save preferences for %s: %w", userID, err)
	}
	return nil
}

// submit offers the delta to consensus with the signal strength as its
// confidence. Consensus failures never fail the learning event itself.
func (o *Orchestrator) submit(ctx context.Context, delta learner.Vector, confidence float64) {
	if o.deps.Mesh == nil || o.deps.Consensus == nil {
		return
	}
	adj := mesh.Adjustment{
		SourceNode: o.deps.Mesh.NodeID(),
		Domain:     mesh.DomainWeights,
		Values:     map[string]float64(delta.Clone()),
		Confidence: confidence,
	}
	a, b := o.Signals()

	stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()
	if _, err := o.deps.Consensus.Submit(stepCtx, o.deps.Mesh, []mesh.Adjustment{adj}, a, b); err != nil {
		o.logger.Warn().Err(err).Msg("consensus contribution failed")
		if IsConnectionFailure(err) {
			o.fail("mesh_contribute", err)
		}
	}
}

func (o *Orchestrator) observeActual(ev events.LearningEvent) {
	if o.deps.Predict == nil {
		return
	}
	action := predict.RecentAction{Action: ev.Action, ItemID: ev.ItemID, At: ev.At}
	if g, ok := ev.Metadata["genre"].(string); ok {
		action.Genre = g
	}
	if q, ok := ev.Metadata["query"].(string); ok {
		action.Query = q
	}
	o.deps.Predict.UpdateWithActual(ev.UserID, action)
}

func (o *Orchestrator) appendActivity(ctx context.Context, ev events.LearningEvent) {
	if o.deps.Activity == nil {
		return
	}
	err := o.deps.Activity.Append(ctx, activity.Entry{
		UserID:   ev.UserID,
		Action:   ev.Action,
		ItemID:   ev.ItemID,
		Metadata: ev.Metadata,
		At:       ev.At,
	})
	switch {
	case errors.Is(err, activity.ErrThrottled):
		o.logger.Debug().Str("user_id", ev.UserID).Msg("activity append throttled")
	case err != nil:
		o.logger.Warn().Err(err).Str("user_id", ev.UserID).Msg("activity append failed")
	}
}

// hold keeps ev until the engine is active again.
func (o *Orchestrator) hold(ev events.LearningEvent) {
	o.heldMu.Lock()
	defer o.heldMu.Unlock()
	o.held = append(o.held, ev)
	o.trimHeldLocked()
	metrics.RecordLearningEvent(ev.Action, "held", 0)
}

// requeue puts events that could not be replayed back in front of any
// held since.
func (o *Orchestrator) requeue(evs []events.LearningEvent) {
	o.heldMu.Lock()
	defer o.heldMu.Unlock()
	o.held = append(append(make([]events.LearningEvent, 0, len(evs)+len(o.held)), evs...), o.held...)
	o.trimHeldLocked()
}

func (o *Orchestrator) trimHeldLocked() {
	excess := len(o.held) - o.cfg.HeldEvents
	if excess <= 0 {
		return
	}
	for _, ev := range o.held[:excess] {
		metrics.RecordLearningEvent(ev.Action, "dropped", 0)
	}
	o.logger.Warn().Int("dropped", excess).Int("limit", o.cfg.HeldEvents).Msg("held learning events over limit, dropping oldest")
	o.held = append(o.held[:0], o.held[excess:]...)
}

// HeldEvents reports how many learning events wait for the engine.
func (o *Orchestrator) HeldEvents() int {
	o.heldMu.Lock()
	defer o.heldMu.Unlock()
	return len(o.held)
}

// replayHeld feeds held events back through learning in arrival order. If
// the engine leaves the active state part way, the rest stay held.
func (o *Orchestrator) replayHeld(ctx context.Context) {
	o.heldMu.Lock()
	pending := o.held
	o.held = nil
	o.heldMu.Unlock()
	if len(pending) == 0 {
		return
	}

	replayed := 0
	for i, ev := range pending {
		if ctx.Err() != nil || o.Status() != StatusActive {
			o.requeue(pending[i:])
			break
		}
		if err := o.LearnFromActivity(ctx, ev); err != nil {
			if o.Status() != StatusActive {
				o.requeue(pending[i:])
				break
			}
			o.logger.Warn().Err(err).Str("user_id", ev.UserID).Str("action", ev.Action).Msg("held learning event failed on replay")
			continue
		}
		replayed++
	}
	o.logger.Info().Int("replayed", replayed).Int("held", o.HeldEvents()).Msg("held learning events replayed")
}

func (o *Orchestrator) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &o.userLocks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// fail is the single failure path: count, enter recovery, checkpoint, and
// wake the reconnect loop. Past the threshold the failure is escalated.
func (o *Orchestrator) fail(op string, cause error) {
	now := o.now()

	o.mu.Lock()
	prev := o.m.EngineStatus
	o.m.ConnectionFailures++
	o.m.EngineStatus = StatusRecovering
	escalated := o.m.ConnectionFailures > o.cfg.FailureThreshold
	if escalated {
		o.m.LastRecovery = now
	}
	snap := o.m.clone()
	publishGauges(&o.m)
	o.mu.Unlock()

	evt := o.logger.Warn()
	if escalated {
		evt = o.logger.Error()
	}
	evt.Err(cause).
		Str("op", op).
		Str("from", string(prev)).
		Int("connection_failures", snap.ConnectionFailures).
		Bool("escalated", escalated).
		Msg("store connection failure")

	if err := o.checkpoint.write(snap, now); err != nil {
		o.logger.Error().Err(err).Str("path", o.cfg.RecoveryFile).Msg("recovery checkpoint not written")
	}

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// IsConnectionFailure reports whether err means a collaborator is
// unreachable rather than that the request was bad.
func IsConnectionFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, breaker.ErrCallTimeout),
		errors.Is(err, store.ErrClosed),
		breaker.IsRejected(err):
		return true
	}
	return false
}
