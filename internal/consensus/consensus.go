// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package consensus decides which mesh adjustments are applied. Each
// adjustment is scored against two independent accuracy signals: signal A
// is predictive accuracy and signal B is engagement accuracy.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/metrics"
)

// Config tunes acceptance.
type Config struct {
	Threshold       float64
	RaisedThreshold float64

	// DominanceWindow recent decisions are inspected; when more than
	// DominanceLimit of them accepted the same domain, a score must exceed
	// RaisedThreshold for that domain. The base Threshold only has to be met.
	DominanceWindow int
	DominanceLimit  int

	LogCapacity int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:       0.6,
		RaisedThreshold: 0.75,
		DominanceWindow: 10,
		DominanceLimit:  5,
		LogCapacity:     1000,
	}
}

// Scores records the inputs and outcome of one decision.
type Scores struct {
	SignalA  float64 `json:"signal_a"`
	SignalB  float64 `json:"signal_b"`
	Combined float64 `json:"combined"`
}

// Improvement is the heuristic gain expected from the selected adjustments.
type Improvement struct {
	Predictive float64 `json:"predictive"`
	Empathic   float64 `json:"empathic"`
	Overall    float64 `json:"overall"`
}

// Decision is one append-only log entry.
type Decision struct {
	ID                  string             `json:"id"`
	Timestamp           time.Time          `json:"timestamp"`
	EvaluatedIDs        []string           `json:"evaluated_ids"`
	SelectedIDs         []string           `json:"selected_ids"`
	RejectedIDs         []string           `json:"rejected_ids"`
	SelectedDomains     []mesh.Domain      `json:"selected_domains"`
	AdjustmentScores    map[string]float64 `json:"adjustment_scores"`
	ReinforcementScores Scores             `json:"reinforcement_scores"`
	ExpectedImprovement Improvement        `json:"expected_improvement"`
	Reasoning           string             `json:"reasoning"`
}

// Statistics is derived from the decision log.
type Statistics struct {
	TotalDecisions            int     `json:"total_decisions"`
	AverageReinforcementScore float64 `json:"average_reinforcement_score"`
	AcceptanceRate            float64 `json:"acceptance_rate"`
	ImprovementRate           float64 `json:"improvement_rate"`
}

// Engine evaluates adjustments and keeps the rolling decision log.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	decisions []Decision
	stats     Statistics
}

// New creates an engine. Zero fields in cfg take their defaults.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(cfg Config, logger zerolog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.RaisedThreshold <= 0 {
		cfg.RaisedThreshold = def.RaisedThreshold
	}
	if cfg.DominanceWindow <= 0 {
		cfg.DominanceWindow = def.DominanceWindow
	}
	if cfg.DominanceLimit <= 0 {
		cfg.DominanceLimit = def.DominanceLimit
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = def.LogCapacity
	}
	return &Engine{
		cfg:    cfg,
		logger: logger.With().Str("component", "consensus").Logger(),
		now:    time.Now,
	}
}

// Score computes the reinforcement score of adj. It is a pure function of
// its inputs.
func Score(adj mesh.Adjustment, signalA, signalB float64) float64 {
	score := clamp01(adj.Confidence)
	if adj.PriorReinforcement != nil {
		score = (score + clamp01(*adj.PriorReinforcement)) / 2
	}
	signalA, signalB = clamp01(signalA), clamp01(signalB)

	switch adj.Domain {
	case mesh.DomainWeights:
		score = score*0.6 + signalA*0.4
	case mesh.DomainEmotional:
		score = score*0.6 + signalB*0.4
	case mesh.DomainHyperparameters:
		score = score*0.5 + (signalA+signalB)/2*0.5
	}
	return clamp01(score)
}

// Evaluate scores every adjustment, accepts those meeting the threshold for
// their domain and appends the decision to the log.
func (e *Engine) Evaluate(adjs []mesh.Adjustment, signalA, signalB float64) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := Decision{
		ID:               "consensus_" + uuid.NewString(),
		Timestamp:        e.now().UTC(),
		EvaluatedIDs:     make([]string, 0, len(adjs)),
		SelectedIDs:      []string{},
		RejectedIDs:      []string{},
		AdjustmentScores: make(map[string]float64, len(adjs)),
		ReinforcementScores: Scores{
			SignalA: clamp01(signalA),
			SignalB: clamp01(signalB),
		},
	}

	var (
		reasons  []string
		selected []mesh.Adjustment
		total    float64
		domains  = make(map[mesh.Domain]bool)
	)
	for _, adj := range adjs {
		score := Score(adj, signalA, signalB)
		d.EvaluatedIDs = append(d.EvaluatedIDs, adj.ID)
		d.AdjustmentScores[adj.ID] = score

		threshold, raised := e.thresholdLocked(adj.Domain)
		accepted := score >= threshold
		if raised {
			accepted = score > threshold
		}
		metrics.RecordConsensus(adj.Domain.String(), accepted)
		if accepted {
			d.SelectedIDs = append(d.SelectedIDs, adj.ID)
			selected = append(selected, adj)
			total += score
			if !domains[adj.Domain] {
				domains[adj.Domain] = true
				d.SelectedDomains = append(d.SelectedDomains, adj.Domain)
			}
			reasons = append(reasons, fmt.Sprintf("accepted %s: score=%.3f domain=%s", adj.ID, score, adj.Domain))
		} else {
			d.RejectedIDs = append(d.RejectedIDs, adj.ID)
			op := "<"
			if raised {
				op = "<="
			}
			reasons = append(reasons, fmt.Sprintf("rejected %s: score=%.3f %s %.2f", adj.ID, score, op, threshold))
		}
	}
	if len(selected) > 0 {
		d.ReinforcementScores.Combined = total / float64(len(selected))
	}
	d.ExpectedImprovement = expectedImprovement(selected)
	d.Reasoning = strings.Join(reasons, "; ")

	e.decisions = append(e.decisions, d)
	if over := len(e.decisions) - e.cfg.LogCapacity; over > 0 {
		e.decisions = append([]Decision(nil), e.decisions[over:]...)
	}
	e.recomputeLocked()

	e.logger.Debug().
		Str("decision_id", d.ID).
		Int("accepted", len(d.SelectedIDs)).
		Int("rejected", len(d.RejectedIDs)).
		Float64("combined", d.ReinforcementScores.Combined).
		Msg("consensus decision")
	return d
}

// thresholdLocked returns the raised threshold, and true, when domain
// dominated the recent window.
func (e *Engine) thresholdLocked(domain mesh.Domain) (float64, bool) {
	start := len(e.decisions) - e.cfg.DominanceWindow
	if start < 0 {
		start = 0
	}
	count := 0
	for _, d := range e.decisions[start:] {
		for _, dom := range d.SelectedDomains {
			if dom == domain {
				count++
				break
			}
		}
	}
	if count > e.cfg.DominanceLimit {
		return e.cfg.RaisedThreshold, true
	}
	return e.cfg.Threshold, false
}

func expectedImprovement(selected []mesh.Adjustment) Improvement {
	var predictive, empathic float64
	for _, adj := range selected {
		c := clamp01(adj.Confidence)
		switch adj.Domain {
		case mesh.DomainWeights:
			predictive += c * 0.1
		case mesh.DomainEmotional:
			empathic += c * 0.15
		case mesh.DomainHyperparameters:
			predictive += c * 0.05
			empathic += c * 0.05
		}
	}
	predictive = math.Min(0.5, predictive)
	empathic = math.Min(0.5, empathic)
	return Improvement{Predictive: predictive, Empathic: empathic, Overall: (predictive + empathic) / 2}
}

func (e *Engine) recomputeLocked() {
	n := len(e.decisions)
	st := Statistics{TotalDecisions: n}
	if n == 0 {
		e.stats = st
		return
	}
	var scoreSum float64
	var evaluated, accepted, improving int
	for _, d := range e.decisions {
		scoreSum += d.ReinforcementScores.Combined
		evaluated += len(d.EvaluatedIDs)
		accepted += len(d.SelectedIDs)
		if d.ExpectedImprovement.Overall > 0 {
			improving++
		}
	}
	st.AverageReinforcementScore = scoreSum / float64(n)
	st.ImprovementRate = float64(improving) / float64(n)
	if evaluated > 0 {
		st.AcceptanceRate = float64(accepted) / float64(evaluated)
	}
	e.stats = st
	metrics.ConsensusAcceptanceRate.Set(st.AcceptanceRate)
}

// Statistics returns the derived log statistics.
func (e *Engine) Statistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// RecentDecisions returns up to limit decisions, oldest first. A
// non-positive limit means 10.
func (e *Engine) RecentDecisions(limit int) []Decision {
	if limit <= 0 {
		limit = 10
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	start := len(e.decisions) - limit
	if start < 0 {
		start = 0
	}
	return append([]Decision(nil), e.decisions[start:]...)
}

// Applier receives accepted adjustments.
type Applier interface {
	Contribute(ctx context.Context, adj mesh.Adjustment) (string, error)
}

// Submit evaluates adjs and contributes the accepted ones to applier,
// carrying each one's score forward as its prior reinforcement. Duplicate
// adjustments are not errors.
func (e *Engine) Submit(ctx context.Context, applier Applier, adjs []mesh.Adjustment, signalA, signalB float64) (Decision, error) {
	adjs = append([]mesh.Adjustment(nil), adjs...)
	for i := range adjs {
		if adjs[i].ID == "" {
			adjs[i].ID = "adj_" + uuid.NewString()
		}
	}
	d := e.Evaluate(adjs, signalA, signalB)
	if len(d.SelectedIDs) == 0 {
		return d, nil
	}

	accepted := make(map[string]struct{}, len(d.SelectedIDs))
	for _, id := range d.SelectedIDs {
		accepted[id] = struct{}{}
	}
	var errs []error
	for _, adj := range adjs {
		if _, ok := accepted[adj.ID]; !ok {
			continue
		}
		score := d.AdjustmentScores[adj.ID]
		adj.PriorReinforcement = &score
		if _, err := applier.Contribute(ctx, adj); err != nil && !errors.Is(err, mesh.ErrDuplicateAdjustment) {
			errs = append(errs, err)
		}
	}
	return d, errors.Join(errs...)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
