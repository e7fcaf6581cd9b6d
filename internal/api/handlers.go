// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"context"
	"time"

	"github.com/tomtom215/tastemesh/internal/activity"
	"github.com/tomtom215/tastemesh/internal/consensus"
	"github.com/tomtom215/tastemesh/internal/events"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/orchestrator"
	"github.com/tomtom215/tastemesh/internal/predict"
	"github.com/tomtom215/tastemesh/internal/preferences"
	"github.com/tomtom215/tastemesh/internal/recommend"
)

// Engine is the orchestrator view the handlers read.
type Engine interface {
	Status() orchestrator.Status
	Health() orchestrator.Health
}

// Recommender serves recommendation results.
type Recommender interface {
	Recommend(ctx context.Context, userID string) (recommend.Result, error)
}

// Predictor is the predictive bridge.
type Predictor interface {
	PredictForUser(ctx context.Context, userID string, prefs learner.Vector) []predict.PredictedAction
	Plan(ctx context.Context, preds []predict.PredictedAction) predict.PreloadPlan
	Metrics() predict.Metrics
}

// MeshView reports mesh state and accepts shared context.
type MeshView interface {
	Status() mesh.Status
	Nodes() []mesh.NodeIdentity
	Resolutions(limit int) []mesh.Resolution
	ShareContext(ctx context.Context, contextType string, data map[string]any) (string, error)
	SharedContexts(contextType string) []mesh.SharedContext
}

// ActivityLog reads a user's recent learning activity.
type ActivityLog interface {
	Recent(ctx context.Context, userID string, limit int) ([]activity.Entry, error)
}

// DecisionLog reports consensus history.
type DecisionLog interface {
	RecentDecisions(limit int) []consensus.Decision
	Statistics() consensus.Statistics
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the API. Every dependency except Engine may be nil; the
// matching endpoints then answer 503.
type Handler struct {
	engine    Engine
	events    events.Publisher
	recommend Recommender
	predict   Predictor
	prefs     preferences.Store
	mesh      MeshView
	consensus DecisionLog
	activity  ActivityLog
	store     Pinger
	startTime time.Time
}

// HandlerDeps groups the Handler collaborators.
type HandlerDeps struct {
	Engine    Engine
	Events    events.Publisher
	Recommend Recommender
	Predict   Predictor
	Prefs     preferences.Store
	Mesh      MeshView
	Consensus DecisionLog
	Activity  ActivityLog
	Store     Pinger
}

// NewHandler creates a Handler.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		engine:    deps.Engine,
		events:    deps.Events,
		recommend: deps.Recommend,
		predict:   deps.Predict,
		prefs:     deps.Prefs,
		mesh:      deps.Mesh,
		consensus: deps.Consensus,
		activity:  deps.Activity,
		store:     deps.Store,
		startTime: time.Now(),
	}
}
