// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"time"

	"github.com/tomtom215/tastemesh/internal/activity"
	"github.com/tomtom215/tastemesh/internal/consensus"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/orchestrator"
	"github.com/tomtom215/tastemesh/internal/predict"
)

// LearnRequest is the POST /api/v1/learn body.
type LearnRequest struct {
	UserID   string         `json:"userId" validate:"required,identifier"`
	ItemID   string         `json:"itemId,omitempty" validate:"omitempty,identifier"`
	Action   string         `json:"action" validate:"required,action"`
	Metadata map[string]any `json:"metadata,omitempty" validate:"max=32"`
}

// LearnAccepted is returned with 202.
type LearnAccepted struct {
	Accepted      bool   `json:"accepted"`
	CorrelationID string `json:"correlation_id"`
}

// UserPathRequest validates a {userID} path parameter.
type UserPathRequest struct {
	UserID string `json:"userID" validate:"required,identifier"`
}

// DecisionsRequest is the consensus decisions query. The same bounds apply
// to the resolution history.
type DecisionsRequest struct {
	Limit int `json:"limit" validate:"min=1,max=500"`
}

// UserLimitRequest validates a {userID} path parameter with a limit.
type UserLimitRequest struct {
	UserID string `json:"userID" validate:"required,identifier"`
	Limit  int    `json:"limit" validate:"min=1,max=100"`
}

// ContextsQuery filters shared contexts by type.
type ContextsQuery struct {
	Type string `json:"type" validate:"omitempty,identifier"`
}

// ShareContextRequest is the POST /api/v1/mesh/contexts body.
type ShareContextRequest struct {
	Type string         `json:"type" validate:"required,identifier"`
	Data map[string]any `json:"data" validate:"max=64"`
}

// PredictionResponse is the GET /api/v1/predict/{userID} payload.
type PredictionResponse struct {
	UserID      string                    `json:"user_id"`
	Predictions []predict.PredictedAction `json:"predictions"`
	Preload     predict.PreloadPlan       `json:"preload"`
	Accuracy    predict.Metrics           `json:"accuracy"`
}

// HealthResponse is the GET /api/v1/health payload.
type HealthResponse struct {
	Status        string               `json:"status"` // healthy, degraded
	StoreOK       bool                 `json:"store_ok"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Engine        orchestrator.Health  `json:"engine"`
	MeshNodes     int                  `json:"mesh_nodes"`
	MeshPending   int                  `json:"mesh_pending"`
	Consensus     consensus.Statistics `json:"consensus"`
}

// MeshStatusResponse is the GET /api/v1/mesh/status payload.
type MeshStatusResponse struct {
	Status mesh.Status         `json:"status"`
	Nodes  []mesh.NodeIdentity `json:"nodes"`
}

// DecisionsResponse is the GET /api/v1/consensus/decisions payload.
type DecisionsResponse struct {
	Decisions  []consensus.Decision `json:"decisions"`
	Statistics consensus.Statistics `json:"statistics"`
}

// ShareContextResponse carries the id of a newly shared context.
type ShareContextResponse struct {
	ID string `json:"id"`
}

// ContextsResponse is the GET /api/v1/mesh/contexts payload.
type ContextsResponse struct {
	Contexts []mesh.SharedContext `json:"contexts"`
}

// ResolutionsResponse is the GET /api/v1/mesh/resolutions payload.
type ResolutionsResponse struct {
	Resolutions []mesh.Resolution `json:"resolutions"`
}

// PreferencesResponse is the GET /api/v1/users/{userID}/preferences payload.
type PreferencesResponse struct {
	UserID    string            `json:"user_id"`
	Features  int               `json:"features"`
	Top       []learner.Feature `json:"top"`
	UpdatedAt *time.Time        `json:"updated_at,omitempty"`
}

// ActivityResponse is the GET /api/v1/users/{userID}/activity payload.
type ActivityResponse struct {
	UserID  string           `json:"user_id"`
	Entries []activity.Entry `json:"entries"`
}
