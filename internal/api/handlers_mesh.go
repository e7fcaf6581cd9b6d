// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tastemesh/internal/consensus"
	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/models"
)

const (
	defaultDecisionLimit = 50
	maxContextBody       = 32 << 10
)

// MeshStatus serves GET /api/v1/mesh/status.
func (h *Handler) MeshStatus(w http.ResponseWriter, r *http.Request) {
	if h.mesh == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Mesh is not available", nil)
		return
	}
	nodes := h.mesh.Nodes()
	if nodes == nil {
		nodes = []mesh.NodeIdentity{}
	}
	respondData(w, r, http.StatusOK, MeshStatusResponse{
		Status: h.mesh.Status(),
		Nodes:  nodes,
	}, models.Metadata{})
}

// ConsensusDecisions serves GET /api/v1/consensus/decisions?limit=N with
// the most recent N decisions, oldest first.
func (h *Handler) ConsensusDecisions(w http.ResponseWriter, r *http.Request) {
	if h.consensus == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Consensus is not available", nil)
		return
	}
	req := DecisionsRequest{Limit: getIntParam(r, "limit", defaultDecisionLimit)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	decisions := h.consensus.RecentDecisions(req.Limit)
	if decisions == nil {
		decisions = []consensus.Decision{}
	}
	respondData(w, r, http.StatusOK, DecisionsResponse{
		Decisions:  decisions,
		Statistics: h.consensus.Statistics(),
	}, models.Metadata{})
}

// MeshResolutions serves GET /api/v1/mesh/resolutions?limit=N, newest
// first.
func (h *Handler) MeshResolutions(w http.ResponseWriter, r *http.Request) {
	if h.mesh == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Mesh is not available", nil)
		return
	}
	req := DecisionsRequest{Limit: getIntParam(r, "limit", defaultDecisionLimit)}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}
	respondData(w, r, http.StatusOK, ResolutionsResponse{
		Resolutions: h.mesh.Resolutions(req.Limit),
	}, models.Metadata{})
}

// ShareContext serves POST /api/v1/mesh/contexts. The item is kept locally
// for its TTL and forwarded to peers when a transport is attached.
func (h *Handler) ShareContext(w http.ResponseWriter, r *http.Request) {
	if h.mesh == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Mesh is not available", nil)
		return
	}
	var req ShareContextRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxContextBody)).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeValidation, "Request body must be a JSON object", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	id, err := h.mesh.ShareContext(r.Context(), req.Type, req.Data)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Context could not be shared", err)
		return
	}
	respondData(w, r, http.StatusCreated, ShareContextResponse{ID: id}, models.Metadata{})
}

// SharedContexts serves GET /api/v1/mesh/contexts?type=T, newest first.
func (h *Handler) SharedContexts(w http.ResponseWriter, r *http.Request) {
	if h.mesh == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Mesh is not available", nil)
		return
	}
	req := ContextsQuery{Type: r.URL.Query().Get("type")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}
	respondData(w, r, http.StatusOK, ContextsResponse{
		Contexts: h.mesh.SharedContexts(req.Type),
	}, models.Metadata{})
}
