// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/tastemesh/internal/models"
	"github.com/tomtom215/tastemesh/internal/orchestrator"
)

const storeProbeTimeout = 2 * time.Second

// Health returns the diagnostic snapshot. It always answers 200; the
// status field reads "degraded" while the engine is not active or the
// store does not answer.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		StoreOK:       h.storeOK(r.Context()),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Engine:        h.engine.Health(),
	}
	resp.Status = "healthy"
	if !resp.StoreOK || resp.Engine.Engine != orchestrator.StatusActive {
		resp.Status = "degraded"
	}
	if h.mesh != nil {
		st := h.mesh.Status()
		resp.MeshNodes = st.ActiveNodes
		resp.MeshPending = st.Pending
	}
	if h.consensus != nil {
		resp.Consensus = h.consensus.Statistics()
	}
	respondData(w, r, http.StatusOK, resp, models.Metadata{})
}

// HealthLive answers 200 while the process serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, map[string]string{"status": "alive"}, models.Metadata{})
}

// HealthReady answers 200 only while the engine is active.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	if status != orchestrator.StatusActive {
		respondJSON(w, r, http.StatusServiceUnavailable, &models.APIResponse{
			Status: models.StatusError,
			Error: &models.APIError{
				Code:    codeNotActive,
				Message: "Engine is not ready",
				Details: map[string]any{"engine": string(status)},
			},
		})
		return
	}
	respondData(w, r, http.StatusOK, map[string]string{"status": "ready"}, models.Metadata{})
}

func (h *Handler) storeOK(ctx context.Context) bool {
	if h.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, storeProbeTimeout)
	defer cancel()
	return h.store.Ping(ctx) == nil
}
