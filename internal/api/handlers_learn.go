// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tastemesh/internal/events"
	"github.com/tomtom215/tastemesh/internal/logging"
	"github.com/tomtom215/tastemesh/internal/models"
)

const maxLearnBody = 64 << 10

// Learn queues one learning event and returns 202 without waiting for it
// to be processed. The engine state is not consulted: events queued while
// the store is down are held by the orchestrator and learned on recovery.
func (h *Handler) Learn(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Learning is not available", nil)
		return
	}

	var req LearnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLearnBody))
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeValidation, "Request body must be a JSON object", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	ctx := logging.ContextWithUserID(r.Context(), req.UserID)
	err := h.events.Publish(ctx, events.LearningEvent{
		UserID:   req.UserID,
		ItemID:   req.ItemID,
		Action:   req.Action,
		Metadata: req.Metadata,
	})
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Learning event could not be queued", err)
		return
	}

	logging.Ctx(ctx).Debug().Str("action", req.Action).Msg("learning event queued")

	respondData(w, r, http.StatusAccepted, LearnAccepted{
		Accepted:      true,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	}, models.Metadata{})
}
