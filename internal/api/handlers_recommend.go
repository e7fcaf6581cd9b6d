// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/logging"
	"github.com/tomtom215/tastemesh/internal/models"
	"github.com/tomtom215/tastemesh/internal/predict"
)

// Recommend serves GET /api/v1/recommend/{userID}.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	if h.recommend == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Recommendations are not available", nil)
		return
	}
	req := UserPathRequest{UserID: chi.URLParam(r, "userID")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	start := time.Now()
	res, err := h.recommend.Recommend(r.Context(), req.UserID)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Request cancelled", err)
		return
	}
	respondData(w, r, http.StatusOK, res, models.Metadata{
		QueryTimeMS: time.Since(start).Milliseconds(),
		Cached:      res.Cached,
	})
}

// Predict serves GET /api/v1/predict/{userID}: the user's likely next
// actions and what to warm for them.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if h.predict == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Prediction is not available", nil)
		return
	}
	req := UserPathRequest{UserID: chi.URLParam(r, "userID")}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	start := time.Now()
	ctx := logging.ContextWithUserID(r.Context(), req.UserID)
	var prefs learner.Vector
	if h.prefs != nil {
		rec, ok, err := h.prefs.Load(ctx, req.UserID)
		switch {
		case err != nil:
			// predictions still work from recent actions alone
			logging.Ctx(ctx).Warn().Err(err).Msg("preferences unavailable for prediction")
		case ok:
			prefs = rec.Vector
		}
	}

	preds := h.predict.PredictForUser(ctx, req.UserID, prefs)
	if preds == nil {
		preds = []predict.PredictedAction{}
	}
	respondData(w, r, http.StatusOK, PredictionResponse{
		UserID:      req.UserID,
		Predictions: preds,
		Preload:     h.predict.Plan(ctx, preds),
		Accuracy:    h.predict.Metrics(),
	}, models.Metadata{QueryTimeMS: time.Since(start).Milliseconds()})
}
