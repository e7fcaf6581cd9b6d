// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tastemesh/internal/activity"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/models"
)

const (
	defaultTopPreferences = 10
	defaultActivityLimit  = 20
)

// UserPreferences serves GET /api/v1/users/{userID}/preferences?limit=N:
// the user's strongest learned features by absolute weight. Users with no
// stored vector get an empty list.
func (h *Handler) UserPreferences(w http.ResponseWriter, r *http.Request) {
	if h.prefs == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Preferences are not available", nil)
		return
	}
	req := UserLimitRequest{
		UserID: chi.URLParam(r, "userID"),
		Limit:  getIntParam(r, "limit", defaultTopPreferences),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	rec, ok, err := h.prefs.Load(r.Context(), req.UserID)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Preferences could not be loaded", err)
		return
	}
	resp := PreferencesResponse{UserID: req.UserID, Top: []learner.Feature{}}
	if ok {
		resp.Features = len(rec.Vector)
		resp.Top = learner.TopPreferences(rec.Vector, req.Limit)
		resp.UpdatedAt = &rec.UpdatedAt
	}
	respondData(w, r, http.StatusOK, resp, models.Metadata{})
}

// UserActivity serves GET /api/v1/users/{userID}/activity?limit=N, newest
// first.
func (h *Handler) UserActivity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Activity log is not available", nil)
		return
	}
	req := UserLimitRequest{
		UserID: chi.URLParam(r, "userID"),
		Limit:  getIntParam(r, "limit", defaultActivityLimit),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondAPIError(w, r, http.StatusBadRequest, apiErr)
		return
	}

	entries, err := h.activity.Recent(r.Context(), req.UserID, req.Limit)
	if err != nil {
		respondError(w, r, http.StatusServiceUnavailable, codeUnavailable, "Activity could not be loaded", err)
		return
	}
	if entries == nil {
		entries = []activity.Entry{}
	}
	respondData(w, r, http.StatusOK, ActivityResponse{UserID: req.UserID, Entries: entries}, models.Metadata{})
}
