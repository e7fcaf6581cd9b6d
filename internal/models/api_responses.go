// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package models holds the JSON envelope shared by every HTTP endpoint.
package models

import (
	"time"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// APIResponse wraps every HTTP response body.
//
//	{
//	  "status": "success",
//	  "data": {"items": [...], "strategy": "personalized"},
//	  "metadata": {"timestamp": "2026-03-01T12:00:00Z", "query_time_ms": 4}
//	}
//
// On failure Status is "error", Data is null and Error is set.
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata carries timing and cache information.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
	Cached      bool      `json:"cached,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
}

// APIError is the error body.
//
// Codes in use:
//   - VALIDATION_ERROR: malformed or out-of-range input
//   - NOT_ACTIVE: the engine is recovering and not taking new work
//   - UNAVAILABLE: a backing service could not be reached
//   - RATE_LIMIT_EXCEEDED: too many requests from one client
//   - INTERNAL_ERROR: anything else
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
