// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package middleware holds the HTTP middleware shared by the API router:
// request tracing and Prometheus instrumentation. Rate limiting, CORS and
// panic recovery come from the chi ecosystem and are wired in api.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tomtom215/tastemesh/internal/logging"
)

// Tracing headers. A caller that already carries a correlation id keeps it
// across the learning bus.
const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

const maxIDLen = 128

// RequestID assigns every request an id, echoes it and the correlation id
// in response headers, and stores both plus a request-scoped logger in the
// context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := headerID(r, HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		correlationID := headerID(r, HeaderCorrelationID)
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}

		w.Header().Set(HeaderRequestID, requestID)
		w.Header().Set(HeaderCorrelationID, correlationID)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithCorrelationID(ctx, correlationID)
		ctx = logging.ContextWithLogger(ctx, logging.Logger().With().
			Str("request_id", requestID).
			Str("correlation_id", correlationID).
			Logger())

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// headerID returns a client supplied id, ignoring oversized values.
func headerID(r *http.Request, name string) string {
	id := r.Header.Get(name)
	if len(id) > maxIDLen {
		return ""
	}
	return id
}

// GetRequestID extracts the request id from ctx.
func GetRequestID(ctx context.Context) string {
	return logging.RequestIDFromContext(ctx)
}
