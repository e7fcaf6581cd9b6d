// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/tastemesh/internal/logging"
	"github.com/tomtom215/tastemesh/internal/metrics"
)

func TestRequestIDGeneratesAndPropagates(t *testing.T) {
	t.Parallel()
	var seenReq, seenCorr string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenReq = GetRequestID(r.Context())
		seenCorr = logging.CorrelationIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seenReq == "" || seenCorr == "" {
		t.Fatalf("ids not in context: request=%q correlation=%q", seenReq, seenCorr)
	}
	if rec.Header().Get(HeaderRequestID) != seenReq {
		t.Errorf("response request id = %q, want %q", rec.Header().Get(HeaderRequestID), seenReq)
	}
	if rec.Header().Get(HeaderCorrelationID) != seenCorr {
		t.Errorf("response correlation id = %q, want %q", rec.Header().Get(HeaderCorrelationID), seenCorr)
	}
}

func TestRequestIDHonorsClientHeaders(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"short id kept", "req-123", true},
		{"oversized id replaced", strings.Repeat("a", maxIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(HeaderRequestID, tt.incoming)
			req.Header.Set(HeaderCorrelationID, "corr-9")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if (got == tt.incoming) != tt.keep {
				t.Errorf("request id = %q, keep = %v", got, tt.keep)
			}
			if rec.Header().Get(HeaderCorrelationID) != "corr-9" {
				t.Errorf("correlation id = %q, want corr-9", rec.Header().Get(HeaderCorrelationID))
			}
		})
	}
}

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	t.Parallel()
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/widgets/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("GET", "/widgets/{id}", "418"))
	for _, id := range []string{"a", "b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/widgets/"+id, nil))
	}
	after := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("GET", "/widgets/{id}", "418"))
	if after-before != 2 {
		t.Errorf("counter delta = %v, want 2", after-before)
	}
}

func TestMetricsWriterKeepsFirstStatus(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	rw := &metricsResponseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	_, _ = rw.Write([]byte("ok"))
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want 200", rw.statusCode)
	}
}
