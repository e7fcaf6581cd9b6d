// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/activity"
	"github.com/tomtom215/tastemesh/internal/catalog"
	"github.com/tomtom215/tastemesh/internal/consensus"
	"github.com/tomtom215/tastemesh/internal/events"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/middleware"
	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/models"
	"github.com/tomtom215/tastemesh/internal/orchestrator"
	"github.com/tomtom215/tastemesh/internal/predict"
	"github.com/tomtom215/tastemesh/internal/preferences"
	"github.com/tomtom215/tastemesh/internal/recommend"
)

type fakeEngine struct {
	mu     sync.Mutex
	status orchestrator.Status
}

func (f *fakeEngine) set(s orchestrator.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakeEngine) Status() orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) Health() orchestrator.Health {
	return orchestrator.Health{Engine: f.Status(), TrainingOps: 7, CacheTTLSeconds: 3600}
}

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.LearningEvent
	ids []string
	err error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.LearningEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, ev)
	p.ids = append(p.ids, middleware.GetRequestID(ctx))
	return nil
}

type fakeRecommender struct {
	calls []string
}

func (f *fakeRecommender) Recommend(_ context.Context, userID string) (recommend.Result, error) {
	f.calls = append(f.calls, userID)
	return recommend.Result{
		Items:    []catalog.Item{{ID: "m1", Title: "Night Shift"}},
		Strategy: recommend.StrategyCurated,
		Cached:   true,
	}, nil
}

type fakeActivity struct {
	entries []activity.Entry
	err     error
	limit   int
}

func (f *fakeActivity) Recent(_ context.Context, userID string, limit int) ([]activity.Entry, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []activity.Entry
	for _, e := range f.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fixture struct {
	engine    *fakeEngine
	pub       *recordingPublisher
	rec       *fakeRecommender
	prefs     *preferences.Memory
	consensus *consensus.Engine
	activity  *fakeActivity
	router    http.Handler
}

func newFixture(t *testing.T, mutate func(*HandlerDeps, *RouterConfig)) *fixture {
	t.Helper()
	items := catalog.NewMemory([]catalog.Item{
		{ID: "m1", Title: "Night Shift", Genres: []string{"Horror"}, Language: "en", Popularity: 90},
		{ID: "m2", Title: "The Cellar", Genres: []string{"Horror"}, Language: "en", Popularity: 70},
	})
	f := &fixture{
		engine:    &fakeEngine{status: orchestrator.StatusActive},
		pub:       &recordingPublisher{},
		rec:       &fakeRecommender{},
		prefs:     preferences.NewMemory(),
		consensus: consensus.New(consensus.DefaultConfig(), zerolog.Nop()),
		activity:  &fakeActivity{},
	}
	deps := HandlerDeps{
		Engine:    f.engine,
		Events:    f.pub,
		Recommend: f.rec,
		Predict:   predict.New(items, predict.DefaultConfig(), zerolog.Nop()),
		Prefs:     f.prefs,
		Mesh:      mesh.New(mesh.DefaultConfig(), nil, nil, nil, zerolog.Nop()),
		Consensus: f.consensus,
		Activity:  f.activity,
		Store:     fakePinger{},
	}
	mwCfg := DefaultChiMiddlewareConfig()
	mwCfg.RateLimitDisabled = true
	cfg := RouterConfig{Middleware: mwCfg, RequestTimeout: 5 * time.Second}
	if mutate != nil {
		mutate(&deps, &cfg)
	}
	f.router = NewRouter(NewHandler(deps), cfg)
	return f
}

type envelope struct {
	Status   string           `json:"status"`
	Data     json.RawMessage  `json:"data"`
	Metadata models.Metadata  `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestLearnAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	rec, env := do(t, f.router, http.MethodPost, "/api/v1/learn",
		`{"userId":"u1","itemId":"m1","action":"favorite","metadata":{"genre":"Horror"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var data LearnAccepted
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !data.Accepted || data.CorrelationID == "" {
		t.Errorf("data = %+v", data)
	}
	if rec.Header().Get(middleware.HeaderCorrelationID) != data.CorrelationID {
		t.Error("correlation id in body and header differ")
	}

	if len(f.pub.got) != 1 {
		t.Fatalf("published %d events, want 1", len(f.pub.got))
	}
	ev := f.pub.got[0]
	if ev.UserID != "u1" || ev.ItemID != "m1" || ev.Action != learner.ActionFavorite || ev.Metadata["genre"] != "Horror" {
		t.Errorf("event = %+v", ev)
	}
	if f.pub.ids[0] != env.Metadata.RequestID || env.Metadata.RequestID == "" {
		t.Errorf("request id not carried: ctx %q, body %q", f.pub.ids[0], env.Metadata.RequestID)
	}
}

func TestLearnRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"userId":`},
		{"missing user", `{"action":"watch"}`},
		{"missing action", `{"userId":"u1"}`},
		{"malformed action", `{"userId":"u1","action":"Watch Now"}`},
		{"user with spaces", `{"userId":"u 1","action":"watch"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, f.router, http.MethodPost, "/api/v1/learn", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if env.Error == nil || env.Error.Code != codeValidation {
				t.Errorf("error = %+v, want %s", env.Error, codeValidation)
			}
		})
	}
	if len(f.pub.got) != 0 {
		t.Errorf("published %d events for invalid requests", len(f.pub.got))
	}
}

func TestLearnAcceptedWhileRecovering(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.engine.set(orchestrator.StatusRecovering)

	rec, env := do(t, f.router, http.MethodPost, "/api/v1/learn", `{"userId":"u1","action":"watch"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if env.Error != nil {
		t.Errorf("error = %+v, want none", env.Error)
	}
	if len(f.pub.got) != 1 || f.pub.got[0].UserID != "u1" {
		t.Errorf("published = %+v, want the event queued", f.pub.got)
	}
}

func TestLearnPublishFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.pub.err = errors.New("bus closed")

	rec, env := do(t, f.router, http.MethodPost, "/api/v1/learn", `{"userId":"u1","action":"watch"}`)
	if rec.Code != http.StatusServiceUnavailable || env.Error == nil || env.Error.Code != codeUnavailable {
		t.Errorf("status = %d error = %+v", rec.Code, env.Error)
	}
}

func TestRecommend(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	rec, env := do(t, f.router, http.MethodGet, "/api/v1/recommend/u42", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res recommend.Result
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].ID != "m1" || !res.Cached {
		t.Errorf("result = %+v", res)
	}
	if !env.Metadata.Cached {
		t.Error("metadata.cached should mirror the result")
	}
	if len(f.rec.calls) != 1 || f.rec.calls[0] != "u42" {
		t.Errorf("recommender calls = %v", f.rec.calls)
	}

	rec, _ = do(t, f.router, http.MethodGet, "/api/v1/recommend/bad%20id", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid user id status = %d, want 400", rec.Code)
	}
}

func TestPredict(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	_ = f.prefs.Save(context.Background(), "u1", preferences.Record{
		Vector:    learner.Vector{"genre:Horror": 0.8},
		UpdatedAt: time.Now(),
	})

	rec, env := do(t, f.router, http.MethodGet, "/api/v1/predict/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp PredictionResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if resp.UserID != "u1" {
		t.Errorf("user_id = %q", resp.UserID)
	}
	if resp.Predictions == nil || resp.Preload.Genres == nil || resp.Preload.ItemIDs == nil {
		t.Errorf("collections must be present: %+v", resp)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		rec, env := do(t, f.router, http.MethodGet, "/api/v1/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var h HealthResponse
		if err := json.Unmarshal(env.Data, &h); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if h.Status != "healthy" || !h.StoreOK || h.Engine.TrainingOps != 7 {
			t.Errorf("health = %+v", h)
		}
	})

	t.Run("degraded when store is down", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(d *HandlerDeps, _ *RouterConfig) {
			d.Store = fakePinger{err: errors.New("closed")}
		})
		_, env := do(t, f.router, http.MethodGet, "/api/v1/health", "")
		var h HealthResponse
		_ = json.Unmarshal(env.Data, &h)
		if h.Status != "degraded" || h.StoreOK {
			t.Errorf("health = %+v", h)
		}
	})

	t.Run("live and ready", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil)
		if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/health/live", ""); rec.Code != http.StatusOK {
			t.Errorf("live = %d", rec.Code)
		}
		if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/health/ready", ""); rec.Code != http.StatusOK {
			t.Errorf("ready = %d", rec.Code)
		}
		f.engine.set(orchestrator.StatusRecovering)
		if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/health/ready", ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("ready while recovering = %d, want 503", rec.Code)
		}
		if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/health/live", ""); rec.Code != http.StatusOK {
			t.Errorf("live while recovering = %d, want 200", rec.Code)
		}
	})
}

func TestMeshStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	rec, env := do(t, f.router, http.MethodGet, "/api/v1/mesh/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp MeshStatusResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status.NodeID == "" || resp.Nodes == nil {
		t.Errorf("mesh status = %+v", resp)
	}

	f = newFixture(t, func(d *HandlerDeps, _ *RouterConfig) { d.Mesh = nil })
	if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/mesh/status", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without mesh status = %d, want 503", rec.Code)
	}
}

func TestSharedContexts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	rec, env := do(t, f.router, http.MethodPost, "/api/v1/mesh/contexts",
		`{"type":"viewing_session","data":{"genre":"Horror"}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("share status = %d, body %s", rec.Code, rec.Body.String())
	}
	var shared ShareContextResponse
	if err := json.Unmarshal(env.Data, &shared); err != nil || shared.ID == "" {
		t.Fatalf("share response = %s (%v)", env.Data, err)
	}
	do(t, f.router, http.MethodPost, "/api/v1/mesh/contexts", `{"type":"search_trend","data":{"q":"zombies"}}`)

	rec, env = do(t, f.router, http.MethodGet, "/api/v1/mesh/contexts?type=viewing_session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list ContextsResponse
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Contexts) != 1 || list.Contexts[0].ID != shared.ID || list.Contexts[0].Data["genre"] != "Horror" {
		t.Errorf("contexts = %+v", list.Contexts)
	}

	_, env = do(t, f.router, http.MethodGet, "/api/v1/mesh/contexts", "")
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Contexts) != 2 {
		t.Errorf("unfiltered contexts = %d, want 2", len(list.Contexts))
	}

	for _, tc := range []struct {
		method, path, body string
	}{
		{http.MethodPost, "/api/v1/mesh/contexts", `{"data":{}}`},
		{http.MethodPost, "/api/v1/mesh/contexts", `not json`},
		{http.MethodGet, "/api/v1/mesh/contexts?type=bad%20type", ""},
	} {
		if rec, env := do(t, f.router, tc.method, tc.path, tc.body); rec.Code != http.StatusBadRequest || env.Error == nil {
			t.Errorf("%s %s %q: status = %d, want 400", tc.method, tc.path, tc.body, rec.Code)
		}
	}
}

func TestMeshResolutions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	rec, env := do(t, f.router, http.MethodGet, "/api/v1/mesh/resolutions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(env.Data), `"resolutions":[]`) {
		t.Errorf("data = %s, want an empty list", env.Data)
	}
	if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/mesh/resolutions?limit=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
}

func TestUserPreferences(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := f.prefs.Save(context.Background(), "u1", preferences.Record{
		Vector:    learner.Vector{"genre:Horror": 0.6, "genre:Comedy": -0.8, "language:en": 0.2},
		UpdatedAt: updated,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec, env := do(t, f.router, http.MethodGet, "/api/v1/users/u1/preferences?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp PreferencesResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Features != 3 || len(resp.Top) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Top[0].Key != "genre:Comedy" || resp.Top[1].Key != "genre:Horror" {
		t.Errorf("top = %+v, want ordering by absolute weight", resp.Top)
	}
	if resp.UpdatedAt == nil || !resp.UpdatedAt.Equal(updated) {
		t.Errorf("updated_at = %v", resp.UpdatedAt)
	}

	_, env = do(t, f.router, http.MethodGet, "/api/v1/users/nobody/preferences", "")
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(string(env.Data), `"top":[]`) || strings.Contains(string(env.Data), "updated_at") {
		t.Errorf("unknown user data = %s", env.Data)
	}
}

func TestUserActivity(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.activity.entries = []activity.Entry{
		{ID: "a2", UserID: "u1", Action: "watch", ItemID: "m2"},
		{ID: "a1", UserID: "u1", Action: "favorite", ItemID: "m1"},
		{ID: "b1", UserID: "u2", Action: "skip"},
	}

	rec, env := do(t, f.router, http.MethodGet, "/api/v1/users/u1/activity", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ActivityResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 2 || resp.Entries[0].ID != "a2" {
		t.Errorf("entries = %+v", resp.Entries)
	}
	if f.activity.limit != defaultActivityLimit {
		t.Errorf("limit passed = %d, want %d", f.activity.limit, defaultActivityLimit)
	}

	if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/users/u1/activity?limit=1000", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("limit=1000 status = %d, want 400", rec.Code)
	}

	f.activity.err = errors.New("store closed")
	if rec, _ := do(t, f.router, http.MethodGet, "/api/v1/users/u1/activity", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failing log status = %d, want 503", rec.Code)
	}
}

func TestConsensusDecisions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		f.consensus.Evaluate([]mesh.Adjustment{{
			ID:         "adj-" + string(rune('a'+i)),
			SourceNode: "n1",
			Domain:     mesh.DomainWeights,
			Values:     map[string]float64{"genre:Horror": 0.1},
			Confidence: 0.9,
		}}, 0.5, 0.5)
	}

	tests := []struct {
		query  string
		status int
		count  int
	}{
		{"", http.StatusOK, 3},
		{"?limit=2", http.StatusOK, 2},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=501", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		rec, env := do(t, f.router, http.MethodGet, "/api/v1/consensus/decisions"+tt.query, "")
		if rec.Code != tt.status {
			t.Errorf("%q: status = %d, want %d", tt.query, rec.Code, tt.status)
			continue
		}
		if tt.status != http.StatusOK {
			continue
		}
		var resp DecisionsResponse
		if err := json.Unmarshal(env.Data, &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Decisions) != tt.count || resp.Statistics.TotalDecisions != 3 {
			t.Errorf("%q: %d decisions, stats %+v", tt.query, len(resp.Decisions), resp.Statistics)
		}
	}
}

func TestRateLimitUsesEnvelope(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(_ *HandlerDeps, c *RouterConfig) {
		c.Middleware = DefaultChiMiddlewareConfig()
		c.Middleware.RateLimitRequests = 2
	})

	var last *httptest.ResponseRecorder
	var env envelope
	for i := 0; i < 3; i++ {
		last, env = do(t, f.router, http.MethodGet, "/api/v1/recommend/u1", "")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last.Code)
	}
	if env.Error == nil || env.Error.Code != codeRateLimited {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	if rec, _ := do(t, f.router, http.MethodGet, "/metrics", ""); rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
	rec, env := do(t, f.router, http.MethodGet, "/api/v1/nope", "")
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("not found = %d %+v", rec.Code, env.Error)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	t.Parallel()
	if got := sanitizeLogValue("a\nb\x7f"); got != `a\x0ab\x7f` {
		t.Errorf("sanitizeLogValue() = %q", got)
	}
}
