// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package recommend

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/breaker"
	"github.com/tomtom215/tastemesh/internal/cache"
	"github.com/tomtom215/tastemesh/internal/catalog"
	"github.com/tomtom215/tastemesh/internal/events"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/orchestrator"
	"github.com/tomtom215/tastemesh/internal/preferences"
)

type fakeAdaptive struct {
	mu       sync.Mutex
	ttl      time.Duration
	hits     int
	misses   int
	failures []string
}

func (f *fakeAdaptive) ReportFailure(op string, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, op)
}

func (f *fakeAdaptive) CacheTTL() time.Duration { return f.ttl }

func (f *fakeAdaptive) RecordCacheSample(hit bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hit {
		f.hits++
	} else {
		f.misses++
	}
}

// countingCatalog counts lookups and can hold TopFeatured until released.
type countingCatalog struct {
	*catalog.Memory
	calls    atomic.Int64
	featured atomic.Int64
	entered  chan struct{}
	gate     chan struct{}
}

func (c *countingCatalog) GetItem(ctx context.Context, id string) (catalog.Item, error) {
	c.calls.Add(1)
	return c.Memory.GetItem(ctx, id)
}

func (c *countingCatalog) TopByGenre(ctx context.Context, genre string, n int) ([]string, error) {
	c.calls.Add(1)
	return c.Memory.TopByGenre(ctx, genre, n)
}

func (c *countingCatalog) TopByLanguage(ctx context.Context, language string, n int) ([]string, error) {
	c.calls.Add(1)
	return c.Memory.TopByLanguage(ctx, language, n)
}

func (c *countingCatalog) TopFeatured(ctx context.Context, n int) ([]string, error) {
	c.calls.Add(1)
	if c.featured.Add(1) == 1 && c.gate != nil {
		close(c.entered)
		<-c.gate
	}
	return c.Memory.TopFeatured(ctx, n)
}

// timeoutCache fails every call the way a guarded store does past its
// call timeout.
type timeoutCache struct{}

func (timeoutCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("cache get: %w", breaker.ErrCallTimeout)
}

func (timeoutCache) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("cache set: %w", breaker.ErrCallTimeout)
}

func (timeoutCache) Delete(context.Context, string) error {
	return fmt.Errorf("cache delete: %w", breaker.ErrCallTimeout)
}

type timeoutPrefs struct{}

func (timeoutPrefs) Load(context.Context, string) (preferences.Record, bool, error) {
	return preferences.Record{}, false, fmt.Errorf("load: %w", breaker.ErrCallTimeout)
}

func (timeoutPrefs) Save(context.Context, string, preferences.Record) error {
	return fmt.Errorf("save: %w", breaker.ErrCallTimeout)
}

type pingOK struct{}

func (pingOK) Ping(context.Context) error { return nil }
func (pingOK) SetJSON(context.Context, string, any, time.Duration) error { return nil }

type recordingPublisher struct {
	mu  sync.Mutex
	got []events.LearningEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.LearningEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

func (r *recordingPublisher) events() []events.LearningEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.LearningEvent(nil), r.got...)
}

type fixture struct {
	svc      *Service
	cache    *cache.Cache
	catalog  *countingCatalog
	prefs    *preferences.Memory
	adaptive *fakeAdaptive
	pub      *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	items := []catalog.Item{
		{ID: "m1", Title: "Night Shift", Genres: []string{"Horror"}, Language: "en", Popularity: 90},
		{ID: "m2", Title: "The Cellar", Genres: []string{"Horror", "Thriller"}, Language: "en", Popularity: 70},
		{ID: "m3", Title: "Le Départ", Genres: []string{"Drama"}, Language: "fr", Popularity: 60, Featured: true},
		{ID: "m4", Title: "Blue Coast", Genres: []string{"Comedy"}, Language: "en", Popularity: 80, Featured: true},
	}
	c := cache.New(0)
	t.Cleanup(c.Close)

	f := &fixture{
		cache:    c,
		catalog:  &countingCatalog{Memory: catalog.NewMemory(items)},
		prefs:    preferences.NewMemory(),
		adaptive: &fakeAdaptive{ttl: time.Hour},
		pub:      &recordingPublisher{},
	}
	f.svc = New(Deps{
		Cache:    f.cache,
		Catalog:  f.catalog,
		Prefs:    f.prefs,
		Adaptive: f.adaptive,
		Events:   f.pub,
	}, DefaultConfig(), zerolog.Nop())
	return f
}

func ids(items []catalog.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestRecommendCuratedWithoutPreferences(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res, err := f.svc.Recommend(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if res.Strategy != StrategyCurated || res.Cached {
		t.Errorf("strategy = %s cached = %v, want curated uncached", res.Strategy, res.Cached)
	}
	got := ids(res.Items)
	if len(got) != 2 || got[0] != "m4" || got[1] != "m3" {
		t.Errorf("items = %v, want [m4 m3]", got)
	}
	if f.adaptive.misses != 1 {
		t.Errorf("miss samples = %d, want 1", f.adaptive.misses)
	}
}

func TestRecommendPersonalizedFromStrongestFeatures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_ = f.prefs.Save(ctx, "u1", preferences.Record{
		Vector: learner.Vector{
			"genre:Horror":  0.6,
			"genre:Comedy":  -0.4,
			"language:fr":   0.2,
			"quality:great": 0.1,
		},
		UpdatedAt: time.Now(),
	})

	res, err := f.svc.Recommend(ctx, "u1")
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if res.Strategy != StrategyPersonalized {
		t.Fatalf("strategy = %s, want personalized", res.Strategy)
	}
	got := ids(res.Items)
	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("items = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("items[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	for _, id := range got {
		if id == "m4" {
			t.Error("negatively weighted genre must not be recommended")
		}
	}
}

func TestRecommendServesCacheHitWithoutCatalog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Recommend(ctx, "u1")
	if err != nil {
		t.Fatalf("first Recommend() error = %v", err)
	}
	before := f.catalog.calls.Load()

	second, err := f.svc.Recommend(ctx, "u1")
	if err != nil {
		t.Fatalf("second Recommend() error = %v", err)
	}
	if !second.Cached {
		t.Error("second call should be served from cache")
	}
	if f.catalog.calls.Load() != before {
		t.Errorf("catalog called %d times on a cache hit", f.catalog.calls.Load()-before)
	}
	if len(second.Items) != len(first.Items) || second.Strategy != first.Strategy {
		t.Errorf("cached result %+v differs from built %+v", second, first)
	}
	if f.adaptive.hits != 1 || f.adaptive.misses != 1 {
		t.Errorf("samples hits=%d misses=%d, want 1 and 1", f.adaptive.hits, f.adaptive.misses)
	}
	if n := len(f.pub.events()); n != 1 {
		t.Errorf("published %d events, want 1 (hits are not fed back)", n)
	}
}

func TestRecommendCorruptCacheEntryIsAMiss(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_ = f.cache.Set(ctx, "rec_u1", []byte("{not json"), time.Minute)

	res, err := f.svc.Recommend(ctx, "u1")
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if res.Cached || len(res.Items) == 0 {
		t.Errorf("result = %+v, want freshly built items", res)
	}
	if raw, ok, _ := f.cache.Get(ctx, "rec_u1"); !ok || string(raw) == "{not json" {
		t.Error("corrupt entry should have been overwritten")
	}
}

func TestRecommendEmptyResultIsNotCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.catalog.Replace(nil)
	ctx := context.Background()

	res, err := f.svc.Recommend(ctx, "u1")
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if res.Items == nil || len(res.Items) != 0 {
		t.Errorf("items = %v, want empty non-nil slice", res.Items)
	}
	if _, ok, _ := f.cache.Get(ctx, "rec_u1"); ok {
		t.Error("empty result should not be cached")
	}
}

func TestRecommendPublishesLearningEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	if _, err := f.svc.Recommend(context.Background(), "u7"); err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	got := f.pub.events()
	if len(got) != 1 {
		t.Fatalf("published %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.UserID != "u7" || ev.Action != learner.ActionRecommendation || ev.ItemID != "" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Metadata["strategy"] != "curated" || ev.Metadata["count"] != 2 {
		t.Errorf("metadata = %v, want strategy curated count 2", ev.Metadata)
	}
}

func TestConcurrentMissesShareOneBuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.catalog.entered = make(chan struct{})
	f.catalog.gate = make(chan struct{})
	ctx := context.Background()

	const callers = 8
	results := make([]Result, callers)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = f.svc.Recommend(ctx, "u1")
	}()
	<-f.catalog.entered

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.svc.Recommend(ctx, "u1")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.catalog.gate)
	wg.Wait()

	if n := f.catalog.featured.Load(); n != 1 {
		t.Errorf("TopFeatured called %d times, want 1", n)
	}
	if n := len(f.pub.events()); n != 1 {
		t.Errorf("published %d events, want 1", n)
	}
	for i, r := range results {
		if len(r.Items) != 2 {
			t.Errorf("caller %d got %d items, want 2", i, len(r.Items))
		}
	}

	// callers own their slices
	results[0].Items[0].Title = "changed"
	if results[1].Items[0].Title == "changed" {
		t.Error("callers share the item slice")
	}
}

func TestRecommendCancelledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.svc.Recommend(ctx, "u1"); err == nil {
		t.Error("expected context error")
	}
}

func TestStoreErrorsReportedToEngine(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.svc.deps.Cache = timeoutCache{}
	f.svc.deps.Prefs = timeoutPrefs{}

	res, err := f.svc.Recommend(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if res.Strategy != StrategyCurated || len(res.Items) == 0 {
		t.Errorf("result = %+v, want a curated fallback", res)
	}
	want := []string{"recommend_cache_get", "recommend_preference_load", "recommend_cache_set"}
	if !slices.Equal(f.adaptive.failures, want) {
		t.Errorf("reported failures = %v, want %v", f.adaptive.failures, want)
	}
}

func TestStoreTimeoutsMoveEngineIntoRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := orchestrator.DefaultConfig()
	cfg.RecoveryFile = filepath.Join(t.TempDir(), "recovery.json")
	engine := orchestrator.New(cfg, orchestrator.Deps{Store: pingOK{}}, zerolog.Nop())
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	items := catalog.NewMemory([]catalog.Item{{ID: "m1", Genres: []string{"Drama"}, Featured: true}})
	svc := New(Deps{
		Cache:    timeoutCache{},
		Catalog:  items,
		Prefs:    timeoutPrefs{},
		Adaptive: engine,
	}, DefaultConfig(), zerolog.Nop())

	if _, err := svc.Recommend(ctx, "u1"); err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	h := engine.Health()
	if h.Engine != orchestrator.StatusRecovering {
		t.Errorf("engine = %s, want recovering", h.Engine)
	}
	if h.ConnectionFailures != 3 {
		t.Errorf("connection failures = %d, want 3", h.ConnectionFailures)
	}
}

func TestSharedBuildSurvivesCancelledCaller(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.catalog.entered = make(chan struct{})
	f.catalog.gate = make(chan struct{})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.Recommend(firstCtx, "u1")
		firstErr <- err
	}()
	<-f.catalog.entered

	second := make(chan Result, 1)
	go func() {
		res, _ := f.svc.Recommend(context.Background(), "u1")
		second <- res
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-firstErr; err == nil {
		t.Error("cancelled caller should get its context error")
	}
	close(f.catalog.gate)

	res := <-second
	if res.Strategy != StrategyCurated || len(res.Items) != 2 {
		t.Errorf("waiting caller got %s with %d items, want curated with 2", res.Strategy, len(res.Items))
	}
	if n := f.catalog.featured.Load(); n != 1 {
		t.Errorf("TopFeatured called %d times, want 1", n)
	}
	if _, ok, _ := f.cache.Get(context.Background(), "rec_u1"); !ok {
		t.Error("shared build result should still be cached")
	}
}
