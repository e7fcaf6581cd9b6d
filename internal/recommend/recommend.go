// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package recommend serves cached recommendation results. Lookups are
// cache-first; misses build a personalized list from the user's strongest
// genre and language features, or a curated list of featured items for
// users without preferences. Concurrent misses for one user share a single
// catalog query that outlives any one waiting request, and every miss is
// fed back into the learning loop as a "recommendation" event. Store errors
// on the way are reported to the adaptive engine.
package recommend

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/tastemesh/internal/cache"
	"github.com/tomtom215/tastemesh/internal/catalog"
	"github.com/tomtom215/tastemesh/internal/events"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/metrics"
	"github.com/tomtom215/tastemesh/internal/preferences"
)

// Strategy names how a result was built.
type Strategy string

const (
	StrategyPersonalized Strategy = "personalized"
	StrategyCurated      Strategy = "curated"
)

// Result is one recommendation response.
type Result struct {
	Items     []catalog.Item `json:"items"`
	Strategy  Strategy       `json:"strategy"`
	Cached    bool           `json:"cached"`
	LatencyMs int64          `json:"latency_ms"`
}

// Adaptive is the orchestrator side: it supplies the TTL, absorbs cache
// samples and judges whether a store error is a connection failure.
type Adaptive interface {
	CacheTTL() time.Duration
	RecordCacheSample(hit bool, latency time.Duration)
	ReportFailure(op string, err error)
}

// Config shapes results.
type Config struct {
	ResultSize  int
	KeyPrefix   string
	SlowRequest time.Duration

	// BuildTimeout bounds a shared build.
	BuildTimeout time.Duration
}

// DefaultConfig returns five items under "rec_" keys, warning past 500ms
// and giving up on a build after 10s.
func DefaultConfig() Config {
	return Config{
		ResultSize:   5,
		KeyPrefix:    "rec_",
		SlowRequest:  500 * time.Millisecond,
		BuildTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators. Events may be nil.
type Deps struct {
	Cache    cache.Store
	Catalog  catalog.Catalog
	Prefs    preferences.Store
	Adaptive Adaptive
	Events   events.Publisher
}

// Service is the recommendation cache service.
type Service struct {
	deps   Deps
	cfg    Config
	group  singleflight.Group
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a service.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(deps Deps, cfg Config, logger zerolog.Logger) *Service {
	def := DefaultConfig()
	if cfg.ResultSize <= 0 {
		cfg.ResultSize = def.ResultSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.SlowRequest <= 0 {
		cfg.SlowRequest = def.SlowRequest
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = def.BuildTimeout
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With().Str("component", "recommend").Logger(),
		now:    time.Now,
	}
}

// Recommend returns recommendations for userID. Collaborator failures
// degrade the result instead of failing it; the only error is a cancelled
// context.
func (s *Service) Recommend(ctx context.Context, userID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := s.now()
	key := s.cfg.KeyPrefix + userID

	if res, ok := s.lookup(ctx, key); ok {
		elapsed := s.now().Sub(start)
		res.Cached = true
		res.LatencyMs = elapsed.Milliseconds()
		s.deps.Adaptive.RecordCacheSample(true, elapsed)
		metrics.RecordRecommend(string(res.Strategy), true, elapsed)
		return res, nil
	}

	// the shared build outlives the request that started it
	ch := s.group.DoChan(key, func() (any, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.BuildTimeout)
		defer cancel()
		return s.build(buildCtx, userID, key, start), nil
	})
	var built Result
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		built, _ = r.Val.(Result)
	}

	res := Result{
		Items:    append([]catalog.Item{}, built.Items...),
		Strategy: built.Strategy,
	}
	elapsed := s.now().Sub(start)
	res.LatencyMs = elapsed.Milliseconds()

	s.deps.Adaptive.RecordCacheSample(false, elapsed)
	metrics.RecordRecommend(string(res.Strategy), false, elapsed)
	if elapsed > s.cfg.SlowRequest {
		s.logger.Warn().Str("user_id", userID).Dur("latency", elapsed).Msg("slow recommendation")
	}
	return res, nil
}

func (s *Service) lookup(ctx context.Context, key string) (Result, bool) {
	raw, ok, err := s.deps.Cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("recommendation cache read failed")
		if ctx.Err() == nil {
			s.deps.Adaptive.ReportFailure("recommend_cache_get", err)
		}
		return Result{}, false
	}
	if !ok {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cached recommendation")
		return Result{}, false
	}
	return res, true
}

// build resolves a fresh result, caches it with the adaptive TTL and emits
// the learning event. It runs once per group of concurrent misses.
func (s *Service) build(ctx context.Context, userID, key string, start time.Time) Result {
	res := Result{Strategy: StrategyCurated}

	rec, ok, err := s.deps.Prefs.Load(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("preferences unavailable, serving curated")
		s.deps.Adaptive.ReportFailure("recommend_preference_load", err)
	}
	if ok && len(rec.Vector) > 0 {
		if items := s.personalized(ctx, rec.Vector); len(items) > 0 {
			res.Items = items
			res.Strategy = StrategyPersonalized
		}
	}
	if res.Strategy == StrategyCurated {
		res.Items = s.curated(ctx)
	}

	// an empty result usually means the catalog is down; do not pin it
	payload, err := json.Marshal(res)
	switch {
	case err != nil:
		s.logger.Error().Err(err).Msg("encode recommendation")
	case len(res.Items) > 0:
		ttl := cache.ClampTTL(s.deps.Adaptive.CacheTTL())
		if err := s.deps.Cache.Set(ctx, key, payload, ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("recommendation cache write failed")
			s.deps.Adaptive.ReportFailure("recommend_cache_set", err)
		}
	}

	s.emit(ctx, userID, res, s.now().Sub(start))
	return res
}

func (s *Service) personalized(ctx context.Context, v learner.Vector) []catalog.Item {
	var ids []string
	for _, f := range learner.TopPositiveByPrefix(v, learner.PrefixGenre, 3) {
		got, err := s.deps.Catalog.TopByGenre(ctx, f.Key, s.cfg.ResultSize)
		if err != nil {
			s.logger.Warn().Err(err).Str("genre", f.Key).Msg("genre lookup failed")
			continue
		}
		ids = append(ids, got...)
	}
	for _, f := range learner.TopPositiveByPrefix(v, learner.PrefixLanguage, 1) {
		got, err := s.deps.Catalog.TopByLanguage(ctx, f.Key, s.cfg.ResultSize)
		if err != nil {
			s.logger.Warn().Err(err).Str("language", f.Key).Msg("language lookup failed")
			continue
		}
		ids = append(ids, got...)
	}
	return s.resolve(ctx, ids)
}

func (s *Service) curated(ctx context.Context) []catalog.Item {
	ids, err := s.deps.Catalog.TopFeatured(ctx, s.cfg.ResultSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("featured lookup failed")
		return nil
	}
	return s.resolve(ctx, ids)
}

// resolve dedupes ids in order and loads up to ResultSize items. Ids the
// catalog no longer knows are skipped.
func (s *Service) resolve(ctx context.Context, ids []string) []catalog.Item {
	seen := make(map[string]struct{}, len(ids))
	items := make([]catalog.Item, 0, s.cfg.ResultSize)
	for _, id := range ids {
		if len(items) == s.cfg.ResultSize {
			break
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		item, err := s.deps.Catalog.GetItem(ctx, id)
		if errors.Is(err, catalog.ErrItemNotFound) {
			continue
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("item_id", id).Msg("item lookup failed")
			continue
		}
		items = append(items, item)
	}
	return items
}

func (s *Service) emit(ctx context.Context, userID string, res Result, latency time.Duration) {
	if s.deps.Events == nil {
		return
	}
	err := s.deps.Events.Publish(ctx, events.LearningEvent{
		UserID: userID,
		Action: learner.ActionRecommendation,
		Metadata: map[string]any{
			"strategy":   string(res.Strategy),
			"count":      len(res.Items),
			"latency_ms": latency.Milliseconds(),
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("recommendation event not published")
	}
}
