// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package predict anticipates a user's next actions from recent activity
// and their preference vector, and tracks how often it is right.
package predict

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/catalog"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/metrics"
)

// Kind is the type of a predicted action.
type Kind string

const (
	KindRecommendationRequest Kind = "recommendation_request"
	KindGenreExplore          Kind = "genre_explore"
	KindSearch                Kind = "search"
	KindSimilarItem           Kind = "similar_item"
)

// PredictedAction is one candidate next action.
type PredictedAction struct {
	Kind        Kind           `json:"kind"`
	ItemID      string         `json:"item_id,omitempty"`
	Genre       string         `json:"genre,omitempty"`
	Query       string         `json:"query,omitempty"`
	Confidence  float64        `json:"confidence"`
	PredictedAt time.Time      `json:"predicted_at"`
	Context     map[string]any `json:"context,omitempty"`
}

// RecentAction is an observed user action.
type RecentAction struct {
	Action string    `json:"action"`
	ItemID string    `json:"item_id,omitempty"`
	Genre  string    `json:"genre,omitempty"`
	Query  string    `json:"query,omitempty"`
	At     time.Time `json:"at"`
}

// Metrics summarizes prediction accuracy.
type Metrics struct {
	PredictiveAccuracyIndex float64   `json:"predictive_accuracy_index"`
	TotalPredictions        int       `json:"total_predictions"`
	AccuratePredictions     int       `json:"accurate_predictions"`
	AverageConfidence       float64   `json:"average_confidence"`
	WindowSize              int       `json:"window_size"`
	Samples                 int       `json:"samples"`
	LastUpdated             time.Time `json:"last_updated"`
}

// PreloadPlan lists what to warm ahead of the predicted actions.
type PreloadPlan struct {
	Genres  []string `json:"genres"`
	ItemIDs []string `json:"item_ids"`
}

// Items is the catalog surface the bridge needs.
type Items interface {
	FindSimilar(ctx context.Context, id string, n int) ([]string, error)
	TopByGenre(ctx context.Context, genre string, n int) ([]string, error)
}

// Config tunes the bridge.
type Config struct {
	TopN             int
	AccuracyWindow   int
	RecentActionsCap int
	NightStartHour   int
	NightEndHour     int
	MaxUsers         int
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		TopN:             5,
		AccuracyWindow:   10,
		RecentActionsCap: 20,
		NightStartHour:   20,
		NightEndHour:     6,
		MaxUsers:         10000,
	}
}

const (
	maxViewConfidence  = 0.9
	maxGenreConfidence = 0.8
	searchConfidence   = 0.6
	nightConfidence    = 0.5
	similarConfidence  = 0.7
	similarLimit       = 3
	preloadPerGenre    = 5
)

type userState struct {
	recent    []RecentAction
	predicted []PredictedAction
	touched   time.Time
}

// Bridge produces and scores predictions.
type Bridge struct {
	cfg    Config
	items  Items
	logger zerolog.Logger
	now    func() time.Time

	mu            sync.Mutex
	users         map[string]*userState
	window        []bool
	total         int
	accurate      int
	confidenceSum float64
	generated     int
	lastUpdated   time.Time
}

// New creates a bridge. Zero fields in cfg take their defaults.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(items Items, cfg Config, logger zerolog.Logger) *Bridge {
	def := DefaultConfig()
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.AccuracyWindow <= 0 {
		cfg.AccuracyWindow = def.AccuracyWindow
	}
	if cfg.RecentActionsCap <= 0 {
		cfg.RecentActionsCap = def.RecentActionsCap
	}
	if cfg.NightStartHour == 0 && cfg.NightEndHour == 0 {
		cfg.NightStartHour, cfg.NightEndHour = def.NightStartHour, def.NightEndHour
	}
	if cfg.MaxUsers <= 0 {
		cfg.MaxUsers = def.MaxUsers
	}
	return &Bridge{
		cfg:    cfg,
		items:  items,
		logger: logger.With().Str("component", "predict").Logger(),
		now:    time.Now,
		users:  make(map[string]*userState),
	}
}

// Predict ranks likely next actions for userID from recent (oldest first)
// and prefs. All rules that apply contribute candidates; the top N by
// confidence are returned and remembered for accuracy tracking.
func (b *Bridge) Predict(ctx context.Context, userID string, recent []RecentAction, prefs learner.Vector) []PredictedAction {
	now := b.now()
	var out []PredictedAction

	views := 0
	var lastSearch, lastFavorite *RecentAction
	for i := range recent {
		switch recent[i].Action {
		case learner.ActionView:
			views++
		case learner.ActionSearch:
			lastSearch = &recent[i]
		case learner.ActionFavorite:
			lastFavorite = &recent[i]
		}
	}

	if views > 0 {
		out = append(out, PredictedAction{
			Kind:        KindRecommendationRequest,
			Confidence:  math.Min(maxViewConfidence, 0.5+0.1*float64(views)),
			PredictedAt: now,
			Context:     map[string]any{"trigger": "recent_views", "count": views},
		})
	}

	for _, f := range learner.TopPositiveByPrefix(prefs, learner.PrefixGenre, 3) {
		out = append(out, PredictedAction{
			Kind:        KindGenreExplore,
			Genre:       f.Key,
			Confidence:  math.Min(maxGenreConfidence, f.Weight*2),
			PredictedAt: now,
			Context:     map[string]any{"trigger": "preference_strength", "weight": f.Weight},
		})
	}

	if lastSearch != nil {
		query := lastSearch.Query
		if query == "" {
			query = lastSearch.ItemID
		}
		if query == "" {
			query = "similar"
		}
		out = append(out, PredictedAction{
			Kind:        KindSearch,
			Query:       query,
			Confidence:  searchConfidence,
			PredictedAt: now,
			Context:     map[string]any{"trigger": "search_pattern"},
		})
	}

	if hour := now.Hour(); b.isNight(hour) {
		out = append(out, PredictedAction{
			Kind:        KindGenreExplore,
			Genre:       "Horror",
			Confidence:  nightConfidence,
			PredictedAt: now,
			Context:     map[string]any{"trigger": "time_of_day", "hour": hour, "related": "Thriller"},
		})
	}

	if lastFavorite != nil && lastFavorite.ItemID != "" && b.items != nil {
		similar, err := b.items.FindSimilar(ctx, lastFavorite.ItemID, similarLimit)
		switch {
		case errors.Is(err, catalog.ErrItemNotFound):
			b.logger.Debug().Str("item_id", lastFavorite.ItemID).Msg("favorite not in catalog")
		case err != nil:
			b.logger.Warn().Err(err).Str("item_id", lastFavorite.ItemID).Msg("similar-item lookup failed")
		}
		for i, id := range similar {
			if i == similarLimit {
				break
			}
			out = append(out, PredictedAction{
				Kind:        KindSimilarItem,
				ItemID:      id,
				Confidence:  similarConfidence,
				PredictedAt: now,
				Context:     map[string]any{"trigger": "similarity", "source": lastFavorite.ItemID},
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > b.cfg.TopN {
		out = out[:b.cfg.TopN]
	}

	b.mu.Lock()
	st := b.userLocked(userID, now)
	st.predicted = append([]PredictedAction(nil), out...)
	for _, p := range out {
		b.confidenceSum += p.Confidence
		b.generated++
	}
	b.mu.Unlock()
	return out
}

// PredictForUser runs Predict over the actions recorded for userID.
func (b *Bridge) PredictForUser(ctx context.Context, userID string, prefs learner.Vector) []PredictedAction {
	return b.Predict(ctx, userID, b.RecentActions(userID), prefs)
}

func (b *Bridge) isNight(hour int) bool {
	start, end := b.cfg.NightStartHour, b.cfg.NightEndHour
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// UpdateWithActual records an observed action for userID and scores the
// user's current predictions against it. It reports whether any prediction
// matched.
func (b *Bridge) UpdateWithActual(userID string, action RecentAction) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if action.At.IsZero() {
		action.At = now
	}
	st := b.userLocked(userID, now)
	st.recent = append(st.recent, action)
	if over := len(st.recent) - b.cfg.RecentActionsCap; over > 0 {
		st.recent = append([]RecentAction(nil), st.recent[over:]...)
	}

	hit := false
	for _, p := range st.predicted {
		if matches(p, action) {
			hit = true
			break
		}
	}

	b.total++
	if hit {
		b.accurate++
	}
	b.window = append(b.window, hit)
	if over := len(b.window) - b.cfg.AccuracyWindow; over > 0 {
		b.window = b.window[over:]
	}
	b.lastUpdated = now
	metrics.PredictiveAccuracy.Set(b.paiLocked())
	return hit
}

func matches(p PredictedAction, a RecentAction) bool {
	switch p.Kind {
	case KindRecommendationRequest:
		return a.Action == learner.ActionRecommendation || a.Action == string(KindRecommendationRequest)
	case KindSearch:
		return a.Action == learner.ActionSearch
	case KindGenreExplore:
		return a.Action == string(KindGenreExplore) ||
			(a.Genre != "" && strings.EqualFold(a.Genre, p.Genre))
	case KindSimilarItem:
		return a.ItemID != "" && a.ItemID == p.ItemID
	default:
		return false
	}
}

// RecentActions returns the recorded actions for userID, oldest first.
func (b *Bridge) RecentActions(userID string) []RecentAction {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.users[userID]
	if !ok {
		return nil
	}
	return append([]RecentAction(nil), st.recent...)
}

// Plan derives a preload plan from predictions. Genre predictions expand to
// the genre's top items; similar-item predictions contribute their ids.
func (b *Bridge) Plan(ctx context.Context, preds []PredictedAction) PreloadPlan {
	plan := PreloadPlan{Genres: []string{}, ItemIDs: []string{}}
	seenGenre := make(map[string]struct{})
	seenItem := make(map[string]struct{})
	addItem := func(id string) {
		if _, ok := seenItem[id]; ok || id == "" {
			return
		}
		seenItem[id] = struct{}{}
		plan.ItemIDs = append(plan.ItemIDs, id)
	}

	for _, p := range preds {
		switch p.Kind {
		case KindSimilarItem:
			addItem(p.ItemID)
		case KindGenreExplore:
			key := strings.ToLower(p.Genre)
			if _, ok := seenGenre[key]; ok || p.Genre == "" {
				continue
			}
			seenGenre[key] = struct{}{}
			plan.Genres = append(plan.Genres, p.Genre)
			if b.items == nil {
				continue
			}
			ids, err := b.items.TopByGenre(ctx, p.Genre, preloadPerGenre)
			if err != nil {
				b.logger.Debug().Err(err).Str("genre", p.Genre).Msg("preload genre lookup failed")
				continue
			}
			for _, id := range ids {
				addItem(id)
			}
		}
	}
	return plan
}

// Accuracy returns the predictive accuracy index and how many samples the
// window currently holds.
func (b *Bridge) Accuracy() (float64, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paiLocked(), len(b.window)
}

// Metrics returns a snapshot of accuracy tracking.
func (b *Bridge) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := Metrics{
		PredictiveAccuracyIndex: b.paiLocked(),
		TotalPredictions:        b.total,
		AccuratePredictions:     b.accurate,
		WindowSize:              b.cfg.AccuracyWindow,
		Samples:                 len(b.window),
		LastUpdated:             b.lastUpdated,
	}
	if b.generated > 0 {
		m.AverageConfidence = b.confidenceSum / float64(b.generated)
	}
	return m
}

func (b *Bridge) paiLocked() float64 {
	if len(b.window) == 0 {
		return 0
	}
	hits := 0
	for _, h := range b.window {
		if h {
			hits++
		}
	}
	return float64(hits) / float64(len(b.window))
}

// userLocked returns the state for userID, evicting the least recently
// touched user when the table is full.
func (b *Bridge) userLocked(userID string, now time.Time) *userState {
	st, ok := b.users[userID]
	if !ok {
		if len(b.users) >= b.cfg.MaxUsers {
			var oldestID string
			var oldest time.Time
			for id, s := range b.users {
				if oldestID == "" || s.touched.Before(oldest) {
					oldestID, oldest = id, s.touched
				}
			}
			delete(b.users, oldestID)
		}
		st = &userState{}
		b.users[userID] = st
	}
	st.touched = now
	return st
}
