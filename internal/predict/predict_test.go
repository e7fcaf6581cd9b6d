// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package predict

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/catalog"
	"github.com/tomtom215/tastemesh/internal/learner"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func testCatalog() *catalog.Memory {
	return catalog.NewMemory([]catalog.Item{
		{ID: "m1", Genres: []string{"Horror"}, Popularity: 10, Rating: 8},
		{ID: "m2", Genres: []string{"Horror"}, Popularity: 9, Rating: 7},
		{ID: "m3", Genres: []string{"Horror", "Thriller"}, Popularity: 8, Rating: 7},
		{ID: "m4", Genres: []string{"Horror"}, Popularity: 7, Rating: 6},
		{ID: "m5", Genres: []string{"Horror"}, Popularity: 6, Rating: 6},
		{ID: "c1", Genres: []string{"Comedy"}, Popularity: 5, Rating: 6},
	})
}

func newBridgeAt(t *testing.T, hour int) *Bridge {
	t.Helper()
	b := New(testCatalog(), DefaultConfig(), zerolog.Nop())
	at := time.Date(2026, 3, 1, hour, 0, 0, 0, time.Local)
	b.now = func() time.Time { return at }
	return b
}

func kinds(preds []PredictedAction) map[Kind]int {
	out := make(map[Kind]int)
	for _, p := range preds {
		out[p.Kind]++
	}
	return out
}

func TestPredictRules(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 14)

	recent := []RecentAction{
		{Action: learner.ActionView, ItemID: "c1"},
		{Action: learner.ActionView, ItemID: "m5"},
		{Action: learner.ActionSearch, Query: "slasher"},
	}
	prefs := learner.Vector{"genre:Horror": 0.3, "genre:Comedy": 0.1, "language:en": 0.9}

	preds := b.Predict(context.Background(), "u1", recent, prefs)
	if len(preds) != 4 {
		t.Fatalf("Predict() = %+v, want 4 candidates", preds)
	}
	if preds[0].Kind != KindRecommendationRequest || !near(preds[0].Confidence, 0.7) {
		t.Errorf("top prediction = %+v, want recommendation_request at 0.7", preds[0])
	}
	if preds[1].Kind != KindGenreExplore || preds[1].Genre != "Horror" || !near(preds[1].Confidence, 0.6) {
		t.Errorf("second prediction = %+v", preds[1])
	}
	if preds[2].Kind != KindSearch || preds[2].Query != "slasher" {
		t.Errorf("third prediction = %+v", preds[2])
	}
	for i := 1; i < len(preds); i++ {
		if preds[i].Confidence > preds[i-1].Confidence {
			t.Errorf("predictions not ranked: %+v", preds)
		}
	}
}

func TestPredictGenresSkipDislikes(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 14)
	prefs := learner.Vector{
		"genre:Drama":    -0.9,
		"genre:Horror":   0.3,
		"genre:Comedy":   0.2,
		"genre:Thriller": 0.1,
	}

	preds := b.Predict(context.Background(), "u1", nil, prefs)
	var genres []string
	for _, p := range preds {
		if p.Kind == KindGenreExplore {
			genres = append(genres, p.Genre)
		}
	}
	if len(genres) != 3 || genres[0] != "Horror" || genres[1] != "Comedy" || genres[2] != "Thriller" {
		t.Errorf("genre predictions = %v, want [Horror Comedy Thriller]", genres)
	}
}

func TestPredictViewConfidenceCapped(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 12)
	var recent []RecentAction
	for i := 0; i < 8; i++ {
		recent = append(recent, RecentAction{Action: learner.ActionView})
	}
	preds := b.Predict(context.Background(), "u1", recent, nil)
	if len(preds) != 1 || !near(preds[0].Confidence, 0.9) {
		t.Errorf("Predict() = %+v, want single prediction capped at 0.9", preds)
	}
}

func TestPredictNightAndFavorite(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 23)

	recent := []RecentAction{{Action: learner.ActionFavorite, ItemID: "m1"}}
	preds := b.Predict(context.Background(), "u1", recent, nil)

	k := kinds(preds)
	if k[KindSimilarItem] != 3 || k[KindGenreExplore] != 1 {
		t.Fatalf("kinds = %v, want 3 similar items and the night genre", k)
	}
	last := preds[len(preds)-1]
	if last.Kind != KindGenreExplore || last.Genre != "Horror" || !near(last.Confidence, 0.5) {
		t.Errorf("night prediction = %+v", last)
	}
	for _, p := range preds {
		if p.Kind == KindSimilarItem && p.ItemID == "m1" {
			t.Error("similar items include the favorite itself")
		}
	}
}

func TestPredictDaytimeBoundary(t *testing.T) {
	t.Parallel()
	for hour, wantNight := range map[int]bool{5: true, 6: false, 19: false, 20: true} {
		b := newBridgeAt(t, hour)
		got := len(b.Predict(context.Background(), "u", nil, nil)) == 1
		if got != wantNight {
			t.Errorf("hour %d: night prediction = %v, want %v", hour, got, wantNight)
		}
	}
}

func TestPredictTopN(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 22)
	recent := []RecentAction{
		{Action: learner.ActionView},
		{Action: learner.ActionSearch},
		{Action: learner.ActionFavorite, ItemID: "m1"},
	}
	prefs := learner.Vector{"genre:Horror": 0.5, "genre:Comedy": 0.4, "genre:Drama": 0.3}
	if got := b.Predict(context.Background(), "u1", recent, prefs); len(got) != 5 {
		t.Errorf("len(Predict()) = %d, want 5", len(got))
	}
}

func TestUpdateWithActualTracksAccuracy(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 12)
	ctx := context.Background()

	b.Predict(ctx, "u1", []RecentAction{{Action: learner.ActionSearch, Query: "x"}}, nil)
	if !b.UpdateWithActual("u1", RecentAction{Action: learner.ActionSearch}) {
		t.Error("search was predicted but not matched")
	}
	if b.UpdateWithActual("u1", RecentAction{Action: learner.ActionSkip}) {
		t.Error("unpredicted skip matched")
	}

	m := b.Metrics()
	if m.TotalPredictions != 2 || m.AccuratePredictions != 1 || !near(m.PredictiveAccuracyIndex, 0.5) {
		t.Errorf("Metrics() = %+v", m)
	}
	if got := b.RecentActions("u1"); len(got) != 2 || got[1].Action != learner.ActionSkip {
		t.Errorf("RecentActions() = %+v", got)
	}
}

func TestAccuracyWindowRolls(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 12)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		b.UpdateWithActual("u1", RecentAction{Action: learner.ActionClick})
	}
	b.Predict(ctx, "u1", []RecentAction{{Action: learner.ActionFavorite, ItemID: "m1"}}, nil)
	for i := 0; i < 5; i++ {
		b.UpdateWithActual("u1", RecentAction{Action: learner.ActionView, ItemID: "m2"})
	}

	pai, samples := b.Accuracy()
	if samples != 10 || !near(pai, 0.5) {
		t.Errorf("Accuracy() = %v over %d, want 0.5 over 10", pai, samples)
	}
}

func TestRecentActionsCapped(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 12)
	for i := 0; i < 25; i++ {
		b.UpdateWithActual("u1", RecentAction{Action: learner.ActionClick})
	}
	if n := len(b.RecentActions("u1")); n != 20 {
		t.Errorf("len(RecentActions) = %d, want 20", n)
	}
}

func TestPlanDeduplicates(t *testing.T) {
	t.Parallel()
	b := newBridgeAt(t, 12)
	plan := b.Plan(context.Background(), []PredictedAction{
		{Kind: KindSimilarItem, ItemID: "m2"},
		{Kind: KindGenreExplore, Genre: "Horror"},
		{Kind: KindGenreExplore, Genre: "horror"},
		{Kind: KindSearch, Query: "x"},
	})
	if len(plan.Genres) != 1 || plan.Genres[0] != "Horror" {
		t.Errorf("Genres = %v", plan.Genres)
	}
	want := []string{"m2", "m1", "m3", "m4", "m5"}
	if len(plan.ItemIDs) != len(want) {
		t.Fatalf("ItemIDs = %v, want %v", plan.ItemIDs, want)
	}
	for i := range want {
		if plan.ItemIDs[i] != want[i] {
			t.Errorf("ItemIDs = %v, want %v", plan.ItemIDs, want)
			break
		}
	}
}

func TestUserTableBounded(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.MaxUsers = 2
	b := New(nil, cfg, zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	b.now = func() time.Time { now = now.Add(time.Second); return now }

	b.UpdateWithActual("a", RecentAction{Action: learner.ActionClick})
	b.UpdateWithActual("b", RecentAction{Action: learner.ActionClick})
	b.UpdateWithActual("c", RecentAction{Action: learner.ActionClick})

	if b.RecentActions("a") != nil {
		t.Error("oldest user not evicted")
	}
	if b.RecentActions("c") == nil {
		t.Error("newest user missing")
	}
}
