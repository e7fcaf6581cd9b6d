// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package learner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/catalog"
)

// Feature key prefixes.
const (
	PrefixGenre    = "genre:"
	PrefixLanguage = "language:"
	PrefixYear     = "year_range:"
	PrefixQuality  = "quality:"
)

// ItemSource is the slice of the catalog the learner needs.
type ItemSource interface {
	GetItem(ctx context.Context, id string) (catalog.Item, error)
}

// Config tunes the learner.
type Config struct {
	LearningRate float64
	DecayRate    float64
}

// DefaultConfig returns a learning rate of 0.1 and a decay rate of 0.05/day.
func DefaultConfig() Config {
	return Config{LearningRate: 0.1, DecayRate: 0.05}
}

// Learner computes feature deltas and merges them into vectors.
type Learner struct {
	items  ItemSource
	cfg    Config
	logger zerolog.Logger
}

// New creates a Learner.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(items ItemSource, cfg Config, logger zerolog.Logger) *Learner {
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = DefaultConfig().LearningRate
	}
	if cfg.DecayRate < 0 {
		cfg.DecayRate = DefaultConfig().DecayRate
	}
	return &Learner{
		items:  items,
		cfg:    cfg,
		logger: logger.With().Str("component", "learner").Logger(),
	}
}

// Learn returns the feature delta for one action on one item. Unknown items
// yield an empty delta and no error; other lookup errors are returned.
func (l *Learner) Learn(ctx context.Context, userID, itemID, action string, sig Signal) (Vector, error) {
	if itemID == "" {
		return Vector{}, nil
	}
	item, err := l.items.GetItem(ctx, itemID)
	if errors.Is(err, catalog.ErrItemNotFound) {
		l.logger.Debug().Str("user_id", userID).Str("item_id", itemID).Msg("item not in catalog, nothing learned")
		return Vector{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup item %s: %w", itemID, err)
	}
	return ItemDelta(item, action, sig), nil
}

// ItemDelta is the pure feature delta for an already-resolved item.
func ItemDelta(item catalog.Item, action string, sig Signal) Vector {
	base := ActionBaseWeight(action) * sig.Strength * typeMultiplier(sig.Type)
	delta := make(Vector)

	for _, g := range item.Genres {
		delta[PrefixGenre+g] += base * genreFactor
	}
	if item.Language != "" {
		delta[PrefixLanguage+item.Language] += base * languageFactor
	}
	if item.Year > 0 {
		delta[PrefixYear+YearBucket(item.Year)] += base * yearFactor
	}
	if item.Rating > 0 {
		delta[PrefixQuality+QualityTier(item.Rating)] += base * qualityFactor
	}
	return delta
}

// Fold decays the stored vector by the time since updatedAt and merges delta
// into it. A zero updatedAt skips decay.
func (l *Learner) Fold(stored Vector, updatedAt, now time.Time, delta Vector) Vector {
	days := 0.0
	if !updatedAt.IsZero() {
		days = now.Sub(updatedAt).Hours() / 24
	}
	return Merge(Decay(stored, days, l.cfg.DecayRate), delta, l.cfg.LearningRate)
}

// Decay applies the configured decay rate.
func (l *Learner) Decay(v Vector, days float64) Vector {
	return Decay(v, days, l.cfg.DecayRate)
}

// Merge applies the configured learning rate.
func (l *Learner) Merge(decayed, delta Vector) Vector {
	return Merge(decayed, delta, l.cfg.LearningRate)
}
