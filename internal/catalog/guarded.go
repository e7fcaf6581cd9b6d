// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package catalog

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/breaker"
)

// Guarded wraps a Catalog with a circuit breaker and per-call deadline.
// ErrItemNotFound passes through without counting as a failure.
type Guarded struct {
	inner Catalog
	cb    *breaker.Breaker
}

var _ Catalog = (*Guarded)(nil)

// NewGuarded wraps inner. cfg.IsSuccessful is overridden.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewGuarded(inner Catalog, cfg breaker.Config, logger zerolog.Logger) *Guarded {
	if cfg.Name == "" {
		cfg.Name = "catalog"
	}
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrItemNotFound)
	}
	return &Guarded{inner: inner, cb: breaker.New(cfg, logger)}
}

// State exposes the breaker state for diagnostics.
func (g *Guarded) State() string { return g.cb.State() }

// GetItem implements Catalog.
func (g *Guarded) GetItem(ctx context.Context, id string) (Item, error) {
	return breaker.Do(ctx, g.cb, func(ctx context.Context) (Item, error) {
		return g.inner.GetItem(ctx, id)
	})
}

// FindSimilar implements Catalog.
func (g *Guarded) FindSimilar(ctx context.Context, id string, n int) ([]string, error) {
	return breaker.Do(ctx, g.cb, func(ctx context.Context) ([]string, error) {
		return g.inner.FindSimilar(ctx, id, n)
	})
}

// TopByGenre implements Catalog.
func (g *Guarded) TopByGenre(ctx context.Context, genre string, n int) ([]string, error) {
	return breaker.Do(ctx, g.cb, func(ctx context.Context) ([]string, error) {
		return g.inner.TopByGenre(ctx, genre, n)
	})
}

// TopByLanguage implements Catalog.
func (g *Guarded) TopByLanguage(ctx context.Context, language string, n int) ([]string, error) {
	return breaker.Do(ctx, g.cb, func(ctx context.Context) ([]string, error) {
		return g.inner.TopByLanguage(ctx, language, n)
	})
}

// TopFeatured implements Catalog.
func (g *Guarded) TopFeatured(ctx context.Context, n int) ([]string, error) {
	return breaker.Do(ctx, g.cb, func(ctx context.Context) ([]string, error) {
		return g.inner.TopFeatured(ctx, n)
	})
}
