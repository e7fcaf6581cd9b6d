// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package catalog is the narrow view of the content catalog that the
// learning core consumes: item feature tags, shared-genre similarity and
// ranked lists for recommendation strategies.
package catalog

import (
	"context"
	"errors"
)

// ErrItemNotFound is returned for unknown item ids. Callers treat it as a
// miss, not a failure.
var ErrItemNotFound = errors.New("catalog item not found")

// Item carries the feature tags the learner reads.
type Item struct {
	ID         string   `koanf:"id" json:"id"`
	Title      string   `koanf:"title" json:"title"`
	Genres     []string `koanf:"genres" json:"genres"`
	Language   string   `koanf:"language" json:"language"`
	Year       int      `koanf:"year" json:"year,omitempty"`
	Rating     float64  `koanf:"rating" json:"rating,omitempty"`
	Popularity float64  `koanf:"popularity" json:"popularity"`
	Featured   bool     `koanf:"featured" json:"featured"`
}

// Catalog is the lookup contract.
type Catalog interface {
	GetItem(ctx context.Context, id string) (Item, error)

	// FindSimilar returns up to n ids sharing at least one genre with id.
	FindSimilar(ctx context.Context, id string, n int) ([]string, error)

	TopByGenre(ctx context.Context, genre string, n int) ([]string, error)
	TopByLanguage(ctx context.Context, language string, n int) ([]string, error)
	TopFeatured(ctx context.Context, n int) ([]string, error)
}
