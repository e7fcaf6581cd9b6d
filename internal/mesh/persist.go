// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/store"
)

// StateStore persists domains of the global state.
type StateStore interface {
	SaveDomain(ctx context.Context, d Domain, values map[string]float64) error
	LoadDomain(ctx context.Context, d Domain) (map[string]float64, bool, error)
}

const globalPrefix = "global:"

// BadgerStateStore writes each domain under global:<domain>.
type BadgerStateStore struct {
	db     *store.DB
	logger zerolog.Logger
}

// NewBadgerStateStore creates a StateStore over the durable store.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBadgerStateStore(db *store.DB, logger zerolog.Logger) *BadgerStateStore {
	return &BadgerStateStore{db: db, logger: logger.With().Str("component", "mesh-state").Logger()}
}

// SaveDomain implements StateStore.
func (s *BadgerStateStore) SaveDomain(ctx context.Context, d Domain, values map[string]float64) error {
	if err := s.db.SetJSON(ctx, globalPrefix+d.String(), values, 0); err != nil {
		return fmt.Errorf("save %s state: %w", d, err)
	}
	return nil
}

// LoadDomain implements StateStore. A corrupt record is dropped with a
// warning and reported as absent.
func (s *BadgerStateStore) LoadDomain(ctx context.Context, d Domain) (map[string]float64, bool, error) {
	var values map[string]float64
	ok, err := s.db.GetJSON(ctx, globalPrefix+d.String(), &values)
	if errors.Is(err, store.ErrCorrupt) {
		s.logger.Warn().Err(err).Stringer("domain", d).Msg("discarding corrupt global state")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s state: %w", d, err)
	}
	return values, ok, nil
}
