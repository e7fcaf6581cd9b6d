// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package preferences persists per-user preference vectors.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/store"
)

// Record is a stored vector and the time it was last written.
type Record struct {
	Vector    learner.Vector `json:"vector"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store loads and saves records. Load reports false for users with no
// stored vector.
type Store interface {
	Load(ctx context.Context, userID string) (Record, bool, error)
	Save(ctx context.Context, userID string, rec Record) error
}

const keyPrefix = "pref:"

// Badger stores records in the durable store.
type Badger struct {
	db     *store.DB
	logger zerolog.Logger
}

var _ Store = (*Badger)(nil)

// NewBadger creates a badger-backed Store.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewBadger(db *store.DB, logger zerolog.Logger) *Badger {
	return &Badger{db: db, logger: logger.With().Str("component", "preferences").Logger()}
}

// Load implements Store. Corrupt records are discarded and reported as
// absent so the user starts from a fresh vector.
func (b *Badger) Load(ctx context.Context, userID string) (Record, bool, error) {
	var rec Record
	ok, err := b.db.GetJSON(ctx, keyPrefix+userID, &rec)
	if errors.Is(err, store.ErrCorrupt) {
		b.logger.Warn().Err(err).Str("user_id", userID).Msg("discarding corrupt preference record")
		return Record{Vector: learner.Vector{}}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load preferences for %s: %w", userID, err)
	}
	if !ok {
		return Record{Vector: learner.Vector{}}, false, nil
	}
	if rec.Vector == nil {
		rec.Vector = learner.Vector{}
	}
	learner.Sanitize(rec.Vector)
	return rec, true, nil
}

// Save implements Store. Non-finite weights are zeroed before writing.
func (b *Badger) Save(ctx context.Context, userID string, rec Record) error {
	rec.Vector = learner.Sanitize(rec.Vector.Clone())
	if err := b.db.SetJSON(ctx, keyPrefix+userID, rec, 0); err != nil {
		return fmt.Errorf("save preferences for %s: %w", userID, err)
	}
	return nil
}

// Memory is an in-process Store for tests and single-node demos.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, userID string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return Record{Vector: learner.Vector{}}, false, nil
	}
	return Record{Vector: rec.Vector.Clone(), UpdatedAt: rec.UpdatedAt}, true, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, userID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[userID] = Record{Vector: learner.Sanitize(rec.Vector.Clone()), UpdatedAt: rec.UpdatedAt}
	return nil
}
