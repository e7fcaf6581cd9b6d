// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"context"
	"time"

	"github.com/tomtom215/tastemesh/internal/cache"
	"github.com/tomtom215/tastemesh/internal/store"
)

// Ledger remembers applied adjustment ids. Record reports true the first
// time an id is seen.
type Ledger interface {
	Record(ctx context.Context, id string) (bool, error)
}

const ledgerPrefix = "ledger:"

// BadgerLedger keeps ids in the durable store with a TTL, so replays are
// caught across restarts.
type BadgerLedger struct {
	db  *store.DB
	ttl time.Duration
}

// NewBadgerLedger creates a durable ledger. ids expire after ttl.
func NewBadgerLedger(db *store.DB, ttl time.Duration) *BadgerLedger {
	return &BadgerLedger{db: db, ttl: ttl}
}

// Record implements Ledger.
func (l *BadgerLedger) Record(ctx context.Context, id string) (bool, error) {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	return l.db.CheckAndSet(ctx, ledgerPrefix+id, stamp, l.ttl)
}

// MemoryLedger keeps ids in a bounded in-process set.
type MemoryLedger struct {
	seen *cache.SeenSet
}

// NewMemoryLedger creates an in-process ledger.
func NewMemoryLedger(capacity int, ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{seen: cache.NewSeenSet(capacity, ttl)}
}

// Record implements Ledger.
func (l *MemoryLedger) Record(_ context.Context, id string) (bool, error) {
	return !l.seen.IsDuplicate(id), nil
}
