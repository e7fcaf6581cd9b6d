// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package store

import (
	"context"
	"time"

	"github.com/tomtom215/tastemesh/internal/cache"
)

// KV exposes the store as a cache.Store with native badger TTLs.
type KV struct {
	db     *DB
	prefix string
}

var _ cache.Store = (*KV)(nil)

// NewKV namespaces keys under "kv:".
func NewKV(db *DB) *KV {
	return &KV{db: db, prefix: "kv:"}
}

// Get implements cache.Store.
func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return k.db.GetRaw(ctx, k.prefix+key)
}

// Set implements cache.Store.
func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return k.db.SetRaw(ctx, k.prefix+key, value, cache.ClampTTL(ttl))
}

// Delete implements cache.Store.
func (k *KV) Delete(ctx context.Context, key string) error {
	return k.db.Delete(ctx, k.prefix+key)
}
