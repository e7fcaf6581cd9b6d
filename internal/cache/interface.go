// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package cache

import (
	"context"
	"time"
)

// Store is the key-value cache contract. Values are opaque byte payloads
// and every entry carries its own TTL.
type Store interface {
	// Get returns the payload and true on a live hit.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value until ttl elapses. A non-positive ttl is clamped
	// to MinTTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error
}

// MinTTL is the floor applied to non-positive TTLs.
const MinTTL = time.Second

// ClampTTL applies MinTTL.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}

var _ Store = (*Cache)(nil)
