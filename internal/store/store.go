// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package store is the durable key-value layer backed by BadgerDB. Every
// call runs under a circuit breaker with a hard deadline so a stalled disk
// surfaces as a connection failure instead of blocking the caller.
//
// Key prefixes:
//
//	pref:<user>                 preference records
//	global:<domain>             global learning state
//	ledger:<adjustment id>      applied adjustment ids (TTL)
//	kv:<key>                    recommendation cache payloads (TTL)
//	activity:<user>:<ts>:<id>   activity log (TTL)
//	meta:<name>                 bookkeeping (probe, last sync)
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/breaker"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")

	// ErrCorrupt wraps values that no longer decode.
	ErrCorrupt = errors.New("stored value is corrupt")
)

// Options configures Open.
type Options struct {
	Path     string
	InMemory bool
	Breaker  breaker.Config
}

// DB is a guarded BadgerDB handle.
type DB struct {
	db     *badger.DB
	cb     *breaker.Breaker
	logger zerolog.Logger
	closed atomic.Bool
}

// Open opens (or creates) the database.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(opts Options, logger zerolog.Logger) (*DB, error) {
	logger = logger.With().Str("component", "store").Logger()

	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.Logger = newBadgerLogger(logger)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	if opts.Breaker.Name == "" {
		opts.Breaker.Name = "store"
	}
	logger.Info().Str("path", opts.Path).Bool("in_memory", opts.InMemory).Msg("store opened")
	return &DB{db: db, cb: breaker.New(opts.Breaker, logger), logger: logger}, nil
}

// Close flushes and closes the database.
func (d *DB) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.db.Close()
}

// Ping performs a small write and read to prove the store is usable.
func (d *DB) Ping(ctx context.Context) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	_, err := d.guard(ctx, func() (any, error) {
		return nil, d.db.Update(func(txn *badger.Txn) error {
			return txn.Set([]byte("meta:probe"), stamp)
		})
	})
	return err
}

// GetJSON decodes the value at key into v. It reports false when the key is
// absent and wraps ErrCorrupt when the bytes do not decode.
func (d *DB) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := d.GetRaw(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%s: %w: %v", key, ErrCorrupt, err)
	}
	return true, nil
}

// SetJSON encodes v at key. A positive ttl expires the entry.
func (d *DB) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return d.SetRaw(ctx, key, raw, ttl)
}

// GetRaw returns the bytes at key.
func (d *DB) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := d.guard(ctx, func() (any, error) {
		var out []byte
		err := d.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return err
			}
			out, err = item.ValueCopy(nil)
			return err
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return []byte(nil), nil
		}
		return out, err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	raw, _ := res.([]byte)
	return raw, raw != nil, nil
}

// SetRaw stores bytes at key. A positive ttl expires the entry.
func (d *DB) SetRaw(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := d.guard(ctx, func() (any, error) {
		return nil, d.db.Update(func(txn *badger.Txn) error {
			e := badger.NewEntry([]byte(key), value)
			if ttl > 0 {
				e = e.WithTTL(ttl)
			}
			return txn.SetEntry(e)
		})
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (d *DB) Delete(ctx context.Context, key string) error {
	_, err := d.guard(ctx, func() (any, error) {
		return nil, d.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(key))
		})
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CheckAndSet writes key with ttl only if it is absent, in one transaction.
// It reports true when the key was newly written.
func (d *DB) CheckAndSet(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	res, err := d.guard(ctx, func() (any, error) {
		fresh := false
		err := d.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get([]byte(key))
			if err == nil {
				return nil
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			e := badger.NewEntry([]byte(key), value)
			if ttl > 0 {
				e = e.WithTTL(ttl)
			}
			fresh = true
			return txn.SetEntry(e)
		})
		return fresh, err
	})
	if err != nil {
		return false, fmt.Errorf("check-and-set %s: %w", key, err)
	}
	fresh, _ := res.(bool)
	return fresh, nil
}

// Scan calls fn for every live key under prefix, in key order, stopping
// after limit entries when limit > 0. Iteration runs in reverse when
// reverse is set.
func (d *DB) Scan(ctx context.Context, prefix string, limit int, reverse bool, fn func(key string, value []byte) error) error {
	_, err := d.guard(ctx, func() (any, error) {
		return nil, d.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			opts.Reverse = reverse
			it := txn.NewIterator(opts)
			defer it.Close()

			seek := []byte(prefix)
			if reverse {
				seek = append([]byte(prefix), 0xFF)
			}
			n := 0
			for it.Seek(seek); it.ValidForPrefix([]byte(prefix)); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if err := fn(string(item.KeyCopy(nil)), val); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					return nil
				}
			}
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", prefix, err)
	}
	return nil
}

// RunGC reclaims value log space until badger reports nothing to rewrite.
func (d *DB) RunGC(discardRatio float64) error {
	if d.closed.Load() {
		return ErrClosed
	}
	for {
		err := d.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("value log gc: %w", err)
		}
	}
}

// BreakerState reports the store breaker state.
func (d *DB) BreakerState() string { return d.cb.State() }

func (d *DB) guard(ctx context.Context, fn func() (any, error)) (any, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return breaker.Do(ctx, d.cb, func(context.Context) (any, error) {
		return fn()
	})
}
