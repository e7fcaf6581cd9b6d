// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package activity keeps a best-effort, write-mostly log of user actions in
// the durable store. Appends are budgeted by a token bucket; entries past
// the budget are dropped rather than queued.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tastemesh/internal/metrics"
	"github.com/tomtom215/tastemesh/internal/store"
)

// ErrThrottled is returned when the append budget is exhausted.
var ErrThrottled = errors.New("activity append throttled")

// Entry is one logged action.
type Entry struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Action   string         `json:"action"`
	ItemID   string         `json:"item_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Sink accepts entries.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Config tunes the log.
type Config struct {
	Retention time.Duration
	Rate      float64
	Burst     int
}

const keyPrefix = "activity:"

// Log is the badger-backed activity log.
type Log struct {
	db      *store.DB
	cfg     Config
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ Sink = (*Log)(nil)

// New creates a log. A non-positive rate disables throttling.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(db *store.DB, cfg Config, logger zerolog.Logger) *Log {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Log{
		db:      db,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.With().Str("component", "activity").Logger(),
	}
}

// Append stores e with the retention TTL.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if !l.limiter.Allow() {
		metrics.ActivityAppends.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	raw, err := json.Marshal(e)
	if err != nil {
		metrics.ActivityAppends.WithLabelValues("error").Inc()
		return fmt.Errorf("encode activity: %w", err)
	}
	if err := l.db.SetRaw(ctx, entryKey(e), raw, l.cfg.Retention); err != nil {
		metrics.ActivityAppends.WithLabelValues("error").Inc()
		return fmt.Errorf("append activity for %s: %w", e.UserID, err)
	}
	metrics.ActivityAppends.WithLabelValues("ok").Inc()
	return nil
}

// Recent returns up to limit entries for userID, newest first. Undecodable
// entries are skipped.
func (l *Log) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	var out []Entry
	err := l.db.Scan(ctx, userPrefix(userID), limit, true, func(key string, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("skipping corrupt activity entry")
			return nil
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func userPrefix(userID string) string {
	return keyPrefix + strings.ReplaceAll(userID, ":", "_") + ":"
}

// entryKey sorts by time within a user: zero-padded nanoseconds keep
// lexical and chronological order aligned.
func entryKey(e Entry) string {
	return fmt.Sprintf("%s%020d:%s", userPrefix(e.UserID), e.At.UnixNano(), e.ID)
}
