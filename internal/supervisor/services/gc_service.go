// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ValueLogGC is the badger value log collector.
type ValueLogGC interface {
	RunGC(discardRatio float64) error
}

const gcDiscardRatio = 0.5

// StoreGCService reclaims value log space on a fixed interval. A failed
// pass is logged and retried on the next tick.
type StoreGCService struct {
	store    ValueLogGC
	interval time.Duration
	logger   zerolog.Logger
}

// NewStoreGCService creates the service. A non-positive interval means 10m.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewStoreGCService(store ValueLogGC, interval time.Duration, logger zerolog.Logger) *StoreGCService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &StoreGCService{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("service", "store-gc").Logger(),
	}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.store.RunGC(gcDiscardRatio); err != nil {
				s.logger.Warn().Err(err).Msg("value log gc failed")
				continue
			}
			s.logger.Debug().Dur("duration", time.Since(start)).Msg("value log gc complete")
		}
	}
}

func (s *StoreGCService) String() string { return "store-gc" }
