// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package breaker guards calls into external collaborators (catalog, durable
// store) with a circuit breaker and a hard per-call deadline.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tastemesh/internal/metrics"
)

// ErrCallTimeout is returned when a guarded call outlives its deadline.
var ErrCallTimeout = errors.New("collaborator call timed out")

// Config describes one breaker.
type Config struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
	CallTimeout  time.Duration

	// IsSuccessful lets callers count domain misses (not found) as healthy calls.
	IsSuccessful func(err error) bool
}

// Breaker pairs a gobreaker instance with a call deadline.
type Breaker struct {
	cb          *gobreaker.CircuitBreaker[any]
	name        string
	callTimeout time.Duration
	logger      zerolog.Logger
}

// New builds a breaker. Zero fields take conservative defaults: 3 half-open
// probes, 1m counting interval, 30s open period, trip at 60% failures over
// at least 10 requests, 2s call timeout.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(cfg Config, logger zerolog.Logger) *Breaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 10
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Second
	}

	b := &Breaker{
		name:        cfg.Name,
		callTimeout: cfg.CallTimeout,
		logger:      logger.With().Str("breaker", cfg.Name).Logger(),
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				b.logger.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_ratio", ratio).Msg("opening circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	}
	if cfg.IsSuccessful != nil {
		settings.IsSuccessful = cfg.IsSuccessful
	}
	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns closed, half-open or open.
func (b *Breaker) State() string { return b.cb.State().String() }

// Do runs fn under the breaker with the configured deadline. fn receives a
// context that is cancelled at the deadline; if fn ignores it, Do still
// returns ErrCallTimeout on time.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	res, err := b.cb.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
		defer cancel()

		type outcome struct {
			v   T
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			v, err := fn(callCtx)
			done <- outcome{v, err}
		}()

		select {
		case o := <-done:
			if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
				return zero, fmt.Errorf("%s: %w", b.name, ErrCallTimeout)
			}
			return o.v, o.err
		case <-callCtx.Done():
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return zero, fmt.Errorf("%s: %w", b.name, ErrCallTimeout)
			}
			return zero, callCtx.Err()
		}
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case IsRejected(err):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return zero, fmt.Errorf("%s: %w", b.name, err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}

	if res == nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected result type %T", b.name, res)
	}
	return v, err
}

// IsRejected reports whether err came from an open or saturated breaker.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
