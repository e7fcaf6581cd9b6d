// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errMiss = errors.New("miss")

func TestDoReturnsValue(t *testing.T) {
	t.Parallel()
	b := New(Config{Name: "test-value"}, zerolog.Nop())

	got, err := Do(context.Background(), b, func(context.Context) ([]string, error) {
		return []string{"a", "b"}, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(got) != 2 || got[1] != "b" {
		t.Errorf("Do() = %v, want [a b]", got)
	}
}

func TestDoTimesOut(t *testing.T) {
	t.Parallel()
	b := New(Config{Name: "test-timeout", CallTimeout: 20 * time.Millisecond}, zerolog.Nop())

	start := time.Now()
	_, err := Do(context.Background(), b, func(context.Context) (int, error) {
		time.Sleep(time.Second)
		return 1, nil
	})
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("Do() error = %v, want ErrCallTimeout", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Do() should return at the deadline even when fn ignores ctx")
	}
}

func TestDoOpensAfterFailures(t *testing.T) {
	t.Parallel()
	b := New(Config{Name: "test-open", MinRequests: 3, FailureRatio: 0.5, Timeout: time.Minute}, zerolog.Nop())

	fail := func(context.Context) (int, error) { return 0, errors.New("connection refused") }
	for i := 0; i < 3; i++ {
		_, _ = Do(context.Background(), b, fail)
	}
	if b.State() != "open" {
		t.Fatalf("State() = %s, want open", b.State())
	}

	_, err := Do(context.Background(), b, func(context.Context) (int, error) { return 1, nil })
	if !IsRejected(err) {
		t.Errorf("expected rejection while open, got %v", err)
	}
}

func TestIsSuccessfulKeepsCircuitClosed(t *testing.T) {
	t.Parallel()
	b := New(Config{
		Name:         "test-miss",
		MinRequests:  2,
		FailureRatio: 0.5,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errMiss) },
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := Do(context.Background(), b, func(context.Context) (int, error) { return 0, errMiss })
		if !errors.Is(err, errMiss) {
			t.Fatalf("expected errMiss to pass through, got %v", err)
		}
	}
	if b.State() != "closed" {
		t.Errorf("State() = %s, want closed", b.State())
	}
}
