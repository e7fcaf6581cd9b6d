// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/logging"
)

func startBus(t *testing.T, cfg Config, name string, h Handler) *Bus {
	t.Helper()
	bus, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	bus.Handle(name, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		<-done
	})

	select {
	case <-bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return bus
}

func TestPublishDeliversToHandler(t *testing.T) {
	t.Parallel()
	got := make(chan LearningEvent, 1)
	var corr atomic.Value
	bus := startBus(t, DefaultConfig(), "recorder", func(ctx context.Context, ev LearningEvent) error {
		corr.Store(logging.CorrelationIDFromContext(ctx))
		got <- ev
		return nil
	})

	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")
	if err := bus.Publish(ctx, LearningEvent{UserID: "u1", ItemID: "m1", Action: "favorite"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case ev := <-got:
		if ev.UserID != "u1" || ev.ItemID != "m1" || ev.Action != "favorite" {
			t.Errorf("event = %+v", ev)
		}
		if ev.At.IsZero() {
			t.Error("Publish() did not stamp the event time")
		}
		if c, _ := corr.Load().(string); c != "corr-1" {
			t.Errorf("correlation id = %q, want corr-1", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestFailingEventIsRetriedThenPoisoned(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Topic = "learning.test.poison"
	cfg.MaxRetries = 2
	cfg.RetryInitialBackoff = time.Millisecond

	var attempts atomic.Int32
	bus := startBus(t, cfg, "failing", func(context.Context, LearningEvent) error {
		attempts.Add(1)
		return errors.New("store unavailable")
	})

	poisoned, err := bus.Subscribe(context.Background(), cfg.PoisonTopic())
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Publish(context.Background(), LearningEvent{UserID: "u1", Action: "click"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-poisoned:
		msg.Ack()
		if n := attempts.Load(); n != 3 {
			t.Errorf("handler attempts = %d, want 3", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event never reached the poison topic")
	}
}

func TestPanickingHandlerIsRecovered(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Topic = "learning.test.panic"
	cfg.MaxRetries = 0

	bus := startBus(t, cfg, "panicking", func(context.Context, LearningEvent) error {
		panic("boom")
	})
	poisoned, err := bus.Subscribe(context.Background(), cfg.PoisonTopic())
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Publish(context.Background(), LearningEvent{UserID: "u1", Action: "click"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-poisoned:
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("panicking event was not routed to the poison topic")
	}
}
