// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package events carries learning events from the request path to the
// orchestrator without making callers wait. Events travel over an
// in-process watermill GoChannel and are consumed by a watermill Router
// with panic recovery, bounded retry and a poison topic for events that
// keep failing.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/logging"
	"github.com/tomtom215/tastemesh/internal/metrics"
)

// LearningEvent is one user action to fold into the learning loop.
type LearningEvent struct {
	UserID   string         `json:"user_id"`
	ItemID   string         `json:"item_id,omitempty"`
	Action   string         `json:"action"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Handler consumes one decoded event. A returned error triggers the retry
// policy; after the last retry the event goes to the poison topic.
type Handler func(ctx context.Context, ev LearningEvent) error

// Publisher is the producer side used by the API and recommendation service.
type Publisher interface {
	Publish(ctx context.Context, ev LearningEvent) error
}

// Config tunes the bus.
type Config struct {
	Topic               string
	BufferSize          int64
	MaxRetries          int
	RetryInitialBackoff time.Duration
	CloseTimeout        time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Topic:               "learning.events",
		BufferSize:          1024,
		MaxRetries:          3,
		RetryInitialBackoff: 100 * time.Millisecond,
		CloseTimeout:        10 * time.Second,
	}
}

// PoisonTopic is where events land after exhausting their retries.
func (c Config) PoisonTopic() string { return c.Topic + ".poison" }

const metaCorrelationID = "correlation_id"

// Bus owns the pub/sub and the router.
type Bus struct {
	cfg    Config
	pubsub *gochannel.GoChannel
	router *message.Router
	logger zerolog.Logger
}

var _ Publisher = (*Bus)(nil)

// New builds the bus. Handlers must be registered before Run.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(cfg Config, logger zerolog.Logger) (*Bus, error) {
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryInitialBackoff <= 0 {
		cfg.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = def.CloseTimeout
	}

	logger = logger.With().Str("component", "events").Logger()
	wmLogger := logging.NewWatermillLogger(logger)

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, wmLogger)

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, wmLogger)
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	// Outer to inner: poison queue sees the final error, retry wraps the
	// handler, recoverer turns panics into errors the retry can see.
	poison, err := middleware.PoisonQueue(pubsub, cfg.PoisonTopic())
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitialBackoff,
		MaxInterval:     10 * cfg.RetryInitialBackoff,
		Multiplier:      2,
		Logger:          wmLogger,
	}
	router.AddMiddleware(countPoisoned(poison), retry.Middleware, middleware.Recoverer)

	return &Bus{cfg: cfg, pubsub: pubsub, router: router, logger: logger}, nil
}

// Handle registers h as a consumer of the learning topic.
func (b *Bus) Handle(name string, h Handler) {
	b.router.AddConsumerHandler(name, b.cfg.Topic, b.pubsub, func(msg *message.Message) error {
		var ev LearningEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			metrics.BusMessages.WithLabelValues("handle", "malformed").Inc()
			b.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed learning event")
			return nil
		}

		ctx := msg.Context()
		if id := msg.Metadata.Get(metaCorrelationID); id != "" {
			ctx = logging.ContextWithCorrelationID(ctx, id)
		}
		if err := h(ctx, ev); err != nil {
			metrics.BusMessages.WithLabelValues("handle", "error").Inc()
			return err
		}
		metrics.BusMessages.WithLabelValues("handle", "ok").Inc()
		return nil
	})
}

// Publish enqueues ev. It does not wait for the handler.
func (b *Bus) Publish(ctx context.Context, ev LearningEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.BusMessages.WithLabelValues("publish", "error").Inc()
		return fmt.Errorf("encode learning event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(metaCorrelationID, id)
	}
	msg.Metadata.Set("user_id", ev.UserID)

	if err := b.pubsub.Publish(b.cfg.Topic, msg); err != nil {
		metrics.BusMessages.WithLabelValues("publish", "error").Inc()
		return fmt.Errorf("publish learning event: %w", err)
	}
	metrics.BusMessages.WithLabelValues("publish", "ok").Inc()
	return nil
}

// Subscribe exposes the underlying pub/sub, mainly for the poison topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Run starts the router and blocks until ctx is done or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	b.logger.Info().Str("topic", b.cfg.Topic).Msg("learning event router starting")
	err := b.router.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("learning event router: %w", err)
	}
	return nil
}

// Running closes once the router's handlers are subscribed.
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for in-flight events.
func (b *Bus) Close() error {
	return errors.Join(b.router.Close(), b.pubsub.Close())
}

// String implements fmt.Stringer for suture.
func (b *Bus) String() string { return "learning-event-router" }

// countPoisoned counts events that reach the poison queue. The inner
// handler already includes the retries, so any error here is final.
func countPoisoned(poison message.HandlerMiddleware) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return poison(func(msg *message.Message) ([]*message.Message, error) {
			out, err := h(msg)
			if err != nil {
				metrics.BusMessages.WithLabelValues("poison", "routed").Inc()
			}
			return out, err
		})
	}
}
