// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/logging"
	"github.com/tomtom215/tastemesh/internal/metrics"
)

// NATSConfig configures the peer transport.
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	CloseTimeout  time.Duration
}

const sourceNodeKey = "source_node"

// NATSPeer propagates contributions and shared contexts over core NATS
// subjects. Every node subscribes without a queue group so each one sees
// every message.
type NATSPeer struct {
	mesh       *Mesh
	publisher  message.Publisher
	subscriber message.Subscriber
	adjTopic   string
	ctxTopic   string
	logger     zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Peer = (*NATSPeer)(nil)

// NewNATSPeer connects to NATS and attaches the transport to m.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewNATSPeer(cfg NATSConfig, m *Mesh, logger zerolog.Logger) (*NATSPeer, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats url is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = "tastemesh.mesh"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}

	logger = logger.With().Str("component", "mesh-nats").Logger()
	wmLogger := logging.NewWatermillLogger(logger)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create mesh publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		SubscribersCount: 1,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, wmLogger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create mesh subscriber: %w", err)
	}

	p := newPeer(m, pub, sub, cfg.Subject, logger)
	logger.Info().Str("url", cfg.URL).Str("subject", cfg.Subject).Msg("mesh peer transport connected")
	return p, nil
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func newPeer(m *Mesh, pub message.Publisher, sub message.Subscriber, subject string, logger zerolog.Logger) *NATSPeer {
	p := &NATSPeer{
		mesh:       m,
		publisher:  pub,
		subscriber: sub,
		adjTopic:   subject + ".adjustments",
		ctxTopic:   subject + ".contexts",
		logger:     logger,
	}
	m.SetPeer(p)
	return p
}

// PublishAdjustment implements Peer.
func (p *NATSPeer) PublishAdjustment(_ context.Context, adj Adjustment) error {
	return p.publish(p.adjTopic, adj.ID, adj.SourceNode, adj)
}

// PublishContext implements Peer.
func (p *NATSPeer) PublishContext(_ context.Context, sc SharedContext) error {
	return p.publish(p.ctxTopic, sc.ID, sc.SourceNode, sc)
}

func (p *NATSPeer) publish(topic, id, source string, v any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("mesh peer is closed")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	msg := message.NewMessage(id, data)
	msg.Metadata.Set(sourceNodeKey, source)

	err = p.publisher.Publish(topic, msg)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.MeshPeerMessages.WithLabelValues("out", result).Inc()
	return err
}

// Run consumes peer messages until ctx is canceled.
func (p *NATSPeer) Run(ctx context.Context) error {
	adjustments, err := p.subscriber.Subscribe(ctx, p.adjTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.adjTopic, err)
	}
	contexts, err := p.subscriber.Subscribe(ctx, p.ctxTopic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.ctxTopic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-adjustments:
			if !ok {
				return errors.New("adjustment subscription closed")
			}
			p.handleAdjustment(ctx, msg)
		case msg, ok := <-contexts:
			if !ok {
				return errors.New("context subscription closed")
			}
			p.handleContext(msg)
		}
	}
}

func (p *NATSPeer) handleAdjustment(ctx context.Context, msg *message.Message) {
	defer msg.Ack()
	if msg.Metadata.Get(sourceNodeKey) == p.mesh.NodeID() {
		return
	}

	var adj Adjustment
	if err := json.Unmarshal(msg.Payload, &adj); err != nil {
		metrics.MeshPeerMessages.WithLabelValues("in", "invalid").Inc()
		p.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed peer adjustment")
		return
	}

	_, err := p.mesh.Receive(ctx, adj)
	switch {
	case err == nil:
		metrics.MeshPeerMessages.WithLabelValues("in", "ok").Inc()
	case errors.Is(err, ErrDuplicateAdjustment):
		metrics.MeshPeerMessages.WithLabelValues("in", "duplicate").Inc()
	default:
		metrics.MeshPeerMessages.WithLabelValues("in", "error").Inc()
		p.logger.Warn().Err(err).Str("adjustment_id", adj.ID).Msg("peer adjustment not applied")
	}
}

func (p *NATSPeer) handleContext(msg *message.Message) {
	defer msg.Ack()
	if msg.Metadata.Get(sourceNodeKey) == p.mesh.NodeID() {
		return
	}

	var sc SharedContext
	if err := json.Unmarshal(msg.Payload, &sc); err != nil {
		metrics.MeshPeerMessages.WithLabelValues("in", "invalid").Inc()
		p.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed peer context")
		return
	}
	if p.mesh.ReceiveContext(sc) {
		metrics.MeshPeerMessages.WithLabelValues("in", "ok").Inc()
	}
}

// Close detaches the transport from the mesh and closes both ends.
func (p *NATSPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.mesh.SetPeer(nil)
	return errors.Join(p.publisher.Close(), p.subscriber.Close())
}

// String names the transport for supervisor logs.
func (p *NATSPeer) String() string { return "mesh-nats-peer" }
