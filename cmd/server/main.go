// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package main is the entry point for the Tastemesh server.
//
// Tastemesh learns per-user feature preferences from interaction events,
// serves cached personalized recommendations, predicts likely next actions
// and shares learning adjustments with peer nodes through a consensus gate.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional config.yaml, then environment (Koanf v2)
//  2. Store: BadgerDB behind a circuit breaker
//  3. Catalog: YAML seed loaded into memory, guarded by its own breaker
//  4. Learning: preference store, learner, mesh, consensus, predictive bridge
//  5. Orchestrator: restores the recovery checkpoint and probes the store
//  6. Event bus: Watermill router feeding learning events to the orchestrator
//  7. HTTP Server: chi router under /api/v1 plus /metrics
//
// Long-running work runs under a suture supervisor tree:
//
//	tastemesh
//	├── core-layer       store GC, sync cycle, reconnection loop
//	├── messaging-layer  learning event router, mesh NATS peer
//	└── api-layer        HTTP server
//
// # Configuration
//
// Settings are layered (highest priority wins):
//   - Environment variables (e.g. HTTP_PORT, LOG_LEVEL, STORAGE_PATH)
//   - Config file (config.yaml, or the path in CONFIG_PATH)
//   - Built-in defaults
//
// Setting NATS_URL enables cross-node propagation of adjustments and
// shared contexts. Without it the node runs standalone.
//
// # Signal Handling
//
// SIGINT and SIGTERM stop the supervisor tree. The HTTP server drains
// in-flight requests, the orchestrator runs a final sync pass and writes
// its checkpoint, then the bus, the peer and the store are closed.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/tastemesh/internal/config"
	"github.com/tomtom215/tastemesh/internal/logging"
	"github.com/tomtom215/tastemesh/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		NodeID:    cfg.Mesh.NodeID,
		Timestamp: true,
	})

	logging.Info().
		Str("node_type", cfg.Mesh.NodeType).
		Str("store_path", cfg.Storage.Path).
		Bool("store_in_memory", cfg.Storage.InMemory).
		Bool("mesh_nats", cfg.Mesh.NATSURL != "").
		Msg("Starting Tastemesh with supervisor tree")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize components")
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	c.addServices(tree, cfg)

	logging.Info().
		Str("addr", c.server.Addr).
		Msg("Supervisor tree starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within the shutdown timeout")
		}
	}

	c.shutdown(cfg.Server.ShutdownTimeout)
	logging.Info().Msg("Tastemesh stopped")
}
