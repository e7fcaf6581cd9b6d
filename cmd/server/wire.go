// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/tastemesh/internal/activity"
	"github.com/tomtom215/tastemesh/internal/api"
	"github.com/tomtom215/tastemesh/internal/breaker"
	"github.com/tomtom215/tastemesh/internal/cache"
	"github.com/tomtom215/tastemesh/internal/catalog"
	"github.com/tomtom215/tastemesh/internal/config"
	"github.com/tomtom215/tastemesh/internal/consensus"
	"github.com/tomtom215/tastemesh/internal/events"
	"github.com/tomtom215/tastemesh/internal/learner"
	"github.com/tomtom215/tastemesh/internal/logging"
	"github.com/tomtom215/tastemesh/internal/mesh"
	"github.com/tomtom215/tastemesh/internal/orchestrator"
	"github.com/tomtom215/tastemesh/internal/predict"
	"github.com/tomtom215/tastemesh/internal/preferences"
	"github.com/tomtom215/tastemesh/internal/recommend"
	"github.com/tomtom215/tastemesh/internal/store"
	"github.com/tomtom215/tastemesh/internal/supervisor"
	"github.com/tomtom215/tastemesh/internal/supervisor/services"
)

const cacheBackendBadger = "badger"

// components holds everything main starts and later tears down.
type components struct {
	db     *store.DB
	memory *cache.Cache // nil with the badger cache backend
	bus    *events.Bus
	peer   *mesh.NATSPeer // nil when running standalone
	orch   *orchestrator.Orchestrator
	server *http.Server
}

//nolint:gocyclo // sequential setup steps
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	logger := logging.Logger()
	c := &components{}

	db, err := store.Open(store.Options{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.InMemory,
		Breaker:  breaker.Config{CallTimeout: cfg.Storage.CallTimeout},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.db = db

	var items []catalog.Item
	if cfg.Catalog.SeedFile != "" {
		items, err = catalog.LoadSeed(cfg.Catalog.SeedFile)
		if err != nil {
			c.closeStore()
			return nil, err
		}
	} else {
		logging.Warn().Msg("No catalog seed configured, recommendations fall back to empty results")
	}
	memCat := catalog.NewMemory(items)
	cat := catalog.NewGuarded(memCat, breaker.Config{
		Name:         "catalog",
		MaxRequests:  cfg.Catalog.BreakerMaxRequests,
		Interval:     cfg.Catalog.BreakerInterval,
		Timeout:      cfg.Catalog.BreakerTimeout,
		MinRequests:  cfg.Catalog.BreakerMinRequests,
		FailureRatio: cfg.Catalog.BreakerFailureRatio,
		CallTimeout:  cfg.Catalog.CallTimeout,
	}, logger)
	logging.Info().Int("items", memCat.Len()).Msg("Catalog loaded")

	var recCache cache.Store
	if cfg.Recommend.CacheBackend == cacheBackendBadger {
		recCache = store.NewKV(db)
	} else {
		c.memory = cache.New(time.Minute)
		recCache = c.memory
	}

	prefs := preferences.NewBadger(db, logger)
	learn := learner.New(cat, learner.Config{
		LearningRate: cfg.Learner.LearningRate,
		DecayRate:    cfg.Learner.DecayRate,
	}, logger)

	m := mesh.New(mesh.Config{
		NodeID:              cfg.Mesh.NodeID,
		NodeType:            cfg.Mesh.NodeType,
		SimilarityTolerance: cfg.Mesh.SimilarityTolerance,
		ContextTTL:          cfg.Mesh.ContextTTL,
		NodeTimeout:         cfg.Mesh.NodeTimeout,
		PendingTTL:          cfg.Mesh.PendingTTL,
		MaxPending:          cfg.Mesh.MaxPending,
	}, mesh.NewGlobalState(), mesh.NewBadgerLedger(db, cfg.Mesh.DedupeTTL), mesh.NewBadgerStateStore(db, logger), logger)

	if cfg.Mesh.NATSURL != "" {
		peer, err := mesh.NewNATSPeer(mesh.NATSConfig{
			URL:     cfg.Mesh.NATSURL,
			Subject: cfg.Mesh.Subject,
		}, m, logger)
		if err != nil {
			c.closeStore()
			return nil, fmt.Errorf("connect mesh peer: %w", err)
		}
		c.peer = peer
	} else {
		logging.Info().Msg("Mesh peer transport disabled (NATS_URL not set), running standalone")
	}

	cons := consensus.New(consensus.Config{
		Threshold:       cfg.Consensus.Threshold,
		RaisedThreshold: cfg.Consensus.RaisedThreshold,
		DominanceWindow: cfg.Consensus.DominanceWindow,
		DominanceLimit:  cfg.Consensus.DominanceLimit,
		LogCapacity:     cfg.Consensus.LogCapacity,
	}, logger)

	bridge := predict.New(cat, predict.Config{
		TopN:             cfg.Predict.TopN,
		AccuracyWindow:   cfg.Predict.AccuracyWindow,
		RecentActionsCap: cfg.Predict.RecentActionsCap,
		NightStartHour:   cfg.Predict.NightStartHour,
		NightEndHour:     cfg.Predict.NightEndHour,
	}, logger)

	acts := activity.New(db, activity.Config{
		Retention: cfg.Storage.ActivityRetention,
		Rate:      cfg.Storage.ActivityRate,
		Burst:     cfg.Storage.ActivityBurst,
	}, logger)

	c.orch = orchestrator.New(orchestrator.Config{
		CycleInterval:        cfg.Orchestrator.CycleInterval,
		FailureThreshold:     cfg.Orchestrator.FailureThreshold,
		FirstRetryDelay:      cfg.Orchestrator.FirstRetryDelay,
		RetryInterval:        cfg.Orchestrator.RetryInterval,
		BaseTTL:              cfg.Orchestrator.BaseTTL,
		SlowLatency:          cfg.Orchestrator.SlowLatency,
		FastLatency:          cfg.Orchestrator.FastLatency,
		EMAAlpha:             cfg.Orchestrator.EMAAlpha,
		RecoveryFile:         cfg.Orchestrator.RecoveryFile,
		StepTimeout:          cfg.Orchestrator.StepTimeout,
		ModelWeightRate:      cfg.Learner.ModelWeightRate,
		InstabilityThreshold: cfg.Learner.InstabilityThreshold,
		SyncConfidence:       cfg.Mesh.SyncConfidence,
		HeldEvents:           cfg.Orchestrator.HeldEvents,
	}, orchestrator.Deps{
		Store:     db,
		Prefs:     prefs,
		Learner:   learn,
		Mesh:      m,
		Consensus: cons,
		Predict:   bridge,
		Activity:  acts,
	}, logger)

	bus, err := events.New(events.Config{
		Topic:               cfg.Events.Topic,
		BufferSize:          cfg.Events.BufferSize,
		MaxRetries:          cfg.Events.MaxRetries,
		RetryInitialBackoff: cfg.Events.RetryInitialBackoff,
		CloseTimeout:        cfg.Events.CloseTimeout,
	}, logger)
	if err != nil {
		c.closePeer()
		c.closeStore()
		return nil, fmt.Errorf("create event bus: %w", err)
	}
	bus.Handle("orchestrator", c.orch.HandleEvent)
	c.bus = bus

	if err := c.orch.Start(ctx); err != nil {
		c.closeBus()
		c.closePeer()
		c.closeStore()
		return nil, fmt.Errorf("start orchestrator: %w", err)
	}
	logging.Info().Str("engine", string(c.orch.Status())).Msg("Orchestrator started")

	recs := recommend.New(recommend.Deps{
		Cache:    recCache,
		Catalog:  cat,
		Prefs:    prefs,
		Adaptive: c.orch,
		Events:   bus,
	}, recommend.Config{
		ResultSize:   cfg.Recommend.ResultSize,
		KeyPrefix:    cfg.Recommend.KeyPrefix,
		SlowRequest:  cfg.Recommend.SlowRequest,
		BuildTimeout: cfg.Recommend.BuildTimeout,
	}, logger)

	handler := api.NewHandler(api.HandlerDeps{
		Engine:    c.orch,
		Events:    bus,
		Recommend: recs,
		Predict:   bridge,
		Prefs:     prefs,
		Mesh:      m,
		Consensus: cons,
		Activity:  acts,
		Store:     db,
	})

	mw := api.DefaultChiMiddlewareConfig()
	if len(cfg.Security.CORSOrigins) > 0 {
		mw.CORSAllowedOrigins = cfg.Security.CORSOrigins
	}
	mw.RateLimitRequests = cfg.Security.RateLimitReqs
	mw.RateLimitWindow = cfg.Security.RateLimitWindow

	c.server = &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler: api.NewRouter(handler, api.RouterConfig{
			Middleware:     mw,
			RequestTimeout: cfg.Server.RequestTimeout,
		}),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	return c, nil
}

// addServices places the long-running loops into their supervisor layers.
func (c *components) addServices(tree *supervisor.Tree, cfg *config.Config) {
	tree.AddCoreService(services.NewStoreGCService(c.db, cfg.Storage.GCInterval, logging.Logger()))
	tree.AddCoreService(services.NewRunnerService("sync-cycle", c.orch.RunCycle))
	tree.AddCoreService(services.NewRunnerService("store-reconnect", c.orch.RunReconnect))

	// the watermill router cannot be restarted once it has stopped
	tree.AddMessagingService(services.NewOneShotService(c.bus.String(), c.bus.Run))
	if c.peer != nil {
		tree.AddMessagingService(services.NewRunnerService(c.peer.String(), c.peer.Run))
	}

	tree.AddAPIService(services.NewHTTPServerService(c.server, cfg.Server.ShutdownTimeout, logging.Logger()))
}

// shutdown runs after the tree has stopped: final sync and checkpoint
// first, then the transports, the store last.
func (c *components) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := c.orch.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("Error writing orchestrator checkpoint")
	}
	c.closeBus()
	c.closePeer()
	if c.memory != nil {
		c.memory.Close()
	}
	c.closeStore()
}

func (c *components) closeBus() {
	if c.bus == nil {
		return
	}
	if err := c.bus.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing event bus")
	}
}

func (c *components) closePeer() {
	if c.peer == nil {
		return
	}
	if err := c.peer.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing mesh peer")
	}
}

func (c *components) closeStore() {
	if err := c.db.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing store")
	}
}
