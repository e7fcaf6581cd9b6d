// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package logging owns the process-wide zerolog logger for Tastemesh.
//
// Every component receives a zerolog.Logger at construction and narrows it
// with a "component" field. Code that has no injected logger (startup, the
// HTTP layer) uses the package-level helpers.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//	logging.Info().Str("addr", addr).Msg("http server listening")
//	logging.Ctx(ctx).Warn().Err(err).Msg("preference load failed")
//
// # Configuration
//
// Level, format and caller reporting come from the logging section of the
// service configuration (LOG_LEVEL, LOG_FORMAT, LOG_CALLER). The mesh node
// id is stamped on every entry.
//
// Log chains must end in Msg or Send, otherwise nothing is written.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error, fatal, panic, disabled.
	Level  string
	Format string // json or console
	Caller bool

	// NodeID, when set, is attached to every entry so logs from several
	// mesh nodes can be merged.
	NodeID string

	Timestamp bool
	Output    io.Writer // defaults to os.Stderr
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "json",
		Timestamp: true,
		Output:    os.Stderr,
	}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // logging must work before Init is called
func init() {
	log = build(DefaultConfig())
}

// Init reconfigures the global logger. Safe to call more than once.
func Init(cfg Config) {
	l := build(cfg)
	SetLogger(l)
}

func build(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	out := cfg.Output
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	lc := zerolog.New(out).With()
	if cfg.Timestamp {
		lc = lc.Timestamp()
	}
	if cfg.Caller {
		lc = lc.Caller()
	}
	if cfg.NodeID != "" {
		lc = lc.Str("node_id", cfg.NodeID)
	}
	return lc.Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	}
	return zerolog.InfoLevel
}

// Logger returns a copy of the global logger. Components take this at
// construction and narrow it with their own "component" field.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the global logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	log = l
	mu.Unlock()
}

func global() *zerolog.Logger {
	l := Logger()
	return &l
}

// Debug starts a debug-level event on the global logger.
func Debug() *zerolog.Event { return global().Debug() }

// Info starts an info-level event.
func Info() *zerolog.Event { return global().Info() }

// Warn starts a warn-level event.
func Warn() *zerolog.Event { return global().Warn() }

// Error starts an error-level event.
func Error() *zerolog.Event { return global().Error() }

// Fatal exits the process with status 1 after the entry is written.
func Fatal() *zerolog.Event { return global().Fatal() }

// NewTestLogger creates a logger writing JSON lines to w.
//
//	var buf bytes.Buffer
//	logger := logging.NewTestLogger(&buf)
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
