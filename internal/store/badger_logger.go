// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package store

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// badgerLogger forwards badger's printf-style logging to zerolog. Info and
// debug chatter is demoted to debug.
type badgerLogger struct {
	logger zerolog.Logger
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func newBadgerLogger(l zerolog.Logger) *badgerLogger {
	return &badgerLogger{logger: l.With().Str("lib", "badger").Logger()}
}

func (b *badgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error().Msg(trim(format, args))
}

func (b *badgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn().Msg(trim(format, args))
}

func (b *badgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debug().Msg(trim(format, args))
}

func (b *badgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Debug().Msg(trim(format, args))
}

func trim(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
