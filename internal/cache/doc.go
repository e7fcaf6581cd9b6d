// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package cache holds the in-process key-value cache used for serialized
// recommendation results and a bounded LRU set used for replay detection.
//
// Both back interfaces that also have badger implementations in
// internal/store; the in-process versions serve single-node deployments
// and tests.
package cache
