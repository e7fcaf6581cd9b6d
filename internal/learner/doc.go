// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

// Package learner turns a single user action on a catalog item into a
// sparse feature delta and folds deltas into per-user preference vectors.
//
// # Feature keys
//
//	genre:<Genre>          full delta
//	language:<code>        delta x 0.5
//	year_range:<bucket>    delta x 0.3 (2020s, 2010s, 2000s, 1990s, 1980s, classic)
//	quality:<tier>         delta x 0.4 (excellent, very_good, good, average, below_average)
//
// # Delta
//
//	delta = actionBaseWeight(action) * signal.Strength * typeMultiplier(signal.Type)
//
// # Vector lifecycle
//
// The stored vector is decayed by exp(-rate * days) before each merge, merged
// with the delta as an exponential moving average over the union of keys,
// then renormalized to unit L2 length. An empty vector stays empty.
package learner
