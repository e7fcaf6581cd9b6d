// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package learner

import (
	"math"
	"sort"
)

// Norm returns the L2 norm of v.
func Norm(v Vector) float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Normalize scales v to unit L2 length. Empty and all-zero vectors are
// returned unchanged.
func Normalize(v Vector) Vector {
	n := Norm(v)
	out := make(Vector, len(v))
	if n == 0 {
		for k, w := range v {
			out[k] = w
		}
		return out
	}
	for k, w := range v {
		out[k] = w / n
	}
	return out
}

// Decay fades every weight by exp(-rate * days). Non-positive days leave the
// vector untouched.
func Decay(v Vector, days, rate float64) Vector {
	if days <= 0 {
		return v.Clone()
	}
	f := math.Exp(-rate * days)
	out := make(Vector, len(v))
	for k, w := range v {
		out[k] = w * f
	}
	return out
}

// Merge folds delta into base as an EMA over the union of keys,
//
//	merged[k] = base[k]*(1-rate) + delta[k]*rate
//
// then renormalizes to unit length.
func Merge(base, delta Vector, rate float64) Vector {
	out := make(Vector, len(base)+len(delta))
	for k, w := range base {
		out[k] = w * (1 - rate)
	}
	for k, d := range delta {
		out[k] += d * rate
	}
	return Normalize(Sanitize(out))
}

// Sanitize replaces NaN and infinite weights with 0.
func Sanitize(v Vector) Vector {
	for k, w := range v {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			v[k] = 0
		}
	}
	return v
}

// Feature is one key/weight pair.
type Feature struct {
	Key    string  `json:"key"`
	Weight float64 `json:"weight"`
}

// TopPreferences returns up to limit features ordered by absolute weight.
// A non-positive limit defaults to 10.
func TopPreferences(v Vector, limit int) []Feature {
	if limit <= 0 {
		limit = 10
	}
	out := make([]Feature, 0, len(v))
	for k, w := range v {
		out = append(out, Feature{Key: k, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Weight), math.Abs(out[j].Weight)
		if ai != aj {
			return ai > aj
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopByPrefix returns the top features whose key starts with prefix, with
// the prefix stripped.
func TopByPrefix(v Vector, prefix string, limit int) []Feature {
	sub := make(Vector)
	for k, w := range v {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			sub[k[len(prefix):]] = w
		}
	}
	return TopPreferences(sub, limit)
}

// TopPositiveByPrefix is TopByPrefix over the positively weighted features
// only, so a strong dislike never takes one of the limit slots.
func TopPositiveByPrefix(v Vector, prefix string, limit int) []Feature {
	pos := make(Vector, len(v))
	for k, w := range v {
		if w > 0 {
			pos[k] = w
		}
	}
	return TopByPrefix(pos, prefix, limit)
}
