// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"math"
	"sync/atomic"
	"time"
)

type domainSnapshot struct {
	values  map[string]float64
	updated time.Time
}

// GlobalState is the process-wide learning state, one immutable snapshot per
// domain. Writers publish new snapshots with compare-and-swap.
type GlobalState struct {
	domains [len(domainSlots)]atomic.Pointer[domainSnapshot]
	now     func() time.Time
}

var domainSlots = [...]Domain{DomainWeights, DomainEmotional, DomainHyperparameters}

// NewGlobalState returns an empty state.
func NewGlobalState() *GlobalState {
	g := &GlobalState{now: time.Now}
	for i := range g.domains {
		g.domains[i].Store(&domainSnapshot{values: map[string]float64{}})
	}
	return g
}

func (g *GlobalState) slot(d Domain) *atomic.Pointer[domainSnapshot] {
	return &g.domains[int(d)-1]
}

// Apply interpolates values into domain d with confidence c and returns the
// resulting snapshot. Non-finite values are ignored and c is clamped to
// [0,1]; a zero confidence leaves the state untouched.
func (g *GlobalState) Apply(d Domain, values map[string]float64, c float64) (map[string]float64, error) {
	if !d.Valid() {
		return nil, ErrUnknownDomain
	}
	c = clampConfidence(c)
	ptr := g.slot(d)
	if c == 0 || len(values) == 0 {
		return copyValues(ptr.Load().values), nil
	}

	for {
		old := ptr.Load()
		next := &domainSnapshot{values: copyValues(old.values), updated: g.now()}
		for k, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			blended := next.values[k]*(1-c) + v*c
			if math.IsNaN(blended) || math.IsInf(blended, 0) {
				blended = 0
			}
			next.values[k] = blended
		}
		if ptr.CompareAndSwap(old, next) {
			return copyValues(next.values), nil
		}
	}
}

// Get returns a copy of one domain.
func (g *GlobalState) Get(d Domain) map[string]float64 {
	if !d.Valid() {
		return map[string]float64{}
	}
	return copyValues(g.slot(d).Load().values)
}

// Snapshot copies every domain, keyed by domain name.
func (g *GlobalState) Snapshot() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(domainSlots))
	for _, d := range domainSlots {
		out[d.String()] = g.Get(d)
	}
	return out
}

// LastUpdate returns the most recent write across domains.
func (g *GlobalState) LastUpdate() time.Time {
	var latest time.Time
	for i := range g.domains {
		if t := g.domains[i].Load().updated; t.After(latest) {
			latest = t
		}
	}
	return latest
}

// Restore replaces a domain wholesale, used when reloading persisted state.
func (g *GlobalState) Restore(d Domain, values map[string]float64) {
	if !d.Valid() {
		return
	}
	clean := make(map[string]float64, len(values))
	for k, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		clean[k] = v
	}
	g.slot(d).Store(&domainSnapshot{values: clean, updated: g.now()})
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

func copyValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
