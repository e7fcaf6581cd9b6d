// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"fmt"
	"sync"
	"testing"

	"github.com/goccy/go-json"
)

func TestGlobalStateInterpolates(t *testing.T) {
	t.Parallel()
	g := NewGlobalState()

	if _, err := g.Apply(DomainWeights, map[string]float64{"k": 1}, 0.5); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	got, err := g.Apply(DomainWeights, map[string]float64{"k": 0}, 0.5)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !near(got["k"], 0.25) {
		t.Errorf("k = %v, want 0.25", got["k"])
	}

	if _, err := g.Apply(Domain(0), map[string]float64{"k": 1}, 1); err == nil {
		t.Error("Apply() on invalid domain succeeded")
	}
}

func TestGlobalStateConcurrentWriters(t *testing.T) {
	t.Parallel()
	g := NewGlobalState()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = g.Apply(DomainHyperparameters, map[string]float64{fmt.Sprintf("k%d", i): 1}, 1)
		}(i)
	}
	wg.Wait()

	got := g.Get(DomainHyperparameters)
	if len(got) != 64 {
		t.Fatalf("len = %d, want 64 (lost updates)", len(got))
	}
	for k, v := range got {
		if v != 1 {
			t.Errorf("%s = %v, want 1", k, v)
		}
	}
}

func TestGlobalStateSnapshotIsolation(t *testing.T) {
	t.Parallel()
	g := NewGlobalState()
	g.Restore(DomainEmotional, map[string]float64{"tense": 0.4})

	snap := g.Snapshot()
	snap["emotional"]["tense"] = 99
	if got := g.Get(DomainEmotional)["tense"]; got != 0.4 {
		t.Errorf("snapshot mutation leaked into state: %v", got)
	}
	if g.LastUpdate().IsZero() {
		t.Error("LastUpdate() is zero after Restore")
	}
}

func TestDomainText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Domain
		wantErr bool
	}{
		{"weights", DomainWeights, false},
		{"emotional", DomainEmotional, false},
		{"emotions", DomainEmotional, false},
		{"hyperparameters", DomainHyperparameters, false},
		{"colors", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDomain(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseDomain(%q) = %v, %v", tt.in, got, err)
		}
	}

	raw, err := json.Marshal(Adjustment{ID: "a", Domain: DomainEmotional})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back Adjustment
	if err := json.Unmarshal(raw, &back); err != nil || back.Domain != DomainEmotional {
		t.Errorf("round trip = %+v, %v (payload %s)", back, err, raw)
	}
}
