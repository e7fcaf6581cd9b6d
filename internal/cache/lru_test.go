// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package cache

import (
	"testing"
	"time"
)

func TestSeenSetIsDuplicate(t *testing.T) {
	t.Parallel()
	s := NewSeenSet(10, time.Minute)

	if s.IsDuplicate("adj-1") {
		t.Error("first sighting should not be a duplicate")
	}
	if !s.IsDuplicate("adj-1") {
		t.Error("second sighting should be a duplicate")
	}
	if !s.Contains("adj-1") {
		t.Error("Contains should report a live key")
	}
}

func TestSeenSetEvictsOldest(t *testing.T) {
	t.Parallel()
	s := NewSeenSet(2, time.Minute)

	s.IsDuplicate("a")
	s.IsDuplicate("b")
	s.IsDuplicate("a") // touch a so b is oldest
	s.IsDuplicate("c")

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if s.Contains("b") {
		t.Error("b should have been evicted")
	}
	if !s.Contains("a") || !s.Contains("c") {
		t.Error("a and c should remain")
	}
}

func TestSeenSetExpiry(t *testing.T) {
	t.Parallel()
	s := NewSeenSet(10, time.Second)
	now := time.Now()
	s.now = func() time.Time { return now }
	s.IsDuplicate("k")

	s.now = func() time.Time { return now.Add(2 * time.Second) }
	if s.IsDuplicate("k") {
		t.Error("expired key should be treated as new")
	}
}
