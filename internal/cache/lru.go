// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package cache

import (
	"container/list"
	"sync"
	"time"
)

type seenEntry struct {
	key       string
	expiresAt time.Time
}

// SeenSet is a bounded, TTL-limited set of recently observed keys. When full
// it evicts the least recently touched key in O(1).
type SeenSet struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	items    map[string]*list.Element
	now      func() time.Time
}

// NewSeenSet creates a set. Non-positive arguments fall back to 10000
// entries and five minutes.
func NewSeenSet(capacity int, ttl time.Duration) *SeenSet {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SeenSet{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
}

// IsDuplicate reports whether key was already recorded and still live.
// A fresh key is recorded before returning false.
func (s *SeenSet) IsDuplicate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.items[key]; ok {
		if now.Before(el.Value.(*seenEntry).expiresAt) {
			s.order.MoveToFront(el)
			return true
		}
		s.order.Remove(el)
		delete(s.items, key)
	}

	s.items[key] = s.order.PushFront(&seenEntry{key: key, expiresAt: now.Add(s.ttl)})
	for len(s.items) > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value.(*seenEntry).key)
	}
	return false
}

// Contains reports whether key is live without recording it.
func (s *SeenSet) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[key]
	return ok && s.now().Before(el.Value.(*seenEntry).expiresAt)
}

// Len returns the number of tracked keys, expired ones included.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
