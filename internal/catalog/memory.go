// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process catalog indexed by genre and language.
type Memory struct {
	mu         sync.RWMutex
	items      map[string]Item
	byGenre    map[string][]string
	byLanguage map[string][]string
	featured   []string
}

var _ Catalog = (*Memory)(nil)

// NewMemory indexes items. Later duplicates of an id replace earlier ones.
func NewMemory(items []Item) *Memory {
	m := &Memory{}
	m.Replace(items)
	return m
}

// Replace swaps the whole catalog.
func (m *Memory) Replace(items []Item) {
	idx := make(map[string]Item, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		idx[it.ID] = it
	}

	byGenre := make(map[string][]string)
	byLanguage := make(map[string][]string)
	var featured []string
	for id, it := range idx {
		for _, g := range it.Genres {
			k := strings.ToLower(g)
			byGenre[k] = append(byGenre[k], id)
		}
		if it.Language != "" {
			k := strings.ToLower(it.Language)
			byLanguage[k] = append(byLanguage[k], id)
		}
		if it.Featured {
			featured = append(featured, id)
		}
	}
	for _, ids := range byGenre {
		rank(ids, idx)
	}
	for _, ids := range byLanguage {
		rank(ids, idx)
	}
	rank(featured, idx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = idx
	m.byGenre = byGenre
	m.byLanguage = byLanguage
	m.featured = featured
}

// Len returns the number of items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// GetItem implements Catalog.
func (m *Memory) GetItem(_ context.Context, id string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return it, nil
}

// FindSimilar implements Catalog. Candidates share at least one genre and
// are ordered by popularity then rating.
func (m *Memory) FindSimilar(_ context.Context, id string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src, ok := m.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	seen := map[string]struct{}{id: {}}
	var out []string
	for _, g := range src.Genres {
		for _, cand := range m.byGenre[strings.ToLower(g)] {
			if _, dup := seen[cand]; dup {
				continue
			}
			seen[cand] = struct{}{}
			out = append(out, cand)
		}
	}
	rank(out, m.items)
	return head(out, n), nil
}

// TopByGenre implements Catalog.
func (m *Memory) TopByGenre(_ context.Context, genre string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return head(m.byGenre[strings.ToLower(genre)], n), nil
}

// TopByLanguage implements Catalog.
func (m *Memory) TopByLanguage(_ context.Context, language string, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return head(m.byLanguage[strings.ToLower(language)], n), nil
}

// TopFeatured implements Catalog.
func (m *Memory) TopFeatured(_ context.Context, n int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return head(m.featured, n), nil
}

// rank sorts ids by popularity, then rating, then id for a stable order.
func rank(ids []string, items map[string]Item) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := items[ids[i]], items[ids[j]]
		if a.Popularity != b.Popularity {
			return a.Popularity > b.Popularity
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.ID < b.ID
	})
}

func head(ids []string, n int) []string {
	if n <= 0 || n > len(ids) {
		n = len(ids)
	}
	out := make([]string, n)
	copy(out, ids[:n])
	return out
}
