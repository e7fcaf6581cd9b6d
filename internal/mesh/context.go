// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ShareContext records a context item sourced by this node and hands it to
// the peer, if any.
func (m *Mesh) ShareContext(ctx context.Context, contextType string, data map[string]any) (string, error) {
	sc := SharedContext{
		ID:              "ctx_" + uuid.NewString(),
		SourceNode:      m.cfg.NodeID,
		Type:            contextType,
		Data:            data,
		PropagationPath: []string{m.cfg.NodeID},
		Timestamp:       m.now().UTC(),
	}

	m.mu.Lock()
	m.pruneContextsLocked(m.now())
	m.contexts[sc.ID] = sc
	peer := m.peer
	m.mu.Unlock()

	if peer != nil {
		if err := peer.PublishContext(ctx, sc); err != nil {
			m.logger.Warn().Err(err).Str("context_id", sc.ID).Msg("peer context publish failed")
		}
	}
	return sc.ID, nil
}

// ReceiveContext stores a context item from another node, appending this
// node to its propagation path. Items already seen, already expired or
// sourced here are ignored.
func (m *Mesh) ReceiveContext(sc SharedContext) bool {
	if sc.ID == "" || sc.SourceNode == m.cfg.NodeID {
		return false
	}
	now := m.now()
	if sc.Timestamp.IsZero() {
		sc.Timestamp = now.UTC()
	}
	if now.Sub(sc.Timestamp) > m.cfg.ContextTTL {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contexts[sc.ID]; ok {
		return false
	}
	sc.PropagationPath = append(append([]string(nil), sc.PropagationPath...), m.cfg.NodeID)
	m.contexts[sc.ID] = sc
	return true
}

// SharedContexts returns live context items of contextType, newest first.
// An empty type matches everything. Expired items are dropped on read.
func (m *Mesh) SharedContexts(contextType string) []SharedContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneContextsLocked(m.now())

	out := make([]SharedContext, 0, len(m.contexts))
	for _, sc := range m.contexts {
		if contextType == "" || sc.Type == contextType {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (m *Mesh) pruneContextsLocked(now time.Time) {
	for id, sc := range m.contexts {
		if now.Sub(sc.Timestamp) > m.cfg.ContextTTL {
			delete(m.contexts, id)
		}
	}
}
