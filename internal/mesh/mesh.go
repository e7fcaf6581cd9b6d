// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/tastemesh/internal/metrics"
)

// ErrDuplicateAdjustment is returned when an adjustment id was already applied.
var ErrDuplicateAdjustment = errors.New("adjustment already applied")

// Config tunes a Mesh.
type Config struct {
	NodeID   string
	NodeType string

	// SimilarityTolerance is the maximum distance from the group mean
	// confidence for a conflict group to be merged rather than averaged.
	SimilarityTolerance float64

	ContextTTL  time.Duration
	NodeTimeout time.Duration

	// PendingTTL ages out unresolved contributions; zero keeps them until
	// they conflict. MaxPending caps each domain's pending set, evicting
	// the oldest.
	PendingTTL time.Duration
	MaxPending int

	ResolutionCap int
}

// DefaultConfig returns the stock mesh settings.
func DefaultConfig() Config {
	return Config{
		NodeID:              "core-1",
		NodeType:            "core",
		SimilarityTolerance: 0.1,
		ContextTTL:          5 * time.Minute,
		NodeTimeout:         2 * time.Minute,
		MaxPending:          1024,
		ResolutionCap:       1000,
	}
}

// Peer receives locally sourced contributions and contexts for
// propagation to other nodes.
type Peer interface {
	PublishAdjustment(ctx context.Context, adj Adjustment) error
	PublishContext(ctx context.Context, sc SharedContext) error
}

type pendingEntry struct {
	adj     Adjustment
	addedAt time.Time
}

// Mesh coordinates contributions to a GlobalState.
type Mesh struct {
	cfg     Config
	state   *GlobalState
	ledger  Ledger
	persist StateStore
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	pending     map[Domain][]pendingEntry
	resolutions []Resolution
	kindCounts  map[ResolutionKind]int
	nodes       map[string]*NodeIdentity
	contexts    map[string]SharedContext
	peer        Peer
}

// New creates a mesh over state. persist may be nil for a purely
// in-memory mesh.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(cfg Config, state *GlobalState, ledger Ledger, persist StateStore, logger zerolog.Logger) *Mesh {
	def := DefaultConfig()
	if cfg.NodeID == "" {
		cfg.NodeID = def.NodeID
	}
	if cfg.NodeType == "" {
		cfg.NodeType = def.NodeType
	}
	if cfg.SimilarityTolerance <= 0 {
		cfg.SimilarityTolerance = def.SimilarityTolerance
	}
	if cfg.ContextTTL <= 0 {
		cfg.ContextTTL = def.ContextTTL
	}
	if cfg.NodeTimeout <= 0 {
		cfg.NodeTimeout = def.NodeTimeout
	}
	if cfg.PendingTTL < 0 {
		cfg.PendingTTL = 0
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.ResolutionCap <= 0 {
		cfg.ResolutionCap = def.ResolutionCap
	}
	if state == nil {
		state = NewGlobalState()
	}
	if ledger == nil {
		ledger = NewMemoryLedger(0, 0)
	}

	m := &Mesh{
		cfg:        cfg,
		state:      state,
		ledger:     ledger,
		persist:    persist,
		logger:     logger.With().Str("component", "mesh").Str("node_id", cfg.NodeID).Logger(),
		now:        time.Now,
		pending:    make(map[Domain][]pendingEntry),
		kindCounts: make(map[ResolutionKind]int),
		nodes:      make(map[string]*NodeIdentity),
		contexts:   make(map[string]SharedContext),
	}
	m.RegisterNode(NodeIdentity{
		ID:           cfg.NodeID,
		Type:         cfg.NodeType,
		Capabilities: []string{"learning", "consensus", "prediction"},
	})
	return m
}

// NodeID returns the local node id.
func (m *Mesh) NodeID() string { return m.cfg.NodeID }

// State returns the shared global state.
func (m *Mesh) State() *GlobalState { return m.state }

// SetPeer attaches a propagation peer. Passing nil detaches it.
func (m *Mesh) SetPeer(p Peer) {
	m.mu.Lock()
	m.peer = p
	m.mu.Unlock()
}

// Load restores persisted domains into the global state.
func (m *Mesh) Load(ctx context.Context) error {
	if m.persist == nil {
		return nil
	}
	for _, d := range Domains {
		values, ok, err := m.persist.LoadDomain(ctx, d)
		if err != nil {
			return err
		}
		if ok {
			m.state.Restore(d, values)
			m.logger.Info().Stringer("domain", d).Int("keys", len(values)).Msg("global state restored")
		}
	}
	return nil
}

// Contribute applies a locally sourced adjustment and returns its id. The
// adjustment is propagated to the attached peer after it is applied.
func (m *Mesh) Contribute(ctx context.Context, adj Adjustment) (string, error) {
	if adj.SourceNode == "" {
		adj.SourceNode = m.cfg.NodeID
	}
	return m.contribute(ctx, adj, adj.SourceNode == m.cfg.NodeID)
}

// Receive applies an adjustment that arrived from another node. It is never
// republished.
func (m *Mesh) Receive(ctx context.Context, adj Adjustment) (string, error) {
	if adj.SourceNode == m.cfg.NodeID {
		return adj.ID, nil
	}
	if adj.SourceNode != "" {
		m.Heartbeat(adj.SourceNode)
	}
	return m.contribute(ctx, adj, false)
}

func (m *Mesh) contribute(ctx context.Context, adj Adjustment, publish bool) (string, error) {
	if !adj.Domain.Valid() {
		return "", fmt.Errorf("%w: %d", ErrUnknownDomain, uint8(adj.Domain))
	}
	if adj.ID == "" {
		adj.ID = "adj_" + uuid.NewString()
	}
	if adj.Timestamp.IsZero() {
		adj.Timestamp = m.now().UTC()
	}
	adj.Confidence = clampConfidence(adj.Confidence)
	adj.Values = finiteValues(adj.Values)

	fresh, err := m.ledger.Record(ctx, adj.ID)
	if err != nil {
		return "", fmt.Errorf("record adjustment %s: %w", adj.ID, err)
	}
	if !fresh {
		metrics.RecordMeshResolution(adj.Domain.String(), "duplicate")
		return adj.ID, ErrDuplicateAdjustment
	}
	if adj.Confidence == 0 || len(adj.Values) == 0 {
		return adj.ID, nil
	}

	values, confidence, res := m.resolve(adj)

	snapshot, err := m.state.Apply(adj.Domain, values, confidence)
	if err != nil {
		return "", err
	}
	metrics.RecordMeshResolution(adj.Domain.String(), string(res.Kind))
	m.Heartbeat(m.cfg.NodeID)

	if res.Kind != ResolutionDirect {
		m.logger.Debug().
			Str("conflict_id", res.ID).
			Str("kind", string(res.Kind)).
			Int("group", len(res.AdjustmentIDs)).
			Msg("conflict resolved")
	}

	if m.persist != nil {
		if err := m.persist.SaveDomain(ctx, adj.Domain, snapshot); err != nil {
			return adj.ID, err
		}
	}

	if publish {
		m.mu.Lock()
		peer := m.peer
		m.mu.Unlock()
		if peer != nil {
			if err := peer.PublishAdjustment(ctx, adj); err != nil {
				m.logger.Warn().Err(err).Str("adjustment_id", adj.ID).Msg("peer publish failed")
			}
		}
	}
	return adj.ID, nil
}

// resolve adds adj to the pending set, detects its conflict group and
// returns the values and confidence to apply.
func (m *Mesh) resolve(adj Adjustment) (map[string]float64, float64, Resolution) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prunePendingLocked(now)

	var conflicts []Adjustment
	for _, p := range m.pending[adj.Domain] {
		if p.adj.ID != adj.ID && sharesKey(p.adj.Values, adj.Values) {
			conflicts = append(conflicts, p.adj)
		}
	}

	if len(conflicts) == 0 {
		entries := append(m.pending[adj.Domain], pendingEntry{adj: adj, addedAt: now})
		if excess := len(entries) - m.cfg.MaxPending; excess > 0 {
			entries = append(entries[:0], entries[excess:]...)
		}
		m.pending[adj.Domain] = entries
		m.kindCounts[ResolutionDirect]++
		m.setPendingGaugeLocked()
		return adj.Values, adj.Confidence, Resolution{Kind: ResolutionDirect}
	}

	group := append([]Adjustment{adj}, conflicts...)
	values, confidence, kind := combine(group, m.cfg.SimilarityTolerance)

	ids := make([]string, len(group))
	inGroup := make(map[string]struct{}, len(group))
	for i, a := range group {
		ids[i] = a.ID
		inGroup[a.ID] = struct{}{}
	}
	kept := m.pending[adj.Domain][:0]
	for _, p := range m.pending[adj.Domain] {
		if _, ok := inGroup[p.adj.ID]; !ok {
			kept = append(kept, p)
		}
	}
	m.pending[adj.Domain] = kept

	res := Resolution{
		ID:            "conflict_" + uuid.NewString(),
		Domain:        adj.Domain,
		AdjustmentIDs: ids,
		Kind:          kind,
		Confidence:    confidence,
		Timestamp:     now.UTC(),
	}
	m.resolutions = append(m.resolutions, res)
	if over := len(m.resolutions) - m.cfg.ResolutionCap; over > 0 {
		m.resolutions = append([]Resolution(nil), m.resolutions[over:]...)
	}
	m.kindCounts[kind]++
	m.setPendingGaugeLocked()
	return values, confidence, res
}

// combine folds a conflict group into one application.
func combine(group []Adjustment, tolerance float64) (map[string]float64, float64, ResolutionKind) {
	n := float64(len(group))
	var total float64
	for _, a := range group {
		total += a.Confidence
	}
	mean := total / n

	similar := true
	for _, a := range group {
		if math.Abs(a.Confidence-mean) >= tolerance {
			similar = false
			break
		}
	}

	out := make(map[string]float64)
	if similar && total > 0 {
		for _, a := range group {
			for k, v := range a.Values {
				out[k] += v * a.Confidence
			}
		}
		for k := range out {
			out[k] /= total
		}
		return out, math.Min(1, total/n), ResolutionMerged
	}

	for _, a := range group {
		for k, v := range a.Values {
			out[k] += v
		}
	}
	for k := range out {
		out[k] /= n
	}
	return out, mean, ResolutionAveraged
}

func sharesKey(a, b map[string]float64) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

func finiteValues(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	return out
}

func (m *Mesh) prunePendingLocked(now time.Time) {
	if m.cfg.PendingTTL == 0 {
		return
	}
	cutoff := now.Add(-m.cfg.PendingTTL)
	for d, entries := range m.pending {
		kept := entries[:0]
		for _, e := range entries {
			if e.addedAt.After(cutoff) {
				kept = append(kept, e)
			}
		}
		m.pending[d] = kept
	}
}

func (m *Mesh) setPendingGaugeLocked() {
	n := 0
	for _, entries := range m.pending {
		n += len(entries)
	}
	metrics.MeshPendingAdjustments.Set(float64(n))
}

// Resolutions returns up to limit of the most recent conflict resolutions,
// newest first.
func (m *Mesh) Resolutions(limit int) []Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.resolutions) {
		limit = len(m.resolutions)
	}
	out := make([]Resolution, 0, limit)
	for i := len(m.resolutions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.resolutions[i])
	}
	return out
}

// RegisterNode adds or replaces a node in the registry and marks it active.
func (m *Mesh) RegisterNode(node NodeIdentity) {
	node.Status = NodeActive
	node.LastSeen = m.now().UTC()
	m.mu.Lock()
	m.nodes[node.ID] = &node
	m.mu.Unlock()
}

// Heartbeat refreshes a node's last-seen time, registering unknown ids as
// peers.
func (m *Mesh) Heartbeat(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		n = &NodeIdentity{ID: nodeID, Type: "peer"}
		m.nodes[nodeID] = n
	}
	n.Status = NodeActive
	n.LastSeen = m.now().UTC()
}

// Nodes returns the registry sorted by id, with statuses derived from the
// node timeout.
func (m *Mesh) Nodes() []NodeIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodesLocked(m.now())
}

func (m *Mesh) nodesLocked(now time.Time) []NodeIdentity {
	out := make([]NodeIdentity, 0, len(m.nodes))
	for _, n := range m.nodes {
		if now.Sub(n.LastSeen) > m.cfg.NodeTimeout {
			n.Status = NodeInactive
		}
		cp := *n
		cp.Capabilities = append([]string(nil), n.Capabilities...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Status summarizes the mesh.
func (m *Mesh) Status() Status {
	m.mu.Lock()
	now := m.now()
	m.pruneContextsLocked(now)

	st := Status{
		NodeID:         m.cfg.NodeID,
		Resolutions:    make(map[ResolutionKind]int, len(m.kindCounts)),
		SharedContexts: len(m.contexts),
		StateKeys:      make(map[string]int, len(Domains)),
		LastUpdate:     m.state.LastUpdate(),
	}
	nodes := m.nodesLocked(now)
	st.Nodes = len(nodes)
	for _, n := range nodes {
		if n.Status == NodeActive {
			st.ActiveNodes++
		}
	}
	for _, entries := range m.pending {
		st.Pending += len(entries)
	}
	for k, v := range m.kindCounts {
		st.Resolutions[k] = v
	}
	for i := len(m.resolutions) - 1; i >= 0 && len(st.RecentConflicts) < 10; i-- {
		st.RecentConflicts = append(st.RecentConflicts, m.resolutions[i])
	}
	m.mu.Unlock()

	for _, d := range Domains {
		st.StateKeys[d.String()] = len(m.state.Get(d))
	}
	metrics.MeshActiveNodes.Set(float64(st.ActiveNodes))
	return st
}
