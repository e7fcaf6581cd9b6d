// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package mesh

import "time"

// Adjustment is a proposed change to one domain of the global state.
type Adjustment struct {
	ID         string             `json:"id"`
	SourceNode string             `json:"source_node"`
	Domain     Domain             `json:"domain"`
	Values     map[string]float64 `json:"values"`
	Confidence float64            `json:"confidence"`
	Timestamp  time.Time          `json:"timestamp"`

	// PriorReinforcement carries a score from an earlier consensus round.
	PriorReinforcement *float64 `json:"prior_reinforcement,omitempty"`
}

// ResolutionKind names how an application was derived.
type ResolutionKind string

const (
	ResolutionDirect   ResolutionKind = "direct"
	ResolutionMerged   ResolutionKind = "merged"
	ResolutionAveraged ResolutionKind = "averaged"
)

// Resolution is one audit entry for a resolved conflict group.
type Resolution struct {
	ID            string         `json:"id"`
	Domain        Domain         `json:"domain"`
	AdjustmentIDs []string       `json:"adjustment_ids"`
	Kind          ResolutionKind `json:"kind"`
	Confidence    float64        `json:"confidence"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NodeStatus is the liveness of a registered node.
type NodeStatus string

const (
	NodeActive   NodeStatus = "active"
	NodeInactive NodeStatus = "inactive"
)

// NodeIdentity describes a learning node.
type NodeIdentity struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	Capabilities []string   `json:"capabilities,omitempty"`
	Status       NodeStatus `json:"status"`
	LastSeen     time.Time  `json:"last_seen"`
}

// SharedContext is a short-lived piece of context propagated between nodes.
type SharedContext struct {
	ID              string         `json:"id"`
	SourceNode      string         `json:"source_node"`
	Type            string         `json:"type"`
	Data            map[string]any `json:"data"`
	PropagationPath []string       `json:"propagation_path"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Status is a point-in-time view of the mesh.
type Status struct {
	NodeID          string                 `json:"node_id"`
	Nodes           int                    `json:"nodes"`
	ActiveNodes     int                    `json:"active_nodes"`
	Pending         int                    `json:"pending"`
	Resolutions     map[ResolutionKind]int `json:"resolutions"`
	SharedContexts  int                    `json:"shared_contexts"`
	StateKeys       map[string]int         `json:"state_keys"`
	LastUpdate      time.Time              `json:"last_update"`
	RecentConflicts []Resolution           `json:"recent_conflicts,omitempty"`
}
