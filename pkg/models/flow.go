// Package models defines the flow graph domain shared by the editor, the API and the engine.
package models

import "time"

// Flow is a named, persisted automation graph.
type Flow struct {
	ID        string // Empty until the backend assigns one
	Name      string
	Graph     Graph
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsNew reports whether the flow has never been saved.
func (f Flow) IsNew() bool {
	return f.ID == ""
}

// Clone returns a copy of the flow that shares no mutable state with f.
func (f Flow) Clone() Flow {
	f.Graph = f.Graph.Clone()

	return f
}

// Summary returns the listing view of the flow.
func (f Flow) Summary() FlowSummary {
	return FlowSummary{
		ID:        f.ID,
		Name:      f.Name,
		IsActive:  f.IsActive,
		NodeCount: len(f.Graph.Nodes),
		EdgeCount: len(f.Graph.Edges),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// FlowSummary is the lightweight representation returned by flow listings.
type FlowSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	NodeCount int       `json:"node_count"`
	EdgeCount int       `json:"edge_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
