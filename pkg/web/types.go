package web

import (
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/wire"
)

// FlowRequest is the body of create and full-replace requests. It is the wire
// flow document; id and timestamps sent by the client are ignored.
type FlowRequest struct {
	Name     string         `json:"name"      validate:"required,max=255"`
	FlowData *wire.FlowData `json:"flow_data" validate:"required"`
	IsActive bool           `json:"is_active"`
}

// ValidateRequest is the body of a dry-run validation. Only the graph is read.
type ValidateRequest struct {
	FlowData *wire.FlowData `json:"flow_data" validate:"required"`
}

// ValidateResponse lists the violations found in a graph.
type ValidateResponse struct {
	Valid      bool              `json:"valid"`
	Violations []graph.Violation `json:"violations"`
}

// LeadEventRequest is a lead change pushed by the CRM integration. Attributes
// are the values flow conditions are evaluated against.
type LeadEventRequest struct {
	LeadID     int64          `json:"lead_id"    validate:"required,gt=0"`
	Attributes map[string]any `json:"attributes"`
}

// SyncResponse reports the reference data loaded by a sync.
type SyncResponse struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Fields      int       `json:"fields"`
	Pipelines   int       `json:"pipelines"`
	Schedulers  int       `json:"schedulers"`
	Campaigns   int       `json:"campaigns"`
	Buckets     int       `json:"buckets"`
}
