// Package persistence provides the storage abstraction for flows.
package persistence

import (
	"context"

	"github.com/dukex/leadflow/pkg/models"
)

type Persistence interface {
	Flows() FlowRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// FlowRepository stores flows. Save assigns an id to flows without one and
// maintains the timestamps; the graph is stored as a single document.
type FlowRepository interface {
	List(ctx context.Context, opts ListOptions) ([]models.Flow, error)
	GetByID(ctx context.Context, id string) (models.Flow, error)
	Save(ctx context.Context, flow *models.Flow) error
	Delete(ctx context.Context, id string) error
}

// ListOptions filters and orders a flow listing.
type ListOptions struct {
	ActiveOnly bool
	SortBy     string // created_at (default), updated_at or name
	SortOrder  string // desc (default) or asc
}

var sortFields = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// Normalize fills defaults and rejects unknown sort fields and orders.
func (o ListOptions) Normalize() (ListOptions, error) {
	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if !sortFields[o.SortBy] {
		return o, NewFlowError("List", "", ErrInvalidSortField)
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return o, NewFlowError("List", "", ErrInvalidSortOrder)
	}

	return o, nil
}
