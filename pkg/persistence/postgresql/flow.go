package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/google/uuid"
)

// FlowRepository handles flow-related database operations. The graph is
// stored as its wire document in the flow_data column.
type FlowRepository struct {
	db     *sql.DB
	codec  *wire.Codec
	logger *slog.Logger
}

// NewFlowRepository creates a new flow repository.
func NewFlowRepository(db *sql.DB, codec *wire.Codec, logger *slog.Logger) *FlowRepository {
	return &FlowRepository{db: db, codec: codec, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectFlows = `
		SELECT
			id
		  , name
		  , flow_data
		  , is_active
		  , created_at
		  , updated_at
		FROM flows
		WHERE deleted_at IS NULL
`

// buildListQuery renders the list query. Sort parts come from the Normalize allowlist.
func (r *FlowRepository) buildListQuery(opts persistence.ListOptions) (string, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return "", err
	}

	query := selectFlows

	if opts.ActiveOnly {
		query += "		  AND is_active = TRUE\n"
	}

	query += fmt.Sprintf("		ORDER BY %s %s, id %s", opts.SortBy, opts.SortOrder, opts.SortOrder)

	return query, nil
}

// List returns the flows that are not deleted.
func (r *FlowRepository) List(ctx context.Context, opts persistence.ListOptions) ([]models.Flow, error) {
	query, err := r.buildListQuery(opts)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	flows := make([]models.Flow, 0)

	for rows.Next() {
		flow, err := r.scanFlow(rows)
		if err != nil {
			return nil, err
		}

		flows = append(flows, flow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}

	return flows, nil
}

// GetByID returns a flow that is not deleted.
func (r *FlowRepository) GetByID(ctx context.Context, id string) (models.Flow, error) {
	if uuid.Validate(id) != nil {
		return models.Flow{}, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	row := r.db.QueryRowContext(ctx, selectFlows+"		  AND id = $1", id)

	flow, err := r.scanFlow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Flow{}, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return models.Flow{}, err
	}

	return flow, nil
}

func (r *FlowRepository) scanFlow(row rowScanner) (models.Flow, error) {
	var (
		flow     models.Flow
		flowData []byte
	)

	err := row.Scan(&flow.ID, &flow.Name, &flowData, &flow.IsActive, &flow.CreatedAt, &flow.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Flow{}, err
		}

		return models.Flow{}, fmt.Errorf("failed to scan flow: %w", err)
	}

	var data wire.FlowData

	err = json.Unmarshal(flowData, &data)
	if err != nil {
		return models.Flow{}, persistence.NewFlowError("GetByID", flow.ID, fmt.Errorf("%w: %w", persistence.ErrCorruptFlow, err))
	}

	flow.Graph, err = r.codec.DecodeGraph(data)
	if err != nil {
		return models.Flow{}, persistence.NewFlowError("GetByID", flow.ID, fmt.Errorf("%w: %w", persistence.ErrCorruptFlow, err))
	}

	flow.CreatedAt = flow.CreatedAt.UTC()
	flow.UpdatedAt = flow.UpdatedAt.UTC()

	return flow, nil
}

// Save upserts a flow, assigning an id and timestamps as needed.
func (r *FlowRepository) Save(ctx context.Context, flow *models.Flow) error {
	now := time.Now().UTC().Truncate(time.Microsecond)

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	} else if uuid.Validate(flow.ID) != nil {
		return persistence.NewFlowError("Save", flow.ID, fmt.Errorf("invalid flow id %q", flow.ID))
	}

	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.CreatedAt = flow.CreatedAt.UTC().Truncate(time.Microsecond)
	flow.UpdatedAt = now

	data, err := r.codec.EncodeGraph(flow.Graph)
	if err != nil {
		return fmt.Errorf("failed to encode flow %s: %w", flow.ID, err)
	}

	flowData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal flow data: %w", err)
	}

	query := `
		INSERT INTO flows (id, name, flow_data, is_active, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			flow_data = EXCLUDED.flow_data,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL
	`

	_, err = r.db.ExecContext(ctx, query,
		flow.ID,
		flow.Name,
		flowData,
		flow.IsActive,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

// Delete soft deletes a flow by setting deleted_at timestamp.
func (r *FlowRepository) Delete(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	query := `UPDATE flows SET deleted_at = NOW(), is_active = FALSE WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	return nil
}
