package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const copySuffix = " (copy)"

// Flow is the authoritative flow backend. Every save of an active flow is
// re-validated here regardless of what the editor checked.
type Flow struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
}

// NewFlow creates a new flow service. A nil publisher drops lifecycle events
// and a nil tracer records nothing.
func NewFlow(
	persistence persistence.Persistence,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Flow {
	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	if tracer == nil {
		tracer = otelhelper.NoopTracer()
	}

	return &Flow{
		persistence: persistence,
		publisher:   publisher,
		tracer:      tracer,
		logger:      logger.With("module", "flow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (f *Flow) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListRequest contains options for listing flows.
type ListRequest struct {
	ActiveOnly bool
	SortBy     string `validate:"omitempty,oneof=created_at updated_at name"`
	SortOrder  string `validate:"omitempty,oneof=asc desc"`
}

// List returns flow summaries, newest first unless req says otherwise.
func (f *Flow) List(ctx context.Context, req ListRequest) ([]models.FlowSummary, error) {
	flows, err := f.list(ctx, req)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.FlowSummary, 0, len(flows))
	for _, flow := range flows {
		summaries = append(summaries, flow.Summary())
	}

	return summaries, nil
}

// ListActive returns every active flow with its graph.
func (f *Flow) ListActive(ctx context.Context) ([]models.Flow, error) {
	return f.list(ctx, ListRequest{ActiveOnly: true, SortBy: "created_at", SortOrder: "asc"})
}

func (f *Flow) list(ctx context.Context, req ListRequest) ([]models.Flow, error) {
	flows, err := f.persistence.Flows().List(ctx, persistence.ListOptions{
		ActiveOnly: req.ActiveOnly,
		SortBy:     req.SortBy,
		SortOrder:  req.SortOrder,
	})
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrInvalidSortField):
			return nil, NewValidationError("List", "INVALID_SORT_FIELD",
				fmt.Sprintf("invalid sort field '%s', allowed: created_at, updated_at, name", req.SortBy),
				ErrInvalidSortField)
		case errors.Is(err, persistence.ErrInvalidSortOrder):
			return nil, NewValidationError("List", "INVALID_SORT_ORDER",
				fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
				ErrInvalidSortOrder)
		}

		return nil, fmt.Errorf("failed to list flows: %w", err)
	}

	return flows, nil
}

// Get retrieves a flow by its ID.
func (f *Flow) Get(ctx context.Context, id string) (models.Flow, error) {
	flow, err := f.persistence.Flows().GetByID(ctx, id)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return models.Flow{}, ErrFlowNotFound
		}

		return models.Flow{}, fmt.Errorf("failed to fetch flow %s: %w", id, err)
	}

	return flow, nil
}

// Validate returns the structural violations of g.
func (f *Flow) Validate(ctx context.Context, g models.Graph) []graph.Violation {
	_, span := otelhelper.StartSpan(ctx, f.tracer, "flows.validate")
	defer span.End()

	violations := graph.Validate(g)
	span.SetAttributes(attribute.Int(otelhelper.ViolationsKey, len(violations)))

	return violations
}

func (f *Flow) checkInput(op string, flow *models.Flow) error {
	flow.Name = strings.TrimSpace(flow.Name)
	if flow.Name == "" {
		return NewValidationError(op, "FLOW_NAME_REQUIRED", "flow name is required", ErrFlowNameRequired)
	}

	if flow.Graph.Nodes == nil {
		return NewValidationError(op, "INVALID_FLOW_DATA", "flow_data must contain a graph", ErrInvalidFlowData)
	}

	if flow.Graph.Edges == nil {
		flow.Graph.Edges = make(map[string]models.Edge)
	}

	return nil
}

// checkActivation refuses to store an active flow that cannot run.
func (f *Flow) checkActivation(ctx context.Context, flow models.Flow) error {
	if !flow.IsActive {
		return nil
	}

	err := graph.Check(flow.Graph)
	if err != nil {
		f.logger.InfoContext(ctx, "activation rejected", "flow_id", flow.ID, "error", err)

		return fmt.Errorf("%w: %w", ErrActivationRejected, err)
	}

	return nil
}

// Create stores a new flow. The backend assigns the id and timestamps.
func (f *Flow) Create(ctx context.Context, flow models.Flow) (models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flows.create", attribute.String(otelhelper.FlowNameKey, flow.Name))
	defer span.End()

	flow.ID = ""
	flow.CreatedAt = time.Time{}

	err := f.checkInput("Create", &flow)
	if err != nil {
		return models.Flow{}, err
	}

	err = f.checkActivation(ctx, flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Flow{}, err
	}

	err = f.persistence.Flows().Save(ctx, &flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Flow{}, fmt.Errorf("failed to create flow: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.FlowIDKey, flow.ID))
	f.publish(ctx, flow.ID, events.FlowCreated{
		BaseEvent: events.NewBaseEvent(events.FlowCreatedEvent, flow.ID),
		Name:      flow.Name,
	})

	if flow.IsActive {
		f.publishActivated(ctx, flow)
	}

	return flow, nil
}

// Update fully replaces the stored flow id with flow. CreatedAt is kept.
func (f *Flow) Update(ctx context.Context, id string, flow models.Flow) (models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flows.update", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	existing, err := f.Get(ctx, id)
	if err != nil {
		return models.Flow{}, err
	}

	flow.ID = id
	flow.CreatedAt = existing.CreatedAt

	err = f.checkInput("Update", &flow)
	if err != nil {
		return models.Flow{}, err
	}

	err = f.checkActivation(ctx, flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Flow{}, err
	}

	err = f.persistence.Flows().Save(ctx, &flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Flow{}, fmt.Errorf("failed to update flow: %w", err)
	}

	f.publish(ctx, flow.ID, events.FlowUpdated{
		BaseEvent: events.NewBaseEvent(events.FlowUpdatedEvent, flow.ID),
		Name:      flow.Name,
		NodeCount: len(flow.Graph.Nodes),
		EdgeCount: len(flow.Graph.Edges),
	})

	switch {
	case flow.IsActive && !existing.IsActive:
		f.publishActivated(ctx, flow)
	case !flow.IsActive && existing.IsActive:
		f.publishDeactivated(ctx, flow.ID)
	}

	return flow, nil
}

// Delete removes a flow by its ID.
func (f *Flow) Delete(ctx context.Context, id string) error {
	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flows.delete", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	err := f.persistence.Flows().Delete(ctx, id)
	if err != nil {
		if persistence.IsFlowNotFound(err) {
			return ErrFlowNotFound
		}

		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to delete flow: %w", err)
	}

	f.publish(ctx, id, events.FlowDeleted{BaseEvent: events.NewBaseEvent(events.FlowDeletedEvent, id)})

	return nil
}

// Duplicate stores an inactive copy of flow id named "<name> (copy)".
func (f *Flow) Duplicate(ctx context.Context, id string) (models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flows.duplicate", attribute.String(otelhelper.FlowIDKey, id))
	defer span.End()

	source, err := f.Get(ctx, id)
	if err != nil {
		return models.Flow{}, err
	}

	duplicate := source.Clone()
	duplicate.ID = ""
	duplicate.Name = source.Name + copySuffix
	duplicate.IsActive = false

	return f.Create(ctx, duplicate)
}

// Activate marks a flow active after checking it has no violations.
func (f *Flow) Activate(ctx context.Context, id string) (models.Flow, error) {
	return f.setActive(ctx, id, true)
}

// Deactivate stops the engine from running a flow.
func (f *Flow) Deactivate(ctx context.Context, id string) (models.Flow, error) {
	return f.setActive(ctx, id, false)
}

func (f *Flow) setActive(ctx context.Context, id string, active bool) (models.Flow, error) {
	ctx, span := otelhelper.StartSpan(ctx, f.tracer, "flows.set_active",
		attribute.String(otelhelper.FlowIDKey, id),
		attribute.Bool("leadflow.flow.active", active),
	)
	defer span.End()

	flow, err := f.Get(ctx, id)
	if err != nil {
		return models.Flow{}, err
	}

	if flow.IsActive == active {
		return flow, nil
	}

	flow.IsActive = active

	err = f.checkActivation(ctx, flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Flow{}, err
	}

	err = f.persistence.Flows().Save(ctx, &flow)
	if err != nil {
		otelhelper.SetError(span, err)

		return models.Flow{}, fmt.Errorf("failed to save flow %s: %w", id, err)
	}

	if active {
		f.publishActivated(ctx, flow)
	} else {
		f.publishDeactivated(ctx, flow.ID)
	}

	return flow, nil
}

func (f *Flow) publishActivated(ctx context.Context, flow models.Flow) {
	f.publish(ctx, flow.ID, events.FlowActivated{
		BaseEvent: events.NewBaseEvent(events.FlowActivatedEvent, flow.ID),
		Name:      flow.Name,
	})
}

func (f *Flow) publishDeactivated(ctx context.Context, id string) {
	f.publish(ctx, id, events.FlowDeactivated{BaseEvent: events.NewBaseEvent(events.FlowDeactivatedEvent, id)})
}

// publish does not fail the request: the flow is already stored.
func (f *Flow) publish(ctx context.Context, key string, event eventbus.Event) {
	err := f.publisher.Publish(ctx, key, event)
	if err != nil {
		f.logger.WarnContext(ctx, "failed to publish flow event",
			"event_type", event.GetType(),
			"flow_id", key,
			"error", err,
		)
	}
}
