package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/models"
)

// FlowLister returns the flows the engine should run.
type FlowLister interface {
	ListActive(ctx context.Context) ([]models.Flow, error)
}

// Worker runs every active flow for each lead.updated event. Active flows are
// cached until a flow lifecycle event arrives.
type Worker struct {
	engine    *Engine
	flows     FlowLister
	publisher eventbus.EventPublisher
	logger    *slog.Logger

	mu     sync.Mutex
	cached []models.Flow
	stale  bool
}

func NewWorker(engine *Engine, flows FlowLister, publisher eventbus.EventPublisher, logger *slog.Logger) *Worker {
	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	return &Worker{
		engine:    engine,
		flows:     flows,
		publisher: publisher,
		logger:    logger.With("module", "engine_worker"),
		stale:     true,
	}
}

// Register subscribes the worker to the events it consumes.
func (w *Worker) Register(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.LeadUpdatedEvent, w.HandleLeadUpdated)
	if err != nil {
		return fmt.Errorf("failed to register lead handler: %w", err)
	}

	for _, eventType := range []events.EventType{
		events.FlowCreatedEvent,
		events.FlowUpdatedEvent,
		events.FlowDeletedEvent,
		events.FlowActivatedEvent,
		events.FlowDeactivatedEvent,
	} {
		err = bus.Handle(eventType, w.HandleFlowChanged)
		if err != nil {
			return fmt.Errorf("failed to register %s handler: %w", eventType, err)
		}
	}

	return nil
}

// HandleFlowChanged drops the cached flows.
func (w *Worker) HandleFlowChanged(ctx context.Context, event any) error {
	w.mu.Lock()
	w.stale = true
	w.mu.Unlock()

	w.logger.DebugContext(ctx, "active flows invalidated", "event", fmt.Sprintf("%T", event))

	return nil
}

func (w *Worker) activeFlows(ctx context.Context) ([]models.Flow, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stale {
		return w.cached, nil
	}

	flows, err := w.flows.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active flows: %w", err)
	}

	w.cached = flows
	w.stale = false

	w.logger.InfoContext(ctx, "active flows loaded", "count", len(flows))

	return flows, nil
}

// HandleLeadUpdated runs the active flows for the lead in event and
// publishes a flow.executed summary per completed run.
func (w *Worker) HandleLeadUpdated(ctx context.Context, event any) error {
	lead, ok := event.(*events.LeadUpdated)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	flows, err := w.activeFlows(ctx)
	if err != nil {
		return err
	}

	record := Record{LeadID: lead.LeadID, Attributes: lead.Attributes}

	for _, result := range w.engine.ExecuteAll(ctx, flows, record) {
		err = w.publisher.Publish(ctx, strconv.FormatInt(lead.LeadID, 10), events.FlowExecuted{
			BaseEvent: events.NewBaseEvent(events.FlowExecutedEvent, result.FlowID),
			LeadID:    lead.LeadID,
			Path:      result.Path,
			Actions:   len(result.Actions),
			Complete:  result.Complete,
			Duration:  result.Duration,
		})
		if err != nil {
			w.logger.WarnContext(ctx, "failed to publish execution summary", "flow_id", result.FlowID, "error", err)
		}
	}

	return nil
}
