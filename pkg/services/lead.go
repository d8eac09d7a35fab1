package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/events"
)

// Leads forwards CRM lead changes to the engine as lead.updated events.
type Leads struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewLeads(publisher eventbus.EventPublisher, logger *slog.Logger) *Leads {
	if publisher == nil {
		publisher = eventbus.Discard{}
	}

	return &Leads{
		publisher: publisher,
		logger:    logger.With("module", "lead_service"),
	}
}

// Updated publishes the new state of a lead. Unlike flow lifecycle events the
// publish error is returned, since the event is the only effect.
func (l *Leads) Updated(ctx context.Context, leadID int64, attributes map[string]any) error {
	if leadID <= 0 {
		return NewValidationError("lead_updated", "INVALID_LEAD_ID", "lead id must be positive", ErrInvalidRequest)
	}

	if attributes == nil {
		attributes = map[string]any{}
	}

	err := l.publisher.Publish(ctx, strconv.FormatInt(leadID, 10), events.LeadUpdated{
		BaseEvent:  events.NewBaseEvent(events.LeadUpdatedEvent, ""),
		LeadID:     leadID,
		Attributes: attributes,
	})
	if err != nil {
		return fmt.Errorf("failed to publish lead update: %w", err)
	}

	l.logger.DebugContext(ctx, "lead update published", "lead_id", leadID, "attributes", len(attributes))

	return nil
}
