package engine

import (
	"context"
	"strconv"

	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/models"
)

// EventDispatcher publishes every action as an action.requested event for
// the CRM and dialer workers. Events are keyed by lead so a lead's actions
// stay ordered on partitioned buses.
type EventDispatcher struct {
	publisher eventbus.EventPublisher
}

func NewEventDispatcher(publisher eventbus.EventPublisher) *EventDispatcher {
	return &EventDispatcher{publisher: publisher}
}

func (d *EventDispatcher) Dispatch(ctx context.Context, flow models.Flow, record Record, action Action) error {
	return d.publisher.Publish(ctx, strconv.FormatInt(record.LeadID, 10), events.ActionRequested{
		BaseEvent:  events.NewBaseEvent(events.ActionRequestedEvent, flow.ID),
		LeadID:     record.LeadID,
		NodeID:     action.NodeID,
		ActionType: string(action.Type),
		Payload:    action.Payload,
	})
}
