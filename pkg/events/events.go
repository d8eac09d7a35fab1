// Package events defines the messages exchanged between the API, the engine
// and the CRM/dialer workers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "leadflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Flow lifecycle events, published by the API.
	FlowCreatedEvent     EventType = "flow.created"
	FlowUpdatedEvent     EventType = "flow.updated"
	FlowDeletedEvent     EventType = "flow.deleted"
	FlowActivatedEvent   EventType = "flow.activated"
	FlowDeactivatedEvent EventType = "flow.deactivated"

	// LeadUpdatedEvent carries a CRM lead snapshot to the engine.
	LeadUpdatedEvent EventType = "lead.updated"

	// Engine output.
	ActionRequestedEvent EventType = "action.requested"
	FlowExecutedEvent    EventType = "flow.executed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, flowID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		FlowID:    flowID,
		Metadata:  make(map[string]any),
	}
}

type FlowCreated struct {
	BaseEvent

	Name string `json:"name"`
}

func (FlowCreated) GetType() EventType {
	return FlowCreatedEvent
}

type FlowUpdated struct {
	BaseEvent

	Name      string `json:"name"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

func (FlowUpdated) GetType() EventType {
	return FlowUpdatedEvent
}

type FlowDeleted struct {
	BaseEvent
}

func (FlowDeleted) GetType() EventType {
	return FlowDeletedEvent
}

type FlowActivated struct {
	BaseEvent

	Name string `json:"name"`
}

func (FlowActivated) GetType() EventType {
	return FlowActivatedEvent
}

type FlowDeactivated struct {
	BaseEvent
}

func (FlowDeactivated) GetType() EventType {
	return FlowDeactivatedEvent
}

// LeadUpdated is emitted when a lead changes in the CRM. Attributes holds the
// record the engine evaluates conditions against: pipeline_id, status_id,
// bucket_id, scheduler_id, scheduler_step, dial_attempts and custom field
// values keyed by field id.
type LeadUpdated struct {
	BaseEvent

	LeadID     int64          `json:"lead_id"`
	Attributes map[string]any `json:"attributes"`
}

func (LeadUpdated) GetType() EventType {
	return LeadUpdatedEvent
}

// ActionRequested asks a CRM or dialer worker to perform one action node.
type ActionRequested struct {
	BaseEvent

	LeadID     int64          `json:"lead_id"`
	NodeID     string         `json:"node_id"`
	ActionType string         `json:"action_type"`
	Payload    map[string]any `json:"payload"`
}

func (ActionRequested) GetType() EventType {
	return ActionRequestedEvent
}

// FlowExecuted summarises one engine run of a flow for one lead.
type FlowExecuted struct {
	BaseEvent

	LeadID   int64         `json:"lead_id"`
	Path     []string      `json:"path"`
	Actions  int           `json:"actions"`
	Complete bool          `json:"complete"`
	Duration time.Duration `json:"duration"`
}

func (FlowExecuted) GetType() EventType {
	return FlowExecutedEvent
}
