package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_GetType(t *testing.T) {
	tests := []struct {
		event interface{ GetType() EventType }
		want  EventType
	}{
		{FlowCreated{}, FlowCreatedEvent},
		{FlowUpdated{}, FlowUpdatedEvent},
		{FlowDeleted{}, FlowDeletedEvent},
		{FlowActivated{}, FlowActivatedEvent},
		{FlowDeactivated{}, FlowDeactivatedEvent},
		{LeadUpdated{}, LeadUpdatedEvent},
		{ActionRequested{}, ActionRequestedEvent},
		{FlowExecuted{}, FlowExecutedEvent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.GetType())
	}
}

func TestNewBaseEvent(t *testing.T) {
	event := NewBaseEvent(FlowActivatedEvent, "flow-1")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, FlowActivatedEvent, event.Type)
	assert.Equal(t, "flow-1", event.FlowID)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotEqual(t, event.ID, NewBaseEvent(FlowActivatedEvent, "flow-1").ID)
}

func TestActionRequested_JSONSerialization(t *testing.T) {
	original := ActionRequested{
		BaseEvent:  NewBaseEvent(ActionRequestedEvent, "flow-1"),
		LeadID:     42,
		NodeID:     "action_1",
		ActionType: "add_to_bucket",
		Payload: map[string]any{
			"bucket_id": "b-1",
			"priority":  float64(80),
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"action.requested"`)
	assert.Contains(t, string(data), `"lead_id":42`)
	assert.Contains(t, string(data), `"action_type":"add_to_bucket"`)

	var decoded ActionRequested

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.NodeID, decoded.NodeID)
	assert.Equal(t, original.Payload, decoded.Payload)
}

func TestLeadUpdated_JSONSerialization(t *testing.T) {
	data := []byte(`{"id":"e1","type":"lead.updated","timestamp":"2024-01-01T00:00:00Z",
		"lead_id":7,"attributes":{"pipeline_id":7001,"512":"vip customer"}}`)

	var event LeadUpdated

	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, int64(7), event.LeadID)
	assert.Equal(t, float64(7001), event.Attributes["pipeline_id"])
	assert.Equal(t, "vip customer", event.Attributes["512"])
}
