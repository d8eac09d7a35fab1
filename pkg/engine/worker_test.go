package engine

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/dukex/leadflow/pkg/events"
	"github.com/dukex/leadflow/pkg/mocks"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticLister struct {
	calls int
	flows []models.Flow
	err   error
}

func (l *staticLister) ListActive(context.Context) ([]models.Flow, error) {
	l.calls++

	return l.flows, l.err
}

func leadEvent(pipelineID any) *events.LeadUpdated {
	return &events.LeadUpdated{
		BaseEvent:  events.NewBaseEvent(events.LeadUpdatedEvent, ""),
		LeadID:     42,
		Attributes: map[string]any{"pipeline_id": pipelineID},
	}
}

func TestWorker_HandleLeadUpdated(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "42", mock.Anything).Return(nil)

	lister := &staticLister{flows: []models.Flow{routingFlow()}}
	worker := NewWorker(newTestEngine(NewEventDispatcher(bus)), lister, bus, slog.Default())

	require.NoError(t, worker.HandleLeadUpdated(t.Context(), leadEvent(float64(7001))))

	bus.AssertNumberOfCalls(t, "Publish", 2)

	requested, ok := bus.Calls[0].Arguments.Get(2).(events.ActionRequested)
	require.True(t, ok)
	assert.Equal(t, int64(42), requested.LeadID)
	assert.Equal(t, "flow-1", requested.FlowID)
	assert.Equal(t, "action_1", requested.NodeID)
	assert.Equal(t, string(models.ActionChangePriority), requested.ActionType)

	executed, ok := bus.Calls[1].Arguments.Get(2).(events.FlowExecuted)
	require.True(t, ok)
	assert.True(t, executed.Complete)
	assert.Equal(t, 1, executed.Actions)
	assert.Equal(t, []string{"start_1", "condition_1", "action_1", "end_1"}, executed.Path)
}

func TestWorker_CachesActiveFlowsUntilInvalidated(t *testing.T) {
	lister := &staticLister{flows: []models.Flow{routingFlow()}}
	worker := NewWorker(newTestEngine(&recordingDispatcher{}), lister, nil, slog.Default())

	require.NoError(t, worker.HandleLeadUpdated(t.Context(), leadEvent(7002)))
	require.NoError(t, worker.HandleLeadUpdated(t.Context(), leadEvent(7002)))
	assert.Equal(t, 1, lister.calls)

	require.NoError(t, worker.HandleFlowChanged(t.Context(), &events.FlowDeactivated{}))
	require.NoError(t, worker.HandleLeadUpdated(t.Context(), leadEvent(7002)))
	assert.Equal(t, 2, lister.calls)
}

func TestWorker_Errors(t *testing.T) {
	lister := &staticLister{err: errors.New("database gone")}
	worker := NewWorker(newTestEngine(nil), lister, nil, slog.Default())

	err := worker.HandleLeadUpdated(t.Context(), leadEvent(7001))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database gone")

	err = worker.HandleLeadUpdated(t.Context(), &events.FlowCreated{})
	require.Error(t, err)
}

func TestWorker_Register(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Handle", mock.Anything, mock.Anything).Return(nil)

	worker := NewWorker(newTestEngine(nil), &staticLister{}, nil, slog.Default())
	require.NoError(t, worker.Register(bus))

	bus.AssertCalled(t, "Handle", events.LeadUpdatedEvent, mock.Anything)
	bus.AssertCalled(t, "Handle", events.FlowActivatedEvent, mock.Anything)
	bus.AssertNumberOfCalls(t, "Handle", 6)
}
