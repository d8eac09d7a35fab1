package mocks

import (
	"context"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockAdapter is a mock implementation of session.Adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Load(ctx context.Context, id string) (models.Flow, error) {
	args := m.Called(ctx, id)

	return args.Get(0).(models.Flow), args.Error(1)
}

func (m *MockAdapter) Save(ctx context.Context, flow models.Flow) (models.Flow, error) {
	args := m.Called(ctx, flow)

	return args.Get(0).(models.Flow), args.Error(1)
}
