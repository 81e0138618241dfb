package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	ws "storehub/internal/websocket"
)

// MockBroadcaster is a mock for the websocket.Broadcaster interface
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Publish(ctx context.Context, ev ws.Event) (int, error) {
	args := m.Called(ctx, ev)
	return args.Int(0), args.Error(1)
}

func (m *MockBroadcaster) PublishFrom(ctx context.Context, originID string, ev ws.Event, requireMembership bool) (int, error) {
	args := m.Called(ctx, originID, ev, requireMembership)
	return args.Int(0), args.Error(1)
}

func (m *MockBroadcaster) Lookup(ctx context.Context, id string) (ws.Connection, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(ws.Connection), args.Error(1)
}

// MockForwarder is a mock for EventForwarder
type MockForwarder struct {
	mock.Mock
}

func (m *MockForwarder) Forward(ctx context.Context, ev ws.Event) error {
	return m.Called(ctx, ev).Error(0)
}
