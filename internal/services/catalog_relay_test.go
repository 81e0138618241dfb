package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "storehub/internal/errors"
	"storehub/internal/shared/testutil"
	ws "storehub/internal/websocket"
)

func isCatalogEvent(kind string) interface{} {
	return mock.MatchedBy(func(ev ws.Event) bool {
		return ev.Topic == ws.CatalogTopic && ev.Kind == kind && ev.OriginID == ws.OriginSystem
	})
}

func TestValidCatalogKind(t *testing.T) {
	assert.True(t, ValidCatalogKind(ws.KindCatalogCreated))
	assert.True(t, ValidCatalogKind(ws.KindCatalogUpdated))
	assert.True(t, ValidCatalogKind(ws.KindCatalogDeleted))
	assert.False(t, ValidCatalogKind(ws.KindChatMessage))
	assert.False(t, ValidCatalogKind(""))
}

func TestCatalogRelayPublish(t *testing.T) {
	ctx := context.Background()
	hub := new(MockBroadcaster)
	hub.On("Publish", ctx, isCatalogEvent(ws.KindCatalogCreated)).Return(3, nil)

	relay := NewCatalogRelay(hub, nil, discardLogger())
	result, err := relay.Publish(ctx, ws.KindCatalogCreated, map[string]interface{}{"id": "p1", "price": 10})

	require.NoError(t, err)
	assert.Equal(t, PublishResult{Kind: ws.KindCatalogCreated, Delivered: 3}, result)
	hub.AssertExpectations(t)

	ev := hub.Calls[0].Arguments.Get(1).(ws.Event)
	assert.JSONEq(t, `{"id":"p1","price":10}`, string(ev.Payload))
}

func TestCatalogRelayZeroSubscribers(t *testing.T) {
	ctx := context.Background()
	hub := new(MockBroadcaster)
	hub.On("Publish", ctx, mock.Anything).Return(0, nil)

	relay := NewCatalogRelay(hub, nil, discardLogger())
	result, err := relay.Publish(ctx, ws.KindCatalogDeleted, map[string]string{"id": "p1"})

	require.NoError(t, err)
	assert.Equal(t, 0, result.Delivered)
}

func TestCatalogRelayRejectsUnknownKind(t *testing.T) {
	hub := new(MockBroadcaster)
	relay := NewCatalogRelay(hub, nil, discardLogger())

	_, err := relay.Publish(context.Background(), "catalog-renamed", nil)
	assertCode(t, err, apperrors.ErrTypeValidation, CodeUnknownKind)
	hub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCatalogRelayRejectsUnserializablePayload(t *testing.T) {
	hub := new(MockBroadcaster)
	relay := NewCatalogRelay(hub, nil, discardLogger())

	_, err := relay.Publish(context.Background(), ws.KindCatalogUpdated, make(chan int))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	hub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCatalogRelayPropagatesHubError(t *testing.T) {
	ctx := context.Background()
	hub := new(MockBroadcaster)
	hub.On("Publish", ctx, mock.Anything).Return(0, apperrors.NewUnavailableError("hub is stopped", nil))

	relay := NewCatalogRelay(hub, nil, discardLogger())
	_, err := relay.Publish(ctx, ws.KindCatalogUpdated, nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeUnavailable))
}

func TestCatalogRelayUsesForwarder(t *testing.T) {
	ctx := context.Background()
	hub := new(MockBroadcaster)
	fwd := new(MockForwarder)
	fwd.On("Forward", ctx, isCatalogEvent(ws.KindCatalogUpdated)).Return(nil)

	relay := NewCatalogRelay(hub, nil, discardLogger())
	relay.SetForwarder(fwd)

	result, err := relay.Publish(ctx, ws.KindCatalogUpdated, map[string]string{"id": "p1"})
	require.NoError(t, err)
	assert.True(t, result.Bridged)
	fwd.AssertExpectations(t)
	hub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestCatalogRelayFallsBackWhenForwarderFails(t *testing.T) {
	ctx := context.Background()
	hub := new(MockBroadcaster)
	hub.On("Publish", ctx, mock.Anything).Return(1, nil)
	fwd := new(MockForwarder)
	fwd.On("Forward", ctx, mock.Anything).Return(errors.New("redis down"))

	logger, logs := testutil.NewLogCapture()
	relay := NewCatalogRelay(hub, nil, logger)
	relay.SetForwarder(fwd)

	result, err := relay.Publish(ctx, ws.KindCatalogUpdated, nil)
	require.NoError(t, err)
	assert.False(t, result.Bridged)
	assert.Equal(t, 1, result.Delivered)

	rec := logs.AssertLogged(t, slog.LevelWarn, "publishing locally")
	assert.Equal(t, ws.KindCatalogUpdated, rec.Attrs["kind"])
	assert.Equal(t, "redis down", rec.Attrs["error"])
	logs.AssertAttr(t, "Catalog event delivered", "source", SourceLocal)
}

func TestCatalogRelayOnCatalogMutationSwallowsErrors(t *testing.T) {
	hub := new(MockBroadcaster)
	logger, logs := testutil.NewLogCapture()
	relay := NewCatalogRelay(hub, nil, logger)

	assert.NotPanics(t, func() {
		relay.OnCatalogMutation(context.Background(), "bogus", nil)
	})
	hub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)

	rec := logs.AssertLogged(t, slog.LevelWarn, "Catalog event not published")
	assert.Equal(t, "bogus", rec.Attrs["kind"])
	assert.Contains(t, rec.Attrs["error"], "VALIDATION")
	assert.Equal(t, "services.catalog_relay", rec.Attrs["component"])
}
