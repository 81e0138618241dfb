package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetricsNilSafe(t *testing.T) {
	var m *OTelMetrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordConnection(ctx, true)
		m.RecordDisconnection(ctx, true, time.Second, reasonClosed)
		m.RecordFrame(ctx, "inbound", 10)
		m.RecordInboundError(ctx, TypeChatSend, "RATE_LIMITED")
		m.RecordSubscription(ctx, CatalogTopic, 1)
		m.RecordTopicCount(ctx, 1)
		m.RecordPublish(ctx, CatalogTopic, KindCatalogCreated, 1, 0)
	})
}

// withMeterProvider installs an SDK meter provider backed by a manual reader
// and initializes the global hub instruments against it.
func withMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	previousProvider := otel.GetMeterProvider()
	previousMetrics := GetOTelMetrics()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	require.NoError(t, InitOTelMetrics())

	t.Cleanup(func() {
		globalOTelMetrics.Store(previousMetrics)
		otel.SetMeterProvider(previousProvider)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestInitOTelMetrics(t *testing.T) {
	withMeterProvider(t)
	assert.NotNil(t, GetOTelMetrics())
}

func TestOTelMetricsRecordedByHub(t *testing.T) {
	reader := withMeterProvider(t)
	hub := startHub(t)
	ctx := context.Background()

	a := registerClient(t, hub, newTestClient(hub, member("a"), 8))
	b := registerClient(t, hub, newTestClient(hub, member("b"), 8))
	require.NoError(t, hub.Subscribe(ctx, a, CatalogTopic))
	require.NoError(t, hub.Subscribe(ctx, b, CatalogTopic))

	_, err := hub.Publish(ctx, catalogEvent(t, 1))
	require.NoError(t, err)
	hub.Unregister(b)
	_, err = hub.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), collectSum(t, reader, "hub_ws_connections_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "hub_ws_connections_active"))
	assert.Equal(t, int64(1), collectSum(t, reader, "hub_publishes_total"))
	assert.Equal(t, int64(2), collectSum(t, reader, "hub_deliveries_total"))
	assert.Equal(t, int64(1), collectSum(t, reader, "hub_subscriptions_active"))
}
