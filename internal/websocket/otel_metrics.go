package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "storehub.websocket"
)

// OTelMetrics provides OpenTelemetry instruments for the hub. All methods are
// safe on a nil receiver so callers need not check whether telemetry is on.
type OTelMetrics struct {
	// Connection metrics
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram

	// Frame metrics
	framesTotal   metric.Int64Counter
	frameBytes    metric.Int64Counter
	inboundErrors metric.Int64Counter

	// Topic metrics
	subscriptionsActive metric.Int64UpDownCounter
	topicsActive        metric.Int64Gauge
	publishesTotal      metric.Int64Counter
	deliveriesTotal     metric.Int64Counter
	droppedFrames       metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(meterName)
	m := &OTelMetrics{}
	var err error

	if m.connectionsTotal, err = meter.Int64Counter(
		"hub_ws_connections_total",
		metric.WithDescription("Total number of registered WebSocket connections"),
	); err != nil {
		return nil, err
	}

	if m.connectionsActive, err = meter.Int64UpDownCounter(
		"hub_ws_connections_active",
		metric.WithDescription("Number of registered WebSocket connections"),
	); err != nil {
		return nil, err
	}

	if m.connectionDuration, err = meter.Float64Histogram(
		"hub_ws_connection_duration_seconds",
		metric.WithDescription("Lifetime of WebSocket connections"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.framesTotal, err = meter.Int64Counter(
		"hub_ws_frames_total",
		metric.WithDescription("Frames read from or written to connections"),
	); err != nil {
		return nil, err
	}

	if m.frameBytes, err = meter.Int64Counter(
		"hub_ws_frame_bytes_total",
		metric.WithDescription("Bytes read from or written to connections"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.inboundErrors, err = meter.Int64Counter(
		"hub_ws_inbound_errors_total",
		metric.WithDescription("Inbound frames rejected, by error code"),
	); err != nil {
		return nil, err
	}

	if m.subscriptionsActive, err = meter.Int64UpDownCounter(
		"hub_subscriptions_active",
		metric.WithDescription("Current topic subscriptions"),
	); err != nil {
		return nil, err
	}

	if m.topicsActive, err = meter.Int64Gauge(
		"hub_topics_active",
		metric.WithDescription("Topics that currently exist"),
	); err != nil {
		return nil, err
	}

	if m.publishesTotal, err = meter.Int64Counter(
		"hub_publishes_total",
		metric.WithDescription("Events fanned out by the hub"),
	); err != nil {
		return nil, err
	}

	if m.deliveriesTotal, err = meter.Int64Counter(
		"hub_deliveries_total",
		metric.WithDescription("Frames enqueued to subscriber buffers"),
	); err != nil {
		return nil, err
	}

	if m.droppedFrames, err = meter.Int64Counter(
		"hub_dropped_frames_total",
		metric.WithDescription("Frames dropped because a subscriber buffer was full"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func identityLabel(anonymous bool) attribute.KeyValue {
	if anonymous {
		return attribute.String("identity", "anonymous")
	}
	return attribute.String("identity", "authenticated")
}

// RecordConnection records a registration
func (m *OTelMetrics) RecordConnection(ctx context.Context, anonymous bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(identityLabel(anonymous))
	m.connectionsTotal.Add(ctx, 1, attrs)
	m.connectionsActive.Add(ctx, 1, attrs)
}

// RecordDisconnection records a removal with its reason (closed, slow_consumer, shutdown)
func (m *OTelMetrics) RecordDisconnection(ctx context.Context, anonymous bool, duration time.Duration, reason string) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1, metric.WithAttributes(identityLabel(anonymous)))
	m.connectionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		identityLabel(anonymous),
		attribute.String("reason", reason),
	))
}

// RecordFrame records one frame in direction "inbound" or "outbound"
func (m *OTelMetrics) RecordFrame(ctx context.Context, direction string, size int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("direction", direction))
	m.framesTotal.Add(ctx, 1, attrs)
	m.frameBytes.Add(ctx, size, attrs)
}

// RecordInboundError records a rejected inbound frame
func (m *OTelMetrics) RecordInboundError(ctx context.Context, frameType, code string) {
	if m == nil {
		return
	}
	m.inboundErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", frameType),
		attribute.String("code", code),
	))
}

// RecordSubscription records a join (+1) or leave (-1)
func (m *OTelMetrics) RecordSubscription(ctx context.Context, topic string, delta int64) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Add(ctx, delta, metric.WithAttributes(attribute.String("topic_kind", topicKind(topic))))
}

// RecordTopicCount records how many topics currently exist
func (m *OTelMetrics) RecordTopicCount(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.topicsActive.Record(ctx, count)
}

// RecordPublish records one fan-out
func (m *OTelMetrics) RecordPublish(ctx context.Context, topic, kind string, delivered, dropped int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("topic_kind", topicKind(topic)),
		attribute.String("kind", kind),
	)
	m.publishesTotal.Add(ctx, 1, attrs)
	m.deliveriesTotal.Add(ctx, int64(delivered), attrs)
	if dropped > 0 {
		m.droppedFrames.Add(ctx, int64(dropped), attrs)
	}
}

var globalOTelMetrics atomic.Pointer[OTelMetrics]

// InitOTelMetrics creates the global instruments. Call after the meter provider is installed.
func InitOTelMetrics() error {
	metrics, err := NewOTelMetrics()
	if err != nil {
		return err
	}
	globalOTelMetrics.Store(metrics)
	return nil
}

// GetOTelMetrics returns the global instruments, or nil before InitOTelMetrics
func GetOTelMetrics() *OTelMetrics {
	return globalOTelMetrics.Load()
}
