package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"storehub/internal/config"
	apperrors "storehub/internal/errors"
	"storehub/internal/infrastructure"
	ws "storehub/internal/websocket"
)

// bridgeMessage is the pub/sub envelope for one catalog event
type bridgeMessage struct {
	Instance  string          `json:"instance"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Deliverer hands a bridged event to local subscribers
type Deliverer interface {
	Deliver(ctx context.Context, ev ws.Event, source string) (int, error)
}

// CatalogBridge fans catalog events out through a Redis channel. Every
// instance, the publishing one included, delivers what it receives to its
// own catalog subscribers.
type CatalogBridge struct {
	client         *redis.Client
	channel        string
	instance       string
	local          Deliverer
	reconnectDelay time.Duration
	maxDelay       time.Duration
	logger         *slog.Logger

	readyOnce  sync.Once
	ready      chan struct{}
	subscribed atomic.Bool
}

// NewCatalogBridge creates a bridge; Run must be started for it to deliver
func NewCatalogBridge(client *redis.Client, cfg config.BroadcastConfig, local Deliverer, logger *slog.Logger) *CatalogBridge {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = config.DefaultBroadcastChannel
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := cfg.ReconnectMaxDelay
	if maxDelay < delay {
		maxDelay = 30 * time.Second
	}
	instance := uuid.NewString()

	return &CatalogBridge{
		client:         client,
		channel:        channel,
		instance:       instance,
		local:          local,
		reconnectDelay: delay,
		maxDelay:       maxDelay,
		logger: infrastructure.WithComponent(logger, "services.catalog_bridge").
			With(slog.String("instance", instance)),
		ready: make(chan struct{}),
	}
}

// Ready is closed once the first subscription is confirmed
func (b *CatalogBridge) Ready() <-chan struct{} {
	return b.ready
}

// Ping checks the redis connection
func (b *CatalogBridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Subscribed reports whether this instance is currently listening on the channel
func (b *CatalogBridge) Subscribed() bool {
	return b.subscribed.Load()
}

// Forward publishes ev on the bridge channel. It refuses while this instance
// is not subscribed, since its own catalog subscribers would never see ev.
func (b *CatalogBridge) Forward(ctx context.Context, ev ws.Event) error {
	if !b.subscribed.Load() {
		return apperrors.NewUnavailableError("catalog bridge is not subscribed", nil).
			WithContext("channel", b.channel)
	}
	data, err := json.Marshal(bridgeMessage{
		Instance:  b.instance,
		Kind:      ev.Kind,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp.UnixMilli(),
	})
	if err != nil {
		return apperrors.NewValidationError("catalog event is not serializable")
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return apperrors.NewNetworkError("publish catalog event to redis", err).
			WithContext("channel", b.channel)
	}
	return nil
}

// Run keeps a subscription open until ctx is cancelled
func (b *CatalogBridge) Run(ctx context.Context) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.reconnectDelay
	eb.MaxInterval = b.maxDelay

	for {
		err := b.listen(ctx, eb.Reset)
		if ctx.Err() != nil {
			b.logger.InfoContext(ctx, "Catalog bridge stopped")
			return nil
		}

		wait := eb.NextBackOff()
		infrastructure.WithError(b.logger, err).WarnContext(ctx, "Catalog bridge subscription lost, retrying",
			slog.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (b *CatalogBridge) listen(ctx context.Context, onSubscribed func()) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return apperrors.NewNetworkError("subscribe to catalog channel", err)
	}
	b.subscribed.Store(true)
	defer b.subscribed.Store(false)
	onSubscribed()
	b.readyOnce.Do(func() { close(b.ready) })
	b.logger.InfoContext(ctx, "Catalog bridge subscribed", slog.String("channel", b.channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return apperrors.NewNetworkError("catalog channel closed", nil)
			}
			b.handle(ctx, msg.Payload)
		}
	}
}

func (b *CatalogBridge) handle(ctx context.Context, raw string) {
	// each bridged message gets its own trace id for log correlation
	ctx = infrastructure.EnsureTraceID(ctx)

	var msg bridgeMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		infrastructure.WithError(b.logger, err).WarnContext(ctx, "Malformed catalog bridge message")
		return
	}
	if !ValidCatalogKind(msg.Kind) {
		b.logger.WarnContext(ctx, "Catalog bridge message with unknown kind", slog.String("kind", msg.Kind))
		return
	}

	ev := ws.Event{
		Topic:    ws.CatalogTopic,
		Kind:     msg.Kind,
		Payload:  msg.Payload,
		OriginID: ws.OriginSystem,
	}
	if msg.Timestamp > 0 {
		ev.Timestamp = time.UnixMilli(msg.Timestamp)
	}

	if _, err := b.local.Deliver(ctx, ev, SourceBridge); err != nil {
		infrastructure.WithError(b.logger, err).WarnContext(ctx, "Bridged catalog event not delivered",
			slog.String("kind", msg.Kind),
			slog.String("from", msg.Instance))
	}
}
