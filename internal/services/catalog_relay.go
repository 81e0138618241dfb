package services

import (
	"context"
	"log/slog"

	apperrors "storehub/internal/errors"
	"storehub/internal/infrastructure"
	ws "storehub/internal/websocket"
)

// Catalog event sources, used as a metric label
const (
	SourceLocal  = "local"
	SourceBridge = "bridge"
)

// CodeUnknownKind rejects catalog events with an unsupported kind
const CodeUnknownKind = "UNKNOWN_KIND"

// EventForwarder carries a catalog event to every instance, this one included
type EventForwarder interface {
	Forward(ctx context.Context, ev ws.Event) error
}

// PublishResult reports what happened to one catalog event. When Bridged is
// true delivery happens asynchronously on every instance and Delivered is 0.
type PublishResult struct {
	Kind      string `json:"kind"`
	Delivered int    `json:"delivered"`
	Bridged   bool   `json:"bridged"`
}

// CatalogRelay publishes product mutations on the catalog topic
type CatalogRelay struct {
	hub       ws.Broadcaster
	forwarder EventForwarder
	metrics   *infrastructure.BusinessMetrics
	logger    *slog.Logger
}

// NewCatalogRelay creates a relay publishing straight to hub
func NewCatalogRelay(hub ws.Broadcaster, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *CatalogRelay {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &CatalogRelay{
		hub:     hub,
		metrics: metrics,
		logger:  infrastructure.WithComponent(logger, "services.catalog_relay"),
	}
}

// SetForwarder routes events through f instead of the local hub. Call before serving.
func (r *CatalogRelay) SetForwarder(f EventForwarder) {
	r.forwarder = f
}

// ValidCatalogKind reports whether kind is a catalog mutation kind
func ValidCatalogKind(kind string) bool {
	switch kind {
	case ws.KindCatalogCreated, ws.KindCatalogUpdated, ws.KindCatalogDeleted:
		return true
	}
	return false
}

// OnCatalogMutation is the in-process hook for the HTTP layer. It never fails
// the caller; problems are logged.
func (r *CatalogRelay) OnCatalogMutation(ctx context.Context, kind string, payload interface{}) {
	ctx = infrastructure.EnsureTraceID(ctx)
	if _, err := r.Publish(ctx, kind, payload); err != nil {
		infrastructure.WithError(r.logger, err).WarnContext(ctx, "Catalog event not published",
			slog.String("kind", kind))
	}
}

// Publish validates and publishes a catalog event, returning any error
func (r *CatalogRelay) Publish(ctx context.Context, kind string, payload interface{}) (PublishResult, error) {
	if !ValidCatalogKind(kind) {
		return PublishResult{}, apperrors.NewValidationError("unknown catalog event kind: " + kind).
			WithCode(CodeUnknownKind)
	}

	ev, err := ws.NewEvent(ws.CatalogTopic, kind, ws.OriginSystem, payload)
	if err != nil {
		return PublishResult{}, apperrors.NewValidationError("catalog payload is not serializable").
			WithContext("cause", err.Error())
	}

	if r.forwarder != nil {
		err := r.forwarder.Forward(ctx, ev)
		if err == nil {
			return PublishResult{Kind: kind, Bridged: true}, nil
		}
		infrastructure.WithError(r.logger, err).WarnContext(ctx, "Catalog bridge unavailable, publishing locally",
			slog.String("kind", kind))
	}

	delivered, err := r.Deliver(ctx, ev, SourceLocal)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Kind: kind, Delivered: delivered}, nil
}

// Deliver fans ev out to this instance's catalog subscribers
func (r *CatalogRelay) Deliver(ctx context.Context, ev ws.Event, source string) (int, error) {
	delivered, err := r.hub.Publish(ctx, ev)
	if err != nil {
		return 0, err
	}
	infrastructure.RecordCatalogEvent(ctx, r.metrics, ev.Kind, source)

	r.logger.DebugContext(ctx, "Catalog event delivered",
		slog.String("kind", ev.Kind),
		slog.String("source", source),
		slog.Int("delivered", delivered))
	return delivered, nil
}
