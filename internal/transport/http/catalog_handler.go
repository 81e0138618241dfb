package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "storehub/internal/errors"
	"storehub/internal/middleware"
	"storehub/internal/services"
)

// CatalogPublisher is the part of the catalog relay the ingest endpoint needs
type CatalogPublisher interface {
	Publish(ctx context.Context, kind string, payload interface{}) (services.PublishResult, error)
}

// CatalogEventRequest is the body of POST /api/catalog/events
type CatalogEventRequest struct {
	Kind    string          `json:"kind" validate:"required,oneof=catalog-created catalog-updated catalog-deleted"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// CatalogHandler lets the storefront report product mutations
type CatalogHandler struct {
	relay        CatalogPublisher
	validation   *middleware.ValidationMiddleware
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(relay CatalogPublisher, validation *middleware.ValidationMiddleware, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		relay:        relay,
		validation:   validation,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "catalog")),
	}
}

// RegisterRoutes registers the catalog routes
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Route("/catalog", func(r chi.Router) {
		r.Post("/events", h.PublishEvent)
	})
}

// PublishEvent handles POST /api/catalog/events
func (h *CatalogHandler) PublishEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CatalogEventRequest
	if !h.validation.DecodeJSON(w, r, &req) {
		return
	}

	if !isJSONObject(req.Payload) {
		h.errorHandler.HandleError(w, r, apperrors.ErrValidation("payload", "payload must be a JSON object"))
		return
	}

	result, err := h.relay.Publish(ctx, req.Kind, req.Payload)
	if err != nil {
		h.logger.WarnContext(ctx, "Catalog event rejected",
			slog.String("kind", req.Kind),
			slog.String("error", err.Error()))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "Catalog event accepted",
		slog.String("kind", result.Kind),
		slog.Int("delivered", result.Delivered),
		slog.Bool("bridged", result.Bridged))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, result)
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
