package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "storehub/internal/errors"
	ws "storehub/internal/websocket"
)

// HubStatsResponse is the body of GET /api/hub/stats
type HubStatsResponse struct {
	ws.HubStats
	Counters map[string]interface{} `json:"counters"`
}

// HubHandler exposes the hub's registry and topic counts
type HubHandler struct {
	hub          *ws.Hub
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewHubHandler creates a new hub handler
func NewHubHandler(hub *ws.Hub, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *HubHandler {
	return &HubHandler{
		hub:          hub,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "hub")),
	}
}

// RegisterRoutes registers the hub routes
func (h *HubHandler) RegisterRoutes(r chi.Router) {
	r.Route("/hub", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
	})
}

// GetStats handles GET /api/hub/stats
func (h *HubHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.hub.Stats(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, apperrors.NewUnavailableError("websocket hub is not running", err).WithCode("HUB_UNAVAILABLE"))
		return
	}

	render.JSON(w, r, HubStatsResponse{
		HubStats: stats,
		Counters: h.hub.Metrics().GetSnapshot(),
	})
}
