package http

import (
	"net/http"

	"github.com/go-chi/render"

	ws "storehub/internal/websocket"
)

// MetricsHandler serves /metrics. With a Prometheus exporter configured it
// serves the exporter's registry; otherwise the hub's counters as JSON.
type MetricsHandler struct {
	prometheus http.Handler
	hub        *ws.Hub
}

// NewMetricsHandler creates a new metrics handler. prometheus may be nil.
func NewMetricsHandler(prometheus http.Handler, hub *ws.Hub) *MetricsHandler {
	return &MetricsHandler{prometheus: prometheus, hub: hub}
}

// ServeHTTP handles GET /metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.prometheus != nil {
		h.prometheus.ServeHTTP(w, r)
		return
	}
	render.JSON(w, r, h.hub.Metrics().GetSnapshot())
}
