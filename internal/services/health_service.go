package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	apperrors "storehub/internal/errors"
	ws "storehub/internal/websocket"
)

// Pinger is satisfied by session stores and database handles
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsProvider is satisfied by *websocket.Hub
type StatsProvider interface {
	Stats(ctx context.Context) (ws.HubStats, error)
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	store     Pinger
	hub       StatsProvider
	bridge    Pinger
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// NewHealthService creates a health service. bridge may be nil when the
// catalog bridge is disabled.
func NewHealthService(version, buildTime string, store Pinger, hub StatsProvider, bridge Pinger, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.Bool("bridge", bridge != nil))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		store:     store,
		hub:       hub,
		bridge:    bridge,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status with hub counters
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	if hs.hub != nil {
		stats, err := hs.hub.Stats(ctx)
		if err != nil {
			status.Status = "degraded"
			status.Services["websocket"] = ServiceHealth{Status: "not_ready", Message: err.Error()}
		} else {
			status.Services["websocket"] = stats
		}
	}

	hs.logger.Debug("HealthCheck: completed", slog.String("status", status.Status))
	return status
}

// ReadinessCheck reports whether the hub, session store and bridge are usable
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]interface{}),
	}

	status.Services["websocket"] = hs.checkHub(ctx)
	status.Services["session_store"] = checkPing(ctx, hs.store, "session store", apperrors.NewStorageError)
	if hs.bridge != nil {
		status.Services["catalog_bridge"] = checkPing(ctx, hs.bridge, "catalog bridge", apperrors.NewNetworkError)
	}

	for _, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			break
		}
	}

	if status.Status != "ready" {
		hs.logger.Warn("ReadinessCheck: not ready", slog.Any("services", status.Services))
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":      hs.version,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"uptime":       time.Since(hs.startTime).Seconds(),
		"start_time":   hs.startTime.Format(time.RFC3339),
		"current_time": time.Now().Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

func (hs *HealthService) checkHub(ctx context.Context) ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: "not_ready", Message: "hub not initialized"}
	}
	stats, err := hs.hub.Stats(ctx)
	if err != nil {
		return ServiceHealth{Status: "not_ready", Message: err.Error()}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d connections", stats.Connections),
		Uptime:  time.Since(hs.startTime).String(),
	}
}

func checkPing(ctx context.Context, p Pinger, name string, classify func(string, error) *apperrors.AppError) ServiceHealth {
	if p == nil {
		return ServiceHealth{Status: "not_ready", Message: name + " not initialized"}
	}
	if err := p.Ping(ctx); err != nil {
		return ServiceHealth{Status: "not_ready", Message: classify(name+" ping failed", err).Error()}
	}
	return ServiceHealth{Status: "ready"}
}
