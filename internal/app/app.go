package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"storehub/internal/config"
	"storehub/internal/database"
	apperrors "storehub/internal/errors"
	"storehub/internal/infrastructure"
	customMiddleware "storehub/internal/middleware"
	"storehub/internal/services"
	"storehub/internal/session"
	handlers "storehub/internal/transport/http"
	ws "storehub/internal/websocket"
)

// BuildTime is set at compile time
var BuildTime = ""

// How long startup waits for Redis or Postgres to answer
const backendConnectTimeout = 30 * time.Second

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *infrastructure.BusinessMetrics
	ErrorHandler  *apperrors.ErrorHandler

	Sessions      session.Store
	Authenticator *session.Authenticator
	WebSocketHub  *ws.Hub
	Dispatcher    *ws.Dispatcher
	ChatRelay     *services.ChatRelay
	CatalogRelay  *services.CatalogRelay
	CatalogBridge *services.CatalogBridge
	HealthService *services.HealthService

	redis    *redis.Client
	db       *sql.DB
	purger   *session.PostgresStore
	stopOnce sync.Once
	stopErr  error
}

// NewApplication loads configuration from the environment and builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(context.Background(), cfg, logger)
}

// New wires every component from cfg. Backends are dialed before New returns.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("session_backend", cfg.Session.Backend),
		slog.Bool("broadcast", cfg.Broadcast.Enabled))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFromTelemetry(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	if err := ws.InitOTelMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize WebSocket OpenTelemetry metrics: %w", err)
	}

	businessMetrics, err := infrastructure.CreateBusinessMetrics(otelProviders.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Metrics:       businessMetrics,
		ErrorHandler:  apperrors.NewErrorHandler(logger, cfg.Security.Development),
	}

	if err := app.initializeServices(ctx); err != nil {
		if app.WebSocketHub != nil {
			_ = app.WebSocketHub.Stop(ctx)
		}
		app.closeBackends()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices opens the session store and builds the hub and relays
func (a *Application) initializeServices(ctx context.Context) error {
	store, err := a.openSessionStore(ctx)
	if err != nil {
		return err
	}
	a.Sessions = store
	a.Authenticator = session.NewAuthenticator(store, a.Config.Session, a.Logger)

	hub := ws.NewHub(a.Logger)
	a.ChatRelay = services.NewChatRelay(hub, services.ChatOptionsFrom(a.Config.Chat), a.Metrics, a.Logger)
	hub.AddDisconnectListener(a.ChatRelay)
	hub.Start()
	a.WebSocketHub = hub

	a.Dispatcher = ws.NewDispatcher(a.ChatRelay, ws.SubscriptionPolicy{
		AllowAnonymousRead: a.Config.Chat.AllowAnonymousRead,
	}, a.Logger)

	a.CatalogRelay = services.NewCatalogRelay(hub, a.Metrics, a.Logger)

	var bridge services.Pinger
	if a.Config.Broadcast.Enabled {
		if a.redis == nil {
			client, err := database.ConnectRedis(ctx, a.Config.Redis, backendConnectTimeout, a.Logger)
			if err != nil {
				return fmt.Errorf("catalog bridge: %w", err)
			}
			a.redis = client
		}
		a.CatalogBridge = services.NewCatalogBridge(a.redis, a.Config.Broadcast, a.CatalogRelay, a.Logger)
		a.CatalogRelay.SetForwarder(a.CatalogBridge)
		bridge = a.CatalogBridge
	}

	a.HealthService = services.NewHealthService(config.AppVersion, BuildTime, store, hub, bridge, a.Logger)
	return nil
}

// openSessionStore selects the session backend named in the config
func (a *Application) openSessionStore(ctx context.Context) (session.Store, error) {
	cfg := a.Config
	switch cfg.Session.Backend {
	case config.SessionBackendRedis:
		client, err := database.ConnectRedis(ctx, cfg.Redis, backendConnectTimeout, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		a.redis = client
		return session.NewRedisStore(client, cfg.Session.KeyPrefix, cfg.Session.TTL), nil

	case config.SessionBackendPostgres:
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("session store migrations: %w", err)
		}
		db, err := database.Connect(ctx, cfg.Database.URL, backendConnectTimeout, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		a.db = db
		store := session.NewPostgresStore(db, cfg.Session.TTL)
		a.purger = store
		return store, nil

	case config.SessionBackendMemory, "":
		a.Logger.WarnContext(ctx, "Using in-memory session store; sessions are not shared with the HTTP layer")
		return session.NewMemoryStore(cfg.Session.TTL), nil

	default:
		return nil, apperrors.NewConfigError("unknown session backend: "+cfg.Session.Backend, nil)
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// These don't wrap the ResponseWriter, so they are safe in front of the upgrade
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	wsHandler := handlers.NewWebSocketHandler(handlers.WebSocketHandlerOptions{
		Hub:        a.WebSocketHub,
		Auth:       a.Authenticator,
		Dispatcher: a.Dispatcher,
		WebSocket:  a.Config.WebSocket,
		Security:   a.Config.Security,
		Metrics:    a.Metrics,
		Errors:     a.ErrorHandler,
		Logger:     a.Logger,
	})
	r.With(customMiddleware.WebSocketTraceMiddleware(a.Logger)).Handle(config.WebSocketEndpoint, wsHandler)

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer → SecureHeaders → RateLimit → CORS
		r.Use(customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.Metrics, a.Logger).Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(apperrors.RecoveryMiddleware(a.ErrorHandler))

		secure := customMiddleware.DefaultSecureHeaders()
		secure.DevMode = a.Config.Security.Development
		r.Use(secure.Handler)

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.ErrorHandler,
				a.Logger,
			).Handler)
		}

		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins:   a.Config.Security.AllowedOrigins,
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", customMiddleware.IngestTokenHeader},
			AllowCredentials: true,
			Logger:           a.Logger,
		}))

		a.setupAPIRoutes(r)
	})

	// Outside the middleware group so scrapes stay cheap
	r.Handle(config.MetricsEndpoint, handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP, a.WebSocketHub))

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	validation := customMiddleware.NewValidationMiddleware(a.Logger, a.ErrorHandler, a.Config.WebSocket.MaxMessageSize*16)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		handlers.NewHealthHandler(a.HealthService, a.Logger).RegisterRoutes(r)
		handlers.NewHubHandler(a.WebSocketHub, a.ErrorHandler, a.Logger).RegisterRoutes(r)

		// Collaborator endpoints
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.IngestAuth(a.Config.Security.IngestToken, a.ErrorHandler, a.Logger))
			r.Use(customMiddleware.AuditLog(a.Logger))
			r.Use(customMiddleware.ContentTypeValidator(a.ErrorHandler, "application/json"))
			handlers.NewCatalogHandler(a.CatalogRelay, validation, a.ErrorHandler, a.Logger).RegisterRoutes(r)
		})
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run runs the application until SIGINT or SIGTERM
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server, the catalog bridge and the session purge loop until
// ctx is cancelled or one of them fails, then stops the application.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "HTTP server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if a.CatalogBridge != nil {
		g.Go(func() error {
			return a.CatalogBridge.Run(gctx)
		})
	}

	if a.purger != nil {
		g.Go(func() error {
			a.purgeSessions(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(ctx, "Shutdown requested")
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// purgeSessions deletes expired Postgres sessions on an interval
func (a *Application) purgeSessions(ctx context.Context) {
	interval := a.Config.Database.PurgeInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.purger.PurgeExpired(ctx)
			if err != nil {
				a.Logger.WarnContext(ctx, "Failed to purge expired sessions", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.Logger.DebugContext(ctx, "Purged expired sessions", slog.Int64("count", n))
			}
		}
	}
}

// Stop gracefully stops the application: the HTTP server first, then the hub
// (which flushes and closes every socket), the backends, and telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.stopErr = a.stop(ctx)
	})
	return a.stopErr
}

func (a *Application) stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if err := a.WebSocketHub.Stop(shutdownCtx); err != nil {
		a.Logger.WarnContext(ctx, "WebSocket hub did not drain before the deadline", slog.String("error", err.Error()))
	}

	a.closeBackends()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) closeBackends() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("Failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Warn("Failed to close database", slog.String("error", err.Error()))
		}
	}
}
