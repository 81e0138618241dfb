package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"storehub/internal/config"
	apperrors "storehub/internal/errors"
	"storehub/internal/infrastructure"
	"storehub/internal/middleware"
	"storehub/internal/session"
	ws "storehub/internal/websocket"
)

// Handshake outcomes recorded on the handshakes counter
const (
	HandshakeAuthenticated = "authenticated"
	HandshakeAnonymous     = "anonymous"
	HandshakeRejected      = "rejected"
	HandshakeFailed        = "failed"
)

// IdentityResolver turns a handshake request into the connection's identity
type IdentityResolver interface {
	Authenticate(r *http.Request) (session.Identity, error)
}

// WebSocketHandlerOptions wires a WebSocketHandler
type WebSocketHandlerOptions struct {
	Hub        *ws.Hub
	Auth       IdentityResolver
	Dispatcher *ws.Dispatcher
	WebSocket  config.WebSocketConfig
	Security   config.SecurityConfig
	Metrics    *infrastructure.BusinessMetrics
	Errors     *apperrors.ErrorHandler
	Logger     *slog.Logger
}

// WebSocketHandler authenticates and upgrades /ws requests
type WebSocketHandler struct {
	hub           *ws.Hub
	auth          IdentityResolver
	dispatcher    *ws.Dispatcher
	clientCfg     ws.ClientConfig
	autoSubscribe bool
	upgrader      websocket.Upgrader
	metrics       *infrastructure.BusinessMetrics
	errors        *apperrors.ErrorHandler
	logger        *slog.Logger
}

// NewWebSocketHandler creates the /ws handler
func NewWebSocketHandler(opts WebSocketHandlerOptions) *WebSocketHandler {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	errs := opts.Errors
	if errs == nil {
		errs = apperrors.NewErrorHandler(logger, false)
	}

	h := &WebSocketHandler{
		hub:           opts.Hub,
		auth:          opts.Auth,
		dispatcher:    opts.Dispatcher,
		clientCfg:     ws.ClientConfigFrom(opts.WebSocket),
		autoSubscribe: opts.WebSocket.AutoSubscribeCatalog,
		metrics:       opts.Metrics,
		errors:        errs,
		logger:        logger.With(slog.String("handler", "websocket")),
	}

	allowed := opts.Security.AllowedOrigins
	development := opts.Security.Development
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  opts.WebSocket.ReadBufferSize,
		WriteBufferSize: opts.WebSocket.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			// Non-browser clients send no Origin
			if origin == "" || development {
				return true
			}
			if middleware.OriginAllowed(allowed, origin) {
				return true
			}

			h.logger.WarnContext(r.Context(), "WebSocket origin check - origin not allowed",
				slog.String("origin", origin),
				slog.Any("allowed_origins", allowed))
			return false
		},
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			h.logger.WarnContext(r.Context(), "WebSocket upgrade error",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("origin", r.Header.Get("Origin")))
			h.errors.HandleError(w, r, apperrors.New(status, apperrors.ErrWebSocketUpgrade.ErrorCode, reason.Error()))
		},
	}
	return h
}

// ServeHTTP handles GET /ws
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetRequestID(ctx)

	start := time.Now()
	identity, err := h.auth.Authenticate(r)
	lookup := time.Since(start)
	if err != nil {
		infrastructure.RecordHandshake(ctx, h.metrics, HandshakeRejected, lookup)
		if errors.Is(err, session.ErrUnauthenticated) {
			h.errors.HandleError(w, r, apperrors.ErrUnauthorized)
			return
		}
		h.errors.HandleError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the response
		infrastructure.RecordHandshake(ctx, h.metrics, HandshakeFailed, lookup)
		return
	}

	client := ws.NewClient(h.hub, ws.NewConnWrapper(conn), identity, ws.ClientOptions{
		Config:     h.clientCfg,
		Dispatcher: h.dispatcher,
		TraceID:    reqID,
		Logger:     h.logger,
	})

	var topics []string
	if h.autoSubscribe {
		topics = append(topics, ws.CatalogTopic)
	}

	// the request context ends when this handler returns; the hub owns the connection after Serve
	timeout := h.clientCfg.WriteWait
	if timeout <= 0 {
		timeout = config.WebSocketWriteWait
	}
	serveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	id, err := h.hub.Serve(serveCtx, client, topics...)
	if err != nil {
		infrastructure.RecordHandshake(ctx, h.metrics, HandshakeFailed, lookup)
		h.logger.ErrorContext(ctx, "Failed to attach WebSocket client to hub",
			slog.String("error", err.Error()),
			slog.String("request_id", reqID))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "hub unavailable"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	outcome := HandshakeAuthenticated
	if identity.Anonymous {
		outcome = HandshakeAnonymous
	}
	infrastructure.RecordHandshake(ctx, h.metrics, outcome, lookup)

	h.logger.InfoContext(ctx, "WebSocket client connected",
		slog.String("connection_id", id),
		slog.String("identity", identity.Name()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", reqID))
}
