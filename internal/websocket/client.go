package websocket

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"storehub/internal/config"
	apperrors "storehub/internal/errors"
	"storehub/internal/infrastructure"
	"storehub/internal/session"
)

// ClientConfig holds per-connection transport limits
type ClientConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period. Must be less than PongWait
	PingPeriod time.Duration

	// Maximum inbound frame size
	MaxMessageSize int64

	// Outbound buffer; a client that falls this far behind is disconnected
	SendBufferSize int
}

// DefaultClientConfig returns the built-in limits
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteWait:      config.WebSocketWriteWait,
		PongWait:       config.WebSocketPongWait,
		PingPeriod:     config.WebSocketPingPeriod,
		MaxMessageSize: config.WebSocketMaxMessageSize,
		SendBufferSize: config.WebSocketSendBufferSize,
	}
}

// ClientConfigFrom converts the websocket config section
func ClientConfigFrom(cfg config.WebSocketConfig) ClientConfig {
	return ClientConfig{
		WriteWait:      cfg.WriteWait,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBufferSize: cfg.SendBufferSize,
	}
}

// ClientOptions configures NewClient. Zero values fall back to defaults.
type ClientOptions struct {
	Config     ClientConfig
	Dispatcher *Dispatcher
	TraceID    string
	Logger     *slog.Logger
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	hub *Hub

	// The websocket connection
	conn Conn

	// Buffered channel of outbound frames. Only the hub goroutine sends on or closes it.
	send chan []byte

	// Set by the hub on registration; subscriptions is hub-owned
	id            string
	subscriptions map[string]struct{}

	identity    session.Identity
	dispatcher  *Dispatcher
	cfg         ClientConfig
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	logger *slog.Logger

	// Pump-local counters
	framesSent     int64
	framesReceived int64
	bytesSent      int64
	bytesReceived  int64
}

// NewClient creates a Client bound to identity for its whole lifetime
func NewClient(hub *Hub, conn Conn, identity session.Identity, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.client"))

	cfg := opts.Config
	defaults := DefaultClientConfig()
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = (cfg.PongWait * 9) / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaults.SendBufferSize
	}

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, cfg.SendBufferSize),
		identity:    identity,
		dispatcher:  opts.Dispatcher,
		cfg:         cfg,
		traceID:     opts.TraceID,
		remoteAddr:  conn.RemoteAddr(),
		connectedAt: time.Now(),
		logger:      logger,
	}
}

// ID returns the connection id assigned by the hub, or "" before registration
func (c *Client) ID() string {
	return c.id
}

// Identity returns the identity resolved at handshake
func (c *Client) Identity() session.Identity {
	return c.identity
}

func (c *Client) context() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	if c.id != "" {
		ctx = infrastructure.WithConnectionID(ctx, c.id)
	}
	return ctx
}

// ReadPump reads frames and dispatches them one at a time, so a connection's
// requests are handled in the order it sent them. It unregisters the client on exit.
func (c *Client) ReadPump() {
	ctx := c.context()
	defer func() {
		c.logger.InfoContext(ctx, "WebSocket client disconnected (readPump)",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("frames_received", c.framesReceived),
			slog.Int64("bytes_received", c.bytesReceived))
		c.hub.Unregister(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.ErrorContext(ctx, "Unexpected WebSocket close error",
					slog.String("error", err.Error()))
			}
			return
		}
		message = bytes.TrimSpace(message)

		c.framesReceived++
		c.bytesReceived += int64(len(message))
		c.hub.metrics.RecordFrame("received", int64(len(message)))
		GetOTelMetrics().RecordFrame(ctx, "inbound", int64(len(message)))

		if len(message) == 0 || c.dispatcher == nil {
			continue
		}
		if ref, err := c.dispatcher.Dispatch(ctx, c, message); err != nil {
			c.reportError(ctx, ref, err)
		}
	}
}

// reportError sends an error frame to this connection only. The connection stays open.
func (c *Client) reportError(ctx context.Context, ref string, err error) {
	code, message := "INTERNAL", "internal error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		code, message = appErr.Code, appErr.Message
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code, message = "TIMEOUT", "request timed out"
	}

	c.hub.metrics.RecordError(code)
	GetOTelMetrics().RecordInboundError(ctx, ref, code)
	c.logger.DebugContext(ctx, "Inbound frame rejected",
		slog.String("ref", ref),
		slog.String("code", code),
		slog.String("error", err.Error()))

	frame := controlFrame("", KindError, ErrorPayload{Code: code, Message: message, Ref: ref})
	if sendErr := c.hub.SendTo(ctx, c.id, frame); sendErr != nil {
		c.logger.DebugContext(ctx, "Could not deliver error frame",
			slog.String("error", sendErr.Error()))
	}
}

// WritePump writes queued frames and pings to the connection. It returns when
// the hub closes the send channel or a write fails.
func (c *Client) WritePump() {
	ctx := c.context()
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.InfoContext(ctx, "WebSocket write pump stopped",
			slog.Int64("frames_sent", c.framesSent),
			slog.Int64("bytes_sent", c.bytesSent))
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.write(ctx, message) {
				return
			}

			// Flush whatever queued up meanwhile, one frame per message
			n := len(c.send)
			for i := 0; i < n; i++ {
				msg, ok := <-c.send
				if !ok {
					c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
				if !c.write(ctx, msg) {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(ctx, "Failed to send ping message",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (c *Client) write(ctx context.Context, message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.ErrorContext(ctx, "Error writing message to WebSocket",
			slog.String("error", err.Error()))
		return false
	}
	c.framesSent++
	c.bytesSent += int64(len(message))
	c.hub.metrics.RecordFrame("sent", int64(len(message)))
	GetOTelMetrics().RecordFrame(ctx, "outbound", int64(len(message)))
	return true
}
