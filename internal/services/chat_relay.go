package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"storehub/internal/config"
	apperrors "storehub/internal/errors"
	"storehub/internal/infrastructure"
	ws "storehub/internal/websocket"
)

// Chat rejection codes
const (
	CodeEmptyText   = "EMPTY_TEXT"
	CodeTextTooLong = "TEXT_TOO_LONG"
	CodeInvalidRoom = "INVALID_ROOM"
	CodeRateLimited = "RATE_LIMITED"
)

// ChatPayload is the payload of a chat-message event
type ChatPayload struct {
	SenderIdentity string `json:"senderIdentity"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
}

// ChatOptions controls chat validation
type ChatOptions struct {
	MaxTextLength int
	RequireJoin   bool
	// RateLimit is messages per second per connection; zero disables limiting
	RateLimit rate.Limit
	Burst     int
}

// DefaultChatOptions returns the built-in chat limits
func DefaultChatOptions() ChatOptions {
	return ChatOptions{
		MaxTextLength: config.DefaultChatMaxTextLength,
		RequireJoin:   true,
	}
}

// ChatOptionsFrom converts the chat config section
func ChatOptionsFrom(cfg config.ChatConfig) ChatOptions {
	return ChatOptions{
		MaxTextLength: cfg.MaxTextLength,
		RequireJoin:   cfg.RequireJoin,
		RateLimit:     rate.Limit(cfg.RateLimitRPS),
		Burst:         cfg.RateLimitBurst,
	}
}

// ChatRelay validates chat-send frames and publishes them to room topics
type ChatRelay struct {
	hub       ws.Broadcaster
	opts      ChatOptions
	sanitizer *bluemonday.Policy
	metrics   *infrastructure.BusinessMetrics
	logger    *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewChatRelay creates a chat relay
func NewChatRelay(hub ws.Broadcaster, opts ChatOptions, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *ChatRelay {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = config.DefaultChatMaxTextLength
	}
	if opts.RateLimit > 0 && opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &ChatRelay{
		hub:       hub,
		opts:      opts,
		sanitizer: bluemonday.StrictPolicy(),
		metrics:   metrics,
		logger:    infrastructure.WithComponent(logger, "services.chat_relay"),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// OnInboundMessage publishes text to room roomID on behalf of connection connID
func (r *ChatRelay) OnInboundMessage(ctx context.Context, connID, roomID, text string) error {
	err := r.relay(ctx, connID, roomID, text)
	outcome := "published"
	if err != nil {
		outcome = "rejected"
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			outcome = strings.ToLower(appErr.Code)
		}
	}
	infrastructure.RecordChatMessage(ctx, r.metrics, outcome)
	return err
}

func (r *ChatRelay) relay(ctx context.Context, connID, roomID, text string) error {
	conn, err := r.hub.Lookup(ctx, connID)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrTypeNotFound) {
			// the connection was torn down while its frame was in flight
			r.logger.DebugContext(ctx, "Chat from unknown connection dropped",
				slog.String("connection_id", connID))
		}
		return err
	}

	if conn.Identity.Anonymous {
		return apperrors.NewAuthorizationError("sign in to send chat messages")
	}

	if err := r.validate(roomID, text); err != nil {
		return err
	}

	if !r.allow(connID) {
		return apperrors.NewValidationError("too many messages, slow down").WithCode(CodeRateLimited)
	}

	clean := strings.TrimSpace(r.sanitizer.Sanitize(text))
	if clean == "" {
		return apperrors.NewValidationError("message has no text content").WithCode(CodeEmptyText)
	}

	now := time.Now()
	ev, err := ws.NewEvent(ws.RoomTopic(roomID), ws.KindChatMessage, connID, ChatPayload{
		SenderIdentity: conn.Identity.Name(),
		Text:           clean,
		Timestamp:      now.UnixMilli(),
	})
	if err != nil {
		return err
	}
	ev.Timestamp = now

	delivered, err := r.hub.PublishFrom(ctx, connID, ev, r.opts.RequireJoin)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrTypeNotFound) {
			// torn down after Lookup; OnDisconnect may already have run
			r.OnDisconnect(connID)
		}
		return err
	}

	r.logger.DebugContext(ctx, "Chat message published",
		slog.String("connection_id", connID),
		slog.String("room", roomID),
		slog.Int("delivered", delivered))
	return nil
}

// validate never truncates: text over the limit is rejected whole
func (r *ChatRelay) validate(roomID, text string) error {
	if roomID == "" || !ws.ValidRoomID(roomID) {
		return apperrors.NewValidationError("a valid roomId is required").WithCode(CodeInvalidRoom)
	}
	if strings.TrimSpace(text) == "" {
		return apperrors.NewValidationError("text is required").WithCode(CodeEmptyText)
	}
	if n := utf8.RuneCountInString(text); n > r.opts.MaxTextLength {
		return apperrors.NewValidationError(
			fmt.Sprintf("text is %d characters, the limit is %d", n, r.opts.MaxTextLength),
		).WithCode(CodeTextTooLong)
	}
	return nil
}

func (r *ChatRelay) allow(connID string) bool {
	if r.opts.RateLimit <= 0 {
		return true
	}
	r.mu.Lock()
	limiter, ok := r.limiters[connID]
	if !ok {
		limiter = rate.NewLimiter(r.opts.RateLimit, r.opts.Burst)
		r.limiters[connID] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

// OnDisconnect forgets the connection's rate limiter
func (r *ChatRelay) OnDisconnect(connID string) {
	r.mu.Lock()
	delete(r.limiters, connID)
	r.mu.Unlock()
}
