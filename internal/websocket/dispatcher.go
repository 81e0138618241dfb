package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "storehub/internal/errors"
)

// Inbound error codes
const (
	CodeMalformedFrame = "MALFORMED_FRAME"
	CodeInvalidFrame   = "INVALID_FRAME"
	CodeUnknownType    = "UNKNOWN_TYPE"
	CodeUnknownTopic   = "UNKNOWN_TOPIC"
)

// HandlerFunc handles one decoded inbound frame for client c
type HandlerFunc func(ctx context.Context, c *Client, msg InboundMessage) error

// SubscriptionPolicy controls which topics a connection may join
type SubscriptionPolicy struct {
	// AllowAnonymousRead lets anonymous connections subscribe to rooms
	AllowAnonymousRead bool
}

// Dispatcher routes inbound frames by their "type" field. One Dispatcher is
// shared by all clients; each client calls it sequentially from its read pump.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	validate *validator.Validate
	policy   SubscriptionPolicy
	chat     InboundHandler
	logger   *slog.Logger
}

// NewDispatcher builds the dispatch table for subscribe, unsubscribe and, when
// chat is non-nil, chat-send.
func NewDispatcher(chat InboundHandler, policy SubscriptionPolicy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		validate: validator.New(),
		policy:   policy,
		chat:     chat,
		logger:   logger.With(slog.String("component", "websocket.dispatcher")),
	}
	d.Handle(TypeSubscribe, d.handleSubscribe)
	d.Handle(TypeUnsubscribe, d.handleUnsubscribe)
	if chat != nil {
		d.Handle(TypeChatSend, d.handleChatSend)
	}
	return d
}

// Handle registers fn for msgType, replacing any existing handler
func (d *Dispatcher) Handle(msgType string, fn HandlerFunc) {
	d.handlers[msgType] = fn
}

// Dispatch decodes raw, validates it and runs the handler for its type. The
// returned ref is the frame type, used to correlate error frames.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, raw []byte) (string, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", apperrors.NewValidationError("frame is not valid JSON").WithCode(CodeMalformedFrame)
	}
	if err := d.validate.Struct(msg); err != nil {
		return msg.Type, invalidFrame(err)
	}

	if msg.Type == TypeHeartbeat {
		// Read deadline is driven by pongs; nothing to do
		return msg.Type, nil
	}

	handler, ok := d.handlers[msg.Type]
	if !ok {
		return msg.Type, apperrors.NewValidationError(fmt.Sprintf("unknown frame type %q", msg.Type)).
			WithCode(CodeUnknownType)
	}
	return msg.Type, handler(ctx, c, msg)
}

func invalidFrame(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.NewValidationError("invalid frame").WithCode(CodeInvalidFrame)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return apperrors.NewValidationError("invalid frame: " + strings.Join(fields, ", ")).
		WithCode(CodeInvalidFrame)
}

// topicOf accepts either an explicit topic or a room id
func topicOf(msg InboundMessage) (string, error) {
	name := msg.Topic
	if name == "" && msg.RoomID != "" {
		name = RoomTopic(msg.RoomID)
	}
	if name == "" {
		return "", apperrors.NewValidationError("topic or roomId is required").WithCode(CodeInvalidFrame)
	}
	topic, err := ParseTopic(name)
	if err != nil {
		return "", apperrors.NewValidationError(err.Error()).WithCode(CodeUnknownTopic)
	}
	return topic, nil
}

func (d *Dispatcher) handleSubscribe(ctx context.Context, c *Client, msg InboundMessage) error {
	topic, err := topicOf(msg)
	if err != nil {
		return err
	}
	if IsRoomTopic(topic) && c.identity.Anonymous && !d.policy.AllowAnonymousRead {
		return apperrors.NewAuthorizationError("sign in to join chat rooms")
	}
	if err := c.hub.Subscribe(ctx, c.id, topic); err != nil {
		return err
	}
	return c.hub.SendTo(ctx, c.id, controlFrame(topic, KindSubscribed, map[string]string{"topic": topic}))
}

func (d *Dispatcher) handleUnsubscribe(ctx context.Context, c *Client, msg InboundMessage) error {
	topic, err := topicOf(msg)
	if err != nil {
		return err
	}
	if err := c.hub.Unsubscribe(ctx, c.id, topic); err != nil {
		return err
	}
	return c.hub.SendTo(ctx, c.id, controlFrame(topic, KindUnsubscribed, map[string]string{"topic": topic}))
}

func (d *Dispatcher) handleChatSend(ctx context.Context, c *Client, msg InboundMessage) error {
	roomID := msg.RoomID
	if roomID == "" && IsRoomTopic(msg.Topic) {
		roomID = strings.TrimPrefix(msg.Topic, RoomTopicPrefix)
	}
	return d.chat.OnInboundMessage(ctx, c.id, roomID, msg.Text)
}
