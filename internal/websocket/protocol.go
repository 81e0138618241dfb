package websocket

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Topics
const (
	CatalogTopic    = "catalog"
	RoomTopicPrefix = "room:"
)

// Event kinds published on topics
const (
	KindCatalogCreated = "catalog-created"
	KindCatalogUpdated = "catalog-updated"
	KindCatalogDeleted = "catalog-deleted"
	KindChatMessage    = "chat-message"
)

// Control frame kinds sent to a single connection
const (
	KindConnection   = "connection"
	KindSubscribed   = "subscribed"
	KindUnsubscribed = "unsubscribed"
	KindError        = "error"
)

// Inbound frame types
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeChatSend    = "chat-send"
	TypeHeartbeat   = "heartbeat"
)

// OriginSystem marks events that did not come from a connection
const OriginSystem = "system"

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Event is a message published on a topic. OriginID is the publishing connection
// id or OriginSystem; it is never serialized.
type Event struct {
	Topic     string          `json:"topic"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	OriginID  string          `json:"-"`
	Timestamp time.Time       `json:"-"`
}

// Frame is the outbound wire shape. Timestamp is Unix milliseconds.
type Frame struct {
	Topic     string          `json:"topic"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// InboundMessage is a client frame. Which optional fields are required depends on Type.
type InboundMessage struct {
	Type   string `json:"type" validate:"required,max=32"`
	Topic  string `json:"topic,omitempty" validate:"omitempty,max=72"`
	RoomID string `json:"roomId,omitempty" validate:"omitempty,max=64"`
	Text   string `json:"text,omitempty"`
}

// ErrorPayload is the payload of a KindError frame
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// NewEvent builds an event, marshaling payload and stamping the current time.
func NewEvent(topic, kind, originID string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Event{
		Topic:     topic,
		Kind:      kind,
		Payload:   raw,
		OriginID:  originID,
		Timestamp: time.Now(),
	}, nil
}

// Encode renders the event as an outbound frame
func (e Event) Encode() ([]byte, error) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return json.Marshal(Frame{
		Topic:     e.Topic,
		Kind:      e.Kind,
		Payload:   payload,
		Timestamp: ts.UnixMilli(),
	})
}

// controlFrame encodes a frame addressed to one connection
func controlFrame(topic, kind string, payload interface{}) []byte {
	ev, err := NewEvent(topic, kind, OriginSystem, payload)
	if err != nil {
		ev = Event{Topic: topic, Kind: kind, Timestamp: time.Now()}
	}
	frame, _ := ev.Encode()
	return frame
}

// RoomTopic returns the topic name for a chat room
func RoomTopic(roomID string) string {
	return RoomTopicPrefix + roomID
}

// IsRoomTopic reports whether topic names a chat room
func IsRoomTopic(topic string) bool {
	return strings.HasPrefix(topic, RoomTopicPrefix)
}

// ValidRoomID reports whether id may be used in a room topic
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// ParseTopic accepts "catalog" and "room:<id>"; anything else is rejected.
func ParseTopic(topic string) (string, error) {
	if topic == CatalogTopic {
		return topic, nil
	}
	if IsRoomTopic(topic) && ValidRoomID(strings.TrimPrefix(topic, RoomTopicPrefix)) {
		return topic, nil
	}
	return "", fmt.Errorf("unknown topic %q", topic)
}

// topicKind is the low-cardinality metric label for a topic
func topicKind(topic string) string {
	if topic == CatalogTopic {
		return CatalogTopic
	}
	if IsRoomTopic(topic) {
		return "room"
	}
	return "other"
}
