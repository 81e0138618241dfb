package websocket

import (
	"context"
	"time"
)

// Conn is the transport under a Client. gorilla connections are adapted by
// NewConnWrapper; tests use MockConn.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	RemoteAddr() string
}

// Broadcaster is the slice of the Hub the relays depend on
type Broadcaster interface {
	// Publish fans ev out to every subscriber of ev.Topic and returns the delivered count.
	Publish(ctx context.Context, ev Event) (int, error)

	// PublishFrom is Publish on behalf of a connection. With requireMembership the
	// origin must be subscribed to ev.Topic at the moment of fan-out.
	PublishFrom(ctx context.Context, originID string, ev Event, requireMembership bool) (int, error)

	// Lookup returns a snapshot of a registered connection.
	Lookup(ctx context.Context, id string) (Connection, error)
}

// InboundHandler receives chat-send frames after decoding and validation.
type InboundHandler interface {
	OnInboundMessage(ctx context.Context, connID, roomID, text string) error
}

// DisconnectListener is notified, from the hub goroutine, after a connection is removed.
// Implementations must not block or call back into the hub.
type DisconnectListener interface {
	OnDisconnect(connID string)
}
