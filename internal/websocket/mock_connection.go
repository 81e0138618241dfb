package websocket

import (
	"errors"
	"sync"
	"time"
)

// ErrMockClosed is returned by MockConn once Close has been called
var ErrMockClosed = errors.New("connection closed")

// MockConn is an in-memory Conn for tests. ReadMessage blocks until a message
// is queued with AddReadMessage or the connection is closed.
type MockConn struct {
	mu sync.Mutex

	// WriteMessageFunc overrides the default recording behavior
	WriteMessageFunc func(messageType int, data []byte) error
	WrittenMessages  []MockMessage

	incoming chan MockMessage
	closed   chan struct{}
	Closed   bool

	ReadDeadline  time.Time
	WriteDeadline time.Time
	PongHandler   func(string) error

	RemoteAddress string
	ReadLimit     int64

	written chan struct{}
}

// MockMessage represents a message for mocking
type MockMessage struct {
	Type int
	Data []byte
	Err  error
}

// NewMockConn creates a mock connection
func NewMockConn() *MockConn {
	return &MockConn{
		incoming:      make(chan MockMessage, 64),
		closed:        make(chan struct{}),
		written:       make(chan struct{}, 1),
		RemoteAddress: "127.0.0.1:8080",
	}
}

func (m *MockConn) WriteMessage(messageType int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return ErrMockClosed
	}
	if m.WriteMessageFunc != nil {
		return m.WriteMessageFunc(messageType, data)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.WrittenMessages = append(m.WrittenMessages, MockMessage{Type: messageType, Data: buf})

	select {
	case m.written <- struct{}{}:
	default:
	}
	return nil
}

func (m *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-m.incoming:
		return msg.Type, msg.Data, msg.Err
	case <-m.closed:
		return 0, nil, ErrMockClosed
	}
}

// Close is idempotent
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.Closed {
		m.Closed = true
		close(m.closed)
	}
	return nil
}

func (m *MockConn) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDeadline = t
	return nil
}

func (m *MockConn) SetWriteDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteDeadline = t
	return nil
}

func (m *MockConn) SetReadLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadLimit = limit
}

func (m *MockConn) SetPongHandler(h func(string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PongHandler = h
}

func (m *MockConn) RemoteAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoteAddress
}

// AddReadMessage queues a message for ReadMessage. A non-nil err ends the read loop.
func (m *MockConn) AddReadMessage(messageType int, data []byte, err error) {
	m.incoming <- MockMessage{Type: messageType, Data: data, Err: err}
}

// GetWrittenMessages returns a copy of everything written so far
func (m *MockConn) GetWrittenMessages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]MockMessage, len(m.WrittenMessages))
	copy(result, m.WrittenMessages)
	return result
}

// IsClosed reports whether Close has been called
func (m *MockConn) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// WaitForWrites blocks until at least n messages were written or timeout elapses.
func (m *MockConn) WaitForWrites(n int, timeout time.Duration) []MockMessage {
	deadline := time.After(timeout)
	for {
		if msgs := m.GetWrittenMessages(); len(msgs) >= n {
			return msgs
		}
		select {
		case <-m.written:
		case <-deadline:
			return m.GetWrittenMessages()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
