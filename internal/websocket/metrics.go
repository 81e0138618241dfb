package websocket

import (
	"sync"
	"time"
)

// Metrics tracks in-process hub counters. The hub owns one instance; the stats
// endpoint reads it through Hub.Metrics().
type Metrics struct {
	mu sync.RWMutex

	// Connection metrics
	TotalConnections      int64
	ActiveConnections     int64
	AnonymousConnections  int64
	MaxConcurrent         int64
	AvgConnectionTime     time.Duration
	SlowConsumerDrops     int64

	// Frame metrics
	FramesSent     int64
	FramesReceived int64
	BytesSent      int64
	BytesReceived  int64

	// Fan-out metrics
	Publishes       int64
	Deliveries      int64
	DroppedFrames   int64
	PublishesByKind map[string]int64

	// Inbound errors by code
	ErrorsByCode map[string]int64

	LastReset       time.Time
	connectionTimes []time.Duration
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		PublishesByKind: make(map[string]int64),
		ErrorsByCode:    make(map[string]int64),
		LastReset:       time.Now(),
		connectionTimes: make([]time.Duration, 0, 100),
	}
}

// RecordConnection records a new registration
func (m *Metrics) RecordConnection(anonymous bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalConnections++
	m.ActiveConnections++
	if anonymous {
		m.AnonymousConnections++
	}
	if m.ActiveConnections > m.MaxConcurrent {
		m.MaxConcurrent = m.ActiveConnections
	}
}

// RecordDisconnection records a removal. slow marks a slow-consumer eviction.
func (m *Metrics) RecordDisconnection(duration time.Duration, anonymous, slow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ActiveConnections--
	if anonymous {
		m.AnonymousConnections--
	}
	if slow {
		m.SlowConsumerDrops++
	}

	// Keep the last 100 durations
	m.connectionTimes = append(m.connectionTimes, duration)
	if len(m.connectionTimes) > 100 {
		m.connectionTimes = m.connectionTimes[1:]
	}

	var total time.Duration
	for _, d := range m.connectionTimes {
		total += d
	}
	m.AvgConnectionTime = total / time.Duration(len(m.connectionTimes))
}

// RecordFrame records one frame written ("sent") or read ("received")
func (m *Metrics) RecordFrame(direction string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch direction {
	case "sent":
		m.FramesSent++
		m.BytesSent += size
	case "received":
		m.FramesReceived++
		m.BytesReceived += size
	}
}

// RecordPublish records one fan-out
func (m *Metrics) RecordPublish(kind string, delivered, dropped int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Publishes++
	m.Deliveries += int64(delivered)
	m.DroppedFrames += int64(dropped)
	m.PublishesByKind[kind]++
}

// RecordError records an inbound error by code
func (m *Metrics) RecordError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ErrorsByCode[code]++
}

// GetSnapshot returns a copy of the current counters
func (m *Metrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKind := make(map[string]int64, len(m.PublishesByKind))
	for k, v := range m.PublishesByKind {
		byKind[k] = v
	}
	byCode := make(map[string]int64, len(m.ErrorsByCode))
	for k, v := range m.ErrorsByCode {
		byCode[k] = v
	}

	return map[string]interface{}{
		"connections": map[string]interface{}{
			"total":               m.TotalConnections,
			"active":              m.ActiveConnections,
			"anonymous":           m.AnonymousConnections,
			"max_concurrent":      m.MaxConcurrent,
			"avg_duration":        m.AvgConnectionTime.String(),
			"slow_consumer_drops": m.SlowConsumerDrops,
		},
		"frames": map[string]interface{}{
			"sent":           m.FramesSent,
			"received":       m.FramesReceived,
			"bytes_sent":     m.BytesSent,
			"bytes_received": m.BytesReceived,
		},
		"publishes": map[string]interface{}{
			"total":      m.Publishes,
			"deliveries": m.Deliveries,
			"dropped":    m.DroppedFrames,
			"by_kind":    byKind,
		},
		"errors":     byCode,
		"last_reset": m.LastReset,
		"uptime":     time.Since(m.LastReset).String(),
	}
}

// Reset zeroes the cumulative counters. Active connection gauges are kept.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalConnections = m.ActiveConnections
	m.MaxConcurrent = m.ActiveConnections
	m.SlowConsumerDrops = 0
	m.AvgConnectionTime = 0
	m.FramesSent = 0
	m.FramesReceived = 0
	m.BytesSent = 0
	m.BytesReceived = 0
	m.Publishes = 0
	m.Deliveries = 0
	m.DroppedFrames = 0
	m.PublishesByKind = make(map[string]int64)
	m.ErrorsByCode = make(map[string]int64)
	m.LastReset = time.Now()
	m.connectionTimes = m.connectionTimes[:0]
}
