package config

import "time"

// Application constants
const (
	AppName    = "storehub"
	AppVersion = "1.0.0"

	// Session store backends
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
	SessionBackendMemory   = "memory"

	// The HTTP layer's session store expires records after 200 seconds
	DefaultSessionTTL       = 200 * time.Second
	DefaultSessionCookie    = "connect.sid"
	DefaultSessionKeyPrefix = "sess:"

	// WebSocket
	WebSocketReadBufferSize  = 1024
	WebSocketWriteBufferSize = 1024
	WebSocketPingPeriod      = 30 * time.Second
	WebSocketPongWait        = 60 * time.Second
	WebSocketWriteWait       = 10 * time.Second
	WebSocketMaxMessageSize  = 4096
	WebSocketSendBufferSize  = 256

	// Chat
	DefaultChatMaxTextLength = 500

	// Catalog bridge
	DefaultBroadcastChannel = "storehub:catalog"

	// Log settings
	DefaultLogLevel = "info"
	DefaultLogFile  = "logs/storehub.log"

	// Endpoints
	WebSocketEndpoint = "/ws"
	HealthEndpoint    = "/api/health"
	MetricsEndpoint   = "/metrics"
)
