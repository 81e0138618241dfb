package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "STOREHUB"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Session   SessionConfig   `yaml:"session" envconfig:"SESSION"`
	Redis     RedisConfig     `yaml:"redis" envconfig:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	Chat      ChatConfig      `yaml:"chat" envconfig:"CHAT"`
	Broadcast BroadcastConfig `yaml:"broadcast" envconfig:"BROADCAST"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	Development    bool            `yaml:"development" envconfig:"DEVELOPMENT"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// IngestToken guards POST /api/catalog/events; empty leaves it open
	IngestToken string `yaml:"ingest_token" envconfig:"INGEST_TOKEN"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig selects the OpenTelemetry exporters
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize       int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize      int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod           time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait             time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
	WriteWait            time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT"`
	MaxMessageSize       int64         `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
	SendBufferSize       int           `yaml:"send_buffer_size" envconfig:"SEND_BUFFER_SIZE"`
	AutoSubscribeCatalog bool          `yaml:"auto_subscribe_catalog" envconfig:"AUTO_SUBSCRIBE_CATALOG"`
}

// SessionConfig describes the shared session store and cookie
type SessionConfig struct {
	Backend     string        `yaml:"backend" envconfig:"BACKEND"`
	TTL         time.Duration `yaml:"ttl" envconfig:"TTL"`
	CookieName  string        `yaml:"cookie_name" envconfig:"COOKIE_NAME"`
	Secret      string        `yaml:"secret" envconfig:"SECRET"`
	RequireAuth bool          `yaml:"require_auth" envconfig:"REQUIRE_AUTH"`
	KeyPrefix   string        `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// RedisConfig is shared by the redis session backend and the catalog bridge
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

// DatabaseConfig is used by the postgres session backend
type DatabaseConfig struct {
	URL           string        `yaml:"url" envconfig:"URL"`
	PurgeInterval time.Duration `yaml:"purge_interval" envconfig:"PURGE_INTERVAL"`
}

// ChatConfig controls the chat relay policy
type ChatConfig struct {
	MaxTextLength      int     `yaml:"max_text_length" envconfig:"MAX_TEXT_LENGTH"`
	RequireJoin        bool    `yaml:"require_join" envconfig:"REQUIRE_JOIN"`
	AllowAnonymousRead bool    `yaml:"allow_anonymous_read" envconfig:"ALLOW_ANONYMOUS_READ"`
	RateLimitRPS       float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst     int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST"`
}

// BroadcastConfig controls the cross-instance catalog bridge
type BroadcastConfig struct {
	Enabled           bool          `yaml:"enabled" envconfig:"ENABLED"`
	Channel           string        `yaml:"channel" envconfig:"CHANNEL"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" envconfig:"RECONNECT_DELAY"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay" envconfig:"RECONNECT_MAX_DELAY"`
}

// Load builds the configuration in three layers: Default(), then the optional YAML
// file, then environment variables (a local .env file is loaded into the environment
// first). Later layers win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("websocket ping period (%s) must be shorter than pong wait (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}

	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket send buffer size must be positive")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name must be set")
	}

	c.Session.Backend = strings.ToLower(c.Session.Backend)
	switch c.Session.Backend {
	case SessionBackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required for the redis session backend")
		}
	case SessionBackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database url is required for the postgres session backend")
		}
	case SessionBackendMemory:
	default:
		return fmt.Errorf("unknown session backend: %q", c.Session.Backend)
	}

	if c.Broadcast.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when the catalog bridge is enabled")
	}

	if c.Chat.MaxTextLength <= 0 {
		return fmt.Errorf("chat max text length must be positive")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Format:   "json",
			Output:   "console",
			FilePath: DefaultLogFile,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:       WebSocketReadBufferSize,
			WriteBufferSize:      WebSocketWriteBufferSize,
			PingPeriod:           WebSocketPingPeriod,
			PongWait:             WebSocketPongWait,
			WriteWait:            WebSocketWriteWait,
			MaxMessageSize:       WebSocketMaxMessageSize,
			SendBufferSize:       WebSocketSendBufferSize,
			AutoSubscribeCatalog: true,
		},
		Session: SessionConfig{
			Backend:    SessionBackendMemory,
			TTL:        DefaultSessionTTL,
			CookieName: DefaultSessionCookie,
			KeyPrefix:  DefaultSessionKeyPrefix,
		},
		Database: DatabaseConfig{
			PurgeInterval: 5 * time.Minute,
		},
		Chat: ChatConfig{
			MaxTextLength:      DefaultChatMaxTextLength,
			RequireJoin:        true,
			AllowAnonymousRead: true,
			RateLimitRPS:       5,
			RateLimitBurst:     10,
		},
		Broadcast: BroadcastConfig{
			Channel:           DefaultBroadcastChannel,
			ReconnectDelay:    500 * time.Millisecond,
			ReconnectMaxDelay: 30 * time.Second,
		},
	}
}
