package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every STOREHUB_ variable for the duration of the test
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, EnvPrefix+"_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// TestLoad tests the Load function with various scenarios
func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "default configuration with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

				assert.Equal(t, []string{"http://localhost:8080"}, cfg.Security.AllowedOrigins)
				assert.True(t, cfg.Security.RateLimit.Enabled)

				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)

				assert.Equal(t, int64(4096), cfg.WebSocket.MaxMessageSize)
				assert.Equal(t, 256, cfg.WebSocket.SendBufferSize)
				assert.True(t, cfg.WebSocket.AutoSubscribeCatalog)

				assert.Equal(t, SessionBackendMemory, cfg.Session.Backend)
				assert.Equal(t, 200*time.Second, cfg.Session.TTL)
				assert.Equal(t, "connect.sid", cfg.Session.CookieName)
				assert.False(t, cfg.Session.RequireAuth)

				assert.True(t, cfg.Chat.RequireJoin)
				assert.True(t, cfg.Chat.AllowAnonymousRead)
				assert.Equal(t, 500, cfg.Chat.MaxTextLength)

				assert.False(t, cfg.Broadcast.Enabled)
				assert.Equal(t, DefaultBroadcastChannel, cfg.Broadcast.Channel)
			},
		},
		{
			name: "environment variables override defaults",
			env: map[string]string{
				"STOREHUB_SERVER_PORT":            "9090",
				"STOREHUB_SESSION_BACKEND":        "REDIS",
				"STOREHUB_SESSION_TTL":            "5m",
				"STOREHUB_SESSION_SECRET":         "code",
				"STOREHUB_REDIS_ADDR":             "localhost:6379",
				"STOREHUB_CHAT_REQUIRE_JOIN":      "false",
				"STOREHUB_SECURITY_ALLOWED_ORIGINS": "http://a.example,http://b.example",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, SessionBackendRedis, cfg.Session.Backend)
				assert.Equal(t, 5*time.Minute, cfg.Session.TTL)
				assert.Equal(t, "code", cfg.Session.Secret)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.False(t, cfg.Chat.RequireJoin)
				assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Security.AllowedOrigins)
			},
		},
		{
			name: "file values sit between defaults and env",
			file: `
server:
  port: 7070
chat:
  max_text_length: 140
session:
  cookie_name: sid
`,
			env: map[string]string{
				"STOREHUB_SERVER_PORT": "7171",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7171, cfg.Server.Port)
				assert.Equal(t, 140, cfg.Chat.MaxTextLength)
				assert.Equal(t, "sid", cfg.Session.CookieName)
				assert.Equal(t, 200*time.Second, cfg.Session.TTL)
			},
		},
		{
			name:    "invalid port",
			env:     map[string]string{"STOREHUB_SERVER_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "unknown session backend",
			env:     map[string]string{"STOREHUB_SESSION_BACKEND": "mongo"},
			wantErr: true,
		},
		{
			name:    "redis backend without address",
			env:     map[string]string{"STOREHUB_SESSION_BACKEND": "redis"},
			wantErr: true,
		},
		{
			name:    "postgres backend without url",
			env:     map[string]string{"STOREHUB_SESSION_BACKEND": "postgres"},
			wantErr: true,
		},
		{
			name:    "bridge without redis",
			env:     map[string]string{"STOREHUB_BROADCAST_ENABLED": "true"},
			wantErr: true,
		},
		{
			name: "ping period must be shorter than pong wait",
			env: map[string]string{
				"STOREHUB_WEBSOCKET_PING_PERIOD": "90s",
				"STOREHUB_WEBSOCKET_PONG_WAIT":   "60s",
			},
			wantErr: true,
		},
		{
			name:    "malformed duration",
			env:     map[string]string{"STOREHUB_SESSION_TTL": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			if tt.file != "" {
				path := filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
				t.Setenv(EnvPrefix+"_CONFIG_FILE", path)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.validate())
	assert.Less(t, cfg.WebSocket.PingPeriod, cfg.WebSocket.PongWait)
}

func TestValidate_NormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Format = "text"
	cfg.Logging.FilePath = ""

	require.NoError(t, cfg.validate())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, DefaultLogFile, cfg.Logging.FilePath)
}
