package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storehub/internal/config"
	customMiddleware "storehub/internal/middleware"
	"storehub/internal/session"
	ws "storehub/internal/websocket"
)

// createTestLogger creates a logger that discards output for testing
func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Security.RateLimit.Enabled = false
	return cfg
}

func newTestApp(t *testing.T, mutate func(cfg *config.Config)) *Application {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	app, err := New(context.Background(), cfg, createTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Stop(context.Background()) })
	return app
}

func dialWS(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(baseURL, "http")+config.WebSocketEndpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) ws.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f ws.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func waitForCatalogSubscribers(t *testing.T, app *Application, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats, err := app.WebSocketHub.Stats(context.Background())
		return err == nil && stats.Topics[ws.CatalogTopic] == n
	}, 3*time.Second, 10*time.Millisecond)
}

func postCatalogEvent(t *testing.T, baseURL, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/catalog/events", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(customMiddleware.IngestTokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNew(t *testing.T) {
	t.Run("memory backend", func(t *testing.T) {
		app := newTestApp(t, nil)

		assert.IsType(t, &session.MemoryStore{}, app.Sessions)
		assert.NotNil(t, app.Authenticator)
		assert.NotNil(t, app.WebSocketHub)
		assert.NotNil(t, app.Dispatcher)
		assert.NotNil(t, app.ChatRelay)
		assert.NotNil(t, app.CatalogRelay)
		assert.Nil(t, app.CatalogBridge)
		assert.NotNil(t, app.HealthService)
		assert.NotNil(t, app.Router)
		assert.Equal(t, ":0", app.Server.Addr)
	})

	t.Run("redis backend with bridge", func(t *testing.T) {
		mr := miniredis.RunT(t)
		app := newTestApp(t, func(cfg *config.Config) {
			cfg.Session.Backend = config.SessionBackendRedis
			cfg.Redis.Addr = mr.Addr()
			cfg.Broadcast.Enabled = true
		})

		assert.IsType(t, &session.RedisStore{}, app.Sessions)
		assert.NotNil(t, app.CatalogBridge)
		assert.NoError(t, app.Sessions.Ping(context.Background()))
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig()
		cfg.Session.Backend = "etcd"
		_, err := New(context.Background(), cfg, createTestLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown session backend")
	})
}

func TestRouter(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Security.IngestToken = "s3cret"
	})
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + config.HealthEndpoint)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(customMiddleware.RequestIDHeader))
		assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	})

	t.Run("readiness", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/health/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("hub stats", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/hub/stats")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + config.MetricsEndpoint)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("websocket requires upgrade", func(t *testing.T) {
		resp, err := http.Get(srv.URL + config.WebSocketEndpoint)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("ingest without token", func(t *testing.T) {
		resp := postCatalogEvent(t, srv.URL, "", `{"kind":"catalog-created","payload":{}}`)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("ingest with wrong token", func(t *testing.T) {
		resp := postCatalogEvent(t, srv.URL, "guess", `{"kind":"catalog-created","payload":{}}`)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("ingest invalid kind", func(t *testing.T) {
		resp := postCatalogEvent(t, srv.URL, "s3cret", `{"kind":"catalog-moved","payload":{}}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ingest accepted", func(t *testing.T) {
		resp := postCatalogEvent(t, srv.URL, "s3cret", `{"kind":"catalog-created","payload":{"id":"p-9"}}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})
}

func TestCatalogEventReachesSocket(t *testing.T) {
	app := newTestApp(t, nil)
	srv := httptest.NewServer(app.Router)
	defer srv.Close()

	conn := dialWS(t, srv.URL)
	assert.Equal(t, ws.KindConnection, readFrame(t, conn).Kind)
	waitForCatalogSubscribers(t, app, 1)

	resp := postCatalogEvent(t, srv.URL, "", `{"kind":"catalog-deleted","payload":{"id":"p-3"}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		Kind      string `json:"kind"`
		Delivered int    `json:"delivered"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, ws.KindCatalogDeleted, result.Kind)
	assert.Equal(t, 1, result.Delivered)

	f := readFrame(t, conn)
	assert.Equal(t, ws.CatalogTopic, f.Topic)
	assert.Equal(t, ws.KindCatalogDeleted, f.Kind)
	assert.JSONEq(t, `{"id":"p-3"}`, string(f.Payload))
}

func TestCatalogBridgeAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	withBridge := func(cfg *config.Config) {
		cfg.Redis.Addr = mr.Addr()
		cfg.Broadcast.Enabled = true
	}

	producer := newTestApp(t, withBridge)
	consumer := newTestApp(t, withBridge)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, a := range []*Application{producer, consumer} {
		go func() { _ = a.CatalogBridge.Run(ctx) }()
		select {
		case <-a.CatalogBridge.Ready():
		case <-time.After(3 * time.Second):
			t.Fatal("catalog bridge did not subscribe")
		}
	}

	producerSrv := httptest.NewServer(producer.Router)
	defer producerSrv.Close()
	consumerSrv := httptest.NewServer(consumer.Router)
	defer consumerSrv.Close()

	conn := dialWS(t, consumerSrv.URL)
	readFrame(t, conn)
	waitForCatalogSubscribers(t, consumer, 1)

	resp := postCatalogEvent(t, producerSrv.URL, "", `{"kind":"catalog-updated","payload":{"id":"p-1","stock":4}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	f := readFrame(t, conn)
	assert.Equal(t, ws.KindCatalogUpdated, f.Kind)
	assert.JSONEq(t, `{"id":"p-1","stock":4}`, string(f.Payload))
}

func TestServeStopsOnCancel(t *testing.T) {
	app := newTestApp(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	baseURL := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/api/health/live")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	conn := dialWS(t, baseURL)
	readFrame(t, conn)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// The hub closes every socket on the way down
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived), "got %v", err)

	// Stop is idempotent
	assert.NoError(t, app.Stop(context.Background()))
}
