package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/aristath/deepblue/internal/config"
	"github.com/aristath/deepblue/internal/di"
	"github.com/aristath/deepblue/internal/events"
)

func setupServer(t *testing.T) (*Server, *di.Container) {
	t.Helper()

	cfg := &config.Config{
		DataDir:      t.TempDir(),
		Port:         0,
		BaseCurrency: "USD",

		ModelAPIURL: "http://localhost:9100/v1/responses",
		ModelName:   "test-model",

		MaxAgentIterations:  5,
		MaxToolCallsPerTurn: 6,
		ToolReadConcurrency: 4,

		PythonBin:         "/bin/true",
		ScriptsDir:        t.TempDir(),
		SubprocessGate:    2,
		SubprocessTimeout: 5 * time.Second,
		MarketDataTTL:     10 * time.Second,
	}

	container, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(container.Close)

	srv := New(Config{
		Log:       zerolog.Nop(),
		LedgerDB:  container.LedgerDB,
		AgentsDB:  container.AgentsDB,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   true,
		Container: container,
	})

	return srv, container
}

func TestServer_Health(t *testing.T) {
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "deepblue", body["service"])
}

func TestServer_SystemStatus(t *testing.T) {
	srv, _ := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/system/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var status SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Len(t, status.Databases, 2)
	assert.Equal(t, 0, status.TradeCount)
	assert.Greater(t, status.Goroutines, 0)
}

func TestServer_LedgerRoutesMounted(t *testing.T) {
	srv, _ := setupServer(t)

	for _, path := range []string{"/api/trades", "/api/portfolio/positions", "/api/agent/threads"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "GET %s", path)
	}
}

func TestEventsWS_StreamsEvents(t *testing.T) {
	srv, container := setupServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/events/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// First frame is the connection acknowledgement.
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var hello map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, "connected", hello["type"])

	container.EventManager.Emit(events.TradeExecuted, "ledger", map[string]interface{}{
		"symbol": "AAPL",
	})

	_, data, err = conn.Read(ctx)
	require.NoError(t, err)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, string(events.TradeExecuted), event["type"])
	assert.Equal(t, "ledger", event["module"])
}

func TestEventsWS_TypeFilter(t *testing.T) {
	srv, container := setupServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http://", "ws://", 1) + "/api/events/ws?types=TRADE_EXECUTED"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx) // connection acknowledgement
	require.NoError(t, err)

	// Filtered-out event must not arrive; the matching one must.
	container.EventManager.Emit(events.ChartOpened, "tools", nil)
	container.EventManager.Emit(events.TradeExecuted, "ledger", nil)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, string(events.TradeExecuted), event["type"])
}
