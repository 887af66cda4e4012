package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"roboai/internal/agent"
	"roboai/internal/config"
	"roboai/internal/config/loader"
	"roboai/internal/execution"
	"roboai/internal/logger"
	"roboai/internal/reconnect"
	"roboai/internal/store/gormdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleWorker struct{}

func (idleWorker) Initialize(context.Context) error { return nil }

func (idleWorker) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type fixture struct {
	handler http.Handler
	core    *execution.Core
	flags   *loader.Watcher
	reg     *agent.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := gormdb.OpenSQLite(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sw := loader.Static(loader.Flags{AutoTrade: true}, logger.Nop())
	core, err := execution.NewCore(execution.Options{
		Trading:   config.TradingConfig{Mode: config.ModePaper, MaxPositions: 2, PaperFillPrice: 100, DefaultExchange: "NSE"},
		Risk:      config.RiskConfig{MaxDailyLoss: 1000, WarningRatio: 0.8, BreakerThreshold: 3, BreakerCooldown: 30},
		AutoTrade: sw.AutoTrade,
		Store:     st,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)

	reg := agent.NewRegistry(logger.Nop())
	reg.Register(agent.New("idle", idleWorker{}, agent.WithLogger(logger.Nop())))
	t.Cleanup(func() { _ = reg.StopAll(context.Background()) })

	srv, err := NewServer(ServerConfig{
		Registry: reg,
		Core:     core,
		Ledger:   st,
		Switch:   sw,
		Connection: func() (reconnect.Status, bool) {
			return reconnect.Status{Connected: true, Running: true}, true
		},
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	return &fixture{handler: srv.Handler(), core: core, flags: sw, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paper", body["mode"])
}

func TestAgentControl(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/agents/idle/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["started"])
	assert.Equal(t, "running", body["state"])

	rec, _ = f.do(t, http.MethodPost, "/api/agents/idle/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	agents := body["agents"].(map[string]any)
	assert.Equal(t, "running", agents["idle"].(map[string]any)["state"])

	rec, body = f.do(t, http.MethodPost, "/api/agents/idle/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", body["state"])

	rec, _ = f.do(t, http.MethodPost, "/api/agents/ghost/start", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceOrderFlow(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/orders", `{"symbol":"infy","side":"buy","quantity":10,"price":1500}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := body["order"].(map[string]any)
	id := order["order_id"].(string)
	assert.True(t, strings.HasPrefix(id, "PAPER_"))
	assert.Equal(t, "INFY", order["symbol"])
	assert.Equal(t, "http", order["source"])

	rec, body = f.do(t, http.MethodGet, "/api/orders/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["order"].(map[string]any)["order_id"])

	rec, body = f.do(t, http.MethodGet, "/api/positions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["positions"], 1)

	rec, _ = f.do(t, http.MethodPost, "/api/orders", `{"symbol":"INFY","side":"SELL","quantity":10,"price":1490}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/pnl", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pnl := body["pnl"].(map[string]any)
	assert.InDelta(t, -100.0, pnl["realized_pnl"], 1e-9)
	stored := body["stored"].(map[string]any)
	assert.InDelta(t, -100.0, stored["realized_total"], 1e-9)
	assert.InDelta(t, -100.0, stored["realized_session"], 1e-9)

	rec, body = f.do(t, http.MethodGet, "/api/trades?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["trades"], 2)

	rec, body = f.do(t, http.MethodGet, "/api/orders?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["orders"], 1)
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"not json":         `{`,
		"missing side":     `{"symbol":"INFY","quantity":1}`,
		"zero quantity":    `{"symbol":"INFY","side":"BUY","quantity":0}`,
		"fractional qty":   `{"symbol":"INFY","side":"BUY","quantity":1.5}`,
		"unknown field":    `{"symbol":"INFY","side":"BUY","quantity":1,"leverage":5}`,
		"limit sans price": `{"symbol":"INFY","side":"BUY","quantity":1,"order_type":"LIMIT"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, _ := f.do(t, http.MethodPost, "/api/orders", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, f.core.Orders(0))
}

func TestPlaceOrderRejections(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/orders", `{"symbol":"INFY","side":"SELL","quantity":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "insufficient_position", body["reason"])

	f.flags.SetAutoTrade(false, "test")
	rec, body = f.do(t, http.MethodPost, "/api/orders", `{"symbol":"INFY","side":"BUY","quantity":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "auto_trade_disabled", body["reason"])
}

func TestAutoTradeToggle(t *testing.T) {
	f := newFixture(t)

	rec, body := f.do(t, http.MethodGet, "/api/trading/auto_trade", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["auto_trade"])

	rec, body = f.do(t, http.MethodPut, "/api/trading/auto_trade", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["auto_trade"])
	assert.False(t, f.core.AutoTradeEnabled())
	assert.Equal(t, "http", f.flags.Snapshot().Source)

	rec, _ = f.do(t, http.MethodPut, "/api/trading/auto_trade", `{"enabled":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPut, "/api/trading/auto_trade", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOrderLookupMisses(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/api/orders/PAPER_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConnection(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, http.MethodGet, "/api/connection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["supervised"])
	assert.Equal(t, true, body["connection"].(map[string]any)["connected"])
}

func TestNewServerRequiresCore(t *testing.T) {
	_, err := NewServer(ServerConfig{Registry: agent.NewRegistry(logger.Nop())})
	assert.Error(t, err)
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Registry: f.reg, Core: f.core, Logger: logger.Nop()})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
