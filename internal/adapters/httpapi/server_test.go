package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/attribution"
	"tradepulse/internal/botmgr"
	"tradepulse/internal/broadcast"
	"tradepulse/internal/domain"
	"tradepulse/internal/execution"
	"tradepulse/internal/perf"
	"tradepulse/internal/reconcile"
	"tradepulse/internal/strategy"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockGateway satisfies ports.BrokerGateway with canned responses.
type mockGateway struct {
	pingErr error
	equity  float64
}

func (g *mockGateway) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (g *mockGateway) ListDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	return nil, nil
}

func (g *mockGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return &domain.OrderResult{Ticket: 1, Symbol: req.Symbol, Side: req.Side, Volume: req.Volume}, nil
}

func (g *mockGateway) AccountEquity(ctx context.Context) (float64, error) { return g.equity, nil }

func (g *mockGateway) SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	return &domain.SymbolInfo{Symbol: symbol, PipSize: 0.0001, ValuePerUnit: 1, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01}, nil
}

func (g *mockGateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return nil, nil
}

func (g *mockGateway) Ping(ctx context.Context) error { return g.pingErr }

// mockRepo satisfies ports.TradeRecordRepository.
type mockRepo struct {
	trades     []*domain.CompletedTrade
	byBot      map[string][]*domain.CompletedTrade
	countToday int
}

func (r *mockRepo) Record(ctx context.Context, trade *domain.CompletedTrade) error { return nil }

func (r *mockRepo) FindRecent(ctx context.Context, limit int) ([]*domain.CompletedTrade, error) {
	return r.trades, nil
}

func (r *mockRepo) FindByBot(ctx context.Context, botID string, limit int) ([]*domain.CompletedTrade, error) {
	return r.byBot[botID], nil
}

func (r *mockRepo) CountToday(ctx context.Context, botID string) (int, error) {
	return r.countToday, nil
}

func (r *mockRepo) Symbols(ctx context.Context) ([]string, error) { return nil, nil }

func newTestServer(t *testing.T, gw *mockGateway, repo *mockRepo) (*Server, *botmgr.Registry) {
	t.Helper()
	log := &mockLogger{}
	bus := broadcast.New(log)
	agg := perf.New(log)
	exec := execution.New(gw, agg, bus, log)
	registry := botmgr.NewRegistry(gw, exec, bus, agg, log, "1m", domain.RiskConfig{RiskPerTrade: 0.02, StopLossPips: 50, AutoTrading: true})
	t.Cleanup(func() { registry.StopAll(context.Background()) })

	resolver := attribution.NewResolver(registry, log)
	loop := reconcile.NewLoop(reconcile.Config{}, gw, resolver, agg, bus, log)
	return NewServer(registry, loop, agg, repo, bus, gw, log), registry
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, &mockGateway{}, &mockRepo{})
	rec := doRequest(t, srv.Router(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleHealth_DegradedOnPingFailure(t *testing.T) {
	srv, _ := newTestServer(t, &mockGateway{pingErr: context.DeadlineExceeded}, &mockRepo{})
	rec := doRequest(t, srv.Router(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}

func TestBotLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t, &mockGateway{}, &mockRepo{})
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/bots",
		`{"strategy":"rsi","symbol":"EURUSD"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var inst domain.BotInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inst))
	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, strategy.NameRSI, inst.StrategyName)
	// The default risk is applied when the request names none.
	assert.InDelta(t, 0.02, inst.Risk.RiskPerTrade, 1e-9)

	rec = doRequest(t, router, http.MethodGet, "/api/bots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bots []domain.BotInstance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bots))
	require.Len(t, bots, 1)
	assert.Equal(t, inst.ID, bots[0].ID)

	rec = doRequest(t, router, http.MethodPut, "/api/bots/"+inst.ID+"/risk",
		`{"risk_per_trade":0.01,"stop_loss_pips":30,"auto_trading":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/bots/"+inst.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/bots", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bots))
	assert.Empty(t, bots)
}

func TestBotEndpoints_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &mockGateway{}, &mockRepo{})
	router := srv.Router()

	rec := doRequest(t, router, http.MethodPost, "/api/bots", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/bots", `{"strategy":"astrology","symbol":"EURUSD"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/bots/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPut, "/api/bots/nope/risk", `{"risk_per_trade":0.01}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSnapshot(t *testing.T) {
	// Three trades closed today are on record from an earlier process;
	// the in-memory aggregator starts empty.
	srv, registry := newTestServer(t, &mockGateway{equity: 12345.67}, &mockRepo{countToday: 3})
	router := srv.Router()

	_, err := registry.Start(context.Background(), botmgr.StartRequest{StrategyName: strategy.NameBreakout, Symbol: "EURUSD"})
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap domain.ResyncSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Empty(t, snap.Positions)
	require.Len(t, snap.Bots, 1)
	require.Len(t, snap.Performance, 1)
	assert.Equal(t, snap.Bots[0].ID, snap.Performance[0].BotID)
	assert.Equal(t, 3, snap.Performance[0].TradesToday)
	assert.InDelta(t, 12345.67, snap.Account.Equity, 1e-9)
	assert.NotEmpty(t, snap.Timestamp)
}

func TestHandleTrades(t *testing.T) {
	repo := &mockRepo{
		trades: []*domain.CompletedTrade{{Ticket: 9001, Symbol: "EURUSD", Profit: 20}},
		byBot: map[string][]*domain.CompletedTrade{
			"bot-a": {{Ticket: 9002, BotID: "bot-a", Symbol: "GBPUSD", Profit: -5}},
		},
	}
	srv, _ := newTestServer(t, &mockGateway{}, repo)
	router := srv.Router()

	rec := doRequest(t, router, http.MethodGet, "/api/trades", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades []domain.CompletedTrade
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, int64(9001), trades[0].Ticket)

	rec = doRequest(t, router, http.MethodGet, "/api/trades?bot_id=bot-a", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, int64(9002), trades[0].Ticket)

	rec = doRequest(t, router, http.MethodGet, "/api/trades?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
