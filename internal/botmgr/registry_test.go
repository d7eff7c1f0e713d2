package botmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/broadcast"
	"tradepulse/internal/domain"
	"tradepulse/internal/execution"
	"tradepulse/internal/strategy"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockGateway satisfies ports.BrokerGateway; the signal loops never fire
// within these tests, so calls just return empty results.
type mockGateway struct{}

func (g *mockGateway) ListOpenPositions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

func (g *mockGateway) ListDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	return nil, nil
}

func (g *mockGateway) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return &domain.OrderResult{Ticket: 1, Symbol: req.Symbol, Side: req.Side, Volume: req.Volume}, nil
}

func (g *mockGateway) AccountEquity(ctx context.Context) (float64, error) { return 10000, nil }

func (g *mockGateway) SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	return &domain.SymbolInfo{Symbol: symbol, PipSize: 0.0001, ValuePerUnit: 1, MinVolume: 0.01, MaxVolume: 100, VolumeStep: 0.01}, nil
}

func (g *mockGateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return nil, nil
}

func (g *mockGateway) Ping(ctx context.Context) error { return nil }

// mockStats satisfies execution.StatsSource.
type mockStats struct{}

func (s *mockStats) ConsecutiveLosses(botID string) int { return 0 }

func (s *mockStats) TradesToday(botID string) int { return 0 }

// mockTracker records Track calls.
type mockTracker struct{ tracked []string }

func (m *mockTracker) Track(botID string) { m.tracked = append(m.tracked, botID) }

func newTestRegistry(t *testing.T, defaultRisk domain.RiskConfig) (*Registry, *mockTracker, <-chan domain.Event) {
	t.Helper()
	log := &mockLogger{}
	bus := broadcast.New(log)
	events, unsubscribe := bus.Subscribe()
	t.Cleanup(unsubscribe)

	exec := execution.New(&mockGateway{}, &mockStats{}, bus, log)
	tracker := &mockTracker{}
	return NewRegistry(&mockGateway{}, exec, bus, tracker, log, "1m", defaultRisk), tracker, events
}

func drainEvents(ch <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestStart_AllocatesDisjointTagRanges(t *testing.T) {
	reg, tracker, _ := newTestRegistry(t, domain.RiskConfig{})
	ctx := context.Background()
	t.Cleanup(func() { reg.StopAll(ctx) })

	a, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameMACrossover, Symbol: "EURUSD"})
	require.NoError(t, err)
	b, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI, Symbol: "GBPUSD"})
	require.NoError(t, err)

	assert.Equal(t, int64(234000), a.Tag)
	assert.Equal(t, domain.TagRange{Lo: 234000, Hi: 234099}, a.Tags)
	assert.Equal(t, int64(234100), b.Tag)
	assert.Equal(t, domain.TagRange{Lo: 234100, Hi: 234199}, b.Tags)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, a.ID, 8)

	assert.Equal(t, []string{a.ID, b.ID}, tracker.tracked)
}

func TestStart_AppliesDefaultRisk(t *testing.T) {
	def := domain.RiskConfig{RiskPerTrade: 0.02, StopLossPips: 50, TakeProfitPips: 100, MaxDailyTrades: 5, AutoTrading: true}
	reg, _, _ := newTestRegistry(t, def)
	ctx := context.Background()
	t.Cleanup(func() { reg.StopAll(ctx) })

	inst, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI, Symbol: "EURUSD"})
	require.NoError(t, err)
	assert.Equal(t, def, inst.Risk)

	// An explicit risk config is kept as given.
	custom := domain.RiskConfig{RiskPerTrade: 0.01, StopLossPips: 20, AutoTrading: true}
	inst2, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI, Symbol: "EURUSD", Risk: custom})
	require.NoError(t, err)
	assert.Equal(t, custom, inst2.Risk)
}

func TestStart_RejectsBadRequests(t *testing.T) {
	reg, _, _ := newTestRegistry(t, domain.RiskConfig{})
	ctx := context.Background()

	_, err := reg.Start(ctx, StartRequest{StrategyName: "astrology", Symbol: "EURUSD"})
	assert.Error(t, err)

	_, err = reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol is required")
}

func TestStart_PublishesStartedStatus(t *testing.T) {
	reg, _, events := newTestRegistry(t, domain.RiskConfig{})
	ctx := context.Background()
	t.Cleanup(func() { reg.StopAll(ctx) })

	inst, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameBreakout, Symbol: "EURUSD"})
	require.NoError(t, err)

	got := drainEvents(events)
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventBotStatus, got[0].Type)
	assert.Equal(t, inst.ID, got[0].BotID)
	assert.Equal(t, "started", got[0].Status)
}

func TestStop_RemovesInstanceAndPublishesStatus(t *testing.T) {
	reg, _, events := newTestRegistry(t, domain.RiskConfig{})
	ctx := context.Background()

	inst, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI, Symbol: "EURUSD"})
	require.NoError(t, err)
	drainEvents(events)

	require.NoError(t, reg.Stop(ctx, inst.ID))
	assert.Empty(t, reg.Instances())

	got := drainEvents(events)
	require.Len(t, got, 1)
	assert.Equal(t, "stopped", got[0].Status)

	err = reg.Stop(ctx, inst.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown bot")
}

func TestUpdateRisk(t *testing.T) {
	reg, _, _ := newTestRegistry(t, domain.RiskConfig{AutoTrading: true})
	ctx := context.Background()
	t.Cleanup(func() { reg.StopAll(ctx) })

	inst, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI, Symbol: "EURUSD"})
	require.NoError(t, err)

	updated := domain.RiskConfig{RiskPerTrade: 0.05, StopLossPips: 30, MaxDailyTrades: 2}
	require.NoError(t, reg.UpdateRisk(ctx, inst.ID, updated))

	live := reg.Instances()
	require.Len(t, live, 1)
	assert.Equal(t, updated, live[0].Risk)

	err = reg.UpdateRisk(ctx, "nope", updated)
	assert.Error(t, err)
}

func TestInstances_SortedByID(t *testing.T) {
	reg, _, _ := newTestRegistry(t, domain.RiskConfig{})
	ctx := context.Background()
	t.Cleanup(func() { reg.StopAll(ctx) })

	for i := 0; i < 5; i++ {
		_, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI, Symbol: "EURUSD"})
		require.NoError(t, err)
	}

	live := reg.Instances()
	require.Len(t, live, 5)
	for i := 1; i < len(live); i++ {
		assert.Less(t, live[i-1].ID, live[i].ID)
	}
}

func TestStopAll(t *testing.T) {
	reg, _, _ := newTestRegistry(t, domain.RiskConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := reg.Start(ctx, StartRequest{StrategyName: strategy.NameRSI, Symbol: "EURUSD"})
		require.NoError(t, err)
	}

	reg.StopAll(ctx)
	assert.Empty(t, reg.Instances())
}

func TestIntervalDuration(t *testing.T) {
	d, err := intervalDuration("15m")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, d)

	_, err = intervalDuration("2w")
	assert.Error(t, err)
}
