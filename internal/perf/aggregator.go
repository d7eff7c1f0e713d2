package perf

import (
	"context"
	"sync"
	"time"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

// historyLimit bounds the completed-trade ring kept per instance.
const historyLimit = 50

// dayKey formats a timestamp into the per-day bucket key.
func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// lifetime holds one instance's cumulative statistics. Counters grow
// monotonically except for the bounded history ring; the recorded-ticket
// set tracks exactly the tickets still present in the ring.
type lifetime struct {
	completed int
	winning   int
	losing    int
	realized  float64

	peak        float64
	maxDrawdown float64

	consecutiveLosses int

	history  []domain.CompletedTrade
	recorded map[int64]struct{}

	daily map[string]*domain.DailyBucket
}

func newLifetime() *lifetime {
	return &lifetime{
		recorded: make(map[int64]struct{}),
		daily:    make(map[string]*domain.DailyBucket),
	}
}

// Aggregator is the sole mutator of lifetime statistics. Writes arrive
// from the reconciliation pipeline on closed transitions; reads copy the
// merged snapshot so callers never hold a lock across I/O.
type Aggregator struct {
	logger ports.Logger

	mu    sync.RWMutex
	stats map[string]*lifetime
	clock func() time.Time
}

// New creates an Aggregator.
func New(logger ports.Logger) *Aggregator {
	return &Aggregator{
		logger: logger,
		stats:  make(map[string]*lifetime),
		clock:  time.Now,
	}
}

// Track ensures statistics exist for the instance. Restarting an
// instance with the same ID keeps its accumulated lifetime stats.
func (a *Aggregator) Track(botID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.stats[botID]; !ok {
		a.stats[botID] = newLifetime()
	}
}

// RecordClosed folds a completed trade into the instance's lifetime
// statistics. A closing ticket already present in the bounded history is
// ignored, which is what makes closed-transition processing idempotent.
// It returns true when the trade was newly recorded.
func (a *Aggregator) RecordClosed(ctx context.Context, botID string, trade domain.CompletedTrade) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	lt, ok := a.stats[botID]
	if !ok {
		lt = newLifetime()
		a.stats[botID] = lt
	}
	if _, dup := lt.recorded[trade.Ticket]; dup {
		return false
	}

	lt.completed++
	lt.realized += trade.Profit
	switch {
	case trade.Profit > 0:
		lt.winning++
		lt.consecutiveLosses = 0
	case trade.Profit < 0:
		lt.losing++
		lt.consecutiveLosses++
	}

	// Incremental peak-to-trough drawdown over the realized curve.
	if lt.realized > lt.peak {
		lt.peak = lt.realized
	}
	if dd := lt.peak - lt.realized; dd > lt.maxDrawdown {
		lt.maxDrawdown = dd
	}

	lt.recorded[trade.Ticket] = struct{}{}
	lt.history = append(lt.history, trade)
	if len(lt.history) > historyLimit {
		evicted := lt.history[0]
		lt.history = lt.history[1:]
		delete(lt.recorded, evicted.Ticket)
	}

	key := dayKey(trade.CloseTime)
	bucket, ok := lt.daily[key]
	if !ok {
		bucket = &domain.DailyBucket{}
		lt.daily[key] = bucket
	}
	bucket.Trades++
	bucket.Profit += trade.Profit
	if trade.Profit > 0 {
		bucket.Winning++
	} else if trade.Profit < 0 {
		bucket.Losing++
	}

	a.logger.Info(ctx, "Recorded completed trade", map[string]interface{}{
		"botID":    botID,
		"ticket":   trade.Ticket,
		"profit":   trade.Profit,
		"lifetime": lt.completed,
	})
	return true
}

// Snapshot merges the instance's lifetime totals with the live open
// positions attributed to it. The computation reads only recorded state
// and its inputs, so repeated calls without new transitions are
// bit-identical.
func (a *Aggregator) Snapshot(botID string, open []domain.Position) domain.PerformanceSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := domain.PerformanceSnapshot{BotID: botID}
	lt, ok := a.stats[botID]
	if ok {
		snap.TotalTrades = lt.completed
		snap.WinningTrades = lt.winning
		snap.LosingTrades = lt.losing
		snap.RealizedProfit = lt.realized
		snap.MaxDrawdown = lt.maxDrawdown
		if lt.completed > 0 {
			snap.WinRate = float64(lt.winning) / float64(lt.completed) * 100
		}
		if bucket, ok := lt.daily[dayKey(a.clock())]; ok {
			snap.DailyProfit = bucket.Profit
			snap.TradesToday = bucket.Trades
		}
		// Copy the ring so callers cannot mutate aggregator state.
		if n := len(lt.history); n > 0 {
			snap.RecentTrades = make([]domain.CompletedTrade, n)
			copy(snap.RecentTrades, lt.history)
		}
	}

	for _, pos := range open {
		snap.UnrealizedProfit += pos.NetProfit()
	}
	snap.ActiveTrades = len(open)
	snap.TotalProfit = snap.RealizedProfit + snap.UnrealizedProfit
	return snap
}

// TradesToday returns the number of trades the instance completed
// today. Completed means closed; submissions awaiting a close are
// counted by the executor's own daily counter.
func (a *Aggregator) TradesToday(botID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	lt, ok := a.stats[botID]
	if !ok {
		return 0
	}
	if bucket, ok := lt.daily[dayKey(a.clock())]; ok {
		return bucket.Trades
	}
	return 0
}

// ConsecutiveLosses returns the instance's current losing streak.
func (a *Aggregator) ConsecutiveLosses(botID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if lt, ok := a.stats[botID]; ok {
		return lt.consecutiveLosses
	}
	return 0
}
