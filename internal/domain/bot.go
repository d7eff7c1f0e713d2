package domain

import "time"

// RiskConfig holds the per-instance risk limits applied by the execution
// unit. All values are tunable at runtime via the control surface.
type RiskConfig struct {
	RiskPerTrade         float64 `json:"risk_per_trade"` // fraction of equity, e.g. 0.02
	StopLossPips         float64 `json:"stop_loss_pips"`
	TakeProfitPips       float64 `json:"take_profit_pips"`
	MaxDailyTrades       int     `json:"max_daily_trades"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	AutoTrading          bool    `json:"auto_trading"`
}

// TagRange is the half-open span of numeric attribution tags reserved
// for one bot instance. The instance's own tag is always Lo.
type TagRange struct {
	Lo int64 `json:"lo"`
	Hi int64 `json:"hi"` // inclusive
}

// Contains reports whether tag falls inside the range.
func (r TagRange) Contains(tag int64) bool {
	return tag >= r.Lo && tag <= r.Hi
}

// BotInstance is one running configuration of a strategy: identity,
// attribution tag, risk settings and activity timestamps. Lifetime
// statistics live in the performance aggregator, keyed by ID, so they
// survive the closing of the instance's positions.
type BotInstance struct {
	ID           string     `json:"id"`
	Tag          int64      `json:"tag"` // unique per instance
	Tags         TagRange   `json:"tag_range"`
	StrategyName string     `json:"strategy"`
	Symbol       string     `json:"symbol"`
	Risk         RiskConfig `json:"risk"`
	StartedAt    time.Time  `json:"started_at"`
	LastActivity time.Time  `json:"last_activity"`
}

// CommentPrefix is embedded in every order comment this instance submits
// so trades stay attributable when the numeric tag is stripped by the
// broker. Comments are capped at 31 characters by the terminal.
func (b *BotInstance) CommentPrefix() string {
	return "TradePulse_" + b.ID
}
