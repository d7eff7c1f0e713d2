package domain

import "time"

// EventType tags the events delivered to dashboard subscribers.
type EventType string

const (
	EventPositionOpened   EventType = "position_opened"
	EventPositionUpdated  EventType = "position_updated"
	EventPositionClosed   EventType = "position_closed"
	EventTradeExecuted    EventType = "trade_executed"
	EventTradeRejected    EventType = "trade_rejected"
	EventPerformance      EventType = "performance_snapshot"
	EventConnectionStatus EventType = "connection_status"
	EventBotStatus        EventType = "bot_status"
)

// Event is a single tagged message published to subscribers. Exactly one
// payload field is set, matching the event type.
type Event struct {
	Type      EventType `json:"type"`
	Ticket    int64     `json:"ticket,omitempty"`
	BotID     string    `json:"bot_id,omitempty"`
	Timestamp string    `json:"timestamp"` // ISO-8601

	Position    *Position            `json:"position,omitempty"`
	Trade       *CompletedTrade      `json:"trade,omitempty"`
	Execution   *ExecutionReport     `json:"execution,omitempty"`
	Performance *PerformanceSnapshot `json:"performance,omitempty"`
	Attribution *Attribution         `json:"attribution,omitempty"`
	Status      string               `json:"status,omitempty"`
	Reason      string               `json:"reason,omitempty"`
}

// NewEvent stamps an event with the given time in ISO-8601 form.
func NewEvent(t EventType, at time.Time) Event {
	return Event{Type: t, Timestamp: at.UTC().Format(time.RFC3339Nano)}
}

// CompletedTrade is a closed round trip as recorded by the performance
// aggregator and the trade history store.
type CompletedTrade struct {
	Ticket     int64     `json:"ticket"` // closing deal ticket
	PositionID int64     `json:"position_id"`
	BotID      string    `json:"bot_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Profit     float64   `json:"profit"` // net of commission and swap
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
	Estimated  bool      `json:"estimated,omitempty"` // true when reconstructed without a matching deal
}

// ExecutionReport describes the outcome of one order execution attempt.
type ExecutionReport struct {
	BotID      string    `json:"bot_id"`
	Signal     Signal    `json:"signal"`
	State      string    `json:"state"` // confirmed, rejected or refused
	Ticket     int64     `json:"ticket,omitempty"`
	Volume     float64   `json:"volume,omitempty"`
	FillPrice  float64   `json:"fill_price,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Time       time.Time `json:"time"`
}

// DailyBucket accumulates one day's completed-trade results.
type DailyBucket struct {
	Trades  int     `json:"trades"`
	Profit  float64 `json:"profit"`
	Winning int     `json:"winning"`
	Losing  int     `json:"losing"`
}

// PerformanceSnapshot merges an instance's lifetime totals with its live
// open-position state. Recomputing it without new transitions yields an
// identical value.
type PerformanceSnapshot struct {
	BotID            string           `json:"bot_id"`
	TotalTrades      int              `json:"total_trades"`
	WinningTrades    int              `json:"winning_trades"`
	LosingTrades     int              `json:"losing_trades"`
	WinRate          float64          `json:"win_rate"` // percent
	RealizedProfit   float64          `json:"realized_profit"`
	UnrealizedProfit float64          `json:"unrealized_profit"`
	TotalProfit      float64          `json:"total_profit"`
	DailyProfit      float64          `json:"daily_profit"`
	TradesToday      int              `json:"trades_today"`
	MaxDrawdown      float64          `json:"max_drawdown"`
	ActiveTrades     int              `json:"active_trades"`
	RecentTrades     []CompletedTrade `json:"recent_trades,omitempty"`
}

// AccountSummary is the broker-level view included in resync snapshots.
type AccountSummary struct {
	Equity           float64 `json:"equity"`
	UnrealizedProfit float64 `json:"unrealized_profit"`
	OpenPositions    int     `json:"open_positions"`
}

// ResyncSnapshot is the full current state a reconnecting subscriber can
// pull instead of relying on event replay.
type ResyncSnapshot struct {
	Positions   []Position            `json:"positions"`
	Bots        []BotInstance         `json:"bots"`
	Performance []PerformanceSnapshot `json:"performance"`
	Account     AccountSummary        `json:"account"`
	Timestamp   string                `json:"timestamp"`
}
