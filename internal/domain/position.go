package domain

import "time"

// Position is an open trade as currently reported by the broker terminal.
// Positions are owned by the broker; the reconciliation loop mirrors them
// read-only and replaces its mirror wholesale on every poll.
type Position struct {
	Ticket       int64     `json:"ticket"` // broker-assigned, unique
	Symbol       string    `json:"symbol"`
	Side         OrderSide `json:"side"`
	Volume       float64   `json:"volume"`
	EntryPrice   float64   `json:"entry_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"stop_loss,omitempty"`
	TakeProfit   float64   `json:"take_profit,omitempty"`
	Profit       float64   `json:"profit"` // floating, excl. costs
	Commission   float64   `json:"commission"`
	Swap         float64   `json:"swap"`
	Tag          int64     `json:"tag"` // numeric attribution tag
	Comment      string    `json:"comment,omitempty"`
	OpenTime     time.Time `json:"open_time"`
}

// NetProfit is the floating profit including commission and swap.
func (p Position) NetProfit() float64 {
	return p.Profit + p.Commission + p.Swap
}

// ChangePercent is the signed move from entry to current price,
// positive when the position is in profit.
func (p Position) ChangePercent() float64 {
	if p.EntryPrice == 0 || p.CurrentPrice == 0 {
		return 0
	}
	pct := (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
	if p.Side == Sell {
		return -pct
	}
	return pct
}
