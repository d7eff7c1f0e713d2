package domain

import "time"

// Deal is an immutable record of an executed fill. Deals are append-only:
// they are discovered from the broker's history, never mutated.
type Deal struct {
	Ticket     int64     `json:"ticket"`
	PositionID int64     `json:"position_id"` // ticket of the position this fill opens/closes
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"`
	Profit     float64   `json:"profit"` // realized, excl. costs
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Tag        int64     `json:"tag"`
	Comment    string    `json:"comment,omitempty"`
	Time       time.Time `json:"time"`
}

// NetProfit is the realized profit including commission and swap.
func (d Deal) NetProfit() float64 {
	return d.Profit + d.Commission + d.Swap
}
