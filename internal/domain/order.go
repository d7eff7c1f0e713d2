package domain

import "time"

// OrderRequest is a fully-specified order handed to the broker gateway.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Volume     float64
	Price      float64 // reference price for market execution
	StopLoss   float64 // 0 disables
	TakeProfit float64 // 0 disables
	FillMode   FillMode
	Tag        int64
	Comment    string
}

// OrderResult is the broker's confirmation of a filled order.
type OrderResult struct {
	Ticket    int64
	Symbol    string
	Side      OrderSide
	Volume    float64 // filled volume
	FillPrice float64
	Time      time.Time
}

// SymbolInfo carries the instrument constraints needed for sizing and
// stop placement.
type SymbolInfo struct {
	Symbol       string
	PipSize      float64 // price units per pip
	ValuePerUnit float64 // account-currency value of one price unit per volume unit
	MinVolume    float64
	MaxVolume    float64
	VolumeStep   float64
	MinStopLevel float64 // minimum broker distance for stops, in price units
}
