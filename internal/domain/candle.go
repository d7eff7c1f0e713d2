package domain

import "time"

// Candle is a single OHLCV data point used as strategy input.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}
