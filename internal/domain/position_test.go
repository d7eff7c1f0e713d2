package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPositionNetProfit(t *testing.T) {
	p := Position{Profit: 10, Commission: -0.5, Swap: -0.1}
	assert.InDelta(t, 9.4, p.NetProfit(), 1e-9)
}

func TestPositionChangePercent(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		want float64
	}{
		{
			name: "buy in profit",
			pos:  Position{Side: Buy, EntryPrice: 100, CurrentPrice: 110},
			want: 10,
		},
		{
			name: "sell in profit when price falls",
			pos:  Position{Side: Sell, EntryPrice: 100, CurrentPrice: 90},
			want: 10,
		},
		{
			name: "sell losing when price rises",
			pos:  Position{Side: Sell, EntryPrice: 100, CurrentPrice: 105},
			want: -5,
		},
		{
			name: "zero entry price",
			pos:  Position{Side: Buy, CurrentPrice: 110},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.pos.ChangePercent(), 1e-9)
		})
	}
}
