package ports

import (
	"context"
	"time"

	"tradepulse/internal/domain"
)

// BrokerGateway is the synchronous interface to the external trading
// terminal. All calls are expected to honor the context deadline; a call
// that fails with a transient classification (see IsTransient) is safe
// to retry on the next poll cycle.
type BrokerGateway interface {
	// ListOpenPositions returns every position currently reported open.
	ListOpenPositions(ctx context.Context) ([]domain.Position, error)

	// ListDeals returns the fill records created in [from, to].
	ListDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error)

	// SubmitOrder places a market order. A broker-declared rejection is
	// returned as an *OrderRejectedError; transport failures are wrapped
	// transient errors.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)

	// AccountEquity returns the account's current equity.
	AccountEquity(ctx context.Context) (float64, error)

	// SymbolInfo returns the instrument constraints for sizing and stops.
	SymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error)

	// Candles returns the most recent OHLCV bars for the symbol.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)

	// Ping checks connectivity to the terminal.
	Ping(ctx context.Context) error
}
