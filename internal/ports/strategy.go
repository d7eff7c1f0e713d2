package ports

import "tradepulse/internal/domain"

// Strategy maps a bounded OHLCV window to an optional trade signal.
// Implementations must be stateless and pure over the window so that
// instances can share them and evaluations can be replayed in tests.
type Strategy interface {
	// Name identifies the strategy in signals and configuration.
	Name() string

	// RequiredBars returns the minimum window length the strategy needs.
	RequiredBars() int

	// Analyze inspects the window and returns a signal, or nil when the
	// market offers nothing actionable.
	Analyze(candles []domain.Candle) *domain.Signal
}
