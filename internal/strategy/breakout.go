package strategy

import (
	"fmt"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

// BreakoutConfig holds parameters for the range breakout strategy.
type BreakoutConfig struct {
	Lookback  int     // window of prior bars forming the range, e.g. 20
	Threshold float64 // fractional margin the close must clear, e.g. 0.001
}

// DefaultBreakoutConfig returns the standard breakout parameters.
func DefaultBreakoutConfig() BreakoutConfig {
	return BreakoutConfig{Lookback: 20, Threshold: 0.001}
}

// Breakout signals when the current close escapes the high-low range of
// the preceding lookback window. The current bar is excluded from the
// range so a breakout bar cannot raise its own ceiling.
type Breakout struct {
	cfg    BreakoutConfig
	logger ports.Logger
}

func NewBreakout(cfg BreakoutConfig, logger ports.Logger) (*Breakout, error) {
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("breakout lookback must be positive")
	}
	if cfg.Threshold < 0 {
		return nil, fmt.Errorf("breakout threshold must not be negative")
	}
	return &Breakout{cfg: cfg, logger: logger}, nil
}

func (s *Breakout) Name() string { return NameBreakout }

func (s *Breakout) RequiredBars() int { return s.cfg.Lookback + 1 }

func (s *Breakout) Analyze(candles []domain.Candle) *domain.Signal {
	if len(candles) < s.RequiredBars() {
		return nil
	}

	window := candles[len(candles)-1-s.cfg.Lookback : len(candles)-1]
	high, low, err := highLow(window)
	if err != nil {
		return nil
	}

	price := candles[len(candles)-1].Close
	if price > high*(1+s.cfg.Threshold) {
		return &domain.Signal{
			Side:       domain.Buy,
			Price:      price,
			Confidence: 0.75,
			Strategy:   s.Name(),
			Reason:     fmt.Sprintf("close %.5f broke above %d-bar high %.5f", price, s.cfg.Lookback, high),
		}
	}
	if price < low*(1-s.cfg.Threshold) {
		return &domain.Signal{
			Side:       domain.Sell,
			Price:      price,
			Confidence: 0.75,
			Strategy:   s.Name(),
			Reason:     fmt.Sprintf("close %.5f broke below %d-bar low %.5f", price, s.cfg.Lookback, low),
		}
	}
	return nil
}
