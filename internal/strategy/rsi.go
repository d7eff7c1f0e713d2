package strategy

import (
	"fmt"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

// RSIConfig holds parameters for the RSI reversal strategy.
type RSIConfig struct {
	Period     int     // e.g. 14
	Oversold   float64 // e.g. 30
	Overbought float64 // e.g. 70
}

// DefaultRSIConfig returns the standard Wilder parameters.
func DefaultRSIConfig() RSIConfig {
	return RSIConfig{Period: 14, Oversold: 30, Overbought: 70}
}

// RSIStrategy signals mean reversion at RSI extremes: buy when oversold,
// sell when overbought.
type RSIStrategy struct {
	cfg    RSIConfig
	logger ports.Logger
}

func NewRSI(cfg RSIConfig, logger ports.Logger) (*RSIStrategy, error) {
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("RSI period must be positive")
	}
	if cfg.Oversold <= 0 || cfg.Overbought >= 100 || cfg.Oversold >= cfg.Overbought {
		return nil, fmt.Errorf("RSI thresholds must satisfy 0 < oversold < overbought < 100")
	}
	return &RSIStrategy{cfg: cfg, logger: logger}, nil
}

func (s *RSIStrategy) Name() string { return NameRSI }

// RequiredBars needs one bar beyond the period for the first price change.
func (s *RSIStrategy) RequiredBars() int { return s.cfg.Period + 1 }

func (s *RSIStrategy) Analyze(candles []domain.Candle) *domain.Signal {
	if len(candles) < s.RequiredBars() {
		return nil
	}
	rsi, err := relativeStrength(candles, s.cfg.Period)
	if err != nil {
		return nil
	}

	price := candles[len(candles)-1].Close
	switch {
	case rsi <= s.cfg.Oversold:
		return &domain.Signal{
			Side:       domain.Buy,
			Price:      price,
			Confidence: 0.7,
			Strategy:   s.Name(),
			Reason:     fmt.Sprintf("RSI %.1f at or below oversold %.1f", rsi, s.cfg.Oversold),
		}
	case rsi >= s.cfg.Overbought:
		return &domain.Signal{
			Side:       domain.Sell,
			Price:      price,
			Confidence: 0.7,
			Strategy:   s.Name(),
			Reason:     fmt.Sprintf("RSI %.1f at or above overbought %.1f", rsi, s.cfg.Overbought),
		}
	}
	return nil
}
