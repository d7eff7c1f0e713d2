package strategy

import (
	"context"
	"fmt"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

// MACrossoverConfig holds parameters for the MA crossover strategy.
type MACrossoverConfig struct {
	FastPeriod int // e.g. 10
	SlowPeriod int // e.g. 30
}

// DefaultMACrossoverConfig returns the standard crossover parameters.
func DefaultMACrossoverConfig() MACrossoverConfig {
	return MACrossoverConfig{FastPeriod: 10, SlowPeriod: 30}
}

// MACrossover signals when the fast moving average crosses the slow one.
// A cross is detected by comparing the relation on the previous bar with
// the relation on the current bar, so a persistent trend produces at
// most one signal at the cross itself.
type MACrossover struct {
	cfg    MACrossoverConfig
	logger ports.Logger
}

func NewMACrossover(cfg MACrossoverConfig, logger ports.Logger) (*MACrossover, error) {
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 {
		return nil, fmt.Errorf("moving average periods must be positive")
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast period must be less than slow period")
	}
	return &MACrossover{cfg: cfg, logger: logger}, nil
}

func (s *MACrossover) Name() string { return NameMACrossover }

// RequiredBars needs one extra bar so the previous-bar averages exist.
func (s *MACrossover) RequiredBars() int { return s.cfg.SlowPeriod + 1 }

func (s *MACrossover) Analyze(candles []domain.Candle) *domain.Signal {
	if len(candles) < s.RequiredBars() {
		return nil
	}

	curFast, err := movingAverage(candles, s.cfg.FastPeriod)
	if err != nil {
		return nil
	}
	curSlow, err := movingAverage(candles, s.cfg.SlowPeriod)
	if err != nil {
		return nil
	}
	prev := candles[:len(candles)-1]
	prevFast, err := movingAverage(prev, s.cfg.FastPeriod)
	if err != nil {
		return nil
	}
	prevSlow, err := movingAverage(prev, s.cfg.SlowPeriod)
	if err != nil {
		return nil
	}

	price := candles[len(candles)-1].Close
	if prevFast <= prevSlow && curFast > curSlow {
		s.logger.Debug(context.Background(), "bullish MA crossover", map[string]interface{}{
			"fast": curFast, "slow": curSlow, "price": price,
		})
		return &domain.Signal{
			Side:       domain.Buy,
			Price:      price,
			Confidence: 0.8,
			Strategy:   s.Name(),
			Reason:     fmt.Sprintf("fast MA %.5f crossed above slow MA %.5f", curFast, curSlow),
		}
	}
	if prevFast >= prevSlow && curFast < curSlow {
		s.logger.Debug(context.Background(), "bearish MA crossover", map[string]interface{}{
			"fast": curFast, "slow": curSlow, "price": price,
		})
		return &domain.Signal{
			Side:       domain.Sell,
			Price:      price,
			Confidence: 0.8,
			Strategy:   s.Name(),
			Reason:     fmt.Sprintf("fast MA %.5f crossed below slow MA %.5f", curFast, curSlow),
		}
	}
	return nil
}
