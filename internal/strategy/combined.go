package strategy

import (
	"fmt"
	"strings"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

// Combined runs the crossover, RSI and breakout strategies and signals
// only when at least two of them agree on a side. Agreement boosts the
// averaged confidence by 20 percent, capped at 0.95.
type Combined struct {
	members []ports.Strategy
	logger  ports.Logger
}

func NewCombined(logger ports.Logger) (*Combined, error) {
	ma, err := NewMACrossover(DefaultMACrossoverConfig(), logger)
	if err != nil {
		return nil, err
	}
	rsi, err := NewRSI(DefaultRSIConfig(), logger)
	if err != nil {
		return nil, err
	}
	br, err := NewBreakout(DefaultBreakoutConfig(), logger)
	if err != nil {
		return nil, err
	}
	return &Combined{members: []ports.Strategy{ma, rsi, br}, logger: logger}, nil
}

func (s *Combined) Name() string { return NameCombined }

func (s *Combined) RequiredBars() int {
	max := 0
	for _, m := range s.members {
		if n := m.RequiredBars(); n > max {
			max = n
		}
	}
	return max
}

func (s *Combined) Analyze(candles []domain.Candle) *domain.Signal {
	votes := make(map[domain.OrderSide][]*domain.Signal)
	for _, m := range s.members {
		if sig := m.Analyze(candles); sig != nil {
			votes[sig.Side] = append(votes[sig.Side], sig)
		}
	}

	for side, sigs := range votes {
		if len(sigs) < 2 {
			continue
		}
		var sum float64
		names := make([]string, 0, len(sigs))
		for _, sig := range sigs {
			sum += sig.Confidence
			names = append(names, sig.Strategy)
		}
		confidence := sum / float64(len(sigs)) * 1.2
		if confidence > 0.95 {
			confidence = 0.95
		}
		return &domain.Signal{
			Side:       side,
			Price:      candles[len(candles)-1].Close,
			Confidence: confidence,
			Strategy:   s.Name(),
			Reason:     fmt.Sprintf("%d of %d agree: %s", len(sigs), len(s.members), strings.Join(names, ", ")),
		}
	}
	return nil
}
