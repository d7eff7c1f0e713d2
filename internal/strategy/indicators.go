package strategy

import (
	"fmt"

	"tradepulse/internal/domain"
)

// movingAverage calculates the Simple Moving Average over the last
// period closes.
func movingAverage(candles []domain.Candle, period int) (float64, error) {
	if len(candles) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate MA for period %d", len(candles), period)
	}

	total := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		total += candles[i].Close
	}
	return total / float64(period), nil
}

// relativeStrength calculates the RSI using Wilder's smoothing method.
func relativeStrength(candles []domain.Candle, period int) (float64, error) {
	if len(candles) <= period {
		return 0, fmt.Errorf("not enough data (%d) to calculate RSI for period %d", len(candles), period)
	}

	changes := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		changes = append(changes, candles[i].Close-candles[i-1].Close)
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*float64(period-1) + changes[i]) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) - changes[i]) / float64(period)
		}
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, nil // neutral if no change
		}
		return 100, nil
	}

	rs := avgGain / avgLoss
	rsi := 100 - (100 / (1 + rs))
	if rsi > 100 {
		rsi = 100
	} else if rsi < 0 {
		rsi = 0
	}
	return rsi, nil
}

// highLow returns the highest high and lowest low over the given window.
func highLow(candles []domain.Candle) (high, low float64, err error) {
	if len(candles) == 0 {
		return 0, 0, fmt.Errorf("no candles in window")
	}
	high = candles[0].High
	low = candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low, nil
}
