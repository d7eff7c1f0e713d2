package strategy

import (
	"fmt"
	"strings"

	"tradepulse/internal/ports"
)

// Known strategy names accepted by New.
const (
	NameMACrossover = "ma_crossover"
	NameRSI         = "rsi"
	NameBreakout    = "breakout"
	NameCombined    = "combined"
	NameDefault     = "default" // alias for ma_crossover
)

// New builds a strategy by name with its standard parameters. The logger
// is required so strategies can report why a signal fired.
func New(name string, logger ports.Logger) (ports.Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameMACrossover, NameDefault, "":
		return NewMACrossover(DefaultMACrossoverConfig(), logger)
	case NameRSI:
		return NewRSI(DefaultRSIConfig(), logger)
	case NameBreakout:
		return NewBreakout(DefaultBreakoutConfig(), logger)
	case NameCombined:
		return NewCombined(logger)
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Names lists the strategies New accepts, for config validation and the
// management API.
func Names() []string {
	return []string{NameMACrossover, NameRSI, NameBreakout, NameCombined}
}
