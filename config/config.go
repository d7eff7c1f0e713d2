package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tradepulse/internal/adapters/logger"
	"tradepulse/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Reconciliation cadences
	FastPollInterval time.Duration // open position poll
	DealPollInterval time.Duration // deal history poll
	DealOverlap      time.Duration // re-query window to absorb clock skew
	CatchupLookback  time.Duration // startup deal catch-up window
	ClosedLookback   time.Duration // closing-deal search window
	ProfitDeltaAbs   float64       // min absolute profit change to emit an update
	PriceDeltaFrac   float64       // min relative price change to emit an update

	// Default risk settings applied to new bot instances
	DefaultRisk domain.RiskConfig

	// Candle interval used when a start request names none
	DefaultInterval string

	// HTTP control surface
	HTTPAddr string

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Reconciliation cadences
	fastPollMs := getEnvAsInt("FAST_POLL_MS", 1000)
	if fastPollMs <= 0 {
		errs = append(errs, "FAST_POLL_MS must be positive")
	}
	cfg.FastPollInterval = time.Duration(fastPollMs) * time.Millisecond

	dealPollSeconds := getEnvAsInt("DEAL_POLL_SECONDS", 5)
	if dealPollSeconds <= 0 {
		errs = append(errs, "DEAL_POLL_SECONDS must be positive")
	}
	cfg.DealPollInterval = time.Duration(dealPollSeconds) * time.Second

	dealOverlapMinutes := getEnvAsInt("DEAL_OVERLAP_MINUTES", 3)
	if dealOverlapMinutes < 0 {
		errs = append(errs, "DEAL_OVERLAP_MINUTES cannot be negative")
	}
	cfg.DealOverlap = time.Duration(dealOverlapMinutes) * time.Minute

	catchupMinutes := getEnvAsInt("CATCHUP_LOOKBACK_MINUTES", 30)
	if catchupMinutes < 0 {
		errs = append(errs, "CATCHUP_LOOKBACK_MINUTES cannot be negative")
	}
	cfg.CatchupLookback = time.Duration(catchupMinutes) * time.Minute

	closedLookbackMinutes := getEnvAsInt("CLOSED_LOOKBACK_MINUTES", 15)
	if closedLookbackMinutes < 0 {
		errs = append(errs, "CLOSED_LOOKBACK_MINUTES cannot be negative")
	}
	cfg.ClosedLookback = time.Duration(closedLookbackMinutes) * time.Minute

	cfg.ProfitDeltaAbs, err = getEnvAsFloatRequired("PROFIT_DELTA_ABS", 0.01)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PROFIT_DELTA_ABS: %v", err))
	} else if cfg.ProfitDeltaAbs < 0 {
		errs = append(errs, "PROFIT_DELTA_ABS cannot be negative")
	}

	cfg.PriceDeltaFrac, err = getEnvAsFloatRequired("PRICE_DELTA_FRAC", 1e-6)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_DELTA_FRAC: %v", err))
	} else if cfg.PriceDeltaFrac < 0 {
		errs = append(errs, "PRICE_DELTA_FRAC cannot be negative")
	}

	// Default risk settings
	cfg.DefaultRisk.RiskPerTrade, err = getEnvAsFloatRequired("RISK_PER_TRADE", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PER_TRADE: %v", err))
	} else if cfg.DefaultRisk.RiskPerTrade <= 0 || cfg.DefaultRisk.RiskPerTrade >= 1.0 {
		errs = append(errs, "RISK_PER_TRADE must be between 0.0 and 1.0 (exclusive)")
	}

	cfg.DefaultRisk.StopLossPips, err = getEnvAsFloatRequired("STOP_LOSS_PIPS", 50)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PIPS: %v", err))
	} else if cfg.DefaultRisk.StopLossPips <= 0 {
		errs = append(errs, "STOP_LOSS_PIPS must be positive")
	}

	cfg.DefaultRisk.TakeProfitPips, err = getEnvAsFloatRequired("TAKE_PROFIT_PIPS", 100)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TAKE_PROFIT_PIPS: %v", err))
	} else if cfg.DefaultRisk.TakeProfitPips < 0 {
		errs = append(errs, "TAKE_PROFIT_PIPS cannot be negative")
	}

	cfg.DefaultRisk.MaxDailyTrades = getEnvAsInt("MAX_DAILY_TRADES", 5)
	if cfg.DefaultRisk.MaxDailyTrades < 0 {
		errs = append(errs, "MAX_DAILY_TRADES cannot be negative")
	}

	cfg.DefaultRisk.MaxConsecutiveLosses = getEnvAsInt("MAX_CONSECUTIVE_LOSSES", 3)
	if cfg.DefaultRisk.MaxConsecutiveLosses < 0 {
		errs = append(errs, "MAX_CONSECUTIVE_LOSSES cannot be negative")
	}

	cfg.DefaultRisk.AutoTrading = getEnvAsBool("AUTO_TRADING", true)

	// Candle interval
	cfg.DefaultInterval = getEnv("CANDLE_INTERVAL", "1m")

	// HTTP control surface
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	if cfg.HTTPAddr == "" {
		errs = append(errs, "HTTP_ADDR must be set")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/tradepulse.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
