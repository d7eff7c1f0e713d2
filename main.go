package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"tradepulse/config"
	"tradepulse/internal/adapters/binancegw"
	"tradepulse/internal/adapters/logger"
	"tradepulse/internal/adapters/sqlite"
	"tradepulse/internal/app"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Trade Record Store (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trade record store")
		log.Fatalf("FATAL: Failed to initialize trade record store: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing trade record store")
		}
	}()

	// 4. Initialize Broker Gateway (Binance Adapter)
	gateway, err := binancegw.New(binancegw.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize broker gateway")
		log.Fatalf("FATAL: Failed to initialize broker gateway: %v", err)
	}
	appLogger.Info(context.Background(), "Broker gateway initialized")

	// Seed the gateway's deal-query symbol set from recorded history so
	// the startup catch-up covers trades closed while the process was
	// down.
	if symbols, err := repo.Symbols(context.Background()); err != nil {
		appLogger.Warn(context.Background(), "Could not load recorded symbols for catch-up", map[string]interface{}{"error": err.Error()})
	} else if len(symbols) > 0 {
		gateway.SeedSymbols(symbols...)
		appLogger.Info(context.Background(), "Seeded deal-query symbols from trade records", map[string]interface{}{"count": len(symbols)})
	}

	// 5. Compose and Run the Service
	service, err := app.New(cfg, appLogger, gateway, repo)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize service")
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}

	if err := service.Run(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Service exited with error")
		log.Fatalf("FATAL: Service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
