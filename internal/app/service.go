package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradepulse/config"
	"tradepulse/internal/adapters/httpapi"
	"tradepulse/internal/attribution"
	"tradepulse/internal/botmgr"
	"tradepulse/internal/broadcast"
	"tradepulse/internal/domain"
	"tradepulse/internal/execution"
	"tradepulse/internal/perf"
	"tradepulse/internal/ports"
	"tradepulse/internal/reconcile"
)

const shutdownTimeout = 10 * time.Second

// Service wires the reconciliation loop, bot registry, execution unit
// and control surface together and owns their lifecycles.
type Service struct {
	cfg      *config.Config
	logger   ports.Logger
	gateway  ports.BrokerGateway
	repo     ports.TradeRecordRepository
	bus      *broadcast.Broadcaster
	agg      *perf.Aggregator
	registry *botmgr.Registry
	loop     *reconcile.Loop
	server   *http.Server
}

// New composes the service from its adapters.
func New(cfg *config.Config, logger ports.Logger, gateway ports.BrokerGateway, repo ports.TradeRecordRepository) (*Service, error) {
	if cfg == nil || logger == nil || gateway == nil || repo == nil {
		return nil, fmt.Errorf("missing required dependencies for service")
	}

	bus := broadcast.New(logger)
	agg := perf.New(logger)
	executor := execution.New(gateway, agg, bus, logger)
	registry := botmgr.NewRegistry(gateway, executor, bus, agg, logger, cfg.DefaultInterval, cfg.DefaultRisk)
	resolver := attribution.NewResolver(registry, logger)

	loop := reconcile.NewLoop(reconcile.Config{
		FastInterval:    cfg.FastPollInterval,
		DealInterval:    cfg.DealPollInterval,
		DealOverlap:     cfg.DealOverlap,
		CatchupLookback: cfg.CatchupLookback,
		ClosedLookback:  cfg.ClosedLookback,
		ProfitDeltaAbs:  cfg.ProfitDeltaAbs,
		PriceDeltaFrac:  cfg.PriceDeltaFrac,
	}, gateway, resolver, agg, bus, logger)

	api := httpapi.NewServer(registry, loop, agg, repo, bus, gateway, logger)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Service{
		cfg:      cfg,
		logger:   logger,
		gateway:  gateway,
		repo:     repo,
		bus:      bus,
		agg:      agg,
		registry: registry,
		loop:     loop,
		server:   server,
	}, nil
}

// Run starts every component and blocks until a shutdown signal or a
// fatal server error.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting TradePulse service...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// Verify broker connectivity before starting the loops.
	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	err := s.gateway.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("broker connectivity check failed: %w", err)
	}

	var wg sync.WaitGroup

	// Trade recorder: persists every closed round trip for the history
	// view. Runs on its own subscription so a slow disk never blocks
	// dashboard subscribers.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.recordTrades(ctx)
	}()

	// Reconciliation loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop.Run(ctx)
	}()

	// Control surface.
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": s.cfg.HTTPAddr})
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server failed: %w", err)
		cancel()
	}

	s.logger.Info(context.Background(), "Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	s.registry.StopAll(shutdownCtx)
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(shutdownCtx, "HTTP server shutdown failed", map[string]interface{}{"error": err.Error()})
	}

	wg.Wait()
	s.bus.Close()

	s.logger.Info(context.Background(), "Shutdown complete")
	return runErr
}

// recordTrades consumes closed-position events and persists their
// completed trades. The repository ignores duplicate closing tickets, so
// replays from overlapping deal polls are harmless.
func (s *Service) recordTrades(ctx context.Context) {
	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Type != domain.EventPositionClosed || evt.Trade == nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.repo.Record(writeCtx, evt.Trade)
			cancel()
			if err != nil {
				s.logger.Error(ctx, err, "Failed to record completed trade", map[string]interface{}{
					"ticket": evt.Trade.Ticket,
				})
			}
		}
	}
}
