package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tradepulse/internal/botmgr"
	"tradepulse/internal/broadcast"
	"tradepulse/internal/domain"
	"tradepulse/internal/perf"
	"tradepulse/internal/ports"
	"tradepulse/internal/reconcile"
)

const defaultTradeLimit = 50

// Server exposes the control and dashboard surface: bot lifecycle,
// resync snapshots, trade history and the live event stream.
type Server struct {
	registry *botmgr.Registry
	loop     *reconcile.Loop
	agg      *perf.Aggregator
	repo     ports.TradeRecordRepository
	bus      *broadcast.Broadcaster
	gateway  ports.BrokerGateway
	logger   ports.Logger
}

func NewServer(registry *botmgr.Registry, loop *reconcile.Loop, agg *perf.Aggregator, repo ports.TradeRecordRepository, bus *broadcast.Broadcaster, gateway ports.BrokerGateway, logger ports.Logger) *Server {
	return &Server{
		registry: registry,
		loop:     loop,
		agg:      agg,
		repo:     repo,
		bus:      bus,
		gateway:  gateway,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Post("/bots", s.handleStartBot)
		api.Get("/bots", s.handleListBots)
		api.Delete("/bots/{id}", s.handleStopBot)
		api.Put("/bots/{id}/risk", s.handleUpdateRisk)
		api.Get("/snapshot", s.handleSnapshot)
		api.Get("/trades", s.handleTrades)
	})

	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.gateway.Ping(pingCtx); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	var req botmgr.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inst, err := s.registry.Start(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Instances())
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.registry.Stop(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "stopped"})
}

func (s *Server) handleUpdateRisk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var risk domain.RiskConfig
	if err := decodeJSON(r, &risk); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.UpdateRisk(r.Context(), id, risk); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "updated"})
}

// handleSnapshot serves the full current state so a reconnecting
// dashboard can resync instead of replaying events.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	positions := s.loop.Snapshot()
	bots := s.registry.Instances()

	performance := make([]domain.PerformanceSnapshot, 0, len(bots))
	for _, b := range bots {
		snap := s.agg.Snapshot(b.ID, s.loop.PositionsFor(r.Context(), b.ID))
		// The aggregator's counters live in memory; the trade store still
		// remembers trades closed earlier today under a previous process.
		if n, err := s.repo.CountToday(r.Context(), b.ID); err == nil && n > snap.TradesToday {
			snap.TradesToday = n
		}
		performance = append(performance, snap)
	}

	var unrealized float64
	for _, p := range positions {
		unrealized += p.Profit
	}
	account := domain.AccountSummary{
		UnrealizedProfit: unrealized,
		OpenPositions:    len(positions),
	}
	equityCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if equity, err := s.gateway.AccountEquity(equityCtx); err == nil {
		account.Equity = equity
	} else {
		s.logger.Warn(r.Context(), "snapshot: equity query failed", map[string]interface{}{"error": err.Error()})
	}

	writeJSON(w, http.StatusOK, domain.ResyncSnapshot{
		Positions:   positions,
		Bots:        bots,
		Performance: performance,
		Account:     account,
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	var trades []*domain.CompletedTrade
	var err error
	if botID := r.URL.Query().Get("bot_id"); botID != "" {
		trades, err = s.repo.FindByBot(r.Context(), botID, limit)
	} else {
		trades, err = s.repo.FindRecent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error(r.Context(), err, "trade history query failed")
		writeError(w, http.StatusInternalServerError, "trade history query failed")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
