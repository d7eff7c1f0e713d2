package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"tradepulse/internal/broadcast"
	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

// AttemptState tracks one execution attempt through its lifecycle.
type AttemptState string

const (
	StatePending    AttemptState = "pending"
	StateSizing     AttemptState = "sizing"
	StateSubmitting AttemptState = "submitting"
	StateConfirmed  AttemptState = "confirmed"
	StateRejected   AttemptState = "rejected"
	StateRefused    AttemptState = "refused"
)

// Result is the outcome of Execute. Refusals and rejections are not
// errors: they are expected states surfaced to subscribers.
type Result struct {
	State  AttemptState
	Order  *domain.OrderResult
	Reason string
}

// StatsSource exposes the aggregator counters the executor needs for its
// ceilings.
type StatsSource interface {
	ConsecutiveLosses(botID string) int
	// TradesToday counts trades already closed today. The daily ceiling
	// holds against both closed trades and this process's submissions
	// still awaiting a close.
	TradesToday(botID string) int
}

// Executor turns a signal into a broker order under risk constraints.
// Sizing and submission run independently of the reconciliation loop so
// a slow poll never delays an order.
type Executor struct {
	gateway   ports.BrokerGateway
	stats     StatsSource
	bus       *broadcast.Broadcaster
	logger    ports.Logger
	fillModes []domain.FillMode
	clock     func() time.Time

	// Daily submission counters, keyed by instance, reset on day change.
	mu        sync.Mutex
	submitted map[string]int
	day       string
}

// New creates an Executor using the default fill-mode order.
func New(gateway ports.BrokerGateway, stats StatsSource, bus *broadcast.Broadcaster, logger ports.Logger) *Executor {
	return &Executor{
		gateway:   gateway,
		stats:     stats,
		bus:       bus,
		logger:    logger,
		fillModes: domain.DefaultFillModes,
		clock:     time.Now,
		submitted: make(map[string]int),
	}
}

// Execute walks a signal through Pending → Sizing → Submitting →
// {Confirmed | Rejected}, or short-circuits to Refused when the instance
// is not allowed to trade today. Only an unsupported-fill-mode rejection
// is retried, with the next fill-mode variant; every other rejection is
// terminal for the attempt.
func (e *Executor) Execute(ctx context.Context, bot *domain.BotInstance, sig domain.Signal) (*Result, error) {
	op := "Execute"
	e.logger.Info(ctx, op+": signal received", map[string]interface{}{
		"botID":      bot.ID,
		"side":       sig.Side,
		"price":      sig.Price,
		"confidence": sig.Confidence,
		"reason":     sig.Reason,
	})

	if reason, ok := e.refusalReason(bot); ok {
		e.publishReport(ctx, bot, sig, domain.ExecutionReport{State: string(StateRefused), Reason: reason})
		return &Result{State: StateRefused, Reason: reason}, nil
	}

	// Sizing.
	equityCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	equity, err := e.gateway.AccountEquity(equityCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s: equity query failed: %w", op, err)
	}

	infoCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	info, err := e.gateway.SymbolInfo(infoCtx, bot.Symbol)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%s: symbol info query failed: %w", op, err)
	}

	volume := SizePosition(equity, bot.Risk.RiskPerTrade, bot.Risk.StopLossPips*info.PipSize, *info)
	if volume <= 0 {
		reason := "computed volume below instrument minimum"
		e.publishReport(ctx, bot, sig, domain.ExecutionReport{State: string(StateRejected), Reason: reason})
		return &Result{State: StateRejected, Reason: reason}, nil
	}
	stopLoss, takeProfit := StopPrices(sig.Side, sig.Price, bot.Risk, *info)

	// Submitting: walk fill-mode variants only on the specific
	// unsupported-fill-mode rejection.
	var order *domain.OrderResult
	var lastRejection *ports.OrderRejectedError
	for _, mode := range e.fillModes {
		req := domain.OrderRequest{
			Symbol:     bot.Symbol,
			Side:       sig.Side,
			Volume:     volume,
			Price:      sig.Price,
			StopLoss:   stopLoss,
			TakeProfit: takeProfit,
			FillMode:   mode,
			Tag:        bot.Tag,
			Comment:    fmt.Sprintf("%s_%s", bot.CommentPrefix(), sig.Side),
		}

		submitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		order, err = e.gateway.SubmitOrder(submitCtx, req)
		cancel()
		if err == nil {
			break
		}

		var rejection *ports.OrderRejectedError
		if errors.As(err, &rejection) {
			lastRejection = rejection
			if rejection.UnsupportedFillMode() {
				e.logger.Warn(ctx, op+": fill mode unsupported, trying next variant", map[string]interface{}{
					"botID":    bot.ID,
					"fillMode": mode,
				})
				continue
			}
			// Terminal rejection: report, never retry.
			e.publishReport(ctx, bot, sig, domain.ExecutionReport{State: string(StateRejected), Reason: rejection.Reason})
			return &Result{State: StateRejected, Reason: rejection.Reason}, nil
		}
		return nil, fmt.Errorf("%s: order submission failed: %w", op, err)
	}

	if order == nil {
		reason := "all fill modes rejected"
		if lastRejection != nil {
			reason = lastRejection.Reason
		}
		e.publishReport(ctx, bot, sig, domain.ExecutionReport{State: string(StateRejected), Reason: reason})
		return &Result{State: StateRejected, Reason: reason}, nil
	}

	e.recordSubmission(bot.ID)
	e.logger.Info(ctx, op+": order confirmed", map[string]interface{}{
		"botID":     bot.ID,
		"ticket":    order.Ticket,
		"volume":    order.Volume,
		"fillPrice": order.FillPrice,
	})

	e.publishReport(ctx, bot, sig, domain.ExecutionReport{
		State:      string(StateConfirmed),
		Ticket:     order.Ticket,
		Volume:     order.Volume,
		FillPrice:  order.FillPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
	})
	return &Result{State: StateConfirmed, Order: order}, nil
}

// refusalReason checks the terminal-for-the-day conditions. These are
// surfaced as distinct refused events, not errors, and no gateway call
// is made.
func (e *Executor) refusalReason(bot *domain.BotInstance) (string, bool) {
	if !bot.Risk.AutoTrading {
		return "auto-trading disabled", true
	}
	if max := bot.Risk.MaxDailyTrades; max > 0 {
		if e.submittedToday(bot.ID) >= max || e.stats.TradesToday(bot.ID) >= max {
			return fmt.Sprintf("daily trade limit reached (%d)", max), true
		}
	}
	if max := bot.Risk.MaxConsecutiveLosses; max > 0 && e.stats.ConsecutiveLosses(bot.ID) >= max {
		return fmt.Sprintf("consecutive loss limit reached (%d)", max), true
	}
	return "", false
}

func (e *Executor) publishReport(ctx context.Context, bot *domain.BotInstance, sig domain.Signal, report domain.ExecutionReport) {
	report.BotID = bot.ID
	report.Signal = sig
	report.Time = e.clock()

	evtType := domain.EventTradeRejected
	if report.State == string(StateConfirmed) {
		evtType = domain.EventTradeExecuted
	}
	evt := domain.NewEvent(evtType, e.clock())
	evt.BotID = bot.ID
	evt.Ticket = report.Ticket
	evt.Reason = report.Reason
	r := report
	evt.Execution = &r
	e.bus.Publish(ctx, evt)
}

func (e *Executor) submittedToday(botID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()
	return e.submitted[botID]
}

func (e *Executor) recordSubmission(botID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked()
	e.submitted[botID]++
}

func (e *Executor) rollDayLocked() {
	today := e.clock().UTC().Format("2006-01-02")
	if e.day != today {
		e.day = today
		e.submitted = make(map[string]int)
	}
}

// SizePosition computes the risk-based volume: the equity fraction at
// risk divided by the loss a one-unit position takes over the stop
// distance, clamped to the instrument's volume constraints and floored
// to its step.
func SizePosition(equity, riskFraction, stopDistance float64, info domain.SymbolInfo) float64 {
	if equity <= 0 || riskFraction <= 0 || stopDistance <= 0 || info.ValuePerUnit <= 0 {
		return 0
	}
	raw := equity * riskFraction / (stopDistance * info.ValuePerUnit)

	if info.MaxVolume > 0 {
		raw = math.Min(raw, info.MaxVolume)
	}
	if info.VolumeStep > 0 {
		// Small epsilon keeps float drift from flooring an exact
		// multiple down a step.
		raw = math.Floor(raw/info.VolumeStep+1e-9) * info.VolumeStep
	}
	if raw < info.MinVolume {
		return 0
	}
	return raw
}

// StopPrices derives direction-aware stop-loss and take-profit prices
// from the signal's reference price and the configured pip distances.
// The broker's minimum stop distance is honored. A zero pip distance
// disables that stop.
func StopPrices(side domain.OrderSide, refPrice float64, risk domain.RiskConfig, info domain.SymbolInfo) (stopLoss, takeProfit float64) {
	slDist := risk.StopLossPips * info.PipSize
	tpDist := risk.TakeProfitPips * info.PipSize
	if info.MinStopLevel > 0 {
		if slDist > 0 && slDist < info.MinStopLevel {
			slDist = info.MinStopLevel
		}
		if tpDist > 0 && tpDist < info.MinStopLevel {
			tpDist = info.MinStopLevel
		}
	}

	if side == domain.Buy {
		if slDist > 0 {
			stopLoss = refPrice - slDist
		}
		if tpDist > 0 {
			takeProfit = refPrice + tpDist
		}
		return stopLoss, takeProfit
	}
	if slDist > 0 {
		stopLoss = refPrice + slDist
	}
	if tpDist > 0 {
		takeProfit = refPrice - tpDist
	}
	return stopLoss, takeProfit
}
