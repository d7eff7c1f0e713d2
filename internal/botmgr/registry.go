package botmgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"tradepulse/internal/broadcast"
	"tradepulse/internal/domain"
	"tradepulse/internal/execution"
	"tradepulse/internal/ports"
	"tradepulse/internal/strategy"
)

const (
	// Numeric attribution tags are allocated in fixed-width blocks from
	// tagBase upward. The instance's own tag is the low end of its block;
	// the rest of the block is reserved for variants the instance may
	// submit (scale-ins, hedges).
	tagBase  int64 = 234000
	tagWidth int64 = 100
	tagCeil  int64 = 300000
)

// StatsTracker registers an instance with the performance aggregator so
// restarting an ID keeps its accumulated lifetime statistics.
type StatsTracker interface {
	Track(botID string)
}

// StartRequest describes a new bot instance to launch.
type StartRequest struct {
	StrategyName string            `json:"strategy"`
	Symbol       string            `json:"symbol"`
	Interval     string            `json:"interval,omitempty"` // candle interval, e.g. "1m"
	Risk         domain.RiskConfig `json:"risk"`
}

type runningBot struct {
	instance domain.BotInstance
	strat    ports.Strategy
	cancel   context.CancelFunc
	done     chan struct{}
}

// Registry owns bot instance lifecycles: identity and tag allocation,
// the per-instance signal loop, and runtime risk updates. It is the
// instance source the attribution resolver reads from.
type Registry struct {
	gateway         ports.BrokerGateway
	executor        *execution.Executor
	bus             *broadcast.Broadcaster
	tracker         StatsTracker
	logger          ports.Logger
	defaultInterval string
	defaultRisk     domain.RiskConfig
	clock           func() time.Time

	mu      sync.Mutex
	bots    map[string]*runningBot
	nextTag int64
}

// NewRegistry creates an empty registry. defaultInterval is used when a
// start request does not name a candle interval.
func NewRegistry(gateway ports.BrokerGateway, executor *execution.Executor, bus *broadcast.Broadcaster, tracker StatsTracker, logger ports.Logger, defaultInterval string, defaultRisk domain.RiskConfig) *Registry {
	if defaultInterval == "" {
		defaultInterval = "1m"
	}
	return &Registry{
		gateway:         gateway,
		executor:        executor,
		bus:             bus,
		tracker:         tracker,
		logger:          logger,
		defaultInterval: defaultInterval,
		defaultRisk:     defaultRisk,
		clock:           time.Now,
		bots:            make(map[string]*runningBot),
		nextTag:         tagBase,
	}
}

// Start launches a new instance and returns its descriptor. The signal
// loop's lifetime is detached from ctx (which may be a short-lived
// request context); it runs until Stop or StopAll.
func (r *Registry) Start(ctx context.Context, req StartRequest) (*domain.BotInstance, error) {
	op := "Start"
	strat, err := strategy.New(req.StrategyName, r.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if req.Symbol == "" {
		return nil, fmt.Errorf("%s: symbol is required", op)
	}
	interval := req.Interval
	if interval == "" {
		interval = r.defaultInterval
	}
	risk := req.Risk
	if risk == (domain.RiskConfig{}) {
		risk = r.defaultRisk
	}

	r.mu.Lock()
	if r.nextTag+tagWidth > tagCeil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s: attribution tag space exhausted", op)
	}
	lo := r.nextTag
	r.nextTag += tagWidth

	// Short IDs keep the order comment inside the terminal's 31-char cap.
	id := uuid.NewString()[:8]
	now := r.clock()
	inst := domain.BotInstance{
		ID:           id,
		Tag:          lo,
		Tags:         domain.TagRange{Lo: lo, Hi: lo + tagWidth - 1},
		StrategyName: strat.Name(),
		Symbol:       req.Symbol,
		Risk:         risk,
		StartedAt:    now,
		LastActivity: now,
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rb := &runningBot{instance: inst, strat: strat, cancel: cancel, done: make(chan struct{})}
	r.bots[id] = rb
	r.mu.Unlock()

	r.tracker.Track(id)
	go r.run(runCtx, rb, interval)

	r.logger.Info(ctx, op+": bot started", map[string]interface{}{
		"botID":    id,
		"strategy": inst.StrategyName,
		"symbol":   inst.Symbol,
		"tag":      inst.Tag,
	})
	r.publishStatus(ctx, id, "started")
	return &inst, nil
}

// Stop cancels the instance's signal loop and waits for it to drain.
// The instance's lifetime statistics remain in the aggregator.
func (r *Registry) Stop(ctx context.Context, id string) error {
	r.mu.Lock()
	rb, ok := r.bots[id]
	if ok {
		delete(r.bots, id)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("Stop: unknown bot %q", id)
	}

	rb.cancel()
	select {
	case <-rb.done:
	case <-ctx.Done():
		return fmt.Errorf("Stop: %w", ctx.Err())
	}

	r.logger.Info(ctx, "Stop: bot stopped", map[string]interface{}{"botID": id})
	r.publishStatus(ctx, id, "stopped")
	return nil
}

// UpdateRisk atomically replaces the instance's risk settings. The next
// signal cycle picks up the new values.
func (r *Registry) UpdateRisk(ctx context.Context, id string, risk domain.RiskConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rb, ok := r.bots[id]
	if !ok {
		return fmt.Errorf("UpdateRisk: unknown bot %q", id)
	}
	rb.instance.Risk = risk
	r.logger.Info(ctx, "UpdateRisk: risk settings updated", map[string]interface{}{
		"botID":        id,
		"riskPerTrade": risk.RiskPerTrade,
		"autoTrading":  risk.AutoTrading,
	})
	return nil
}

// Instances returns a copy of every running instance, sorted by ID.
func (r *Registry) Instances() []domain.BotInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.BotInstance, 0, len(r.bots))
	for _, rb := range r.bots {
		out = append(out, rb.instance)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StopAll shuts every instance down, used on service shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	for _, inst := range r.Instances() {
		if err := r.Stop(ctx, inst.ID); err != nil {
			r.logger.Warn(ctx, "StopAll: stop failed", map[string]interface{}{
				"botID": inst.ID,
				"error": err.Error(),
			})
		}
	}
}

// run is the per-instance signal loop: fetch candles on the interval
// tick, ask the strategy for a signal, hand any signal to the executor.
func (r *Registry) run(ctx context.Context, rb *runningBot, interval string) {
	defer close(rb.done)
	op := "run"

	tick, err := intervalDuration(interval)
	if err != nil {
		r.logger.Error(ctx, err, op+": bad interval, falling back to 1m", map[string]interface{}{
			"botID":    rb.instance.ID,
			"interval": interval,
		})
		tick, interval = time.Minute, "1m"
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycle(ctx, rb, interval)
		}
	}
}

func (r *Registry) cycle(ctx context.Context, rb *runningBot, interval string) {
	op := "cycle"

	r.mu.Lock()
	inst := rb.instance
	inst.LastActivity = r.clock()
	rb.instance.LastActivity = inst.LastActivity
	r.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	candles, err := r.gateway.Candles(callCtx, inst.Symbol, interval, rb.strat.RequiredBars())
	cancel()
	if err != nil {
		r.logger.Warn(ctx, op+": candle fetch failed", map[string]interface{}{
			"botID": inst.ID,
			"error": err.Error(),
		})
		return
	}

	sig := rb.strat.Analyze(candles)
	if sig == nil {
		return
	}

	// A submission already handed to the executor runs to completion even
	// if the instance is stopped mid-cycle; the executor's own call
	// timeouts bound it.
	res, err := r.executor.Execute(context.WithoutCancel(ctx), &inst, *sig)
	if err != nil {
		r.logger.Error(ctx, err, op+": execution failed", map[string]interface{}{"botID": inst.ID})
		return
	}
	r.logger.Info(ctx, op+": execution finished", map[string]interface{}{
		"botID": inst.ID,
		"state": res.State,
	})
}

func (r *Registry) publishStatus(ctx context.Context, botID, status string) {
	evt := domain.NewEvent(domain.EventBotStatus, r.clock())
	evt.BotID = botID
	evt.Status = status
	r.bus.Publish(ctx, evt)
}

// intervalDuration maps a broker interval string to its tick duration.
func intervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported candle interval %q", interval)
	}
}
