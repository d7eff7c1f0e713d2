package reconcile

import (
	"context"
	"sync"
	"time"

	"tradepulse/internal/attribution"
	"tradepulse/internal/broadcast"
	"tradepulse/internal/domain"
	"tradepulse/internal/perf"
	"tradepulse/internal/ports"
)

// Config holds the loop's cadences and sensitivity thresholds. Every
// value is tunable from the environment; see config.Load.
type Config struct {
	FastInterval    time.Duration // open-position poll cadence
	DealInterval    time.Duration // deal-history poll cadence
	DealOverlap     time.Duration // safety overlap added to each deal fetch
	CatchupLookback time.Duration // wide window scanned once at startup
	ClosedLookback  time.Duration // how far back to search for a closing deal
	CallTimeout     time.Duration // per-gateway-call deadline

	ProfitDeltaAbs float64 // absolute currency threshold for Updated
	PriceDeltaFrac float64 // relative price threshold for Updated

	FailureThreshold int // consecutive failures before degraded status
	DealCacheSize    int // bound on the recently-seen deal set
}

func (c *Config) applyDefaults() {
	if c.FastInterval <= 0 {
		c.FastInterval = time.Second
	}
	if c.DealInterval <= 0 {
		c.DealInterval = 5 * time.Second
	}
	if c.DealOverlap <= 0 {
		c.DealOverlap = 3 * time.Minute
	}
	if c.CatchupLookback <= 0 {
		c.CatchupLookback = 30 * time.Minute
	}
	if c.ClosedLookback <= 0 {
		c.ClosedLookback = 15 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
	if c.ProfitDeltaAbs <= 0 {
		c.ProfitDeltaAbs = 0.01
	}
	if c.PriceDeltaFrac <= 0 {
		c.PriceDeltaFrac = 1e-6
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.DealCacheSize <= 0 {
		c.DealCacheSize = 1000
	}
}

// Loop is the single source of truth for "what changed since last look".
// It polls the broker gateway on two cadences, diffs against its private
// snapshot store, classifies transitions and feeds them through
// attribution into the aggregator and the broadcaster.
//
// The snapshot store is touched only from Run's goroutine; outside
// readers get copies via Snapshot.
type Loop struct {
	cfg      Config
	gateway  ports.BrokerGateway
	resolver *attribution.Resolver
	agg      *perf.Aggregator
	bus      *broadcast.Broadcaster
	logger   ports.Logger
	clock    func() time.Time

	store         *snapshotStore
	seenDeals     *dealSet
	closedTickets *dealSet
	lastDealPoll  time.Time
	failures      int
	degraded      bool

	snapMu   sync.RWMutex
	snapCopy []domain.Position
}

// NewLoop wires a reconciliation loop. It does not start polling; call
// Run.
func NewLoop(cfg Config, gateway ports.BrokerGateway, resolver *attribution.Resolver, agg *perf.Aggregator, bus *broadcast.Broadcaster, logger ports.Logger) *Loop {
	cfg.applyDefaults()
	return &Loop{
		cfg:           cfg,
		gateway:       gateway,
		resolver:      resolver,
		agg:           agg,
		bus:           bus,
		logger:        logger,
		clock:         time.Now,
		store:         newSnapshotStore(),
		seenDeals:     newDealSet(cfg.DealCacheSize, cfg.DealCacheSize/2),
		closedTickets: newDealSet(cfg.DealCacheSize, cfg.DealCacheSize/2),
	}
}

// Run polls until the context is cancelled. A failed poll is logged and
// skipped; the loop continues on the next tick with the last-good
// snapshot.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info(ctx, "Reconciliation loop starting", map[string]interface{}{
		"fastInterval": l.cfg.FastInterval.String(),
		"dealInterval": l.cfg.DealInterval.String(),
	})

	// Prime the mirror first so catch-up deals for positions that are
	// still open classify against known state, then run the wide-window
	// catch-up to recover transitions that happened while unmonitored.
	l.pollPositions(ctx)
	l.lastDealPoll = l.clock().Add(-l.cfg.CatchupLookback)
	l.pollDeals(ctx)

	fast := time.NewTicker(l.cfg.FastInterval)
	defer fast.Stop()
	deals := time.NewTicker(l.cfg.DealInterval)
	defer deals.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info(ctx, "Reconciliation loop stopped")
			return
		case <-fast.C:
			l.pollPositions(ctx)
		case <-deals.C:
			l.pollDeals(ctx)
		}
	}
}

// Snapshot returns a copy of the last-good open-position mirror.
func (l *Loop) Snapshot() []domain.Position {
	l.snapMu.RLock()
	defer l.snapMu.RUnlock()
	out := make([]domain.Position, len(l.snapCopy))
	copy(out, l.snapCopy)
	return out
}

// PositionsFor returns the open positions attributed to a bot instance,
// resolved against the current live set.
func (l *Loop) PositionsFor(ctx context.Context, botID string) []domain.Position {
	var out []domain.Position
	for _, pos := range l.Snapshot() {
		if attr := l.resolver.ResolvePosition(ctx, pos); attr.BotID == botID {
			out = append(out, pos)
		}
	}
	return out
}

// pollPositions runs one fast cycle: fetch, diff, emit.
func (l *Loop) pollPositions(ctx context.Context) {
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	positions, err := l.gateway.ListOpenPositions(callCtx)
	cancel()
	if err != nil {
		l.handlePollFailure(ctx, err, "position poll")
		return
	}
	l.handlePollSuccess(ctx)

	current := make(map[int64]domain.Position, len(positions))
	for _, pos := range positions {
		current[pos.Ticket] = pos
	}

	touched := make(map[string]struct{})

	for ticket, pos := range current {
		prev, known := l.store.get(ticket)
		if !known {
			l.emitOpened(ctx, pos, touched)
			continue
		}
		if l.updateExceedsThreshold(prev, pos) {
			l.emitUpdated(ctx, pos, touched)
		}
	}

	for _, prev := range l.store.copyAll() {
		if _, still := current[prev.Ticket]; !still {
			l.emitClosed(ctx, prev, l.findClosingDeal(ctx, prev.Ticket), touched)
		}
	}

	l.store.replace(current)
	l.publishSnapshotCopy()
	l.publishPerformance(ctx, touched)
}

// pollDeals runs one deal cycle: fetch the window since the last
// successful fetch plus the overlap, and forward unseen deals. This
// catches trades opened and closed between two fast polls as well as
// closes that happened while the process was down.
func (l *Loop) pollDeals(ctx context.Context) {
	now := l.clock()
	from := l.lastDealPoll.Add(-l.cfg.DealOverlap)

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	deals, err := l.gateway.ListDeals(callCtx, from, now)
	cancel()
	if err != nil {
		l.handlePollFailure(ctx, err, "deal poll")
		return
	}
	l.handlePollSuccess(ctx)
	l.lastDealPoll = now

	touched := make(map[string]struct{})

	for _, deal := range deals {
		if !l.seenDeals.add(deal.Ticket) {
			continue
		}
		if deal.Profit == 0 {
			// An opening fill: the exchange reports zero realized profit on
			// entry. Commission alone never marks a close; the fast cycle
			// will discover the position.
			continue
		}

		if prev, tracked := l.store.get(deal.PositionID); tracked {
			// Closing deal for a tracked position, detected ahead of the
			// fast cycle.
			d := deal
			l.emitClosed(ctx, prev, &d, touched)
			l.store.remove(deal.PositionID)
			l.publishSnapshotCopy()
			continue
		}

		if l.closedTickets.contains(deal.PositionID) {
			continue
		}

		// A close for a position never seen open: the trade ran its whole
		// lifecycle while unmonitored. Synthesize the Opened retroactively
		// rather than violating the ordering invariant.
		pos := positionFromDeal(deal)
		l.emitOpened(ctx, pos, touched)
		d := deal
		l.emitClosed(ctx, pos, &d, touched)
	}

	l.publishPerformance(ctx, touched)
}

// updateExceedsThreshold applies the asymmetric sensitivity: absolute
// currency delta on profit, relative delta on price.
func (l *Loop) updateExceedsThreshold(prev, cur domain.Position) bool {
	if abs(cur.Profit-prev.Profit) > l.cfg.ProfitDeltaAbs {
		return true
	}
	if prev.CurrentPrice != 0 && abs(cur.CurrentPrice-prev.CurrentPrice)/prev.CurrentPrice > l.cfg.PriceDeltaFrac {
		return true
	}
	return false
}

func (l *Loop) emitOpened(ctx context.Context, pos domain.Position, touched map[string]struct{}) {
	attr := l.resolver.ResolvePosition(ctx, pos)
	l.logger.Info(ctx, "Position opened", map[string]interface{}{
		"ticket": pos.Ticket,
		"symbol": pos.Symbol,
		"botID":  attr.BotID,
	})

	evt := domain.NewEvent(domain.EventPositionOpened, l.clock())
	evt.Ticket = pos.Ticket
	evt.BotID = attr.BotID
	p := pos
	evt.Position = &p
	a := attr
	evt.Attribution = &a
	l.bus.Publish(ctx, evt)

	if attr.IsBot() {
		touched[attr.BotID] = struct{}{}
	}
}

func (l *Loop) emitUpdated(ctx context.Context, pos domain.Position, touched map[string]struct{}) {
	attr := l.resolver.ResolvePosition(ctx, pos)
	l.logger.Debug(ctx, "Position updated", map[string]interface{}{
		"ticket":    pos.Ticket,
		"profit":    pos.Profit,
		"changePct": pos.ChangePercent(),
	})

	evt := domain.NewEvent(domain.EventPositionUpdated, l.clock())
	evt.Ticket = pos.Ticket
	evt.BotID = attr.BotID
	p := pos
	evt.Position = &p
	a := attr
	evt.Attribution = &a
	l.bus.Publish(ctx, evt)

	if attr.IsBot() {
		touched[attr.BotID] = struct{}{}
	}
}

// emitClosed publishes at most one Closed per ticket, enriched with the
// matching deal when one was found within the lookback, otherwise
// reconstructed best-effort from the last-known position state.
func (l *Loop) emitClosed(ctx context.Context, prev domain.Position, closing *domain.Deal, touched map[string]struct{}) {
	if !l.closedTickets.add(prev.Ticket) {
		return
	}

	trade := buildCompletedTrade(prev, closing, l.clock())
	attr := l.resolver.ResolvePosition(ctx, prev)
	if !attr.IsBot() && closing != nil {
		attr = l.resolver.ResolveDeal(ctx, *closing)
	}
	trade.BotID = attr.BotID

	l.logger.Info(ctx, "Position closed", map[string]interface{}{
		"ticket":    prev.Ticket,
		"profit":    trade.Profit,
		"estimated": trade.Estimated,
		"botID":     attr.BotID,
	})

	evt := domain.NewEvent(domain.EventPositionClosed, l.clock())
	evt.Ticket = prev.Ticket
	evt.BotID = attr.BotID
	t := trade
	evt.Trade = &t
	a := attr
	evt.Attribution = &a
	l.bus.Publish(ctx, evt)

	if attr.IsBot() {
		l.agg.RecordClosed(ctx, attr.BotID, trade)
		touched[attr.BotID] = struct{}{}
	}
}

// findClosingDeal searches recent history for the deal that closed the
// position. Returns nil when the gateway fails or nothing matches; the
// caller falls back to reconstruction.
func (l *Loop) findClosingDeal(ctx context.Context, positionID int64) *domain.Deal {
	now := l.clock()
	callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
	deals, err := l.gateway.ListDeals(callCtx, now.Add(-l.cfg.ClosedLookback), now)
	cancel()
	if err != nil {
		l.logger.Warn(ctx, "Closing-deal lookup failed, reconstructing from last-known state", map[string]interface{}{
			"positionID": positionID,
			"error":      err.Error(),
		})
		return nil
	}

	var best *domain.Deal
	for i := range deals {
		d := deals[i]
		if d.PositionID != positionID || d.Profit == 0 {
			continue
		}
		if best == nil || d.Time.After(best.Time) {
			best = &d
		}
	}
	if best != nil {
		l.seenDeals.add(best.Ticket)
	}
	return best
}

// publishPerformance emits a refreshed snapshot for every instance that
// saw a transition in this cycle.
func (l *Loop) publishPerformance(ctx context.Context, touched map[string]struct{}) {
	for botID := range touched {
		snap := l.agg.Snapshot(botID, l.PositionsFor(ctx, botID))
		evt := domain.NewEvent(domain.EventPerformance, l.clock())
		evt.BotID = botID
		s := snap
		evt.Performance = &s
		l.bus.Publish(ctx, evt)
	}
}

func (l *Loop) publishSnapshotCopy() {
	fresh := l.store.copyAll()
	l.snapMu.Lock()
	l.snapCopy = fresh
	l.snapMu.Unlock()
}

// handlePollFailure implements the skip-and-retry-next-cycle semantics:
// single failures are logged only; a run of them surfaces a degraded
// status without stopping the loop.
func (l *Loop) handlePollFailure(ctx context.Context, err error, op string) {
	l.failures++
	fields := map[string]interface{}{
		"operation":           op,
		"consecutiveFailures": l.failures,
		"error":               err.Error(),
	}
	if ports.IsTransient(err) {
		l.logger.Warn(ctx, "Poll failed, continuing with last-good snapshot", fields)
	} else {
		l.logger.Error(ctx, err, "Poll failed, continuing with last-good snapshot", fields)
	}

	if l.failures >= l.cfg.FailureThreshold && !l.degraded {
		l.degraded = true
		evt := domain.NewEvent(domain.EventConnectionStatus, l.clock())
		evt.Status = "degraded"
		evt.Reason = err.Error()
		l.bus.Publish(ctx, evt)
	}
}

func (l *Loop) handlePollSuccess(ctx context.Context) {
	if l.degraded {
		l.degraded = false
		evt := domain.NewEvent(domain.EventConnectionStatus, l.clock())
		evt.Status = "recovered"
		l.bus.Publish(ctx, evt)
	}
	l.failures = 0
}

// buildCompletedTrade merges last-known position state with the closing
// deal. Without a deal the result is flagged Estimated and carries the
// floating profit the position last showed.
func buildCompletedTrade(prev domain.Position, closing *domain.Deal, now time.Time) domain.CompletedTrade {
	trade := domain.CompletedTrade{
		PositionID: prev.Ticket,
		Symbol:     prev.Symbol,
		Side:       prev.Side,
		Volume:     prev.Volume,
		EntryPrice: prev.EntryPrice,
		OpenTime:   prev.OpenTime,
	}
	if closing != nil {
		trade.Ticket = closing.Ticket
		trade.ExitPrice = closing.Price
		trade.Profit = closing.NetProfit()
		trade.CloseTime = closing.Time
		return trade
	}
	trade.Ticket = prev.Ticket
	trade.ExitPrice = prev.CurrentPrice
	trade.Profit = prev.NetProfit()
	trade.CloseTime = now
	trade.Estimated = true
	return trade
}

// positionFromDeal reconstructs a minimal position for a trade whose
// whole lifecycle happened while unmonitored.
func positionFromDeal(deal domain.Deal) domain.Position {
	return domain.Position{
		Ticket:       deal.PositionID,
		Symbol:       deal.Symbol,
		Side:         deal.Side.Opposite(), // the closing fill is opposite the entry
		Volume:       deal.Volume,
		EntryPrice:   deal.Price,
		CurrentPrice: deal.Price,
		Profit:       deal.Profit,
		Commission:   deal.Commission,
		Swap:         deal.Swap,
		Tag:          deal.Tag,
		Comment:      deal.Comment,
		OpenTime:     deal.Time,
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
