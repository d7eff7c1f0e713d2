package broadcast

import (
	"context"
	"sync"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"
)

const defaultSubscriberBuffer = 64

// Broadcaster delivers events to subscribers in the order they were
// published. Delivery to any one subscriber is best-effort: a subscriber
// that stops draining its channel misses events and is expected to pull
// a resync snapshot instead of relying on replay.
//
// Publishing is serialized by a mutex, so per-ticket ordering follows
// directly from the producers' call order. Terminal events are
// de-duplicated by (type, ticket) so a ticket can never see two
// position_closed deliveries.
type Broadcaster struct {
	logger ports.Logger

	mu        sync.Mutex
	nextID    int
	subs      map[int]chan domain.Event
	terminals map[terminalKey]struct{}
	closed    bool
}

type terminalKey struct {
	typ    domain.EventType
	ticket int64
}

// New creates a Broadcaster.
func New(logger ports.Logger) *Broadcaster {
	return &Broadcaster{
		logger:    logger,
		subs:      make(map[int]chan domain.Event),
		terminals: make(map[terminalKey]struct{}),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// must be called when the subscriber disconnects; the channel is closed
// by the broadcaster.
func (b *Broadcaster) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan domain.Event, defaultSubscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to all current subscribers. Duplicate
// terminal events for the same ticket are suppressed. A full subscriber
// buffer causes the event to be dropped for that subscriber only.
func (b *Broadcaster) Publish(ctx context.Context, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if isTerminal(evt.Type) && evt.Ticket != 0 {
		key := terminalKey{typ: evt.Type, ticket: evt.Ticket}
		if _, dup := b.terminals[key]; dup {
			b.logger.Debug(ctx, "Suppressed duplicate terminal event", map[string]interface{}{
				"type":   evt.Type,
				"ticket": evt.Ticket,
			})
			return
		}
		b.terminals[key] = struct{}{}
		// The suppression set only needs to cover the plausible window
		// in which a duplicate can arrive; cap it to bound memory.
		if len(b.terminals) > 4096 {
			b.terminals = make(map[terminalKey]struct{})
		}
	}

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			b.logger.Warn(ctx, "Subscriber buffer full, dropping event", map[string]interface{}{
				"type":   evt.Type,
				"ticket": evt.Ticket,
			})
		}
	}
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func isTerminal(t domain.EventType) bool {
	return t == domain.EventPositionClosed || t == domain.EventTradeExecuted
}
