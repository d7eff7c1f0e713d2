package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradepulse/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func collect(ch <-chan domain.Event) []domain.Event {
	var out []domain.Event
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func event(typ domain.EventType, ticket int64) domain.Event {
	evt := domain.NewEvent(typ, time.Now())
	evt.Ticket = ticket
	return evt
}

func TestPublish_DeliversInPublishOrder(t *testing.T) {
	bus := New(&mockLogger{})
	ctx := context.Background()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(ctx, event(domain.EventPositionOpened, 1001))
	bus.Publish(ctx, event(domain.EventPositionUpdated, 1001))
	bus.Publish(ctx, event(domain.EventPositionClosed, 1001))

	got := collect(ch)
	require.Len(t, got, 3)
	assert.Equal(t, domain.EventPositionOpened, got[0].Type)
	assert.Equal(t, domain.EventPositionUpdated, got[1].Type)
	assert.Equal(t, domain.EventPositionClosed, got[2].Type)
}

func TestPublish_SuppressesDuplicateTerminalEvents(t *testing.T) {
	bus := New(&mockLogger{})
	ctx := context.Background()

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(ctx, event(domain.EventPositionClosed, 1001))
	bus.Publish(ctx, event(domain.EventPositionClosed, 1001))
	bus.Publish(ctx, event(domain.EventTradeExecuted, 1001))
	bus.Publish(ctx, event(domain.EventTradeExecuted, 1001))
	// A different ticket is a different terminal event.
	bus.Publish(ctx, event(domain.EventPositionClosed, 1002))

	got := collect(ch)
	require.Len(t, got, 3)
	assert.Equal(t, domain.EventPositionClosed, got[0].Type)
	assert.Equal(t, int64(1001), got[0].Ticket)
	assert.Equal(t, domain.EventTradeExecuted, got[1].Type)
	assert.Equal(t, int64(1002), got[2].Ticket)
}

func TestPublish_NonTerminalEventsRepeatFreely(t *testing.T) {
	bus := New(&mockLogger{})
	ctx := context.Background()

	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 3; i++ {
		bus.Publish(ctx, event(domain.EventPositionUpdated, 1001))
	}
	assert.Len(t, collect(ch), 3)
}

func TestPublish_DropsOnFullSubscriberBuffer(t *testing.T) {
	bus := New(&mockLogger{})
	ctx := context.Background()

	slow, cancelSlow := bus.Subscribe()
	defer cancelSlow()

	// Overflow the slow subscriber without draining it.
	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		bus.Publish(ctx, event(domain.EventPositionUpdated, int64(2000+i)))
	}

	got := collect(slow)
	assert.Len(t, got, defaultSubscriberBuffer)

	// A fresh subscriber still gets new events: the overflow affected
	// only the subscriber that stopped draining.
	fast, cancelFast := bus.Subscribe()
	defer cancelFast()
	bus.Publish(ctx, event(domain.EventPositionUpdated, 9999))
	assert.Len(t, collect(fast), 1)
}

func TestSubscribe_CancelClosesChannelAndDetaches(t *testing.T) {
	bus := New(&mockLogger{})
	ctx := context.Background()

	ch, cancel := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Cancel is safe to call twice.
	cancel()

	// Publishing after detach does not panic and reaches nobody.
	bus.Publish(ctx, event(domain.EventPositionOpened, 1))
}

func TestClose_ClosesAllSubscribers(t *testing.T) {
	bus := New(&mockLogger{})
	ctx := context.Background()

	a, cancelA := bus.Subscribe()
	b, _ := bus.Subscribe()
	bus.Close()

	_, openA := <-a
	_, openB := <-b
	assert.False(t, openA)
	assert.False(t, openB)

	// Publish and a late cancel are no-ops after Close.
	bus.Publish(ctx, event(domain.EventPositionOpened, 1))
	cancelA()

	// Subscribing after Close yields an already-closed channel.
	late, cancelLate := bus.Subscribe()
	defer cancelLate()
	_, openLate := <-late
	assert.False(t, openLate)
}
