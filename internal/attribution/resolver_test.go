package attribution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"tradepulse/internal/domain"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// staticSource is a fixed instance set.
type staticSource struct{ instances []domain.BotInstance }

func (s *staticSource) Instances() []domain.BotInstance {
	out := make([]domain.BotInstance, len(s.instances))
	copy(out, s.instances)
	return out
}

func instance(id string, tag, hi int64) domain.BotInstance {
	return domain.BotInstance{
		ID:     id,
		Tag:    tag,
		Tags:   domain.TagRange{Lo: tag, Hi: hi},
		Symbol: "EURUSD",
	}
}

func newTestResolver(instances ...domain.BotInstance) *Resolver {
	return NewResolver(&staticSource{instances: instances}, &mockLogger{})
}

func TestResolve_ExactTagMatch(t *testing.T) {
	r := newTestResolver(
		instance("alpha", 234000, 234099),
		instance("beta", 234100, 234199),
	)

	attr := r.ResolvePosition(context.Background(), domain.Position{Ticket: 1, Tag: 234100})
	assert.Equal(t, "beta", attr.BotID)
	assert.Equal(t, domain.MethodTag, attr.Method)
	assert.InDelta(t, 1.0, attr.Confidence, 1e-9)
	assert.True(t, attr.IsBot())
}

func TestResolve_CommentMatch(t *testing.T) {
	r := newTestResolver(instance("alpha", 234000, 234099))

	tests := []struct {
		name    string
		comment string
		want    string
	}{
		{"with side suffix", "TradePulse_alpha_BUY", "alpha"},
		{"sell side suffix", "TradePulse_alpha_SELL", "alpha"},
		{"truncated without side", "TradePulse_alpha", "alpha"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attr := r.ResolvePosition(context.Background(), domain.Position{Ticket: 1, Comment: tt.comment})
			assert.Equal(t, tt.want, attr.BotID)
			assert.Equal(t, domain.MethodComment, attr.Method)
			assert.InDelta(t, 0.9, attr.Confidence, 1e-9)
		})
	}
}

func TestResolve_CommentForUnknownInstanceIsManual(t *testing.T) {
	r := newTestResolver(instance("alpha", 234000, 234099))

	attr := r.ResolvePosition(context.Background(), domain.Position{Ticket: 1, Comment: "TradePulse_gone_BUY"})
	assert.Equal(t, domain.MethodManual, attr.Method)
	assert.False(t, attr.IsBot())
}

func TestResolve_TagTakesPrecedenceOverComment(t *testing.T) {
	r := newTestResolver(
		instance("alpha", 234000, 234099),
		instance("beta", 234100, 234199),
	)

	// Tag and comment disagree; the tag wins.
	attr := r.ResolvePosition(context.Background(), domain.Position{
		Ticket:  1,
		Tag:     234000,
		Comment: "TradePulse_beta_BUY",
	})
	assert.Equal(t, "alpha", attr.BotID)
	assert.Equal(t, domain.MethodTag, attr.Method)
}

func TestResolve_RangeFallback(t *testing.T) {
	r := newTestResolver(
		instance("alpha", 234000, 234099),
		instance("beta", 234100, 234199),
	)

	// Tag 234050 is no instance's exact tag but sits inside alpha's range.
	attr := r.ResolveDeal(context.Background(), domain.Deal{Ticket: 1, Tag: 234050})
	assert.Equal(t, "alpha", attr.BotID)
	assert.Equal(t, domain.MethodRange, attr.Method)
	assert.InDelta(t, 0.5, attr.Confidence, 1e-9)
}

func TestResolve_AmbiguousRangeIsManual(t *testing.T) {
	// Overlapping ranges should not happen, but when they do the trade
	// must not be guessed into either instance.
	r := newTestResolver(
		instance("alpha", 234000, 234099),
		instance("beta", 234050, 234149),
	)

	attr := r.ResolveDeal(context.Background(), domain.Deal{Ticket: 1, Tag: 234060})
	assert.Equal(t, domain.MethodManual, attr.Method)
	assert.Empty(t, attr.BotID)
}

func TestResolve_NoSignalIsManual(t *testing.T) {
	r := newTestResolver(instance("alpha", 234000, 234099))

	for _, pos := range []domain.Position{
		{Ticket: 1},                                // no tag, no comment
		{Ticket: 2, Tag: 999999},                   // tag outside every range
		{Ticket: 3, Comment: "customer note"},      // foreign comment
		{Ticket: 4, Comment: "TradePulse_"},        // prefix truncated before the ID
		{Ticket: 5, Tag: 7, Comment: "hedge roll"}, // both present, neither matches
	} {
		attr := r.ResolvePosition(context.Background(), pos)
		assert.Equal(t, domain.MethodManual, attr.Method, "ticket %d", pos.Ticket)
	}
}

func TestResolve_IsDeterministic(t *testing.T) {
	// The same trade against the same live set resolves identically no
	// matter how the source orders its instances.
	forward := newTestResolver(
		instance("alpha", 234000, 234099),
		instance("beta", 234100, 234199),
	)
	reversed := newTestResolver(
		instance("beta", 234100, 234199),
		instance("alpha", 234000, 234099),
	)

	pos := domain.Position{Ticket: 1, Tag: 234050}
	a := forward.ResolvePosition(context.Background(), pos)
	b := reversed.ResolvePosition(context.Background(), pos)
	assert.Equal(t, a, b)

	for i := 0; i < 10; i++ {
		assert.Equal(t, a, forward.ResolvePosition(context.Background(), pos))
	}
}
