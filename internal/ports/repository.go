package ports

import (
	"context"

	"tradepulse/internal/domain"
)

// TradeRecordRepository stores completed trades for history queries.
// Lifetime statistics live in the aggregator; this store only backs the
// dashboard's history view.
type TradeRecordRepository interface {
	// Record persists a completed trade. Recording the same closing
	// ticket twice is a no-op.
	Record(ctx context.Context, trade *domain.CompletedTrade) error
	// FindRecent returns the most recent completed trades, newest first.
	FindRecent(ctx context.Context, limit int) ([]*domain.CompletedTrade, error)
	// FindByBot returns the most recent completed trades for a bot.
	FindByBot(ctx context.Context, botID string, limit int) ([]*domain.CompletedTrade, error)
	// CountToday counts trades closed today for a bot.
	CountToday(ctx context.Context, botID string) (int, error)
	// Symbols returns the distinct symbols ever recorded. Used at startup
	// to seed the gateway's deal-history queries.
	Symbols(ctx context.Context) ([]string, error)
}
