package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradepulse/internal/domain"
	"tradepulse/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.TradeRecordRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (and creates if needed) the trade record database.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/tradepulse.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the recorder and API reads.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// The Go driver benefits from a single connection with SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite trade record store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates the trade record table if it doesn't exist.
// The closing deal ticket is the primary key, which makes Record
// idempotent across restarts and overlapping deal polls.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_records (
		ticket INTEGER PRIMARY KEY,
		position_id INTEGER NOT NULL,
		bot_id TEXT NOT NULL DEFAULT '',
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		volume REAL NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		profit REAL NOT NULL,
		open_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP NOT NULL,
		estimated INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_trade_records_bot_close ON trade_records (bot_id, close_time);
	CREATE INDEX IF NOT EXISTS idx_trade_records_close_time ON trade_records (close_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Record persists a completed trade. Re-recording the same closing
// ticket is a no-op.
func (r *Repository) Record(ctx context.Context, trade *domain.CompletedTrade) error {
	const query = `
	INSERT OR IGNORE INTO trade_records
		(ticket, position_id, bot_id, symbol, side, volume, entry_price, exit_price, profit, open_time, close_time, estimated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Ticket, trade.PositionID, trade.BotID, trade.Symbol, string(trade.Side),
		trade.Volume, trade.EntryPrice, trade.ExitPrice, trade.Profit,
		trade.OpenTime, trade.CloseTime, boolToInt(trade.Estimated))
	if err != nil {
		return fmt.Errorf("failed to insert trade record for ticket %d: %w", trade.Ticket, err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		r.logger.Debug(ctx, "Trade record already present", map[string]interface{}{"ticket": trade.Ticket})
		return nil
	}
	r.logger.Debug(ctx, "Trade record stored", map[string]interface{}{
		"ticket": trade.Ticket,
		"botID":  trade.BotID,
		"profit": trade.Profit,
	})
	return nil
}

// FindRecent returns the most recent completed trades, newest first.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.CompletedTrade, error) {
	const query = `
	SELECT ticket, position_id, bot_id, symbol, side, volume, entry_price, exit_price, profit, open_time, close_time, estimated
	FROM trade_records
	ORDER BY close_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trade records: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// FindByBot returns the most recent completed trades for a bot.
func (r *Repository) FindByBot(ctx context.Context, botID string, limit int) ([]*domain.CompletedTrade, error) {
	const query = `
	SELECT ticket, position_id, bot_id, symbol, side, volume, entry_price, exit_price, profit, open_time, close_time, estimated
	FROM trade_records
	WHERE bot_id = ? ORDER BY close_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade records for bot %s: %w", botID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// CountToday counts trades closed today (UTC) for a bot.
func (r *Repository) CountToday(ctx context.Context, botID string) (int, error) {
	const query = `SELECT COUNT(*) FROM trade_records WHERE bot_id = ? AND date(close_time) = date('now')`
	var count int
	if err := r.db.QueryRowContext(ctx, query, botID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count today's trades for bot %s: %w", botID, err)
	}
	return count, nil
}

// Symbols returns the distinct symbols present in the trade records.
func (r *Repository) Symbols(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT symbol FROM trade_records ORDER BY symbol`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query recorded symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan recorded symbol: %w", err)
		}
		symbols = append(symbols, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recorded symbols: %w", err)
	}
	return symbols, nil
}

func collectTrades(rows *sql.Rows) ([]*domain.CompletedTrade, error) {
	trades := make([]*domain.CompletedTrade, 0)
	for rows.Next() {
		t := &domain.CompletedTrade{}
		var side string
		var estimated int
		err := rows.Scan(
			&t.Ticket, &t.PositionID, &t.BotID, &t.Symbol, &side, &t.Volume,
			&t.EntryPrice, &t.ExitPrice, &t.Profit, &t.OpenTime, &t.CloseTime, &estimated)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade record: %w", err)
		}
		t.Side = domain.OrderSide(side)
		t.Estimated = estimated != 0
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade record rows: %w", err)
	}
	return trades, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
