// Package history journals signals and executed paper trades so phase
// progression and optimizer confidence survive restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/helios-trade/decision-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Store is the narrow persistence surface the pipeline depends on.
type Store interface {
	AppendTrade(ctx context.Context, trade types.Trade) error
	AppendSignal(ctx context.Context, signal *types.TradingSignal) error
	RecentTrades(ctx context.Context, pair string, limit int) ([]types.Trade, error)
	TradeCount(ctx context.Context) (int, error)
	WinRate(ctx context.Context, pair string) (float64, error)
	Close() error
}

// SQLiteStore journals to a local SQLite file via modernc.org/sqlite,
// which needs no cgo.
type SQLiteStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// OpenSQLite opens (and migrates) the journal at path. Use ":memory:" for
// an ephemeral store.
func OpenSQLite(logger *zap.Logger, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{logger: logger.Named("history"), db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	pair        TEXT NOT NULL,
	side        TEXT NOT NULL,
	volume      TEXT NOT NULL,
	price       TEXT NOT NULL,
	pnl         TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	entry       INTEGER NOT NULL DEFAULT 1,
	executed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_pair_time ON trades (pair, executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades (strategy_id);

CREATE TABLE IF NOT EXISTS signals (
	id            TEXT PRIMARY KEY,
	symbol        TEXT NOT NULL,
	action        TEXT NOT NULL,
	confidence    REAL NOT NULL,
	position_size REAL NOT NULL,
	price         REAL NOT NULL,
	strategy_id   TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate journal schema: %w", err)
	}
	return nil
}

// AppendTrade journals one executed trade. Monetary fields are stored as
// decimal strings to avoid float drift.
func (s *SQLiteStore) AppendTrade(ctx context.Context, trade types.Trade) error {
	entry := 0
	if trade.IsEntry {
		entry = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, pair, side, volume, price, pnl, strategy_id, entry, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Pair, string(trade.Side),
		trade.Volume.String(), trade.Price.String(), trade.PnL.String(),
		trade.StrategyID, entry, trade.ExecutedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append trade %s: %w", trade.ID, err)
	}
	return nil
}

// AppendSignal journals one emitted signal.
func (s *SQLiteStore) AppendSignal(ctx context.Context, signal *types.TradingSignal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (id, symbol, action, confidence, position_size, price, strategy_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		signal.ID, signal.Symbol, string(signal.Action),
		signal.Confidence, signal.PositionSize, signal.Price,
		signal.StrategyID, signal.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append signal %s: %w", signal.ID, err)
	}
	return nil
}

// RecentTrades returns up to limit trades for a pair, newest first.
func (s *SQLiteStore) RecentTrades(ctx context.Context, pair string, limit int) ([]types.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pair, side, volume, price, pnl, strategy_id, entry, executed_at
		 FROM trades WHERE pair = ? ORDER BY executed_at DESC LIMIT ?`,
		pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent trades for %s: %w", pair, err)
	}
	defer rows.Close()

	var trades []types.Trade
	for rows.Next() {
		var (
			t                  types.Trade
			side               string
			volume, price, pnl string
			entry              int
			executedAt         int64
		)
		if err := rows.Scan(&t.ID, &t.Pair, &side, &volume, &price, &pnl, &t.StrategyID, &entry, &executedAt); err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		t.Side = types.OrderSide(side)
		t.IsEntry = entry != 0
		if t.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("decode volume %q: %w", volume, err)
		}
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("decode price %q: %w", price, err)
		}
		if t.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("decode pnl %q: %w", pnl, err)
		}
		t.ExecutedAt = time.UnixMilli(executedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// TradeCount returns the number of journaled entry fills. Phase progression
// is driven by this number; closes do not advance it.
func (s *SQLiteStore) TradeCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE entry = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trades: %w", err)
	}
	return n, nil
}

// WinRate returns the fraction of a pair's closed round trips with positive
// realized PnL. Entry fills carry no PnL and are excluded. A pair with no
// closed trades reports 0.5 so sizing stays neutral.
func (s *SQLiteStore) WinRate(ctx context.Context, pair string) (float64, error) {
	var total, wins int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN CAST(pnl AS REAL) > 0 THEN 1 ELSE 0 END), 0)
		 FROM trades WHERE pair = ? AND entry = 0`, pair).Scan(&total, &wins)
	if err != nil {
		return 0, fmt.Errorf("win rate for %s: %w", pair, err)
	}
	if total == 0 {
		return 0.5, nil
	}
	return float64(wins) / float64(total), nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
