package history_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/helios-trade/decision-core/internal/history"
	"github.com/helios-trade/decision-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func openStore(t *testing.T) *history.SQLiteStore {
	t.Helper()
	store, err := history.OpenSQLite(zap.NewNop(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func trade(id, pair, strategy string, pnl float64, at time.Time) types.Trade {
	return types.Trade{
		ID:         id,
		Pair:       pair,
		Side:       types.OrderSideBuy,
		Volume:     decimal.NewFromFloat(0.5),
		Price:      decimal.NewFromInt(50000),
		PnL:        decimal.NewFromFloat(pnl),
		StrategyID: strategy,
		IsEntry:    true,
		ExecutedAt: at,
	}
}

// closeTrade is an exit fill carrying realized PnL.
func closeTrade(id, pair, strategy string, pnl float64, at time.Time) types.Trade {
	tr := trade(id, pair, strategy, pnl, at)
	tr.Side = types.OrderSideSell
	tr.IsEntry = false
	return tr
}

func TestTradeRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Millisecond)
	want := trade("t-1", "BTC/USD", "momentum", 12.5, now)
	if err := store.AppendTrade(ctx, want); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.RecentTrades(ctx, "BTC/USD", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d trades, want 1", len(got))
	}
	if got[0].ID != want.ID || !got[0].PnL.Equal(want.PnL) || !got[0].Volume.Equal(want.Volume) {
		t.Fatalf("round trip mismatch: %+v", got[0])
	}
	if !got[0].ExecutedAt.Equal(now) {
		t.Fatalf("executedAt = %v, want %v", got[0].ExecutedAt, now)
	}
}

func TestRecentTradesOrderAndLimit(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		tr := trade(fmt.Sprintf("t-%d", i), "BTC/USD", "momentum", 1, base.Add(time.Duration(i)*time.Minute))
		if err := store.AppendTrade(ctx, tr); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := store.AppendTrade(ctx, trade("other", "ETH/USD", "momentum", 1, base)); err != nil {
		t.Fatalf("append other pair: %v", err)
	}

	got, err := store.RecentTrades(ctx, "BTC/USD", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d trades, want 3", len(got))
	}
	if got[0].ID != "t-4" || got[2].ID != "t-2" {
		t.Fatalf("wrong order: %s .. %s", got[0].ID, got[2].ID)
	}
}

func TestWinRate(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	rate, err := store.WinRate(ctx, "BTC/USD")
	if err != nil {
		t.Fatalf("win rate: %v", err)
	}
	if rate != 0.5 {
		t.Fatalf("empty pair win rate = %f, want neutral 0.5", rate)
	}

	// Three winning closes out of four, plus entries and another pair that
	// must not move the number.
	now := time.Now()
	pnls := []float64{10, -5, 3, 2}
	for i, pnl := range pnls {
		if err := store.AppendTrade(ctx, trade(fmt.Sprintf("e-%d", i), "BTC/USD", "momentum", 0, now)); err != nil {
			t.Fatalf("append entry %d: %v", i, err)
		}
		if err := store.AppendTrade(ctx, closeTrade(fmt.Sprintf("c-%d", i), "BTC/USD", "momentum", pnl, now)); err != nil {
			t.Fatalf("append close %d: %v", i, err)
		}
	}
	if err := store.AppendTrade(ctx, closeTrade("x-0", "ETH/USD", "momentum", -1, now)); err != nil {
		t.Fatalf("append other pair: %v", err)
	}

	rate, err = store.WinRate(ctx, "BTC/USD")
	if err != nil {
		t.Fatalf("win rate: %v", err)
	}
	if rate != 0.75 {
		t.Fatalf("win rate = %f, want 0.75 (3 of 4 closes, entries excluded)", rate)
	}
}

func TestTradeCountAndSignals(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	n, err := store.TradeCount(ctx)
	if err != nil || n != 0 {
		t.Fatalf("initial count = %d err=%v", n, err)
	}

	if err := store.AppendTrade(ctx, trade("c-1", "BTC/USD", "momentum", 1, time.Now())); err != nil {
		t.Fatalf("append trade: %v", err)
	}
	sig := &types.TradingSignal{
		ID:           "s-1",
		Symbol:       "BTC/USD",
		Action:       types.ActionBuy,
		Confidence:   0.7,
		PositionSize: 0.1,
		Price:        50000,
		StrategyID:   "momentum",
		CreatedAt:    time.Now(),
	}
	if err := store.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("append signal: %v", err)
	}
	if err := store.AppendTrade(ctx, closeTrade("c-2", "BTC/USD", "momentum", 5, time.Now())); err != nil {
		t.Fatalf("append close: %v", err)
	}

	n, err = store.TradeCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count after appends = %d err=%v, want 1 (signals and closes do not count)", n, err)
	}
}
