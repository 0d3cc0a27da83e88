package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trade/decision-core/internal/alerts"
	"github.com/helios-trade/decision-core/internal/events"
	"github.com/helios-trade/decision-core/internal/feed"
	"github.com/helios-trade/decision-core/internal/metrics"
	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/orderbook"
	"github.com/helios-trade/decision-core/internal/phase"
	"github.com/helios-trade/decision-core/internal/pipeline"
	"github.com/helios-trade/decision-core/internal/regime"
	"github.com/helios-trade/decision-core/internal/risk"
	"github.com/helios-trade/decision-core/internal/signal"
	"github.com/helios-trade/decision-core/pkg/types"
)

// memStore is an in-memory history.Store for pipeline tests.
type memStore struct {
	mu      sync.Mutex
	trades  []types.Trade
	signals []*types.TradingSignal
	failing bool
}

func (s *memStore) AppendTrade(_ context.Context, trade types.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("journal down")
	}
	s.trades = append(s.trades, trade)
	return nil
}

func (s *memStore) AppendSignal(_ context.Context, sig *types.TradingSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("journal down")
	}
	s.signals = append(s.signals, sig)
	return nil
}

func (s *memStore) RecentTrades(context.Context, string, int) ([]types.Trade, error) {
	return nil, nil
}

func (s *memStore) TradeCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.trades {
		if t.IsEntry {
			n++
		}
	}
	return n, nil
}

func (s *memStore) WinRate(context.Context, string) (float64, error) { return 0.6, nil }
func (s *memStore) Close() error                                     { return nil }

func (s *memStore) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func (s *memStore) closes() []types.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Trade
	for _, t := range s.trades {
		if !t.IsEntry {
			out = append(out, t)
		}
	}
	return out
}

func (s *memStore) signalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.signals)
}

// risingSource walks the price up 1% per tick, enough to trend bullish.
type risingSource struct {
	mu    sync.Mutex
	price float64
	fail  bool
}

func (s *risingSource) Latest(_ context.Context, symbol string) (types.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return types.PriceSample{}, errors.New("feed down")
	}
	if s.price == 0 {
		s.price = 100
	}
	s.price *= 1.01
	return types.PriceSample{Symbol: symbol, Price: s.price, Volume: 10}, nil
}

// reversingSource trends up 1% per tick until turn, then down 1% per tick.
type reversingSource struct {
	mu    sync.Mutex
	price float64
	tick  int
	turn  int
}

func (s *reversingSource) Latest(_ context.Context, symbol string) (types.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.price == 0 {
		s.price = 100
	}
	s.tick++
	if s.tick < s.turn {
		s.price *= 1.01
	} else {
		s.price *= 0.99
	}
	return types.PriceSample{Symbol: symbol, Price: s.price, Volume: 10}, nil
}

type alwaysValidSource struct{}

func (alwaysValidSource) Fetch(_ context.Context, symbol string) (types.OrderBookSnapshot, error) {
	return types.OrderBookSnapshot{
		Symbol:         symbol,
		MidPrice:       100,
		SpreadPercent:  0.01,
		LiquidityScore: 90,
		MarketPressure: 80,
		WhaleActivity:  types.LevelLow,
		Confidence:     0.95,
	}, nil
}

func newTestPipeline(t *testing.T, store *memStore, source feed.Source) (*pipeline.Pipeline, *risk.Manager) {
	t.Helper()
	logger := zap.NewNop()
	riskManager := risk.NewManager(logger, risk.DefaultConfig())
	deps := pipeline.Deps{
		Logger:    logger,
		Source:    source,
		Buffer:    feed.NewBuffer(500),
		Analyzer:  regime.NewAnalyzer(regime.DefaultAnalyzerConfig()),
		Optimizer: optimizer.New(logger, optimizer.DefaultConfig(), regime.NewAnalyzer(regime.DefaultAnalyzerConfig()), 42),
		Generator: signal.NewGenerator(logger, signal.DefaultGeneratorConfig()),
		Phases:    phase.NewManager(logger, phase.DefaultPhases()),
		Validator: orderbook.NewValidator(logger, orderbook.DefaultValidatorConfig(), alwaysValidSource{}),
		Risk:      riskManager,
		Store:     store,
		Bus:       events.NewBus(logger, 2, 256),
		Alerts:    alerts.NewSink(logger, 64, alerts.NewLogNotifier(logger)),
		Metrics:   metrics.New(),
	}
	p, err := pipeline.New(pipeline.Config{
		Symbols:        []string{"BTC/USD"},
		CycleInterval:  10 * time.Millisecond, // loops are not started in these tests
		InitialBalance: 100000,
	}, deps)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p, riskManager
}

func TestCycleJournalsSignals(t *testing.T) {
	store := &memStore{}
	p, _ := newTestPipeline(t, store, &risingSource{})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		p.RunCycle(ctx, "BTC/USD")
	}

	if store.signalCount() != 30 {
		t.Fatalf("journaled %d signals over 30 cycles, want 30", store.signalCount())
	}
}

func TestRisingMarketOpensPosition(t *testing.T) {
	store := &memStore{}
	p, _ := newTestPipeline(t, store, &risingSource{})
	ctx := context.Background()

	// Discovery phase has no validation gate and a low confidence floor,
	// so a strong uptrend should produce a buy fill within a few cycles.
	for i := 0; i < 50 && store.tradeCount() == 0; i++ {
		p.RunCycle(ctx, "BTC/USD")
	}

	if store.tradeCount() == 0 {
		t.Fatal("no paper fill after 50 cycles of a strong uptrend")
	}
	positions := p.OpenPositions()
	pos, ok := positions["BTC/USD"]
	if !ok {
		t.Fatal("expected an open position")
	}
	if pos.Side != types.OrderSideBuy {
		t.Fatalf("position side = %s, want buy", pos.Side)
	}
	if pos.Volume.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("position volume = %s, want positive", pos.Volume)
	}
}

func TestSameSideSignalDoesNotStack(t *testing.T) {
	store := &memStore{}
	p, _ := newTestPipeline(t, store, &risingSource{})
	ctx := context.Background()

	for i := 0; i < 80; i++ {
		p.RunCycle(ctx, "BTC/USD")
	}

	// A persistent uptrend keeps emitting buys; only the first may fill.
	if n := store.tradeCount(); n > 1 {
		t.Fatalf("%d fills from one continuous uptrend, want at most 1", n)
	}
	if len(p.OpenPositions()) > 1 {
		t.Fatal("more than one open position for a single symbol")
	}
}

func TestReversalClosesPositionThroughRiskManager(t *testing.T) {
	store := &memStore{}
	p, riskManager := newTestPipeline(t, store, &reversingSource{turn: 60})
	ctx := context.Background()

	for i := 0; i < 200 && len(store.closes()) == 0; i++ {
		p.RunCycle(ctx, "BTC/USD")
	}

	closes := store.closes()
	if len(closes) == 0 {
		t.Fatal("no close fill after the trend reversal")
	}
	if closes[0].IsEntry {
		t.Fatal("close fill journaled as an entry")
	}
	if closes[0].PnL.IsZero() {
		t.Fatal("close fill carries no realized PnL")
	}
	if _, open := p.OpenPositions()["BTC/USD"]; open {
		t.Fatal("position still open after its close was journaled")
	}

	// Every fill, closes included, must have been recorded against the
	// risk quotas.
	stats := riskManager.Stats()
	if stats.OrdersLastHour != store.tradeCount() {
		t.Fatalf("risk manager recorded %d orders for %d fills", stats.OrdersLastHour, store.tradeCount())
	}
	if stats.OrdersLastHour < 2 {
		t.Fatalf("expected at least an entry and a close, got %d recorded orders", stats.OrdersLastHour)
	}
}

func TestFeedFailureSkipsCycleQuietly(t *testing.T) {
	store := &memStore{}
	source := &risingSource{fail: true}
	p, _ := newTestPipeline(t, store, source)

	p.RunCycle(context.Background(), "BTC/USD")

	if store.signalCount() != 0 {
		t.Fatal("failed fetch must not produce a signal")
	}
}

func TestJournalFailureDoesNotStopCycles(t *testing.T) {
	store := &memStore{failing: true}
	p, _ := newTestPipeline(t, store, &risingSource{})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		p.RunCycle(ctx, "BTC/USD") // must not panic
	}
}

func TestBalanceStartsAtConfiguredValue(t *testing.T) {
	store := &memStore{}
	p, _ := newTestPipeline(t, store, &risingSource{})

	if !p.Balance().Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("balance = %s, want 100000", p.Balance())
	}
}
