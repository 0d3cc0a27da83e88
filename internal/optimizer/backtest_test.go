// Package optimizer_test provides tests for the walk-forward backtester.
package optimizer_test

import (
	"reflect"
	"testing"

	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/pkg/types"
)

func TestBacktestIsDeterministic(t *testing.T) {
	bt := optimizer.NewBacktester(optimizer.DefaultBacktestConfig())
	ps, err := optimizer.DefaultParameterSet(optimizer.StrategyMomentum)
	if err != nil {
		t.Fatalf("default params: %v", err)
	}
	samples := trendingSamples(300)

	first := bt.Run(ps, samples)
	second := bt.Run(ps, samples)

	if !reflect.DeepEqual(first, second) {
		t.Error("same window and parameters should replay identically")
	}
}

func TestBacktestFindsTradesInTrendingWindow(t *testing.T) {
	bt := optimizer.NewBacktester(optimizer.DefaultBacktestConfig())
	ps, _ := optimizer.DefaultParameterSet(optimizer.StrategyMomentum)

	report := bt.Run(ps, trendingSamples(400))
	if report.Metrics.TradeCount == 0 {
		t.Fatal("expected at least one simulated trade")
	}
	if report.Metrics.TradeCount != len(report.Trades) {
		t.Errorf("metric trade count %d disagrees with trade list %d",
			report.Metrics.TradeCount, len(report.Trades))
	}
	for _, tr := range report.Trades {
		if tr.ExitReason == "" {
			t.Error("every closed trade needs an exit reason")
		}
		if tr.ExitIndex < tr.EntryIndex {
			t.Errorf("trade exited before it entered: %+v", tr)
		}
	}
}

func TestBacktestEmptyWindowYieldsNoTrades(t *testing.T) {
	bt := optimizer.NewBacktester(optimizer.DefaultBacktestConfig())
	ps, _ := optimizer.DefaultParameterSet(optimizer.StrategyMeanRevert)

	report := bt.Run(ps, nil)
	if report.Metrics.TradeCount != 0 {
		t.Errorf("expected no trades on an empty window, got %d", report.Metrics.TradeCount)
	}
	if report.Metrics.WinRate != 0 || report.Metrics.Sharpe != 0 {
		t.Error("metrics on an empty window should be zero-valued")
	}
}

func TestStopLossBoundsLosses(t *testing.T) {
	bt := optimizer.NewBacktester(optimizer.BacktestConfig{SpreadPct: 0.0002})
	ps, _ := optimizer.DefaultParameterSet(optimizer.StrategyMomentum)

	// Sharp rise to trigger a long entry, then a crash.
	samples := make([]types.PriceSample, 0, 120)
	price := 100.0
	for i := 0; i < 120; i++ {
		if i < 40 {
			price *= 1.01
		} else {
			price *= 0.985
		}
		samples = append(samples, types.PriceSample{Symbol: "BTC/USDT", Price: price, Volume: 1000})
	}

	report := bt.Run(ps, samples)
	stopDistance := ps.StopLossPct()
	for _, tr := range report.Trades {
		if tr.ExitReason == "stop_loss" && tr.Return < -(stopDistance+0.05) {
			t.Errorf("stop-loss exit lost far more than the stop distance: %f", tr.Return)
		}
	}
}
