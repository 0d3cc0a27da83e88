// Package signal_test provides tests for the signal generator.
package signal_test

import (
	"strings"
	"testing"

	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/phase"
	"github.com/helios-trade/decision-core/internal/signal"
	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

func bullishRegime() types.MarketRegime {
	return types.MarketRegime{
		Trend:           types.TrendBullish,
		Strength:        0.8,
		Momentum:        0.04,
		Volatility:      0.01,
		VolatilityLevel: types.LevelLow,
		VolumeLevel:     types.LevelMedium,
		Confidence:      0.7,
		SampleCount:     250,
	}
}

func testInput() signal.Input {
	params, _ := optimizer.DefaultParameterSet(optimizer.StrategyMomentum)
	return signal.Input{
		Symbol:     "BTC/USDT",
		Price:      50000,
		Regime:     bullishRegime(),
		Params:     params,
		Phase:      phase.DefaultPhases()[0],
		WinRate:    0.55,
		StrategyID: optimizer.StrategyMomentum,
	}
}

func TestBullishRegimeYieldsBuy(t *testing.T) {
	g := signal.NewGenerator(zap.NewNop(), signal.DefaultGeneratorConfig())
	sig := g.Generate(testInput())

	if sig.Action != types.ActionBuy {
		t.Fatalf("expected BUY, got %s", sig.Action)
	}
	if sig.PositionSize <= 0 {
		t.Error("BUY signal should have a positive position size")
	}
	if len(sig.Reasoning) == 0 {
		t.Error("every decision must carry a reasoning trail")
	}
}

func TestBearishRegimeYieldsSell(t *testing.T) {
	g := signal.NewGenerator(zap.NewNop(), signal.DefaultGeneratorConfig())
	in := testInput()
	in.Regime.Trend = types.TrendBearish
	in.Regime.Momentum = -0.04

	sig := g.Generate(in)
	if sig.Action != types.ActionSell {
		t.Fatalf("expected SELL, got %s", sig.Action)
	}
}

func TestLowConfidenceHoldsWithReasoning(t *testing.T) {
	g := signal.NewGenerator(zap.NewNop(), signal.DefaultGeneratorConfig())
	in := testInput()
	in.Regime.Strength = 0.05
	in.Regime.Confidence = 0.05
	in.Phase = phase.DefaultPhases()[4] // strictest tier

	sig := g.Generate(in)
	if sig.Action != types.ActionHold {
		t.Fatalf("expected HOLD below the activation threshold, got %s", sig.Action)
	}
	found := false
	for _, r := range sig.Reasoning {
		if strings.Contains(r, "threshold") {
			found = true
		}
	}
	if !found {
		t.Error("HOLD reasoning should mention the phase threshold")
	}
}

func TestHighVolatilityHalvesSize(t *testing.T) {
	g := signal.NewGenerator(zap.NewNop(), signal.DefaultGeneratorConfig())

	in := testInput()
	calm := g.Generate(in)

	in.Regime.VolatilityLevel = types.LevelHigh
	stormy := g.Generate(in)

	if stormy.PositionSize >= calm.PositionSize {
		t.Errorf("high volatility should shrink size: calm=%f stormy=%f", calm.PositionSize, stormy.PositionSize)
	}
	if stormy.PositionSize < calm.PositionSize*0.49 || stormy.PositionSize > calm.PositionSize*0.51 {
		t.Errorf("high volatility should halve size, got ratio %f", stormy.PositionSize/calm.PositionSize)
	}
}

func TestPositionSizeMultipliersAreCapped(t *testing.T) {
	config := signal.DefaultGeneratorConfig()
	g := signal.NewGenerator(zap.NewNop(), config)

	in := testInput()
	in.Regime.Strength = 1
	in.Regime.Confidence = 1
	in.WinRate = 0.99

	sig := g.Generate(in)
	maxSize := config.BasePositionSize * 2 * 2 * in.Phase.Thresholds.PositionSizeMultiplier
	if sig.PositionSize > maxSize {
		t.Errorf("size %f exceeds capped maximum %f", sig.PositionSize, maxSize)
	}
}

func TestStopsKeepRiskRewardRatio(t *testing.T) {
	g := signal.NewGenerator(zap.NewNop(), signal.DefaultGeneratorConfig())
	sig := g.Generate(testInput())

	if sig.StopLoss == nil || sig.TakeProfit == nil {
		t.Fatal("directional signal needs stop-loss and take-profit")
	}
	stopDist := sig.Price - *sig.StopLoss
	tpDist := *sig.TakeProfit - sig.Price
	if stopDist <= 0 || tpDist <= 0 {
		t.Fatalf("BUY stops on the wrong side: stop=%f take=%f price=%f", *sig.StopLoss, *sig.TakeProfit, sig.Price)
	}
	if tpDist/stopDist < 1.5 {
		t.Errorf("risk:reward below 1.5: %f", tpDist/stopDist)
	}
}

func TestHoldSignalsHaveNoStops(t *testing.T) {
	g := signal.NewGenerator(zap.NewNop(), signal.DefaultGeneratorConfig())
	in := testInput()
	in.Regime.Trend = types.TrendSideways
	in.Regime.Momentum = 0.001

	sig := g.Generate(in)
	if sig.Action != types.ActionHold {
		t.Fatalf("expected HOLD, got %s", sig.Action)
	}
	if sig.StopLoss != nil || sig.TakeProfit != nil {
		t.Error("HOLD signals should not carry stops")
	}
}
