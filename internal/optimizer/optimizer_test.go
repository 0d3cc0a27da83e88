// Package optimizer_test provides tests for the parameter optimizer.
package optimizer_test

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/regime"
	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

func newOptimizer(t *testing.T, config optimizer.Config) *optimizer.Optimizer {
	t.Helper()
	analyzer := regime.NewAnalyzer(regime.DefaultAnalyzerConfig())
	o := optimizer.New(zap.NewNop(), config, analyzer, 42)
	if err := o.Register(optimizer.StrategyMomentum); err != nil {
		t.Fatalf("register: %v", err)
	}
	return o
}

// trendingSamples produces a window with alternating up-legs and pullbacks
// so the momentum rule can find trades.
func trendingSamples(n int) []types.PriceSample {
	samples := make([]types.PriceSample, n)
	price := 100.0
	now := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		if (i/25)%2 == 0 {
			price *= 1.006
		} else {
			price *= 0.997
		}
		samples[i] = types.PriceSample{
			Symbol:    "BTC/USDT",
			Price:     price,
			Volume:    1000 + float64(i%7)*50,
			Timestamp: now.Add(time.Duration(i) * time.Minute),
		}
	}
	return samples
}

func TestOptimizeIsNoOpBelowMinWindow(t *testing.T) {
	o := newOptimizer(t, optimizer.DefaultConfig())

	before, _ := o.CurrentParameters(optimizer.StrategyMomentum)
	after := o.Optimize(optimizer.StrategyMomentum, trendingSamples(100))

	if !reflect.DeepEqual(before.Params, after.Params) {
		t.Error("short window should leave parameters unchanged")
	}
	if len(o.History(optimizer.StrategyMomentum)) != 0 {
		t.Error("short window should not record a result")
	}
}

func TestOptimizeIsDeterministicForSameSeed(t *testing.T) {
	samples := trendingSamples(400)

	a := newOptimizer(t, optimizer.DefaultConfig())
	b := newOptimizer(t, optimizer.DefaultConfig())

	psA := a.Optimize(optimizer.StrategyMomentum, samples)
	psB := b.Optimize(optimizer.StrategyMomentum, samples)

	if !reflect.DeepEqual(psA.Params, psB.Params) {
		t.Error("same seed and window should yield identical parameters")
	}
}

func TestAcceptedScoresRespectHysteresis(t *testing.T) {
	config := optimizer.DefaultConfig()
	o := newOptimizer(t, config)

	samples := trendingSamples(400)
	for i := 0; i < 6; i++ {
		o.Optimize(optimizer.StrategyMomentum, samples)
	}

	history := o.History(optimizer.StrategyMomentum)
	if len(history) == 0 {
		t.Fatal("expected optimization history")
	}

	// Every accepted result must clear the trailing average of the accepted
	// results before it by the hysteresis margin.
	var accepted []float64
	for _, r := range history {
		if !r.Accepted {
			continue
		}
		if len(accepted) > 0 {
			window := accepted
			if len(window) > config.TrailingWindow {
				window = window[len(window)-config.TrailingWindow:]
			}
			avg := 0.0
			for _, s := range window {
				avg += s
			}
			avg /= float64(len(window))
			if r.Score <= avg*(1+config.HysteresisMargin) {
				t.Errorf("accepted score %f does not clear trailing average %f by margin", r.Score, avg)
			}
		}
		accepted = append(accepted, r.Score)
	}
}

func TestHistoryIsCapped(t *testing.T) {
	config := optimizer.DefaultConfig()
	config.HistoryCap = 5
	config.MinWindow = 50
	o := newOptimizer(t, config)

	samples := trendingSamples(120)
	for i := 0; i < 12; i++ {
		o.Optimize(optimizer.StrategyMomentum, samples)
	}

	if got := len(o.History(optimizer.StrategyMomentum)); got > 5 {
		t.Errorf("history exceeded cap: %d", got)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	o := newOptimizer(t, optimizer.DefaultConfig())
	o.Optimize(optimizer.StrategyMomentum, trendingSamples(400))

	data, err := o.Export(optimizer.StrategyMomentum)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	analyzer := regime.NewAnalyzer(regime.DefaultAnalyzerConfig())
	restored := optimizer.New(zap.NewNop(), optimizer.DefaultConfig(), analyzer, 1)
	if err := restored.Import(data); err != nil {
		t.Fatalf("import: %v", err)
	}

	wantParams, _ := o.CurrentParameters(optimizer.StrategyMomentum)
	gotParams, ok := restored.CurrentParameters(optimizer.StrategyMomentum)
	if !ok {
		t.Fatal("imported strategy missing")
	}
	if !reflect.DeepEqual(wantParams.Params, gotParams.Params) {
		t.Error("parameters did not round-trip")
	}
	if len(restored.History(optimizer.StrategyMomentum)) != len(o.History(optimizer.StrategyMomentum)) {
		t.Error("history did not round-trip")
	}
}

func TestOnSampleTriggersAtInterval(t *testing.T) {
	config := optimizer.DefaultConfig()
	config.TriggerInterval = 10
	o := newOptimizer(t, config)

	triggers := 0
	for i := 0; i < 100; i++ {
		if o.OnSample(optimizer.StrategyMomentum) {
			triggers++
		}
	}
	if triggers != 10 {
		t.Errorf("expected 10 triggers over 100 samples, got %d", triggers)
	}
}

func TestOptimizeKeepsParametersOnPanic(t *testing.T) {
	o := optimizer.New(zap.NewNop(), optimizer.DefaultConfig(), nil, 42)
	if err := o.Register(optimizer.StrategyMomentum); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _ := o.CurrentParameters(optimizer.StrategyMomentum)

	// The nil analyzer makes the round panic once the window is long enough.
	got := o.Optimize(optimizer.StrategyMomentum, trendingSamples(400))

	if len(got.Params) == 0 {
		t.Fatal("panicking round returned an empty parameter set")
	}
	if !reflect.DeepEqual(before.Params, got.Params) {
		t.Error("panicking round should return the last-known-good parameters")
	}

	// The in-flight guard must be released so later rounds still run.
	again := o.Optimize(optimizer.StrategyMomentum, trendingSamples(400))
	if !reflect.DeepEqual(before.Params, again.Params) {
		t.Error("guard was not released after the panic")
	}
}

func TestMutationsStayWithinDeclaredBounds(t *testing.T) {
	config := optimizer.DefaultConfig()
	config.MinWindow = 50
	o := newOptimizer(t, config)

	samples := trendingSamples(200)
	for i := 0; i < 10; i++ {
		ps := o.Optimize(optimizer.StrategyMomentum, samples)
		for name, p := range ps.Params {
			if p.Kind == optimizer.KindBool {
				if p.Value != 0 && p.Value != 1 {
					t.Fatalf("bool field %s has non-binary value %f", name, p.Value)
				}
				continue
			}
			if p.Value < p.Min || p.Value > p.Max {
				t.Fatalf("field %s escaped its bounds: %f not in [%f, %f]", name, p.Value, p.Min, p.Max)
			}
			if p.Kind == optimizer.KindInt && p.Value != math.Round(p.Value) {
				t.Fatalf("int field %s has fractional value %f", name, p.Value)
			}
		}
	}
}
