// Package signal turns a classified regime plus the live strategy
// parameters into a directional trading signal with confidence and
// risk-adjusted sizing.
package signal

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/phase"
	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

// GeneratorConfig configures the signal generator.
type GeneratorConfig struct {
	BasePositionSize  float64 // fraction of account balance before multipliers
	MomentumFloor     float64 // minimum momentum regardless of strategy params
	FixedStopPct      float64 // stop distance floor
	VolStopMultiplier float64 // stop distance as a multiple of window volatility
	RiskReward        float64 // take-profit distance relative to stop distance
}

// DefaultGeneratorConfig returns sensible defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		BasePositionSize:  0.1,
		MomentumFloor:     0.01,
		FixedStopPct:      0.015,
		VolStopMultiplier: 2.0,
		RiskReward:        1.5,
	}
}

// Generator emits one fresh TradingSignal per decision cycle.
type Generator struct {
	logger *zap.Logger
	config GeneratorConfig
}

// NewGenerator creates a signal generator.
func NewGenerator(logger *zap.Logger, config GeneratorConfig) *Generator {
	if config.BasePositionSize <= 0 {
		config = DefaultGeneratorConfig()
	}
	if config.RiskReward < 1.5 {
		config.RiskReward = 1.5
	}
	return &Generator{logger: logger.Named("signal"), config: config}
}

// Input carries everything one signal decision depends on.
type Input struct {
	Symbol     string
	Price      float64
	Regime     types.MarketRegime
	Params     optimizer.ParameterSet
	Phase      phase.Config
	WinRate    float64 // historical per-symbol win rate, 0 when unknown
	StrategyID string
}

// Generate produces the signal for one cycle. It never fails: when the
// evidence is insufficient the action is HOLD with the reasoning recorded.
func (g *Generator) Generate(in Input) types.TradingSignal {
	sig := types.TradingSignal{
		ID:         uuid.NewString(),
		Symbol:     in.Symbol,
		Action:     types.ActionHold,
		Price:      in.Price,
		Regime:     in.Regime,
		StrategyID: in.StrategyID,
		CreatedAt:  time.Now(),
	}

	confidence := 0.6*in.Regime.Strength + 0.4*in.Regime.Confidence
	sig.Confidence = confidence
	sig.Reasoning = append(sig.Reasoning,
		fmt.Sprintf("regime %s, strength %.2f, momentum %+.3f, confidence %.2f",
			in.Regime.Trend, in.Regime.Strength, in.Regime.Momentum, in.Regime.Confidence))

	minConfidence := in.Phase.Thresholds.MinConfidence
	if confidence < minConfidence {
		sig.Reasoning = append(sig.Reasoning,
			fmt.Sprintf("confidence %.2f below phase %q threshold %.2f, holding", confidence, in.Phase.Name, minConfidence))
		return sig
	}

	floor := math.Max(g.config.MomentumFloor, in.Params.EntryThreshold())
	switch {
	case in.Regime.Trend == types.TrendBullish && in.Regime.Momentum > floor:
		sig.Action = types.ActionBuy
		sig.Reasoning = append(sig.Reasoning,
			fmt.Sprintf("bullish regime with momentum %+.3f above floor %.3f", in.Regime.Momentum, floor))
	case in.Regime.Trend == types.TrendBearish && in.Regime.Momentum < -floor:
		sig.Action = types.ActionSell
		sig.Reasoning = append(sig.Reasoning,
			fmt.Sprintf("bearish regime with momentum %+.3f below floor -%.3f", in.Regime.Momentum, floor))
	default:
		sig.Reasoning = append(sig.Reasoning, "no directional edge, holding")
		return sig
	}

	sig.PositionSize = g.positionSize(in, confidence, &sig)
	g.attachStops(&sig, in)

	g.logger.Debug("signal generated",
		zap.String("symbol", in.Symbol),
		zap.String("action", string(sig.Action)),
		zap.Float64("confidence", sig.Confidence),
		zap.Float64("size", sig.PositionSize),
	)
	return sig
}

// positionSize applies the confidence and win-rate multipliers (each capped
// at 2x), the phase multiplier, and the high-volatility haircut.
func (g *Generator) positionSize(in Input, confidence float64, sig *types.TradingSignal) float64 {
	confMult := math.Min(2, 1+confidence)
	winRateMult := 1.0
	if in.WinRate > 0 {
		winRateMult = math.Min(2, in.WinRate/0.5)
	}

	size := g.config.BasePositionSize * confMult * winRateMult * in.Phase.Thresholds.PositionSizeMultiplier
	sig.Reasoning = append(sig.Reasoning,
		fmt.Sprintf("size %.4f = base %.4f x conf %.2f x winrate %.2f x phase %.2f",
			size, g.config.BasePositionSize, confMult, winRateMult, in.Phase.Thresholds.PositionSizeMultiplier))

	if in.Regime.VolatilityLevel == types.LevelHigh {
		size /= 2
		sig.Reasoning = append(sig.Reasoning, "high volatility, halving position size")
	}
	return size
}

// attachStops sets stop-loss and take-profit offsets. The stop distance is
// the larger of the fixed floor and a volatility multiple, tightened by the
// phase; take-profit keeps risk:reward at or above the configured ratio.
func (g *Generator) attachStops(sig *types.TradingSignal, in Input) {
	stopDist := math.Max(g.config.FixedStopPct, g.config.VolStopMultiplier*in.Regime.Volatility)
	stopDist *= in.Phase.Thresholds.StopLossTightening
	tpDist := stopDist * g.config.RiskReward

	var stop, take float64
	if sig.Action == types.ActionBuy {
		stop = in.Price * (1 - stopDist)
		take = in.Price * (1 + tpDist)
	} else {
		stop = in.Price * (1 + stopDist)
		take = in.Price * (1 - tpDist)
	}
	sig.StopLoss = &stop
	sig.TakeProfit = &take
	sig.Reasoning = append(sig.Reasoning,
		fmt.Sprintf("stop %.2f take-profit %.2f (stop distance %.3f, rr %.1f)", stop, take, stopDist, g.config.RiskReward))
}
