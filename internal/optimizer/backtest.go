package optimizer

import (
	"math"

	"github.com/helios-trade/decision-core/pkg/types"
)

// PerformanceMetrics summarizes a backtest run.
type PerformanceMetrics struct {
	WinRate      float64 `json:"winRate"`
	ProfitFactor float64 `json:"profitFactor"`
	Sharpe       float64 `json:"sharpe"`
	MaxDrawdown  float64 `json:"maxDrawdown"` // fraction, 0-1
	NetReturn    float64 `json:"netReturn"`
	TradeCount   int     `json:"tradeCount"`
}

// SimTrade is one simulated round trip.
type SimTrade struct {
	Side       types.OrderSide `json:"side"`
	EntryIndex int             `json:"entryIndex"`
	ExitIndex  int             `json:"exitIndex"`
	EntryPrice float64         `json:"entryPrice"`
	ExitPrice  float64         `json:"exitPrice"`
	Return     float64         `json:"return"`
	ExitReason string          `json:"exitReason"`
}

// BacktestReport is the outcome of replaying one parameter set over a window.
type BacktestReport struct {
	Trades  []SimTrade         `json:"trades"`
	Metrics PerformanceMetrics `json:"metrics"`
}

// BacktestConfig configures the replay engine.
type BacktestConfig struct {
	SpreadPct float64 // synthetic fixed spread charged on entry and exit
}

// DefaultBacktestConfig returns sensible defaults.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{SpreadPct: 0.001}
}

// Backtester replays a parameter set over historical samples. The replay is
// deterministic: the same window and parameters always produce the same
// trade list.
type Backtester struct {
	config BacktestConfig
}

// NewBacktester creates a backtester.
func NewBacktester(config BacktestConfig) *Backtester {
	if config.SpreadPct <= 0 {
		config = DefaultBacktestConfig()
	}
	return &Backtester{config: config}
}

// Run replays the candidate's threshold-and-confirmation rule over the
// window and derives performance metrics from the resulting trades.
func (b *Backtester) Run(ps ParameterSet, samples []types.PriceSample) BacktestReport {
	prices := make([]float64, len(samples))
	volumes := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
		volumes[i] = s.Volume
	}

	lookback := ps.Lookback()
	if lookback < 1 {
		lookback = 1
	}
	confirmations := ps.Confirmations()
	if confirmations < 1 {
		confirmations = 1
	}
	threshold := ps.EntryThreshold()
	stopLoss := ps.StopLossPct()
	takeProfit := ps.TakeProfitPct()
	halfSpread := b.config.SpreadPct / 2

	var trades []SimTrade
	var open *SimTrade
	streak := 0 // consecutive ticks agreeing with the pending entry direction
	streakDir := 0

	for i := lookback; i < len(prices); i++ {
		signal := entrySignal(ps.StrategyID, prices, i, lookback, threshold)

		if open != nil {
			exited, reason, exitPrice := b.shouldExit(open, prices[i], signal, stopLoss, takeProfit, halfSpread)
			if exited {
				closeTrade(open, i, exitPrice, reason)
				trades = append(trades, *open)
				open = nil
				streak, streakDir = 0, 0
			}
			continue
		}

		if signal == 0 {
			streak, streakDir = 0, 0
			continue
		}
		if signal == streakDir {
			streak++
		} else {
			streak, streakDir = 1, signal
		}
		if streak < confirmations {
			continue
		}
		if ps.VolumeFilter() && !aboveAverageVolume(volumes, i, lookback) {
			continue
		}

		side := types.OrderSideBuy
		entry := prices[i] * (1 + halfSpread)
		if signal < 0 {
			side = types.OrderSideSell
			entry = prices[i] * (1 - halfSpread)
		}
		open = &SimTrade{Side: side, EntryIndex: i, EntryPrice: entry}
		streak, streakDir = 0, 0
	}

	// Mark-to-market any position still open at the end of the window.
	if open != nil && len(prices) > 0 {
		last := len(prices) - 1
		exit := prices[last] * (1 - halfSpread)
		if open.Side == types.OrderSideSell {
			exit = prices[last] * (1 + halfSpread)
		}
		closeTrade(open, last, exit, "window_end")
		trades = append(trades, *open)
	}

	return BacktestReport{Trades: trades, Metrics: computeMetrics(trades)}
}

// entrySignal returns +1 (long), -1 (short) or 0 for the strategy's raw
// entry condition at index i.
func entrySignal(strategyID string, prices []float64, i, lookback int, threshold float64) int {
	if i < lookback || prices[i-lookback] == 0 {
		return 0
	}
	switch strategyID {
	case StrategyMeanRevert:
		m := mean(prices[i-lookback : i])
		if m == 0 {
			return 0
		}
		deviation := prices[i]/m - 1
		if deviation < -threshold {
			return 1 // stretched below the mean: expect reversion up
		}
		if deviation > threshold {
			return -1
		}
		return 0
	default: // momentum
		momentum := prices[i]/prices[i-lookback] - 1
		if momentum > threshold {
			return 1
		}
		if momentum < -threshold {
			return -1
		}
		return 0
	}
}

func (b *Backtester) shouldExit(t *SimTrade, price float64, signal int, stopLoss, takeProfit, halfSpread float64) (bool, string, float64) {
	var pnl float64
	var exit float64
	if t.Side == types.OrderSideBuy {
		exit = price * (1 - halfSpread)
		pnl = exit/t.EntryPrice - 1
	} else {
		exit = price * (1 + halfSpread)
		pnl = 1 - exit/t.EntryPrice
	}

	switch {
	case stopLoss > 0 && pnl <= -stopLoss:
		return true, "stop_loss", exit
	case takeProfit > 0 && pnl >= takeProfit:
		return true, "take_profit", exit
	case t.Side == types.OrderSideBuy && signal < 0:
		return true, "opposite_signal", exit
	case t.Side == types.OrderSideSell && signal > 0:
		return true, "opposite_signal", exit
	}
	return false, "", 0
}

func closeTrade(t *SimTrade, exitIndex int, exitPrice float64, reason string) {
	if t == nil {
		return
	}
	t.ExitIndex = exitIndex
	t.ExitPrice = exitPrice
	t.ExitReason = reason
	if t.EntryPrice != 0 {
		if t.Side == types.OrderSideBuy {
			t.Return = exitPrice/t.EntryPrice - 1
		} else {
			t.Return = 1 - exitPrice/t.EntryPrice
		}
	}
}

func aboveAverageVolume(volumes []float64, i, lookback int) bool {
	if i < lookback {
		return false
	}
	return volumes[i] > mean(volumes[i-lookback:i])
}

func computeMetrics(trades []SimTrade) PerformanceMetrics {
	m := PerformanceMetrics{TradeCount: len(trades)}
	if len(trades) == 0 {
		return m
	}

	var wins int
	var grossProfit, grossLoss float64
	returns := make([]float64, len(trades))
	equity := 1.0
	peak := 1.0

	for i, t := range trades {
		returns[i] = t.Return
		if t.Return > 0 {
			wins++
			grossProfit += t.Return
		} else {
			grossLoss += -t.Return
		}
		equity *= 1 + t.Return
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := 1 - equity/peak
			if dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	m.WinRate = float64(wins) / float64(len(trades))
	m.NetReturn = equity - 1
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		// No losing trades: cap instead of +Inf so results stay serializable.
		m.ProfitFactor = 10
	}

	sd := stdev(returns)
	if sd > 0 {
		m.Sharpe = mean(returns) / sd * math.Sqrt(float64(len(returns)))
	}
	return m
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}
