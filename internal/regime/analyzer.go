// Package regime classifies market state from a rolling price window.
// Trend comes from stacked moving averages plus momentum, volatility from
// the stdev of step returns, confidence from return consistency.
package regime

import (
	"math"

	"github.com/helios-trade/decision-core/pkg/types"
)

// AnalyzerConfig configures the regime analyzer.
type AnalyzerConfig struct {
	ShortWindow    int     // Short moving average window
	MediumWindow   int     // Medium moving average window
	LongWindow     int     // Long moving average window
	MinSamples     int     // Below this the analyzer returns a neutral regime
	MomentumFloor  float64 // Momentum required to confirm a trend
	VolMediumBound float64 // Volatility above this is medium
	VolHighBound   float64 // Volatility above this is high
	FlatReturn     float64 // Step returns below this count as sideways-consistent
}

// DefaultAnalyzerConfig returns sensible defaults.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		ShortWindow:    5,
		MediumWindow:   10,
		LongWindow:     20,
		MinSamples:     5,
		MomentumFloor:  0.01,
		VolMediumBound: 0.015,
		VolHighBound:   0.03,
		FlatReturn:     0.002,
	}
}

// Analyzer classifies market regime from price samples. It holds no state:
// Analyze is a pure function of its input.
type Analyzer struct {
	config AnalyzerConfig
}

// NewAnalyzer creates a regime analyzer.
func NewAnalyzer(config AnalyzerConfig) *Analyzer {
	if config.MinSamples <= 0 {
		config = DefaultAnalyzerConfig()
	}
	return &Analyzer{config: config}
}

// Analyze classifies the regime for an ordered window of price samples.
// Windows shorter than the configured minimum yield a sideways regime with
// zero confidence; Analyze never fails.
func (a *Analyzer) Analyze(samples []types.PriceSample) types.MarketRegime {
	if len(samples) < a.config.MinSamples {
		return types.MarketRegime{
			Trend:           types.TrendSideways,
			VolatilityLevel: types.LevelLow,
			VolumeLevel:     types.LevelLow,
			SampleCount:     len(samples),
		}
	}

	prices := make([]float64, len(samples))
	volumes := make([]float64, len(samples))
	for i, s := range samples {
		prices[i] = s.Price
		volumes[i] = s.Volume
	}

	shortMA := trailingMean(prices, a.config.ShortWindow)
	mediumMA := trailingMean(prices, a.config.MediumWindow)
	longMA := trailingMean(prices, a.config.LongWindow)

	momentum := 0.0
	if prices[0] != 0 {
		momentum = prices[len(prices)-1]/prices[0] - 1
	}

	returns := stepReturns(prices)
	vol := stdev(returns)

	trend := types.TrendSideways
	switch {
	case shortMA > mediumMA && mediumMA > longMA && momentum > a.config.MomentumFloor:
		trend = types.TrendBullish
	case shortMA < mediumMA && mediumMA < longMA && momentum < -a.config.MomentumFloor:
		trend = types.TrendBearish
	}

	return types.MarketRegime{
		Trend:           trend,
		Strength:        math.Min(1, math.Abs(momentum)*10),
		Momentum:        momentum,
		Volatility:      vol,
		VolatilityLevel: a.volatilityLevel(vol),
		VolumeLevel:     a.volumeLevel(volumes),
		Confidence:      a.consistency(returns, trend),
		SampleCount:     len(samples),
	}
}

func (a *Analyzer) volatilityLevel(vol float64) types.Level {
	switch {
	case vol >= a.config.VolHighBound:
		return types.LevelHigh
	case vol >= a.config.VolMediumBound:
		return types.LevelMedium
	default:
		return types.LevelLow
	}
}

// volumeLevel compares recent volume against the full-window baseline.
func (a *Analyzer) volumeLevel(volumes []float64) types.Level {
	if len(volumes) == 0 {
		return types.LevelLow
	}
	baseline := mean(volumes)
	if baseline == 0 {
		return types.LevelLow
	}
	recent := trailingMean(volumes, a.config.ShortWindow)
	ratio := recent / baseline
	switch {
	case ratio >= 1.2:
		return types.LevelHigh
	case ratio <= 0.8:
		return types.LevelLow
	default:
		return types.LevelMedium
	}
}

// consistency is the fraction of step returns moving with the classified
// direction. Sideways counts near-flat returns as consistent.
func (a *Analyzer) consistency(returns []float64, trend types.TrendDirection) float64 {
	if len(returns) == 0 {
		return 0
	}
	matched := 0
	for _, r := range returns {
		switch trend {
		case types.TrendBullish:
			if r > 0 {
				matched++
			}
		case types.TrendBearish:
			if r < 0 {
				matched++
			}
		default:
			if math.Abs(r) < a.config.FlatReturn {
				matched++
			}
		}
	}
	return float64(matched) / float64(len(returns))
}

func trailingMean(values []float64, window int) float64 {
	if window > len(values) {
		window = len(values)
	}
	if window == 0 {
		return 0
	}
	return mean(values[len(values)-window:])
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

func stepReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, prices[i]/prices[i-1]-1)
	}
	return returns
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
