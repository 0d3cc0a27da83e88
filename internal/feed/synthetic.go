package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/helios-trade/decision-core/pkg/types"
)

// SyntheticConfig tunes the random-walk generator.
type SyntheticConfig struct {
	StartPrice float64 `json:"start_price"`
	Drift      float64 `json:"drift"`      // per-tick mean return
	Volatility float64 `json:"volatility"` // per-tick return stdev
	BaseVolume float64 `json:"base_volume"`
}

// DefaultSyntheticConfig returns a mildly trending walk.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		StartPrice: 50000,
		Drift:      0.0002,
		Volatility: 0.004,
		BaseVolume: 100,
	}
}

// Synthetic is a deterministic random-walk price source for paper sessions
// and tests. The same seed always yields the same series.
type Synthetic struct {
	config SyntheticConfig

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewSynthetic creates a seeded synthetic source.
func NewSynthetic(config SyntheticConfig, seed int64) *Synthetic {
	return &Synthetic{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
	}
}

// Latest advances the symbol's walk by one tick and returns the new sample.
func (s *Synthetic) Latest(_ context.Context, symbol string) (types.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = s.config.StartPrice
	}
	ret := s.config.Drift + s.config.Volatility*s.rng.NormFloat64()
	price *= 1 + ret
	s.prices[symbol] = price

	volume := s.config.BaseVolume * (1 + 0.5*math.Abs(s.rng.NormFloat64()))
	return types.PriceSample{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now(),
	}, nil
}
