// Package phase gates decision-core capabilities by cumulative trade
// experience. Five ordered tiers loosen acceptance early (to accumulate
// data) and tighten thresholds as the bot matures.
package phase

import (
	"sync"

	"go.uber.org/zap"
)

// Features are the validators a phase enables.
type Features struct {
	OrderBookValidation  bool `json:"orderBookValidation"`
	SentimentFilter      bool `json:"sentimentFilter"`
	MultiFactorConsensus bool `json:"multiFactorConsensus"`
}

// Thresholds are the per-phase decision knobs consumed by the other components.
type Thresholds struct {
	MinConfidence          float64 `json:"minConfidence"`          // signal activation threshold
	PositionSizeMultiplier float64 `json:"positionSizeMultiplier"` // scales the base position size
	StopLossTightening     float64 `json:"stopLossTightening"`     // multiplier on stop distance, <=1 tightens
	MinValidationStrength  float64 `json:"minValidationStrength"`  // order book strength floor, 0-100
}

// Config describes one experience tier. Trade-count ranges are half-open:
// [MinTrades, MaxTrades). MaxTrades < 0 means unbounded.
type Config struct {
	Index      int        `json:"index"`
	Name       string     `json:"name"`
	MinTrades  int        `json:"minTrades"`
	MaxTrades  int        `json:"maxTrades"`
	Features   Features   `json:"features"`
	Thresholds Thresholds `json:"thresholds"`
}

// Contains reports whether a cumulative trade count falls in this tier.
func (c Config) Contains(trades int) bool {
	if trades < c.MinTrades {
		return false
	}
	return c.MaxTrades < 0 || trades < c.MaxTrades
}

// DefaultPhases returns the five standard tiers.
func DefaultPhases() []Config {
	return []Config{
		{
			Index: 0, Name: "discovery", MinTrades: 0, MaxTrades: 10,
			Features: Features{},
			Thresholds: Thresholds{
				MinConfidence:          0.15,
				PositionSizeMultiplier: 1.0,
				StopLossTightening:     1.0,
				MinValidationStrength:  0,
			},
		},
		{
			Index: 1, Name: "calibration", MinTrades: 10, MaxTrades: 50,
			Features: Features{OrderBookValidation: true},
			Thresholds: Thresholds{
				MinConfidence:          0.30,
				PositionSizeMultiplier: 0.9,
				StopLossTightening:     0.95,
				MinValidationStrength:  40,
			},
		},
		{
			Index: 2, Name: "consolidation", MinTrades: 50, MaxTrades: 150,
			Features: Features{OrderBookValidation: true, SentimentFilter: true},
			Thresholds: Thresholds{
				MinConfidence:          0.45,
				PositionSizeMultiplier: 0.8,
				StopLossTightening:     0.9,
				MinValidationStrength:  55,
			},
		},
		{
			Index: 3, Name: "refinement", MinTrades: 150, MaxTrades: 400,
			Features: Features{OrderBookValidation: true, SentimentFilter: true, MultiFactorConsensus: true},
			Thresholds: Thresholds{
				MinConfidence:          0.55,
				PositionSizeMultiplier: 0.7,
				StopLossTightening:     0.85,
				MinValidationStrength:  65,
			},
		},
		{
			Index: 4, Name: "mature", MinTrades: 400, MaxTrades: -1,
			Features: Features{OrderBookValidation: true, SentimentFilter: true, MultiFactorConsensus: true},
			Thresholds: Thresholds{
				MinConfidence:          0.65,
				PositionSizeMultiplier: 0.6,
				StopLossTightening:     0.8,
				MinValidationStrength:  75,
			},
		},
	}
}

// Manager selects the active phase from the cumulative entry-trade count.
// Pull-based: callers invoke UpdateTradeCount / CurrentPhase rather than
// receiving notifications.
type Manager struct {
	logger *zap.Logger

	mu           sync.RWMutex
	phases       []Config
	tradeCount   int
	pinnedIndex  int // -1 when automatic
	unrestricted bool
}

// NewManager creates a phase manager over the given tiers. Passing nil uses
// the five default tiers.
func NewManager(logger *zap.Logger, phases []Config) *Manager {
	if len(phases) == 0 {
		phases = DefaultPhases()
	}
	return &Manager{
		logger:      logger.Named("phase"),
		phases:      phases,
		pinnedIndex: -1,
	}
}

// UpdateTradeCount sets the cumulative count of executed entry trades and
// returns the phase now active.
func (m *Manager) UpdateTradeCount(trades int) Config {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.selectLocked()
	m.tradeCount = trades
	current := m.selectLocked()
	if current.Index != prev.Index {
		m.logger.Info("phase transition",
			zap.String("from", prev.Name),
			zap.String("to", current.Name),
			zap.Int("tradeCount", trades),
		)
	}
	return current
}

// CurrentPhase returns the active phase config: pinned tier first, then the
// unrestricted bootstrap override, then automatic tier selection.
func (m *Manager) CurrentPhase() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked()
}

func (m *Manager) selectLocked() Config {
	if m.pinnedIndex >= 0 && m.pinnedIndex < len(m.phases) {
		return m.phases[m.pinnedIndex]
	}
	if m.unrestricted {
		return unrestrictedConfig()
	}
	for _, p := range m.phases {
		if p.Contains(m.tradeCount) {
			return p
		}
	}
	// Count beyond every bounded tier lands in the last one.
	return m.phases[len(m.phases)-1]
}

// unrestrictedConfig is the bootstrap mode: near-zero thresholds, extra
// validators off, so early paper sessions generate trades quickly.
func unrestrictedConfig() Config {
	return Config{
		Index: -1, Name: "unrestricted", MinTrades: 0, MaxTrades: -1,
		Features: Features{},
		Thresholds: Thresholds{
			MinConfidence:          0.01,
			PositionSizeMultiplier: 1.0,
			StopLossTightening:     1.0,
			MinValidationStrength:  0,
		},
	}
}

// PinPhase pins selection to one tier. An out-of-range index clears the pin.
func (m *Manager) PinPhase(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.phases) {
		m.pinnedIndex = -1
		m.logger.Info("phase pin cleared")
		return
	}
	m.pinnedIndex = index
	m.logger.Info("phase pinned", zap.Int("index", index), zap.String("name", m.phases[index].Name))
}

// SetUnrestricted toggles the bootstrap override.
func (m *Manager) SetUnrestricted(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrestricted = on
	m.logger.Info("unrestricted mode", zap.Bool("enabled", on))
}

// TradeCount returns the cumulative entry-trade count.
func (m *Manager) TradeCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradeCount
}
