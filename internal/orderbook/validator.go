package orderbook

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

// ValidatorConfig tunes the signal validation thresholds.
type ValidatorConfig struct {
	SnapshotTTL        time.Duration `json:"snapshot_ttl"`
	MinStrength        float64       `json:"min_strength"`        // validation floor, 0-100
	LiquidityThreshold float64       `json:"liquidity_threshold"` // below this the book is too thin
	SpreadThreshold    float64       `json:"spread_threshold"`    // percent, above this the spread vetoes
	SpreadPenalty      float64       `json:"spread_penalty"`      // strength deduction on a spread warning
	WhalePenalty       float64       `json:"whale_penalty"`       // strength deduction on heavy whale presence
	MinBookConfidence  float64       `json:"min_book_confidence"` // below this the snapshot is untrustworthy
}

// DefaultValidatorConfig returns the standard validation thresholds.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		SnapshotTTL:        30 * time.Second,
		MinStrength:        50,
		LiquidityThreshold: 30,
		SpreadThreshold:    0.10,
		SpreadPenalty:      15,
		WhalePenalty:       10,
		MinBookConfidence:  0.3,
	}
}

// Validator cross-checks trading signals against the live order book.
type Validator struct {
	logger *zap.Logger
	config ValidatorConfig
	cache  *SnapshotCache
}

// NewValidator creates a validator backed by the given snapshot source.
func NewValidator(logger *zap.Logger, config ValidatorConfig, source SnapshotSource) *Validator {
	return &Validator{
		logger: logger.Named("orderbook-validator"),
		config: config,
		cache:  NewSnapshotCache(source, config.SnapshotTTL),
	}
}

// Validate scores a signal against the current book. A snapshot fetch
// failure never blocks the pipeline: it degrades to an unvalidated result
// with EXTREME risk and a SKIP recommendation.
func (v *Validator) Validate(ctx context.Context, signal *types.TradingSignal) types.ValidationResult {
	snapshot, err := v.cache.Get(ctx, signal.Symbol)
	if err != nil {
		v.logger.Warn("order book unavailable, failing safe",
			zap.String("symbol", signal.Symbol),
			zap.Error(err))
		return types.ValidationResult{
			IsValidated:        false,
			ValidationStrength: 0,
			SignalAlignment:    0,
			Warnings:           []string{fmt.Sprintf("order book unavailable: %v", err)},
			RiskLevel:          types.RiskExtreme,
			RecommendedAction:  types.ValidationSkip,
		}
	}
	return v.score(signal, snapshot)
}

func (v *Validator) score(signal *types.TradingSignal, snapshot types.OrderBookSnapshot) types.ValidationResult {
	result := types.ValidationResult{}

	// Alignment: book pressure in the signal's direction, scaled by how much
	// of the ladder we actually saw.
	direction := 0.0
	switch signal.Action {
	case types.ActionBuy:
		direction = 1
	case types.ActionSell:
		direction = -1
	}
	result.SignalAlignment = clampRange(direction*snapshot.MarketPressure*snapshot.Confidence, -100, 100)

	vetoed := false
	if snapshot.LiquidityScore < v.config.LiquidityThreshold {
		result.LiquidityWarning = true
		vetoed = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("liquidity score %.1f below threshold %.1f", snapshot.LiquidityScore, v.config.LiquidityThreshold))
	}
	if snapshot.SpreadPercent > v.config.SpreadThreshold {
		result.SpreadWarning = true
		vetoed = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("spread %.3f%% above threshold %.3f%%", snapshot.SpreadPercent, v.config.SpreadThreshold))
	}
	if snapshot.WhaleActivity == types.LevelHigh {
		result.WhaleWarning = true
		result.Warnings = append(result.Warnings, "single resting order dominates the ladder")
	}
	if snapshot.Confidence < v.config.MinBookConfidence {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("book confidence %.2f below %.2f", snapshot.Confidence, v.config.MinBookConfidence))
	}

	strength := 0.40*math.Max(0, result.SignalAlignment) +
		0.20*snapshot.LiquidityScore +
		0.25*snapshot.Confidence*100 +
		0.15*priceDiscovery(snapshot.SpreadPercent)
	if result.SpreadWarning {
		strength -= v.config.SpreadPenalty
	}
	if result.WhaleWarning {
		strength -= v.config.WhalePenalty
	}
	result.ValidationStrength = clampRange(strength, 0, 100)

	result.RiskLevel = riskLevel(result, snapshot, v.config)
	result.IsValidated = !vetoed && result.ValidationStrength >= v.config.MinStrength
	result.RecommendedAction = recommend(result)

	v.logger.Debug("signal validated",
		zap.String("symbol", signal.Symbol),
		zap.String("action", string(signal.Action)),
		zap.Float64("alignment", result.SignalAlignment),
		zap.Float64("strength", result.ValidationStrength),
		zap.Bool("validated", result.IsValidated),
		zap.String("recommendation", string(result.RecommendedAction)))

	return result
}

// priceDiscovery maps spread tightness onto a 0-100 efficiency score.
// A zero spread scores 100, 0.5% or wider scores 0.
func priceDiscovery(spreadPct float64) float64 {
	return clampRange(100*(1-spreadPct/0.5), 0, 100)
}

func riskLevel(result types.ValidationResult, snapshot types.OrderBookSnapshot, config ValidatorConfig) types.RiskLevel {
	points := 0
	if result.LiquidityWarning {
		points += 2
	}
	if result.SpreadWarning {
		points += 2
	}
	if result.WhaleWarning {
		points++
	}
	if result.SignalAlignment < 0 {
		points++
	}
	if snapshot.Confidence < config.MinBookConfidence {
		points++
	}
	switch {
	case points >= 4:
		return types.RiskExtreme
	case points >= 2:
		return types.RiskHigh
	case points == 1:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}

func recommend(result types.ValidationResult) types.ValidationAction {
	switch {
	case !result.IsValidated || result.RiskLevel == types.RiskExtreme:
		return types.ValidationSkip
	case result.SignalAlignment < 0:
		return types.ValidationSkip
	case result.ValidationStrength >= 80 && result.RiskLevel == types.RiskLow:
		return types.ValidationExecute
	case result.ValidationStrength >= 60 && result.RiskLevel == types.RiskMedium:
		return types.ValidationReduceSize
	default:
		return types.ValidationWait
	}
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
