// Package types provides shared type definitions for the decision core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// SignalAction is the directional decision carried by a trading signal
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// TrendDirection classifies the prevailing price trend
type TrendDirection string

const (
	TrendBullish  TrendDirection = "bullish"
	TrendBearish  TrendDirection = "bearish"
	TrendSideways TrendDirection = "sideways"
)

// Level buckets a continuous measurement into low/medium/high
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// RiskLevel is the tiered risk grade attached to a validation verdict
type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskExtreme RiskLevel = "EXTREME"
)

// ValidationAction is what the order book validator recommends doing with a signal
type ValidationAction string

const (
	ValidationExecute    ValidationAction = "EXECUTE"
	ValidationReduceSize ValidationAction = "REDUCE_SIZE"
	ValidationWait       ValidationAction = "WAIT"
	ValidationSkip       ValidationAction = "SKIP"
)

// PriceSample is a single observation from the price feed.
// Samples are ephemeral: they live only in the per-symbol ring buffer.
type PriceSample struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// MarketRegime is the classified market state derived from a price window.
// Recomputed every cycle, never persisted.
type MarketRegime struct {
	Trend           TrendDirection `json:"trend"`
	Strength        float64        `json:"strength"`   // 0-1
	Momentum        float64        `json:"momentum"`   // last-vs-first price ratio - 1
	Volatility      float64        `json:"volatility"` // normalized return stdev
	VolatilityLevel Level          `json:"volatilityLevel"`
	VolumeLevel     Level          `json:"volumeLevel"`
	Confidence      float64        `json:"confidence"` // 0-1
	SampleCount     int            `json:"sampleCount"`
}

// TradingSignal is a directional trade decision produced fresh each cycle.
type TradingSignal struct {
	ID           string       `json:"id"`
	Symbol       string       `json:"symbol"`
	Action       SignalAction `json:"action"`
	Confidence   float64      `json:"confidence"`   // 0-1
	PositionSize float64      `json:"positionSize"` // fraction of account balance to deploy
	Price        float64      `json:"price"`
	StopLoss     *float64     `json:"stopLoss,omitempty"`
	TakeProfit   *float64     `json:"takeProfit,omitempty"`
	Reasoning    []string     `json:"reasoning"`
	Regime       MarketRegime `json:"regime"`
	StrategyID   string       `json:"strategyId"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// BookLevel is a single price level of the order book ladder
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBookSnapshot is a read-only view of order book microstructure,
// TTL-cached by the snapshot feed.
type OrderBookSnapshot struct {
	Symbol         string      `json:"symbol"`
	Bids           []BookLevel `json:"bids"`
	Asks           []BookLevel `json:"asks"`
	MidPrice       float64     `json:"midPrice"`
	SpreadPercent  float64     `json:"spreadPercent"`
	LiquidityScore float64     `json:"liquidityScore"` // 0-100
	MarketPressure float64     `json:"marketPressure"` // -100 (sell) .. +100 (buy)
	WhaleActivity  Level       `json:"whaleActivity"`
	Confidence     float64     `json:"confidence"` // 0-1
	FetchedAt      time.Time   `json:"fetchedAt"`
}

// ValidationResult is the microstructure corroboration verdict for one signal.
type ValidationResult struct {
	IsValidated        bool             `json:"isValidated"`
	ValidationStrength float64          `json:"validationStrength"` // 0-100
	SignalAlignment    float64          `json:"signalAlignment"`    // -100..100
	Warnings           []string         `json:"warnings"`
	LiquidityWarning   bool             `json:"liquidityWarning"`
	SpreadWarning      bool             `json:"spreadWarning"`
	WhaleWarning       bool             `json:"whaleWarning"`
	RiskLevel          RiskLevel        `json:"riskLevel"`
	RecommendedAction  ValidationAction `json:"recommendedAction"`
}

// ProposedOrder is a candidate order submitted to the risk manager.
type ProposedOrder struct {
	Pair           string          `json:"pair"`
	Side           OrderSide       `json:"side"`
	Volume         decimal.Decimal `json:"volume"`
	Price          decimal.Decimal `json:"price"`
	AccountBalance decimal.Decimal `json:"accountBalance,omitempty"` // zero when unknown
}

// Notional returns the order's notional value.
func (o ProposedOrder) Notional() decimal.Decimal {
	return o.Volume.Mul(o.Price)
}

// RiskDecision is the outcome of a single risk check. It never mutates
// shared state; recording an executed order is a separate call.
type RiskDecision struct {
	IsValid        bool             `json:"isValid"`
	Reason         string           `json:"reason"`
	AdjustedVolume *decimal.Decimal `json:"adjustedVolume,omitempty"`
}

// EffectiveVolume returns the volume to execute after any risk adjustment.
func (d RiskDecision) EffectiveVolume(requested decimal.Decimal) decimal.Decimal {
	if d.AdjustedVolume != nil {
		return *d.AdjustedVolume
	}
	return requested
}

// Trade is an executed paper trade, journaled to the history store.
// IsEntry distinguishes opening fills from closes; phase progression counts
// entries only, while realized PnL lives on the closing fill.
type Trade struct {
	ID         string          `json:"id"`
	Pair       string          `json:"pair"`
	Side       OrderSide       `json:"side"`
	Volume     decimal.Decimal `json:"volume"`
	Price      decimal.Decimal `json:"price"`
	PnL        decimal.Decimal `json:"pnl"`
	StrategyID string          `json:"strategyId"`
	IsEntry    bool            `json:"isEntry"`
	ExecutedAt time.Time       `json:"executedAt"`
}
