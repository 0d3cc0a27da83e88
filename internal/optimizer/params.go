// Package optimizer maintains per-strategy parameter sets and improves them
// through mutation candidates scored by walk-forward backtests. A candidate
// replaces the live set only when it clears a hysteresis margin over the
// trailing average of previously accepted results.
package optimizer

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ParamKind tags the type of a tunable field.
type ParamKind string

const (
	KindFloat ParamKind = "float"
	KindInt   ParamKind = "int"
	KindBool  ParamKind = "bool"
)

// Param is one tunable field: a value constrained to [Min, Max] with a
// mutation step. Bool params store 0 or 1 and ignore the bounds.
type Param struct {
	Kind  ParamKind `json:"kind"`
	Value float64   `json:"value"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Step  float64   `json:"step"`
}

// Clamp returns the value forced into the declared range, rounded for
// integer params and snapped to {0,1} for booleans.
func (p Param) Clamp(v float64) float64 {
	switch p.Kind {
	case KindBool:
		if v >= 0.5 {
			return 1
		}
		return 0
	case KindInt:
		v = math.Round(v)
	}
	if v < p.Min {
		v = p.Min
	}
	if v > p.Max {
		v = p.Max
	}
	return v
}

// ParameterSet is the named bag of tunables owned by exactly one strategy.
// Only the optimizer mutates it.
type ParameterSet struct {
	StrategyID string           `json:"strategyId"`
	Params     map[string]Param `json:"params"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Clone returns a deep copy.
func (ps ParameterSet) Clone() ParameterSet {
	params := make(map[string]Param, len(ps.Params))
	for k, v := range ps.Params {
		params[k] = v
	}
	return ParameterSet{StrategyID: ps.StrategyID, Params: params, UpdatedAt: ps.UpdatedAt}
}

// Float returns the value of a float field, or 0 when absent.
func (ps ParameterSet) Float(name string) float64 {
	return ps.Params[name].Value
}

// Int returns the value of an integer field, or 0 when absent.
func (ps ParameterSet) Int(name string) int {
	return int(math.Round(ps.Params[name].Value))
}

// Bool returns the value of a boolean field.
func (ps ParameterSet) Bool(name string) bool {
	return ps.Params[name].Value >= 0.5
}

// Parameter names shared by the built-in strategies.
const (
	ParamEntryThreshold = "entryThreshold" // momentum / deviation required to enter
	ParamConfirmations  = "confirmations"  // consecutive ticks confirming the entry
	ParamStopLossPct    = "stopLossPct"
	ParamTakeProfitPct  = "takeProfitPct"
	ParamLookback       = "lookback"     // momentum / mean window
	ParamVolumeFilter   = "volumeFilter" // require above-average volume on entry
)

// EntryThreshold returns the strategy entry threshold.
func (ps ParameterSet) EntryThreshold() float64 { return ps.Float(ParamEntryThreshold) }

// Confirmations returns the number of confirming ticks required.
func (ps ParameterSet) Confirmations() int { return ps.Int(ParamConfirmations) }

// StopLossPct returns the stop-loss distance as a fraction of entry price.
func (ps ParameterSet) StopLossPct() float64 { return ps.Float(ParamStopLossPct) }

// TakeProfitPct returns the take-profit distance as a fraction of entry price.
func (ps ParameterSet) TakeProfitPct() float64 { return ps.Float(ParamTakeProfitPct) }

// Lookback returns the indicator window length.
func (ps ParameterSet) Lookback() int { return ps.Int(ParamLookback) }

// VolumeFilter reports whether entries require above-average volume.
func (ps ParameterSet) VolumeFilter() bool { return ps.Bool(ParamVolumeFilter) }

// StrategyMomentum and StrategyMeanRevert are the built-in strategy ids.
const (
	StrategyMomentum   = "momentum"
	StrategyMeanRevert = "meanrevert"
)

// DefaultParameterSet returns the initial parameter set for a built-in
// strategy id.
func DefaultParameterSet(strategyID string) (ParameterSet, error) {
	switch strategyID {
	case StrategyMomentum:
		return ParameterSet{
			StrategyID: StrategyMomentum,
			Params: map[string]Param{
				ParamEntryThreshold: {Kind: KindFloat, Value: 0.008, Min: 0.002, Max: 0.05, Step: 0.001},
				ParamConfirmations:  {Kind: KindInt, Value: 3, Min: 1, Max: 10, Step: 1},
				ParamStopLossPct:    {Kind: KindFloat, Value: 0.02, Min: 0.005, Max: 0.08, Step: 0.005},
				ParamTakeProfitPct:  {Kind: KindFloat, Value: 0.04, Min: 0.01, Max: 0.15, Step: 0.005},
				ParamLookback:       {Kind: KindInt, Value: 12, Min: 5, Max: 50, Step: 1},
				ParamVolumeFilter:   {Kind: KindBool, Value: 0, Min: 0, Max: 1, Step: 1},
			},
			UpdatedAt: time.Now(),
		}, nil
	case StrategyMeanRevert:
		return ParameterSet{
			StrategyID: StrategyMeanRevert,
			Params: map[string]Param{
				ParamEntryThreshold: {Kind: KindFloat, Value: 0.015, Min: 0.005, Max: 0.08, Step: 0.002},
				ParamConfirmations:  {Kind: KindInt, Value: 2, Min: 1, Max: 8, Step: 1},
				ParamStopLossPct:    {Kind: KindFloat, Value: 0.025, Min: 0.005, Max: 0.08, Step: 0.005},
				ParamTakeProfitPct:  {Kind: KindFloat, Value: 0.04, Min: 0.01, Max: 0.12, Step: 0.005},
				ParamLookback:       {Kind: KindInt, Value: 20, Min: 8, Max: 60, Step: 1},
				ParamVolumeFilter:   {Kind: KindBool, Value: 0, Min: 0, Max: 1, Step: 1},
			},
			UpdatedAt: time.Now(),
		}, nil
	}
	return ParameterSet{}, fmt.Errorf("unknown strategy id %q", strategyID)
}

// State bundles a live parameter set and its optimization history for
// export. Re-importing an exported state yields an equal structure.
type State struct {
	Current ParameterSet `json:"current"`
	History []Result     `json:"history"`
}

// MarshalState serializes an optimizer state to JSON.
func MarshalState(s State) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState parses an exported optimizer state.
func UnmarshalState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse optimizer state: %w", err)
	}
	return s, nil
}
