package optimizer

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/helios-trade/decision-core/internal/regime"
	"github.com/helios-trade/decision-core/pkg/types"
	"go.uber.org/zap"
)

// Config configures the parameter optimizer.
type Config struct {
	MinWindow        int     // samples required before optimizing
	CandidateCount   int     // candidates evaluated per run
	MutationRate     float64 // per-field mutation probability
	MutationScale    float64 // mutation magnitude as a fraction of the field range
	BoolFlipRate     float64 // flip probability for boolean fields
	HysteresisMargin float64 // required improvement over the trailing accepted average
	TrailingWindow   int     // accepted results averaged for the hysteresis baseline
	HistoryCap       int     // optimization results retained per strategy
	TriggerInterval  int     // auto-optimize every N new samples
	MinTrades        int     // trade count considered statistically sufficient
	ParallelWorkers  int     // concurrent candidate backtests
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinWindow:        250,
		CandidateCount:   20,
		MutationRate:     0.12,
		MutationScale:    0.2,
		BoolFlipRate:     0.3,
		HysteresisMargin: 0.04,
		TrailingWindow:   5,
		HistoryCap:       100,
		TriggerInterval:  50,
		MinTrades:        20,
		ParallelWorkers:  4,
	}
}

// Result is one immutable optimization outcome.
type Result struct {
	StrategyID string             `json:"strategyId"`
	Parameters ParameterSet       `json:"parameters"`
	Metrics    PerformanceMetrics `json:"metrics"`
	Regime     types.MarketRegime `json:"regime"`
	Confidence float64            `json:"confidence"`
	Score      float64            `json:"score"`
	Accepted   bool               `json:"accepted"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Optimizer owns one live parameter set per registered strategy and improves
// it via mutation candidates scored by walk-forward backtests.
//
// Re-entrancy is guarded per strategy id: a second Optimize for the same id
// while one is in flight is a no-op returning the live set; different ids
// proceed independently. The guard is released on every exit path.
type Optimizer struct {
	logger     *zap.Logger
	config     Config
	backtester *Backtester
	analyzer   *regime.Analyzer

	mu          sync.Mutex
	rng         *rand.Rand
	current     map[string]ParameterSet
	history     map[string][]Result
	inFlight    map[string]bool
	sampleCount map[string]int
}

// New creates an optimizer. The seed makes mutation randomness, and
// therefore whole optimization runs, reproducible.
func New(logger *zap.Logger, config Config, analyzer *regime.Analyzer, seed int64) *Optimizer {
	if config.CandidateCount <= 0 {
		config = DefaultConfig()
	}
	return &Optimizer{
		logger:      logger.Named("optimizer"),
		config:      config,
		backtester:  NewBacktester(DefaultBacktestConfig()),
		analyzer:    analyzer,
		rng:         rand.New(rand.NewSource(seed)),
		current:     make(map[string]ParameterSet),
		history:     make(map[string][]Result),
		inFlight:    make(map[string]bool),
		sampleCount: make(map[string]int),
	}
}

// Register installs the default parameter set for a built-in strategy id.
func (o *Optimizer) Register(strategyID string) error {
	ps, err := DefaultParameterSet(strategyID)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.current[strategyID]; exists {
		return fmt.Errorf("strategy %q already registered", strategyID)
	}
	o.current[strategyID] = ps
	return nil
}

// CurrentParameters returns a copy of the live parameter set.
func (o *Optimizer) CurrentParameters(strategyID string) (ParameterSet, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	ps, ok := o.current[strategyID]
	if !ok {
		return ParameterSet{}, false
	}
	return ps.Clone(), true
}

// StrategyIDs returns the registered strategy ids, sorted.
func (o *Optimizer) StrategyIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.current))
	for id := range o.current {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnSample advances the per-strategy sample counter and reports whether an
// automatic optimization is due. Triggers are staggered per strategy by a
// hash offset so strategies do not all optimize on the same tick.
func (o *Optimizer) OnSample(strategyID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sampleCount[strategyID]++
	interval := o.config.TriggerInterval
	if interval <= 0 {
		return false
	}
	return (o.sampleCount[strategyID]+staggerOffset(strategyID, interval))%interval == 0
}

func staggerOffset(strategyID string, interval int) int {
	h := fnv.New32a()
	h.Write([]byte(strategyID))
	return int(h.Sum32()) % interval
}

// Optimize runs one optimization round for a strategy over the given window
// and returns the live parameter set afterwards. It is a no-op while the
// window is short, while a run for the same id is already in flight, or for
// an unregistered id. Internal failures are caught and logged; the
// last-known-good parameters are always returned.
func (o *Optimizer) Optimize(strategyID string, samples []types.PriceSample) (live ParameterSet) {
	o.mu.Lock()
	current, registered := o.current[strategyID]
	if !registered {
		o.mu.Unlock()
		o.logger.Warn("optimize requested for unregistered strategy", zap.String("strategy", strategyID))
		return ParameterSet{}
	}
	lastKnownGood := current.Clone()
	live = lastKnownGood
	if o.inFlight[strategyID] {
		o.mu.Unlock()
		return lastKnownGood
	}
	o.inFlight[strategyID] = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, strategyID)
		o.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("optimization panicked, keeping last-known-good parameters",
				zap.String("strategy", strategyID),
				zap.Any("panic", r),
			)
		}
	}()

	if len(samples) < o.config.MinWindow {
		return lastKnownGood
	}

	result := o.runRound(strategyID, lastKnownGood, samples)

	o.mu.Lock()
	defer o.mu.Unlock()
	if result.Accepted {
		o.current[strategyID] = result.Parameters.Clone()
	}
	hist := append(o.history[strategyID], result)
	if len(hist) > o.config.HistoryCap {
		hist = hist[len(hist)-o.config.HistoryCap:]
	}
	o.history[strategyID] = hist
	return o.current[strategyID].Clone()
}

// runRound builds candidates, scores them, and applies hysteresis acceptance.
func (o *Optimizer) runRound(strategyID string, current ParameterSet, samples []types.PriceSample) Result {
	candidates := o.buildCandidates(strategyID, current)
	marketState := o.analyzer.Analyze(samples)

	type scored struct {
		params     ParameterSet
		metrics    PerformanceMetrics
		confidence float64
		score      float64
	}
	results := make([]scored, len(candidates))

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workerCount())
	for i, cand := range candidates {
		wg.Add(1)
		go func(idx int, ps ParameterSet) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			report := o.backtester.Run(ps, samples)
			confidence := o.confidence(report.Metrics)
			results[idx] = scored{
				params:     ps,
				metrics:    report.Metrics,
				confidence: confidence,
				score:      o.compositeScore(report.Metrics) * confidence,
			}
		}(i, cand)
	}
	wg.Wait()

	// Candidate 0 is always the current parameter set.
	baselineScore := results[0].score
	best := results[0]
	for _, r := range results[1:] {
		if r.score > best.score {
			best = r
		}
	}

	trailing := o.trailingAcceptedAverage(strategyID)
	if trailing > 0 {
		baselineScore = trailing
	}
	accepted := best.score > baselineScore*(1+o.config.HysteresisMargin)

	if accepted {
		best.params.UpdatedAt = time.Now()
	}
	o.logger.Info("optimization round complete",
		zap.String("strategy", strategyID),
		zap.Float64("bestScore", best.score),
		zap.Float64("baseline", baselineScore),
		zap.Bool("accepted", accepted),
		zap.Int("trades", best.metrics.TradeCount),
	)

	return Result{
		StrategyID: strategyID,
		Parameters: best.params,
		Metrics:    best.metrics,
		Regime:     marketState,
		Confidence: best.confidence,
		Score:      best.score,
		Accepted:   accepted,
		Timestamp:  time.Now(),
	}
}

func (o *Optimizer) workerCount() int {
	if o.config.ParallelWorkers > 0 {
		return o.config.ParallelWorkers
	}
	return 4
}

// buildCandidates assembles the evaluation population: the current set
// first, the best historical set, then random mutations of randomly chosen
// seeds.
func (o *Optimizer) buildCandidates(strategyID string, current ParameterSet) []ParameterSet {
	o.mu.Lock()
	defer o.mu.Unlock()

	seeds := []ParameterSet{current}
	candidates := []ParameterSet{current.Clone()}

	if best, ok := o.bestHistoricalLocked(strategyID); ok {
		seeds = append(seeds, best)
		candidates = append(candidates, best.Clone())
	}

	for len(candidates) < o.config.CandidateCount {
		seed := seeds[o.rng.Intn(len(seeds))]
		candidates = append(candidates, o.mutateLocked(seed))
	}
	return candidates
}

func (o *Optimizer) bestHistoricalLocked(strategyID string) (ParameterSet, bool) {
	var best ParameterSet
	bestScore := math.Inf(-1)
	found := false
	for _, r := range o.history[strategyID] {
		if r.Score > bestScore {
			bestScore = r.Score
			best = r.Parameters
			found = true
		}
	}
	return best, found
}

// mutateLocked perturbs a seed: each numeric field mutates with the
// configured rate by a delta scaled to its declared range, clamped;
// booleans flip with their own rate. Caller holds o.mu for rng access.
func (o *Optimizer) mutateLocked(seed ParameterSet) ParameterSet {
	mutated := seed.Clone()
	for name, p := range mutated.Params {
		switch p.Kind {
		case KindBool:
			if o.rng.Float64() < o.config.BoolFlipRate {
				if p.Value >= 0.5 {
					p.Value = 0
				} else {
					p.Value = 1
				}
				mutated.Params[name] = p
			}
		default:
			if o.rng.Float64() < o.config.MutationRate {
				span := p.Max - p.Min
				delta := (o.rng.Float64()*2 - 1) * span * o.config.MutationScale
				p.Value = p.Clamp(p.Value + delta)
				mutated.Params[name] = p
			}
		}
	}
	return mutated
}

// confidence blends trade-count sufficiency, win-rate edge over 50%, profit
// factor and Sharpe into [0,1].
func (o *Optimizer) confidence(m PerformanceMetrics) float64 {
	sufficiency := clamp01(float64(m.TradeCount) / float64(o.config.MinTrades))
	edge := clamp01((m.WinRate - 0.5) * 5)
	pf := clamp01((m.ProfitFactor - 1) / 1.5)
	sharpe := clamp01(m.Sharpe / 2)
	return clamp01(0.35*sufficiency + 0.25*edge + 0.2*pf + 0.2*sharpe)
}

// compositeScore weights win rate 25%, capped profit factor 25%, capped
// Sharpe 20%, drawdown penalty 15% and trade-count sufficiency 15%.
func (o *Optimizer) compositeScore(m PerformanceMetrics) float64 {
	pf := math.Min(m.ProfitFactor, 3) / 3
	sharpe := clamp01(m.Sharpe / 3)
	drawdown := 1 - clamp01(m.MaxDrawdown*2)
	sufficiency := clamp01(float64(m.TradeCount) / float64(o.config.MinTrades))
	return 0.25*m.WinRate + 0.25*pf + 0.20*sharpe + 0.15*drawdown + 0.15*sufficiency
}

func (o *Optimizer) trailingAcceptedAverage(strategyID string) float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	var accepted []float64
	for _, r := range o.history[strategyID] {
		if r.Accepted {
			accepted = append(accepted, r.Score)
		}
	}
	if len(accepted) == 0 {
		return 0
	}
	if len(accepted) > o.config.TrailingWindow {
		accepted = accepted[len(accepted)-o.config.TrailingWindow:]
	}
	return mean(accepted)
}

// History returns a copy of a strategy's optimization history.
func (o *Optimizer) History(strategyID string) []Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	hist := o.history[strategyID]
	out := make([]Result, len(hist))
	copy(out, hist)
	return out
}

// Export snapshots a strategy's live parameters and history as JSON.
func (o *Optimizer) Export(strategyID string) ([]byte, error) {
	o.mu.Lock()
	current, ok := o.current[strategyID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("unknown strategy id %q", strategyID)
	}
	state := State{Current: current.Clone()}
	state.History = make([]Result, len(o.history[strategyID]))
	copy(state.History, o.history[strategyID])
	o.mu.Unlock()
	return MarshalState(state)
}

// Import restores a previously exported state, replacing the live set and
// history for that strategy.
func (o *Optimizer) Import(data []byte) error {
	state, err := UnmarshalState(data)
	if err != nil {
		return err
	}
	if state.Current.StrategyID == "" {
		return fmt.Errorf("imported state has no strategy id")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current[state.Current.StrategyID] = state.Current.Clone()
	hist := make([]Result, len(state.History))
	copy(hist, state.History)
	if len(hist) > o.config.HistoryCap {
		hist = hist[len(hist)-o.config.HistoryCap:]
	}
	o.history[state.Current.StrategyID] = hist
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
