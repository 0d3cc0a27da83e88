// Package pipeline runs the decision loop: price feed in, regime analysis,
// parameter optimization, signal generation, order book validation, risk
// checks, and paper execution out.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/helios-trade/decision-core/internal/alerts"
	"github.com/helios-trade/decision-core/internal/events"
	"github.com/helios-trade/decision-core/internal/feed"
	"github.com/helios-trade/decision-core/internal/history"
	"github.com/helios-trade/decision-core/internal/metrics"
	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/orderbook"
	"github.com/helios-trade/decision-core/internal/phase"
	"github.com/helios-trade/decision-core/internal/regime"
	"github.com/helios-trade/decision-core/internal/risk"
	"github.com/helios-trade/decision-core/internal/signal"
	"github.com/helios-trade/decision-core/pkg/types"
)

// Config tunes the pipeline loop.
type Config struct {
	Symbols        []string          `json:"symbols"`
	CycleInterval  time.Duration     `json:"cycle_interval"`
	Strategies     map[string]string `json:"strategies"` // symbol -> strategy id
	InitialBalance float64           `json:"initial_balance"`
}

// DefaultConfig returns a paper session over the default symbols.
func DefaultConfig() Config {
	return Config{
		Symbols:        []string{"BTC/USD", "ETH/USD"},
		CycleInterval:  5 * time.Second,
		InitialBalance: 100000,
	}
}

// Deps are the collaborators the pipeline wires together.
type Deps struct {
	Logger    *zap.Logger
	Source    feed.Source
	Buffer    *feed.Buffer
	Analyzer  *regime.Analyzer
	Optimizer *optimizer.Optimizer
	Generator *signal.Generator
	Phases    *phase.Manager
	Validator *orderbook.Validator
	Risk      *risk.Manager
	Store     history.Store
	Bus       *events.Bus
	Alerts    *alerts.Sink
	Metrics   *metrics.Metrics
}

// position is one open paper position.
type position struct {
	side       types.OrderSide
	volume     decimal.Decimal
	entryPrice decimal.Decimal
	strategyID string
}

// Pipeline drives one decision cycle per symbol per tick.
type Pipeline struct {
	config Config
	deps   Deps
	logger *zap.Logger

	mu        sync.Mutex
	positions map[string]*position
	balance   decimal.Decimal

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline. Every strategy referenced by the symbol map is
// registered with the optimizer.
func New(config Config, deps Deps) (*Pipeline, error) {
	if len(config.Symbols) == 0 {
		return nil, fmt.Errorf("pipeline needs at least one symbol")
	}
	if config.CycleInterval <= 0 {
		config.CycleInterval = 5 * time.Second
	}
	if config.InitialBalance <= 0 {
		config.InitialBalance = 100000
	}

	p := &Pipeline{
		config:    config,
		deps:      deps,
		logger:    deps.Logger.Named("pipeline"),
		positions: make(map[string]*position),
		balance:   decimal.NewFromFloat(config.InitialBalance),
	}
	seen := make(map[string]bool)
	for _, symbol := range config.Symbols {
		id := p.strategyFor(symbol)
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := deps.Optimizer.Register(id); err != nil {
			return nil, fmt.Errorf("register strategy %s: %w", id, err)
		}
	}
	return p, nil
}

func (p *Pipeline) strategyFor(symbol string) string {
	if id, ok := p.config.Strategies[symbol]; ok {
		return id
	}
	return optimizer.StrategyMomentum
}

// Start launches one cycle loop per symbol. It returns immediately; Stop
// shuts the loops down.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, symbol := range p.config.Symbols {
		p.wg.Add(1)
		go p.loop(ctx, symbol)
	}
	p.logger.Info("pipeline started",
		zap.Strings("symbols", p.config.Symbols),
		zap.Duration("interval", p.config.CycleInterval))
}

// Stop halts the cycle loops and waits for in-flight cycles to finish.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("pipeline stopped")
}

// Balance returns the current paper account balance.
func (p *Pipeline) Balance() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// OpenPositions returns a snapshot of the open paper positions.
func (p *Pipeline) OpenPositions() map[string]types.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]types.Trade, len(p.positions))
	for symbol, pos := range p.positions {
		out[symbol] = types.Trade{
			Pair:       symbol,
			Side:       pos.side,
			Volume:     pos.volume,
			Price:      pos.entryPrice,
			StrategyID: pos.strategyID,
		}
	}
	return out
}

func (p *Pipeline) loop(ctx context.Context, symbol string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunCycle(ctx, symbol)
		}
	}
}

// RunCycle executes one decision cycle for a symbol. A panic anywhere in
// the cycle is contained: the cycle is abandoned and the next tick starts
// clean.
func (p *Pipeline) RunCycle(ctx context.Context, symbol string) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("cycle panic",
				zap.String("symbol", symbol),
				zap.Any("panic", r))
			p.deps.Alerts.Send(alerts.SeverityCritical, "cycle panic",
				fmt.Sprintf("%v", r), symbol)
		}
	}()

	sample, err := p.deps.Source.Latest(ctx, symbol)
	if err != nil {
		p.deps.Metrics.FeedFailures.WithLabelValues(symbol).Inc()
		p.logger.Warn("price fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	p.deps.Buffer.Append(sample)
	window := p.deps.Buffer.Window(symbol)

	marketRegime := p.deps.Analyzer.Analyze(window)

	strategyID := p.strategyFor(symbol)
	if p.deps.Optimizer.OnSample(strategyID) {
		go p.optimize(strategyID, marketRegime, window)
	}

	params, ok := p.deps.Optimizer.CurrentParameters(strategyID)
	if !ok {
		p.logger.Error("strategy not registered", zap.String("strategy", strategyID))
		return
	}

	phaseConfig := p.deps.Phases.CurrentPhase()
	winRate := p.winRate(ctx, symbol)

	sig := p.deps.Generator.Generate(signal.Input{
		Symbol:     symbol,
		Price:      sample.Price,
		Regime:     marketRegime,
		Params:     params,
		Phase:      phaseConfig,
		WinRate:    winRate,
		StrategyID: strategyID,
	})
	p.journalSignal(ctx, &sig)
	p.deps.Metrics.SignalsTotal.WithLabelValues(symbol, string(sig.Action)).Inc()
	p.deps.Bus.Publish(events.New(events.TypeSignal, symbol, sig))

	var validated *bool
	if sig.Action != types.ActionHold {
		_, validated = p.maybeExecute(ctx, &sig, phaseConfig)
	}

	p.deps.Metrics.CyclesTotal.WithLabelValues(symbol).Inc()
	p.deps.Metrics.CycleDuration.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
	p.deps.Bus.Publish(events.New(events.TypeCycle, symbol, events.CyclePayload{
		Regime:    marketRegime,
		Action:    sig.Action,
		Phase:     phaseConfig.Name,
		Validated: validated,
		Duration:  time.Since(start),
	}))
}

// maybeExecute runs the post-signal gates: order book validation when the
// phase requires it, then the risk manager, then the paper fill. Returns
// whether a fill happened and the validation verdict when one was produced.
func (p *Pipeline) maybeExecute(ctx context.Context, sig *types.TradingSignal, phaseConfig phase.Config) (bool, *bool) {
	sizeFactor := 1.0
	var validated *bool

	if phaseConfig.Features.OrderBookValidation && p.deps.Validator != nil {
		result := p.deps.Validator.Validate(ctx, sig)
		v := result.IsValidated
		validated = &v
		if !result.IsValidated {
			p.deps.Metrics.ValidationVetoes.WithLabelValues(sig.Symbol).Inc()
		}
		switch result.RecommendedAction {
		case types.ValidationSkip:
			return false, validated
		case types.ValidationWait:
			return false, validated
		case types.ValidationReduceSize:
			sizeFactor = 0.5
		}
		if result.ValidationStrength < phaseConfig.Thresholds.MinValidationStrength {
			return false, validated
		}
	}

	price := decimal.NewFromFloat(sig.Price)
	p.mu.Lock()
	balance := p.balance
	open := p.positions[sig.Symbol]
	p.mu.Unlock()

	side := types.OrderSideBuy
	if sig.Action == types.ActionSell {
		side = types.OrderSideSell
	}

	// An opposite signal closes the open position instead of stacking a
	// new one; a same-side signal is a no-op while the position is open.
	// Close fills run through the risk manager like any other order so they
	// consume the hourly and daily budgets.
	if open != nil {
		if open.side == side {
			return false, validated
		}
		closeOrder := types.ProposedOrder{
			Pair:           sig.Symbol,
			Side:           side,
			Volume:         open.volume,
			Price:          price,
			AccountBalance: balance,
		}
		decision := p.deps.Risk.ValidateOrder(closeOrder)
		if !decision.IsValid {
			p.rejectOrder(sig.Symbol, decision.Reason)
			return false, validated
		}
		// A risk shrink is not applied here: a close only reduces exposure,
		// so the position always exits at its full volume.
		p.deps.Risk.RecordOrder(closeOrder, open.volume)
		p.closePosition(ctx, sig.Symbol, price)
		return true, validated
	}

	notionalFrac := decimal.NewFromFloat(sig.PositionSize * sizeFactor)
	volume := balance.Mul(notionalFrac).Div(price)
	order := types.ProposedOrder{
		Pair:           sig.Symbol,
		Side:           side,
		Volume:         volume,
		Price:          price,
		AccountBalance: balance,
	}

	decision := p.deps.Risk.ValidateOrder(order)
	if !decision.IsValid {
		p.rejectOrder(sig.Symbol, decision.Reason)
		return false, validated
	}

	executedVolume := decision.EffectiveVolume(volume)
	p.deps.Risk.RecordOrder(order, executedVolume)
	p.openPosition(ctx, sig, side, executedVolume, price)
	return true, validated
}

func (p *Pipeline) rejectOrder(symbol, reason string) {
	p.deps.Metrics.RiskRejections.WithLabelValues(symbol).Inc()
	p.deps.Bus.Publish(events.New(events.TypeRisk, symbol, events.RiskPayload{
		Pair:   symbol,
		Reason: reason,
	}))
	p.logger.Info("order rejected",
		zap.String("pair", symbol),
		zap.String("reason", reason))
}

func (p *Pipeline) openPosition(ctx context.Context, sig *types.TradingSignal, side types.OrderSide, volume, price decimal.Decimal) {
	p.mu.Lock()
	p.positions[sig.Symbol] = &position{
		side:       side,
		volume:     volume,
		entryPrice: price,
		strategyID: sig.StrategyID,
	}
	p.mu.Unlock()

	trade := types.Trade{
		ID:         uuid.NewString(),
		Pair:       sig.Symbol,
		Side:       side,
		Volume:     volume,
		Price:      price,
		PnL:        decimal.Zero,
		StrategyID: sig.StrategyID,
		IsEntry:    true,
		ExecutedAt: time.Now(),
	}
	p.commitTrade(ctx, trade)
}

// closePosition fills the open position at price and realizes its PnL.
func (p *Pipeline) closePosition(ctx context.Context, symbol string, price decimal.Decimal) {
	p.mu.Lock()
	pos := p.positions[symbol]
	if pos == nil {
		p.mu.Unlock()
		return
	}
	delete(p.positions, symbol)

	diff := price.Sub(pos.entryPrice)
	if pos.side == types.OrderSideSell {
		diff = diff.Neg()
	}
	pnl := diff.Mul(pos.volume)
	p.balance = p.balance.Add(pnl)
	p.mu.Unlock()

	closeSide := types.OrderSideSell
	if pos.side == types.OrderSideSell {
		closeSide = types.OrderSideBuy
	}
	trade := types.Trade{
		ID:         uuid.NewString(),
		Pair:       symbol,
		Side:       closeSide,
		Volume:     pos.volume,
		Price:      price,
		PnL:        pnl,
		StrategyID: pos.strategyID,
		ExecutedAt: time.Now(),
	}
	p.commitTrade(ctx, trade)
}

// commitTrade journals a fill and advances phase progression. Journal
// failures degrade to a log line and an alert, never a failed cycle.
func (p *Pipeline) commitTrade(ctx context.Context, trade types.Trade) {
	if err := p.deps.Store.AppendTrade(ctx, trade); err != nil {
		p.logger.Error("trade journal failed", zap.String("id", trade.ID), zap.Error(err))
		p.deps.Alerts.Send(alerts.SeverityWarning, "trade journal failed", err.Error(), trade.Pair)
	}
	count, err := p.deps.Store.TradeCount(ctx)
	if err == nil {
		before := p.deps.Phases.CurrentPhase()
		after := p.deps.Phases.UpdateTradeCount(count)
		p.deps.Metrics.TradeCount.Set(float64(count))
		p.deps.Metrics.PhaseIndex.Set(float64(after.Index))
		if after.Index != before.Index {
			p.deps.Bus.Publish(events.New(events.TypePhase, trade.Pair, events.PhasePayload{
				From:       before.Name,
				To:         after.Name,
				TradeCount: count,
			}))
			p.deps.Alerts.Send(alerts.SeverityInfo, "phase transition",
				fmt.Sprintf("%s -> %s at %d trades", before.Name, after.Name, count), "")
		}
	}
	p.deps.Bus.Publish(events.New(events.TypeTrade, trade.Pair, trade))
}

func (p *Pipeline) optimize(strategyID string, marketRegime types.MarketRegime, window []types.PriceSample) {
	p.deps.Optimizer.Optimize(strategyID, window)

	outcome := "rejected"
	results := p.deps.Optimizer.History(strategyID)
	if len(results) > 0 {
		last := results[len(results)-1]
		if last.Accepted {
			outcome = "accepted"
		}
		p.deps.Bus.Publish(events.New(events.TypeOptimizer, "", last))
	}
	p.deps.Metrics.OptimizerRounds.WithLabelValues(strategyID, outcome).Inc()
	p.logger.Debug("optimization round finished",
		zap.String("strategy", strategyID),
		zap.String("outcome", outcome),
		zap.String("trend", string(marketRegime.Trend)))
}

func (p *Pipeline) winRate(ctx context.Context, pair string) float64 {
	rate, err := p.deps.Store.WinRate(ctx, pair)
	if err != nil {
		return 0.5
	}
	return rate
}

func (p *Pipeline) journalSignal(ctx context.Context, sig *types.TradingSignal) {
	if err := p.deps.Store.AppendSignal(ctx, sig); err != nil {
		p.logger.Warn("signal journal failed", zap.String("id", sig.ID), zap.Error(err))
	}
}
