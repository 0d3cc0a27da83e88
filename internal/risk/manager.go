// Package risk enforces hard limits on proposed orders before execution.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/helios-trade/decision-core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the risk limits. All monetary values are quote-currency
// notionals handled as decimals.
type Config struct {
	AllowedPairs     []string        `json:"allowed_pairs"`
	MinOrderNotional decimal.Decimal `json:"min_order_notional"`
	MaxOrderNotional decimal.Decimal `json:"max_order_notional"`
	DailyBudget      decimal.Decimal `json:"daily_budget"`
	MaxOrdersPerHour int             `json:"max_orders_per_hour"`
	MaxBalanceFrac   decimal.Decimal `json:"max_balance_frac"` // fraction of balance a single buy may consume
}

// DefaultConfig returns conservative paper-trading limits.
func DefaultConfig() Config {
	return Config{
		AllowedPairs:     []string{"BTC/USD", "ETH/USD", "SOL/USD"},
		MinOrderNotional: decimal.NewFromInt(10),
		MaxOrderNotional: decimal.NewFromInt(10000),
		DailyBudget:      decimal.NewFromInt(50000),
		MaxOrdersPerHour: 20,
		MaxBalanceFrac:   decimal.NewFromFloat(0.25),
	}
}

// Stats is a point-in-time view of the manager's counters.
type Stats struct {
	SpentToday     decimal.Decimal `json:"spentToday"`
	OrdersLastHour int             `json:"ordersLastHour"`
	OrdersToday    int             `json:"ordersToday"`
	BudgetDay      string          `json:"budgetDay"`
}

// Manager validates proposed orders against the configured limits.
// ValidateOrder is read-only; callers commit an approved order with
// RecordOrder, which is what actually consumes budget and rate quota.
type Manager struct {
	logger  *zap.Logger
	config  Config
	allowed map[string]struct{}

	mu          sync.Mutex
	spentToday  decimal.Decimal
	ordersToday int
	budgetDay   string // local calendar date the counters belong to
	orderTimes  []time.Time
	now         func() time.Time
}

// NewManager creates a risk manager with the given limits.
func NewManager(logger *zap.Logger, config Config) *Manager {
	allowed := make(map[string]struct{}, len(config.AllowedPairs))
	for _, pair := range config.AllowedPairs {
		allowed[pair] = struct{}{}
	}
	m := &Manager{
		logger:     logger.Named("risk-manager"),
		config:     config,
		allowed:    allowed,
		spentToday: decimal.Zero,
		now:        time.Now,
	}
	m.budgetDay = m.now().Format("2006-01-02")
	return m
}

// ValidateOrder runs the limit checks in a fixed order and returns the first
// failure. A shrinking limit (max notional, remaining budget) returns a
// valid decision with AdjustedVolume instead of a rejection when the
// shrunken order still clears the minimum.
func (m *Manager) ValidateOrder(order types.ProposedOrder) types.RiskDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	if _, ok := m.allowed[order.Pair]; !ok {
		return reject(fmt.Sprintf("pair %s is not allow-listed", order.Pair))
	}
	if order.Volume.Sign() <= 0 || order.Price.Sign() <= 0 {
		return reject("volume and price must be positive")
	}

	notional := order.Notional()
	if notional.LessThan(m.config.MinOrderNotional) {
		return reject(fmt.Sprintf("notional %s below minimum %s", notional, m.config.MinOrderNotional))
	}

	decision := types.RiskDecision{IsValid: true, Reason: "ok"}

	if notional.GreaterThan(m.config.MaxOrderNotional) {
		adjusted := m.config.MaxOrderNotional.Div(order.Price)
		decision.AdjustedVolume = &adjusted
		decision.Reason = fmt.Sprintf("notional %s capped to %s", notional, m.config.MaxOrderNotional)
		notional = m.config.MaxOrderNotional
	}

	remaining := m.config.DailyBudget.Sub(m.spentToday)
	if remaining.Sign() <= 0 {
		return reject("daily budget exhausted")
	}
	if notional.GreaterThan(remaining) {
		if remaining.LessThan(m.config.MinOrderNotional) {
			return reject(fmt.Sprintf("remaining budget %s below minimum order", remaining))
		}
		adjusted := remaining.Div(order.Price)
		decision.AdjustedVolume = &adjusted
		decision.Reason = fmt.Sprintf("shrunk to remaining daily budget %s", remaining)
		notional = remaining
	}

	if m.countLastHourLocked() >= m.config.MaxOrdersPerHour {
		return reject(fmt.Sprintf("rate limit: %d orders in the last hour", m.config.MaxOrdersPerHour))
	}

	// A zero balance means the caller does not know it, not an empty account.
	if order.Side == types.OrderSideBuy && order.AccountBalance.Sign() > 0 {
		balanceCap := order.AccountBalance.Mul(m.config.MaxBalanceFrac)
		if notional.GreaterThan(balanceCap) {
			if balanceCap.LessThan(m.config.MinOrderNotional) {
				return reject(fmt.Sprintf("balance cap %s below minimum order", balanceCap))
			}
			adjusted := balanceCap.Div(order.Price)
			decision.AdjustedVolume = &adjusted
			decision.Reason = fmt.Sprintf("shrunk to balance cap %s", balanceCap)
		}
	}

	return decision
}

// RecordOrder commits an executed order against the budget and rate counters.
// Pass the volume actually executed, adjusted or not.
func (m *Manager) RecordOrder(order types.ProposedOrder, executedVolume decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	notional := executedVolume.Mul(order.Price)
	m.spentToday = m.spentToday.Add(notional)
	m.ordersToday++
	m.orderTimes = append(m.orderTimes, m.now())
	m.pruneLocked()

	m.logger.Info("order recorded",
		zap.String("pair", order.Pair),
		zap.String("side", string(order.Side)),
		zap.String("notional", notional.String()),
		zap.String("spent_today", m.spentToday.String()))
}

// Stats returns a snapshot of the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return Stats{
		SpentToday:     m.spentToday,
		OrdersLastHour: m.countLastHourLocked(),
		OrdersToday:    m.ordersToday,
		BudgetDay:      m.budgetDay,
	}
}

// rolloverLocked resets the daily counters when the local calendar date
// changes. The hourly log is trailing and needs no reset.
func (m *Manager) rolloverLocked() {
	day := m.now().Format("2006-01-02")
	if day == m.budgetDay {
		return
	}
	m.logger.Info("daily risk budget reset",
		zap.String("previous_day", m.budgetDay),
		zap.String("spent", m.spentToday.String()),
		zap.Int("orders", m.ordersToday))
	m.budgetDay = day
	m.spentToday = decimal.Zero
	m.ordersToday = 0
}

func (m *Manager) countLastHourLocked() int {
	cutoff := m.now().Add(-time.Hour)
	n := 0
	for _, ts := range m.orderTimes {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops order timestamps older than 24h so the log stays bounded.
func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-24 * time.Hour)
	kept := m.orderTimes[:0]
	for _, ts := range m.orderTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.orderTimes = kept
}

func reject(reason string) types.RiskDecision {
	return types.RiskDecision{IsValid: false, Reason: reason}
}
