// Package metrics exposes the decision pipeline's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline records into. All collectors
// live on an explicit registry so tests never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	CyclesTotal      *prometheus.CounterVec // symbol
	CycleDuration    *prometheus.HistogramVec
	SignalsTotal     *prometheus.CounterVec // symbol, action
	OptimizerRounds  *prometheus.CounterVec // strategy, outcome (accepted|rejected)
	RiskRejections   *prometheus.CounterVec // pair
	ValidationVetoes *prometheus.CounterVec // symbol
	FeedFailures     *prometheus.CounterVec // symbol
	PhaseIndex       prometheus.Gauge
	TradeCount       prometheus.Gauge
	EventsDropped    prometheus.Counter
}

// New creates a registry with all pipeline collectors plus the standard Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		Registry: registry,
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_cycles_total",
			Help: "Completed decision cycles per symbol.",
		}, []string{"symbol"}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "decision_cycle_duration_seconds",
			Help:    "Wall-clock duration of one decision cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"symbol"}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_emitted_total",
			Help: "Signals emitted by symbol and action.",
		}, []string{"symbol", "action"}),
		OptimizerRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "optimizer_rounds_total",
			Help: "Optimization rounds by strategy and acceptance outcome.",
		}, []string{"strategy", "outcome"}),
		RiskRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "risk_rejections_total",
			Help: "Orders rejected by the risk manager, per pair.",
		}, []string{"pair"}),
		ValidationVetoes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orderbook_vetoes_total",
			Help: "Signals vetoed by order book validation, per symbol.",
		}, []string{"symbol"}),
		FeedFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "price_feed_failures_total",
			Help: "Price feed fetch failures per symbol.",
		}, []string{"symbol"}),
		PhaseIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trading_phase_index",
			Help: "Current trading phase tier (0 = discovery).",
		}),
		TradeCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "journaled_trades",
			Help: "Total trades in the history journal.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "event_bus_dropped_total",
			Help: "Events dropped because the bus buffer was full.",
		}),
	}
}
