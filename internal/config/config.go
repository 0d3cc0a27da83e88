// Package config loads runtime configuration from file, environment, and
// defaults via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/helios-trade/decision-core/internal/feed"
	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/orderbook"
	"github.com/helios-trade/decision-core/internal/regime"
	"github.com/helios-trade/decision-core/internal/risk"
	"github.com/helios-trade/decision-core/internal/signal"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Phase    PhaseConfig    `mapstructure:"phase"`
	History  HistoryConfig  `mapstructure:"history"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Signal   SignalConfig   `mapstructure:"signal"`

	Symbols       []string      `mapstructure:"symbols"`
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	OptimizerSeed int64         `mapstructure:"optimizer_seed"`

	HysteresisMargin float64 `mapstructure:"hysteresis_margin"` // optimizer acceptance margin
	SpreadThreshold  float64 `mapstructure:"spread_threshold"`  // percent, order book veto line
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// FeedConfig selects the price source.
type FeedConfig struct {
	Mode           string        `mapstructure:"mode"` // "synthetic" or "live"
	BaseURL        string        `mapstructure:"base_url"`
	OrderBookURL   string        `mapstructure:"orderbook_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BufferCapacity int           `mapstructure:"buffer_capacity"`
	SyntheticSeed  int64         `mapstructure:"synthetic_seed"`
}

// RiskConfig mirrors risk.Config with viper-friendly scalar types.
type RiskConfig struct {
	AllowedPairs     []string `mapstructure:"allowed_pairs"`
	MinOrderNotional float64  `mapstructure:"min_order_notional"`
	MaxOrderNotional float64  `mapstructure:"max_order_notional"`
	DailyBudget      float64  `mapstructure:"daily_budget"`
	MaxOrdersPerHour int      `mapstructure:"max_orders_per_hour"`
	MaxBalanceFrac   float64  `mapstructure:"max_balance_frac"`
}

// PhaseConfig holds the phase manager overrides.
type PhaseConfig struct {
	Pinned       int  `mapstructure:"pinned"` // -1 means automatic
	Unrestricted bool `mapstructure:"unrestricted"`
}

// HistoryConfig locates the trade journal.
type HistoryConfig struct {
	Path string `mapstructure:"path"`
}

// AlertsConfig configures operator notifications.
type AlertsConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// AnalyzerConfig mirrors regime.AnalyzerConfig for viper.
type AnalyzerConfig struct {
	ShortWindow    int     `mapstructure:"short_window"`
	MediumWindow   int     `mapstructure:"medium_window"`
	LongWindow     int     `mapstructure:"long_window"`
	MinSamples     int     `mapstructure:"min_samples"`
	MomentumFloor  float64 `mapstructure:"momentum_floor"`
	VolMediumBound float64 `mapstructure:"vol_medium_bound"`
	VolHighBound   float64 `mapstructure:"vol_high_bound"`
	FlatReturn     float64 `mapstructure:"flat_return"`
}

// SignalConfig mirrors signal.GeneratorConfig for viper.
type SignalConfig struct {
	BasePositionSize  float64 `mapstructure:"base_position_size"`
	MomentumFloor     float64 `mapstructure:"momentum_floor"`
	FixedStopPct      float64 `mapstructure:"fixed_stop_pct"`
	VolStopMultiplier float64 `mapstructure:"vol_stop_multiplier"`
	RiskReward        float64 `mapstructure:"risk_reward"`
}

// Load reads configuration from the optional file at path, the environment
// (prefix DECISION, dots become underscores), and the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DECISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8090")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("symbols", []string{"BTC/USD", "ETH/USD"})
	v.SetDefault("cycle_interval", 5*time.Second)
	v.SetDefault("optimizer_seed", 0) // 0 means time-seeded
	v.SetDefault("hysteresis_margin", optimizer.DefaultConfig().HysteresisMargin)
	v.SetDefault("spread_threshold", orderbook.DefaultValidatorConfig().SpreadThreshold)

	v.SetDefault("feed.mode", "synthetic")
	v.SetDefault("feed.timeout", 5*time.Second)
	v.SetDefault("feed.buffer_capacity", 500)
	v.SetDefault("feed.synthetic_seed", 1)

	riskDefaults := risk.DefaultConfig()
	v.SetDefault("risk.allowed_pairs", riskDefaults.AllowedPairs)
	v.SetDefault("risk.min_order_notional", riskDefaults.MinOrderNotional.InexactFloat64())
	v.SetDefault("risk.max_order_notional", riskDefaults.MaxOrderNotional.InexactFloat64())
	v.SetDefault("risk.daily_budget", riskDefaults.DailyBudget.InexactFloat64())
	v.SetDefault("risk.max_orders_per_hour", riskDefaults.MaxOrdersPerHour)
	v.SetDefault("risk.max_balance_frac", riskDefaults.MaxBalanceFrac.InexactFloat64())

	analyzerDefaults := regime.DefaultAnalyzerConfig()
	v.SetDefault("analyzer.short_window", analyzerDefaults.ShortWindow)
	v.SetDefault("analyzer.medium_window", analyzerDefaults.MediumWindow)
	v.SetDefault("analyzer.long_window", analyzerDefaults.LongWindow)
	v.SetDefault("analyzer.min_samples", analyzerDefaults.MinSamples)
	v.SetDefault("analyzer.momentum_floor", analyzerDefaults.MomentumFloor)
	v.SetDefault("analyzer.vol_medium_bound", analyzerDefaults.VolMediumBound)
	v.SetDefault("analyzer.vol_high_bound", analyzerDefaults.VolHighBound)
	v.SetDefault("analyzer.flat_return", analyzerDefaults.FlatReturn)

	signalDefaults := signal.DefaultGeneratorConfig()
	v.SetDefault("signal.base_position_size", signalDefaults.BasePositionSize)
	v.SetDefault("signal.momentum_floor", signalDefaults.MomentumFloor)
	v.SetDefault("signal.fixed_stop_pct", signalDefaults.FixedStopPct)
	v.SetDefault("signal.vol_stop_multiplier", signalDefaults.VolStopMultiplier)
	v.SetDefault("signal.risk_reward", signalDefaults.RiskReward)

	v.SetDefault("phase.pinned", -1)
	v.SetDefault("phase.unrestricted", false)

	v.SetDefault("history.path", "decision-core.db")

	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.timeout", 10*time.Second)
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Feed.Mode != "synthetic" && c.Feed.Mode != "live" {
		return fmt.Errorf("feed.mode must be synthetic or live, got %q", c.Feed.Mode)
	}
	if c.Feed.Mode == "live" && c.Feed.BaseURL == "" {
		return fmt.Errorf("feed.base_url is required in live mode")
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("cycle_interval must be positive")
	}
	return nil
}

// RiskManagerConfig converts the scalar risk settings into the decimal
// config the risk manager wants.
func (c *Config) RiskManagerConfig() risk.Config {
	return risk.Config{
		AllowedPairs:     c.Risk.AllowedPairs,
		MinOrderNotional: decimal.NewFromFloat(c.Risk.MinOrderNotional),
		MaxOrderNotional: decimal.NewFromFloat(c.Risk.MaxOrderNotional),
		DailyBudget:      decimal.NewFromFloat(c.Risk.DailyBudget),
		MaxOrdersPerHour: c.Risk.MaxOrdersPerHour,
		MaxBalanceFrac:   decimal.NewFromFloat(c.Risk.MaxBalanceFrac),
	}
}

// AnalyzerConfig returns the regime analyzer settings.
func (c *Config) AnalyzerConfig() regime.AnalyzerConfig {
	return regime.AnalyzerConfig{
		ShortWindow:    c.Analyzer.ShortWindow,
		MediumWindow:   c.Analyzer.MediumWindow,
		LongWindow:     c.Analyzer.LongWindow,
		MinSamples:     c.Analyzer.MinSamples,
		MomentumFloor:  c.Analyzer.MomentumFloor,
		VolMediumBound: c.Analyzer.VolMediumBound,
		VolHighBound:   c.Analyzer.VolHighBound,
		FlatReturn:     c.Analyzer.FlatReturn,
	}
}

// OptimizerConfig returns the optimizer settings.
func (c *Config) OptimizerConfig() optimizer.Config {
	optConfig := optimizer.DefaultConfig()
	if c.HysteresisMargin > 0 {
		optConfig.HysteresisMargin = c.HysteresisMargin
	}
	return optConfig
}

// GeneratorConfig returns the signal generator settings.
func (c *Config) GeneratorConfig() signal.GeneratorConfig {
	return signal.GeneratorConfig{
		BasePositionSize:  c.Signal.BasePositionSize,
		MomentumFloor:     c.Signal.MomentumFloor,
		FixedStopPct:      c.Signal.FixedStopPct,
		VolStopMultiplier: c.Signal.VolStopMultiplier,
		RiskReward:        c.Signal.RiskReward,
	}
}

// ValidatorConfig returns the order book validator settings.
func (c *Config) ValidatorConfig() orderbook.ValidatorConfig {
	validatorConfig := orderbook.DefaultValidatorConfig()
	if c.SpreadThreshold > 0 {
		validatorConfig.SpreadThreshold = c.SpreadThreshold
	}
	return validatorConfig
}

// FeedClientConfig returns the live feed client settings.
func (c *Config) FeedClientConfig() feed.ClientConfig {
	clientConfig := feed.DefaultClientConfig()
	clientConfig.BaseURL = c.Feed.BaseURL
	clientConfig.Timeout = c.Feed.Timeout
	return clientConfig
}
