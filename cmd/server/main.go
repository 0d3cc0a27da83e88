// Package main runs the paper-trading decision core: regime analysis, a
// self-optimizing strategy layer, order book validation, risk limits, and
// an HTTP/WebSocket control surface.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/helios-trade/decision-core/internal/alerts"
	"github.com/helios-trade/decision-core/internal/api"
	"github.com/helios-trade/decision-core/internal/config"
	"github.com/helios-trade/decision-core/internal/events"
	"github.com/helios-trade/decision-core/internal/feed"
	"github.com/helios-trade/decision-core/internal/history"
	"github.com/helios-trade/decision-core/internal/metrics"
	"github.com/helios-trade/decision-core/internal/optimizer"
	"github.com/helios-trade/decision-core/internal/orderbook"
	"github.com/helios-trade/decision-core/internal/phase"
	"github.com/helios-trade/decision-core/internal/pipeline"
	"github.com/helios-trade/decision-core/internal/regime"
	"github.com/helios-trade/decision-core/internal/risk"
	tradesignal "github.com/helios-trade/decision-core/internal/signal"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// No logger yet.
		panic(err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting decision core",
		zap.Strings("symbols", cfg.Symbols),
		zap.String("feed_mode", cfg.Feed.Mode),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := history.OpenSQLite(logger, cfg.History.Path)
	if err != nil {
		logger.Fatal("open trade journal", zap.Error(err))
	}
	defer store.Close()

	analyzer := regime.NewAnalyzer(cfg.AnalyzerConfig())
	opt := optimizer.New(logger, cfg.OptimizerConfig(), analyzer, cfg.OptimizerSeed)
	generator := tradesignal.NewGenerator(logger, cfg.GeneratorConfig())

	phases := phase.NewManager(logger, phase.DefaultPhases())
	if cfg.Phase.Pinned >= 0 {
		phases.PinPhase(cfg.Phase.Pinned)
	}
	phases.SetUnrestricted(cfg.Phase.Unrestricted)
	if count, err := store.TradeCount(ctx); err == nil {
		phases.UpdateTradeCount(count)
	}

	riskManager := risk.NewManager(logger, cfg.RiskManagerConfig())
	bus := events.NewBus(logger, 4, 1024)
	defer bus.Close()

	notifiers := []alerts.Notifier{alerts.NewLogNotifier(logger)}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout))
	}
	sink := alerts.NewSink(logger, 256, notifiers...)
	defer sink.Close()

	promMetrics := metrics.New()
	buffer := feed.NewBuffer(cfg.Feed.BufferCapacity)

	var source feed.Source
	var validator *orderbook.Validator
	if cfg.Feed.Mode == "live" {
		source = feed.NewClient(logger, cfg.FeedClientConfig())
		bookURL := cfg.Feed.OrderBookURL
		if bookURL == "" {
			bookURL = cfg.Feed.BaseURL
		}
		bookSource := orderbook.NewHTTPSource(logger, bookURL, cfg.Feed.Timeout)
		validator = orderbook.NewValidator(logger, cfg.ValidatorConfig(), bookSource)
	} else {
		source = feed.NewSynthetic(feed.DefaultSyntheticConfig(), cfg.Feed.SyntheticSeed)
	}

	pipe, err := pipeline.New(pipeline.Config{
		Symbols:       cfg.Symbols,
		CycleInterval: cfg.CycleInterval,
	}, pipeline.Deps{
		Logger:    logger,
		Source:    source,
		Buffer:    buffer,
		Analyzer:  analyzer,
		Optimizer: opt,
		Generator: generator,
		Phases:    phases,
		Validator: validator,
		Risk:      riskManager,
		Store:     store,
		Bus:       bus,
		Alerts:    sink,
		Metrics:   promMetrics,
	})
	if err != nil {
		logger.Fatal("build pipeline", zap.Error(err))
	}

	serverConfig := api.DefaultConfig()
	serverConfig.Addr = cfg.Server.Addr
	server := api.NewServer(logger, serverConfig, api.Deps{
		Pipeline:  pipe,
		Optimizer: opt,
		Phases:    phases,
		Risk:      riskManager,
		Store:     store,
		Buffer:    buffer,
		Bus:       bus,
		Metrics:   promMetrics,
	})

	pipe.Start(ctx)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("decision core running",
		zap.String("api", cfg.Server.Addr),
		zap.String("phase", phases.CurrentPhase().Name),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	pipe.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("decision core stopped")
}

func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoding := "json"
	encodeLevel := zapcore.LowercaseLevelEncoder
	if cfg.Format == "console" {
		encoding = "console"
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapConfig := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    encodeLevel,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
