package main

import (
	"context"
	"fmt"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cryptoSpotBot/config"
	"cryptoSpotBot/internal/adapters/binanceclient"
	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/adapters/sqlite"
	"cryptoSpotBot/internal/adapters/telegram"
	"cryptoSpotBot/internal/alerts"
	"cryptoSpotBot/internal/app"
	"cryptoSpotBot/internal/execution"
	"cryptoSpotBot/internal/marketdata"
	"cryptoSpotBot/internal/metrics"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/retry"
	"cryptoSpotBot/internal/risk"
	"cryptoSpotBot/internal/strategy"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run(ctx context.Context) error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err) // Logger is not ready yet
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 5,
	})
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "file": cfg.LogFile})

	// 3. Initialize Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 4. Initialize Alerts
	var sink ports.AlertSink = alerts.LogSink{Logger: appLogger}
	if cfg.TelegramToken != "" {
		notifier, err := telegram.NewNotifier(telegram.Config{
			BotToken: cfg.TelegramToken,
			ChatID:   cfg.TelegramChatID,
			Logger:   appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize Telegram notifier")
			return fmt.Errorf("failed to initialize Telegram notifier: %w", err)
		}
		sink = notifier
		appLogger.Info(ctx, "Telegram notifier initialized")
	} else {
		appLogger.Warn(ctx, "TELEGRAM_TOKEN not set, alerts are only logged")
	}
	alertSink := alerts.NewAsync(sink, appLogger, cfg.AlertQueueSize, alerts.WithDropHook(m.AlertDropped))
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := alertSink.Close(cctx); err != nil {
			appLogger.Error(cctx, err, "Alerts were not drained before exit", map[string]interface{}{"dropped": alertSink.Dropped()})
		}
	}()

	// 5. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		return fmt.Errorf("failed to initialize database repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", map[string]interface{}{"path": cfg.DBPath})

	// 6. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	// 7. Retry policy shared by every exchange call
	policy := retry.DefaultPolicy(appLogger, alertSink)
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.RateLimitBaseDelay = cfg.Retry.RateLimitBaseDelay
	policy.MaxDelay = cfg.Retry.MaxDelay

	// 8. Initialize Market Data Feed
	feed, err := marketdata.NewFeed(binanceClient, policy, appLogger, cfg.Feed, marketdata.WithObserver(m))
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize market data feed")
		return fmt.Errorf("failed to initialize market data feed: %w", err)
	}

	// 9. Initialize Strategy and Risk
	snapshots := strategy.NewSnapshotBuilder(feed, cfg.Snapshot, appLogger)
	strat, err := strategy.New(cfg.Strategy, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading strategy")
		return fmt.Errorf("failed to initialize trading strategy: %w", err)
	}
	riskManager, err := risk.NewManager(cfg.Risk)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk manager")
		return fmt.Errorf("failed to initialize risk manager: %w", err)
	}
	appLogger.Info(ctx, "Trading strategy initialized", map[string]interface{}{
		"emaShort": cfg.Strategy.EMAShortPeriod, "emaLong": cfg.Strategy.EMALongPeriod, "interval": cfg.Snapshot.Interval,
	})

	// 10. Initialize Execution Engine
	engine, err := execution.NewEngine(execution.Deps{
		Exchange:  binanceClient,
		Store:     repo,
		Risk:      riskManager,
		Snapshots: snapshots,
		Policy:    policy,
		Alerts:    alertSink,
		Logger:    appLogger,
		Observer:  m,
	}, cfg.Execution)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize execution engine")
		return fmt.Errorf("failed to initialize execution engine: %w", err)
	}

	// 11. Metrics and health endpoint
	var metricsServer app.Runner
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr, reg, func(ctx context.Context) error {
			if engine.CircuitOpen() {
				return fmt.Errorf("execution circuit breaker is open")
			}
			return repo.Ping(ctx)
		}, appLogger)
	}

	// 12. Periodic status report
	var statusMonitor app.Runner
	if cfg.StatusInterval > 0 {
		statusMonitor, err = app.NewStatusMonitor(binanceClient, feed, repo, alertSink, appLogger, app.StatusConfig{
			Symbols:               cfg.Symbols,
			QuoteAsset:            cfg.QuoteAsset,
			Interval:              cfg.StatusInterval,
			MetricsWindow:         cfg.StatusMetricsWindow,
			WinRateThreshold:      cfg.WinRateThreshold,
			ProfitFactorThreshold: cfg.ProfitFactorThreshold,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize status monitor")
			return fmt.Errorf("failed to initialize status monitor: %w", err)
		}
	}

	// 13. Initialize Application Service
	tradingService, err := app.NewTradingService(app.Deps{
		Feed:      feed,
		Snapshots: snapshots,
		Signal:    strat,
		Risk:      riskManager,
		Engine:    engine,
		Account:   binanceClient,
		Symbols:   binanceClient,
		Trades:    repo,
		Policy:    policy,
		Alerts:    alertSink,
		Logger:    appLogger,
		Observer:  m,
		Metrics:   metricsServer,
		Status:    statusMonitor,
	}, app.Config{
		Symbols:         cfg.Symbols,
		CycleInterval:   cfg.CycleInterval,
		QuoteAsset:      cfg.QuoteAsset,
		PriceBucket:     cfg.PriceBucket,
		KeyWindow:       cfg.KeyWindow,
		MaxConcurrent:   cfg.MaxConcurrentSymbols,
		AlertRepeat:     cfg.AlertRepeat,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize trading service")
		return fmt.Errorf("failed to initialize trading service: %w", err)
	}
	appLogger.Info(ctx, "Trading service initialized")

	// 14. Start the Service, it returns once ctx is canceled by SIGINT/SIGTERM
	if err := tradingService.Run(ctx); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		return fmt.Errorf("trading service exited with error: %w", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
	return nil
}
