package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cryptoSpotBot/config"
	"cryptoSpotBot/internal/adapters/binanceclient"
	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/adapters/sqlite"
	"cryptoSpotBot/internal/adapters/telegram"
	"cryptoSpotBot/internal/alerts"
	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/execution"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/retry"
	"cryptoSpotBot/internal/risk"
)

// sell_all closes every open position the bot tracks with market sells. It goes through the
// execution engine so each close is idempotent and recorded in the store like any exit.
func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols to close (default: every open position)")
	dryRun := flag.Bool("dry-run", false, "list what would be sold without placing orders")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, parseSymbols(*symbolsFlag), *dryRun); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run(ctx context.Context, only map[string]bool, dryRun bool) error {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, FilePath: cfg.LogFile})
	defer func() { _ = appLogger.Sync() }()

	// 3. Initialize Alerts
	var sink ports.AlertSink = alerts.LogSink{Logger: appLogger}
	if cfg.TelegramToken != "" {
		notifier, err := telegram.NewNotifier(telegram.Config{BotToken: cfg.TelegramToken, ChatID: cfg.TelegramChatID, Logger: appLogger})
		if err != nil {
			return fmt.Errorf("failed to initialize Telegram notifier: %w", err)
		}
		sink = notifier
	}
	alertSink := alerts.NewAsync(sink, appLogger, cfg.AlertQueueSize)
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = alertSink.Close(cctx)
	}()

	// 4. Initialize Repository and Exchange Client
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		return fmt.Errorf("failed to initialize database repository: %w", err)
	}
	defer repo.Close()

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Binance client: %w", err)
	}

	// 5. Execution engine, exits only
	policy := retry.DefaultPolicy(appLogger, alertSink)
	policy.MaxAttempts = cfg.Retry.MaxAttempts
	policy.BaseDelay = cfg.Retry.BaseDelay
	policy.RateLimitBaseDelay = cfg.Retry.RateLimitBaseDelay
	policy.MaxDelay = cfg.Retry.MaxDelay
	riskManager, err := risk.NewManager(cfg.Risk)
	if err != nil {
		return fmt.Errorf("failed to initialize risk manager: %w", err)
	}
	engine, err := execution.NewEngine(execution.Deps{
		Exchange:  binanceClient,
		Store:     repo,
		Risk:      riskManager,
		Snapshots: noEntries{},
		Policy:    policy,
		Alerts:    alertSink,
		Logger:    appLogger,
	}, cfg.Execution)
	if err != nil {
		return fmt.Errorf("failed to initialize execution engine: %w", err)
	}

	s := &seller{
		engine:      engine,
		prices:      binanceClient,
		alerts:      alertSink,
		logger:      appLogger,
		priceBucket: cfg.PriceBucket,
		keyWindow:   cfg.KeyWindow,
		now:         time.Now,
	}
	res, err := s.sellAll(ctx, only, dryRun)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d positions were not closed", res.Failed, res.Failed+res.Sold)
	}
	return nil
}

// exitEngine is the part of the execution engine sell_all drives.
type exitEngine interface {
	Restore(ctx context.Context) error
	Positions() []*domain.Position
	Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	Shutdown(ctx context.Context) error
}

type tickerSource interface {
	GetTicker(ctx context.Context, symbol string) (float64, error)
}

// noEntries refuses market snapshots; sell_all never enters a position.
type noEntries struct{}

func (noEntries) Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	return nil, fmt.Errorf("%w: entries are disabled in sell_all", ports.ErrValidationFailed)
}

type seller struct {
	engine      exitEngine
	prices      tickerSource
	alerts      ports.AlertSink
	logger      ports.Logger
	priceBucket float64
	keyWindow   time.Duration
	now         func() time.Time
}

type sellResult struct {
	Sold     int
	Failed   int
	Proceeds float64
}

// sellAll restores the engine, then sells each selected open position in full. A failure on
// one symbol does not stop the others.
func (s *seller) sellAll(ctx context.Context, only map[string]bool, dryRun bool) (sellResult, error) {
	var res sellResult
	if err := s.engine.Restore(ctx); err != nil {
		return res, fmt.Errorf("failed to restore execution state: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.engine.Shutdown(sctx); err != nil {
			s.logger.Error(sctx, err, "Execution engine did not shut down cleanly")
		}
	}()

	var targets []*domain.Position
	for _, p := range s.engine.Positions() {
		if len(only) == 0 || only[p.Symbol] {
			targets = append(targets, p)
		}
	}
	if len(targets) == 0 {
		s.logger.Info(ctx, "No open positions to sell")
		return res, nil
	}

	lines := []string{"🚨 Sell all initiated"}
	for _, p := range targets {
		lines = append(lines, fmt.Sprintf("%s: %.8f @ entry %.4f", p.Symbol, p.Quantity, p.EntryPrice))
	}
	if dryRun {
		s.logger.Info(ctx, "Dry run, no orders placed", map[string]interface{}{"positions": len(targets)})
		for _, l := range lines[1:] {
			fmt.Println(l)
		}
		return res, nil
	}
	s.alerts.Notify(ctx, strings.Join(lines, "\n"))

	report := []string{"🏁 Sell all finished"}
	for _, p := range targets {
		if ctx.Err() != nil {
			break
		}
		fields := map[string]interface{}{"symbol": p.Symbol, "quantity": p.Quantity}
		price, err := s.prices.GetTicker(ctx, p.Symbol)
		if err != nil {
			s.logger.Warn(ctx, "Ticker unavailable, keying exit on entry price", merge(fields, map[string]interface{}{"error": err.Error()}))
			price = p.EntryPrice
		}
		req := domain.OrderRequest{
			IdempotencyKey: domain.NewIdempotencyKey(p.Symbol, domain.Sell, price, s.priceBucket, s.keyWindow, s.now()),
			Symbol:         p.Symbol,
			Side:           domain.Sell,
			Quantity:       p.Quantity,
			CloseReason:    domain.CloseReasonManual,
		}
		out, err := s.engine.Execute(ctx, req)
		switch {
		case err != nil:
			res.Failed++
			s.logger.Error(ctx, err, "Failed to sell position", fields)
			report = append(report, fmt.Sprintf("❌ %s: %v", p.Symbol, err))
		case out.Status != domain.ResultFilled:
			res.Failed++
			s.logger.Warn(ctx, "Sell order not filled", merge(fields, map[string]interface{}{"status": out.Status}))
			report = append(report, fmt.Sprintf("❌ %s: %s", p.Symbol, out.Status))
		default:
			res.Sold++
			res.Proceeds += out.FilledQty * out.AvgPrice
			s.logger.Info(ctx, "Position sold", merge(fields, map[string]interface{}{"avgPrice": out.AvgPrice}))
			report = append(report, fmt.Sprintf("✅ %s: sold %.8f @ %.4f", p.Symbol, out.FilledQty, out.AvgPrice))
		}
	}
	report = append(report, fmt.Sprintf("Proceeds: %.2f", res.Proceeds))
	s.alerts.Notify(ctx, strings.Join(report, "\n"))
	return res, nil
}

func parseSymbols(v string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(v, ",") {
		if s := strings.ToUpper(strings.TrimSpace(part)); s != "" {
			out[s] = true
		}
	}
	return out
}

func merge(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
