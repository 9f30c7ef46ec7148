package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/retry"
	"cryptoSpotBot/internal/risk"
)

// MarketFeed is the part of the market data feed the service drives.
type MarketFeed interface {
	Subscribe(ctx context.Context, symbol string) error
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	RunJanitor(ctx context.Context) error
	Close(ctx context.Context) error
}

// Executor is the part of the execution engine the service drives.
type Executor interface {
	Restore(ctx context.Context) error
	Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	UpdateTrailingStop(ctx context.Context, symbol string, price float64) (bool, error)
	Position(symbol string) (*domain.Position, bool)
	Exposure() domain.ExposureLedger
	Shutdown(ctx context.Context) error
}

// Account reads balances from the exchange.
type Account interface {
	GetAccountBalances(ctx context.Context) (map[string]ports.Balance, error)
}

// TradeLog reads the append-only trade log.
type TradeLog interface {
	TradesSince(ctx context.Context, since time.Time) ([]domain.TradeRecord, error)
}

// Runner is a background component that serves until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Observer receives decision cycle outcomes for metrics.
type Observer interface {
	CycleOutcome(symbol, outcome string)
}

type nopObserver struct{}

func (nopObserver) CycleOutcome(string, string) {}

// Config holds the service settings.
type Config struct {
	Symbols         []string
	CycleInterval   time.Duration // Time between decision cycles
	QuoteAsset      string        // Asset entries are paid in
	PriceBucket     float64       // Price granularity of the idempotency key
	KeyWindow       time.Duration // Time granularity of the idempotency key
	MaxConcurrent   int           // Symbols evaluated in parallel within one cycle
	AlertRepeat     time.Duration // A fatal failure that persists is alerted again after this long
	ShutdownTimeout time.Duration
}

// Deps are the collaborators of a TradingService.
type Deps struct {
	Feed      MarketFeed
	Snapshots ports.SnapshotProvider
	Signal    ports.EntrySignal
	Risk      *risk.Manager
	Engine    Executor
	Account   Account
	Symbols   ports.SymbolMetadata
	Trades    TradeLog
	Policy    *retry.Policy
	Alerts    ports.AlertSink
	Logger    ports.Logger
	Observer  Observer // Optional
	Metrics   Runner   // Optional metrics/health server
	Status    Runner   // Optional periodic status reporter
}

// TradingService runs the periodic decision cycle over every configured symbol.
type TradingService struct {
	feed      MarketFeed
	snapshots ports.SnapshotProvider
	signal    ports.EntrySignal
	risk      *risk.Manager
	engine    Executor
	account   Account
	symbols   ports.SymbolMetadata
	trades    TradeLog
	policy    *retry.Policy
	alerts    ports.AlertSink
	logger    ports.Logger
	observer  Observer
	metrics   Runner
	status    Runner
	cfg       Config
	now       func() time.Time

	mu        sync.Mutex
	session   Session
	lastFatal map[string]fatalAlert // last alerted failure per symbol
}

type fatalAlert struct {
	class ports.ErrorClass
	at    time.Time
}

// Option configures a TradingService.
type Option func(*TradingService)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *TradingService) { s.now = now }
}

// NewTradingService creates a new application service instance.
func NewTradingService(deps Deps, cfg Config, opts ...Option) (*TradingService, error) {
	if deps.Feed == nil || deps.Snapshots == nil || deps.Signal == nil || deps.Risk == nil ||
		deps.Engine == nil || deps.Account == nil || deps.Symbols == nil || deps.Trades == nil || deps.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol must be configured")
	}
	if cfg.CycleInterval <= 0 {
		return nil, fmt.Errorf("cycle interval must be positive")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = len(cfg.Symbols)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.AlertRepeat <= 0 {
		cfg.AlertRepeat = 30 * time.Minute
	}

	s := &TradingService{
		feed:      deps.Feed,
		snapshots: deps.Snapshots,
		signal:    deps.Signal,
		risk:      deps.Risk,
		engine:    deps.Engine,
		account:   deps.Account,
		symbols:   deps.Symbols,
		trades:    deps.Trades,
		policy:    deps.Policy,
		alerts:    deps.Alerts,
		logger:    deps.Logger,
		observer:  deps.Observer,
		metrics:   deps.Metrics,
		status:    deps.Status,
		cfg:       cfg,
		now:       time.Now,
		lastFatal: make(map[string]fatalAlert),
	}
	if s.policy == nil {
		s.policy = retry.DefaultPolicy(deps.Logger, deps.Alerts)
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run restores execution state, subscribes every symbol and runs the decision loop, the cache
// janitor, the metrics server and the status monitor until ctx is canceled. Cleanup runs on
// the way out.
func (s *TradingService) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Trading Service...", map[string]interface{}{
		"symbols": s.cfg.Symbols, "interval": s.cfg.CycleInterval.String(),
	})

	// 1. Reconcile positions and in-flight orders left by the previous run
	if err := s.engine.Restore(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to restore execution state")
		s.notify(ctx, fmt.Sprintf("🚨 Trading service failed to start: execution state not restored: %v", err))
		return fmt.Errorf("failed to restore execution state: %w", err)
	}

	// 2. Start one supervised candle stream per symbol
	for _, symbol := range s.cfg.Symbols {
		if err := s.feed.Subscribe(ctx, symbol); err != nil {
			s.logger.Error(ctx, err, "Failed to subscribe to market data", map[string]interface{}{"symbol": symbol})
			return multierr.Combine(fmt.Errorf("failed to subscribe %s: %w", symbol, err), s.shutdown(ctx))
		}
	}

	// 3. Background workers and the decision loop
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.feed.RunJanitor(gctx) })
	if s.metrics != nil {
		g.Go(func() error {
			if err := s.metrics.Run(gctx); err != nil {
				s.logger.Error(gctx, err, "Metrics server stopped")
			}
			return nil
		})
	}
	if s.status != nil {
		g.Go(func() error { return s.status.Run(gctx) })
	}
	g.Go(func() error { return s.loop(gctx) })

	runErr := g.Wait()
	s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")
	if err := s.shutdown(ctx); err != nil {
		runErr = multierr.Append(runErr, err)
	}
	if runErr != nil {
		return runErr
	}
	s.logger.Info(ctx, "Trading Service stopped.")
	return nil
}

// shutdown stops the feed and the engine with a fresh deadline, since ctx is usually canceled.
func (s *TradingService) shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()

	var errs error
	if err := s.feed.Close(sctx); err != nil {
		s.logger.Error(sctx, err, "Market data feed did not close cleanly")
		errs = multierr.Append(errs, err)
	}
	if err := s.engine.Shutdown(sctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (s *TradingService) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle evaluates every symbol once. A day rollover first sends the previous day's summary.
func (s *TradingService) RunCycle(ctx context.Context) {
	s.rollover(ctx, s.now())

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, symbol := range s.cfg.Symbols {
		symbol := symbol
		g.Go(func() error {
			s.report(ctx, s.evaluate(ctx, symbol))
			return nil
		})
	}
	_ = g.Wait()
}

func (s *TradingService) notify(ctx context.Context, msg string) {
	if s.alerts != nil {
		s.alerts.Notify(ctx, msg)
	}
}

// balances fetches the quote balance and returns it with the account value (quote + committed).
func (s *TradingService) balances(ctx context.Context) (ports.Balance, float64, float64, error) {
	var all map[string]ports.Balance
	err := s.policy.Do(ctx, "GetAccountBalances", func(ctx context.Context) error {
		var err error
		all, err = s.account.GetAccountBalances(ctx)
		return err
	})
	if err != nil {
		return ports.Balance{}, 0, 0, err
	}
	quote := all[s.cfg.QuoteAsset]
	committed := s.engine.Exposure().Total()
	return quote, committed, quote.Total() + committed, nil
}
