// Package execution drives orders through Validated -> Submitted -> Confirmed | Rejected | TimedOut
// and keeps positions, the exposure ledger and the trade log in step with what the exchange filled.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/retry"
	"cryptoSpotBot/internal/risk"
)

// Observer receives execution events for metrics.
type Observer interface {
	OrderFinished(symbol, side, status string, elapsed time.Duration)
	CircuitState(open bool)
	Portfolio(openPositions int, committed float64)
}

type nopObserver struct{}

func (nopObserver) OrderFinished(string, string, string, time.Duration) {}
func (nopObserver) CircuitState(bool)                                   {}
func (nopObserver) Portfolio(int, float64)                              {}

// Config holds engine tuning.
type Config struct {
	OrderTimeout     time.Duration // How long to wait for a fill before canceling the remainder
	PollInterval     time.Duration // Sleep between order status polls
	FailureThreshold int           // Consecutive failures that open the circuit
	Cooldown         time.Duration // How long the circuit stays open
	QuoteAsset       string        // Asset entries are paid in, e.g. USDT
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		OrderTimeout:     60 * time.Second,
		PollInterval:     2 * time.Second,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		QuoteAsset:       "USDT",
	}
}

// Deps are the collaborators of an Engine.
type Deps struct {
	Exchange  ports.ExchangeAdapter
	Store     ports.PositionStore
	Risk      *risk.Manager
	Snapshots ports.SnapshotProvider
	Policy    *retry.Policy
	Alerts    ports.AlertSink
	Logger    ports.Logger
	Observer  Observer // Optional
}

// Engine executes order requests. Orders for one symbol are serialized; position and
// ledger mutations happen only inside the engine's critical section.
type Engine struct {
	exchange  ports.ExchangeAdapter
	store     ports.PositionStore
	risk      *risk.Manager
	snapshots ports.SnapshotProvider
	policy    *retry.Policy
	alerts    ports.AlertSink
	logger    ports.Logger
	observer  Observer
	cfg       Config
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	breaker   *breaker

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stateMu   sync.Mutex
	positions map[string]*domain.Position // open positions by symbol
	exposure  domain.ExposureLedger
	tracked   map[string]string // non-terminal idempotency keys submitted by this process -> symbol
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep overrides the poll sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// NewEngine validates dependencies and builds an engine with an empty state. Call Restore
// before the first Execute.
func NewEngine(deps Deps, cfg Config, opts ...Option) (*Engine, error) {
	if deps.Exchange == nil || deps.Store == nil || deps.Risk == nil || deps.Snapshots == nil || deps.Logger == nil {
		return nil, fmt.Errorf("NewEngine failed: %w: missing required dependencies", ports.ErrConfigurationError)
	}
	def := DefaultConfig()
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = def.OrderTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = def.QuoteAsset
	}

	e := &Engine{
		exchange:  deps.Exchange,
		store:     deps.Store,
		risk:      deps.Risk,
		snapshots: deps.Snapshots,
		policy:    deps.Policy,
		alerts:    deps.Alerts,
		logger:    deps.Logger,
		observer:  deps.Observer,
		cfg:       cfg,
		now:       time.Now,
		sleep:     sleepCtx,
		locks:     make(map[string]*sync.Mutex),
		positions: make(map[string]*domain.Position),
		exposure:  make(domain.ExposureLedger),
		tracked:   make(map[string]string),
	}
	if e.policy == nil {
		e.policy = retry.DefaultPolicy(deps.Logger, deps.Alerts)
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.breaker = newBreaker(cfg.FailureThreshold, cfg.Cooldown, func() time.Time { return e.now() }, e.observer.CircuitState)
	return e, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) notify(ctx context.Context, msg string) {
	if e.alerts != nil {
		e.alerts.Notify(ctx, msg)
	}
}

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}

func validateRequest(req domain.OrderRequest) error {
	switch {
	case req.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", ports.ErrInvalidRequest)
	case req.Symbol == "":
		return fmt.Errorf("%w: symbol is required", ports.ErrInvalidRequest)
	case req.Side != domain.Buy && req.Side != domain.Sell:
		return fmt.Errorf("%w: unsupported side %q", ports.ErrInvalidRequest, req.Side)
	case req.Quantity <= 0 || math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0):
		return fmt.Errorf("%w: quantity %v", ports.ErrInvalidRequest, req.Quantity)
	case req.LimitPrice < 0:
		return fmt.Errorf("%w: limit price %v", ports.ErrInvalidRequest, req.LimitPrice)
	}
	return nil
}

// Execute runs a request to a terminal state. Retrying with the same idempotency key never
// produces a second fill: a confirmed order returns its stored result and a submitted one is
// reconciled against the exchange.
//
// Gate rejections return ErrValidationFailed without touching the exchange. An order that does
// not fill within OrderTimeout returns a TimedOut result with a nil error.
func (e *Engine) Execute(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	op := "Execute"
	if err := validateRequest(req); err != nil {
		return domain.OrderResult{}, fmt.Errorf("%s failed: %w", op, err)
	}
	if err := e.breaker.allow(); err != nil {
		e.logger.Warn(ctx, op+": circuit open, rejecting request", map[string]interface{}{
			"symbol": req.Symbol, "side": req.Side, "key": req.IdempotencyKey,
		})
		return domain.OrderResult{}, fmt.Errorf("%s failed: %w", op, err)
	}

	lock := e.symbolLock(req.Symbol)
	lock.Lock()
	defer lock.Unlock()

	start := e.now()
	res, err := e.execute(ctx, req)
	e.breaker.record(classifyOutcome(err))

	if res.Status != "" {
		e.observer.OrderFinished(req.Symbol, string(req.Side), string(res.Status), e.now().Sub(start))
	}
	if err != nil {
		return res, fmt.Errorf("%s failed: %w", op, err)
	}
	return res, nil
}

func (e *Engine) execute(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	op := "execute"
	fields := map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity, "key": req.IdempotencyKey}

	rec, err := e.store.FindOrder(ctx, req.IdempotencyKey)
	if err != nil {
		return domain.OrderResult{}, err
	}
	if rec != nil {
		switch {
		case rec.State.IsTerminal():
			e.logger.Info(ctx, op+": returning stored result for replayed request", fields)
			return rec.Result(), nil
		case rec.State == domain.OrderSubmitted:
			e.logger.Info(ctx, op+": reconciling previously submitted order", fields)
			return e.resume(ctx, rec)
		}
		// Validated but never confirmed as submitted: the gates run again below.
	}

	if err := e.settlePending(ctx, req); err != nil {
		return domain.OrderResult{}, err
	}
	if err := e.policy.Do(ctx, "Ping", e.exchange.Ping); err != nil {
		return domain.OrderResult{}, err
	}

	switch req.Side {
	case domain.Buy:
		err = e.checkEntry(ctx, req)
	case domain.Sell:
		err = e.checkExit(req)
	}
	if err != nil {
		e.logger.Info(ctx, op+": request rejected by gates", merge(fields, map[string]interface{}{"reason": err.Error()}))
		if rec != nil {
			if uerr := e.store.UpdateStatus(ctx, rec.Request.IdempotencyKey, domain.OrderRejected); uerr != nil {
				return domain.OrderResult{}, uerr
			}
		}
		return domain.OrderResult{}, err
	}

	resumed := rec != nil
	if rec == nil {
		if req.CreatedAt.IsZero() {
			req.CreatedAt = e.now().UTC()
		}
		rec = &domain.OrderRecord{Request: req, State: domain.OrderValidated, UpdatedAt: e.now().UTC()}
		if err := e.store.SaveOrder(ctx, rec); err != nil {
			return domain.OrderResult{}, err
		}
	}

	order, err := e.submit(ctx, rec, resumed)
	if err != nil {
		if ports.Classify(err) == ports.ClassBusiness {
			e.logger.Warn(ctx, op+": order rejected by exchange", merge(fields, map[string]interface{}{"error": err.Error()}))
			rec.State = domain.OrderRejected
			rec.UpdatedAt = e.now().UTC()
			if serr := e.store.SaveOrder(ctx, rec); serr != nil {
				return domain.OrderResult{}, errors.Join(err, serr)
			}
			return rec.Result(), err
		}
		// Transport exhaustion or cancellation: the order may or may not exist. It stays Validated
		// and the next request for the symbol, or Restore, settles it before anything else is placed.
		e.logger.Warn(ctx, op+": submission outcome unknown, symbol blocked until reconciled", merge(fields, map[string]interface{}{"error": err.Error()}))
		return domain.OrderResult{}, err
	}
	return e.await(ctx, rec, order)
}

// checkEntry re-runs every entry gate against fresh data.
func (e *Engine) checkEntry(ctx context.Context, req domain.OrderRequest) error {
	now := e.now()
	cfg := e.risk.Config()

	since := risk.DayStart(now)
	if back := now.Add(-cfg.MinTradeInterval); back.Before(since) {
		since = back
	}
	trades, err := e.store.TradesSince(ctx, since)
	if err != nil {
		return err
	}

	var balances map[string]ports.Balance
	if err := e.policy.Do(ctx, "GetAccountBalances", func(ctx context.Context) error {
		var err error
		balances, err = e.exchange.GetAccountBalances(ctx)
		return err
	}); err != nil {
		return err
	}
	quote := balances[e.cfg.QuoteAsset]

	e.stateMu.Lock()
	_, hasOpen := e.positions[req.Symbol]
	committed := e.exposure.Total()
	e.stateMu.Unlock()
	accountValue := quote.Total() + committed

	if g := e.risk.CanTradeNow(req.Symbol, trades, accountValue, now); !g.Passed {
		return g.Err()
	}
	if hasOpen {
		return fmt.Errorf("%w: position already open for %s", ports.ErrValidationFailed, req.Symbol)
	}

	snap, err := e.snapshots.Snapshot(ctx, req.Symbol)
	if err != nil {
		return err
	}
	if d := e.risk.ValidateEntry(snap, req.Quantity); !d.Allowed {
		return d.Err()
	}

	price := req.LimitPrice
	if price <= 0 {
		price = snap.Price
	}
	notional := req.Quantity * price
	if limit := accountValue * cfg.MaxExposureFraction; committed+notional > limit {
		return fmt.Errorf("%w: exposure %.4f + %.4f exceeds cap %.4f", ports.ErrValidationFailed, committed, notional, limit)
	}
	if notional > quote.Free {
		return fmt.Errorf("%w: need %.4f %s, have %.4f", ports.ErrInsufficientFunds, notional, e.cfg.QuoteAsset, quote.Free)
	}
	return nil
}

// checkExit requires an open position large enough for the request.
func (e *Engine) checkExit(req domain.OrderRequest) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	pos, ok := e.positions[req.Symbol]
	if !ok {
		return fmt.Errorf("%w: no open position for %s", ports.ErrValidationFailed, req.Symbol)
	}
	if req.Quantity > pos.Quantity*(1+1e-9) {
		return fmt.Errorf("%w: exit quantity %v exceeds position %v", ports.ErrValidationFailed, req.Quantity, pos.Quantity)
	}
	return nil
}

// submit places the order as one retryable unit. After a failed attempt, or when resuming a
// persisted request, the exchange is asked for the client order id first so a request that
// already reached it is never placed twice.
func (e *Engine) submit(ctx context.Context, rec *domain.OrderRecord, resumed bool) (*ports.ExchangeOrder, error) {
	op := "submit"
	req := rec.Request
	lookup := resumed

	var order *ports.ExchangeOrder
	err := e.policy.Do(ctx, "SubmitOrder", func(ctx context.Context) error {
		if lookup {
			existing, err := e.exchange.GetOrder(ctx, req.Symbol, req.IdempotencyKey)
			switch {
			case err == nil:
				e.logger.Info(ctx, op+": order already on the exchange, not resubmitting", map[string]interface{}{
					"key": req.IdempotencyKey, "orderID": existing.OrderID,
				})
				order = existing
				return nil
			case !errors.Is(err, ports.ErrOrderNotFound):
				return err
			}
		}
		lookup = true
		placed, err := e.exchange.SubmitOrder(ctx, req)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		return nil, err
	}

	rec.State = domain.OrderSubmitted
	rec.ExchangeOrderID = order.OrderID
	rec.UpdatedAt = e.now().UTC()
	e.track(req.IdempotencyKey, req.Symbol)
	if err := e.store.SaveOrder(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.Info(ctx, op+": order submitted", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "quantity": req.Quantity, "key": req.IdempotencyKey, "orderID": order.OrderID,
	})
	return order, nil
}

// resume continues a Submitted order found in the store.
func (e *Engine) resume(ctx context.Context, rec *domain.OrderRecord) (domain.OrderResult, error) {
	order, err := e.lookupOrder(ctx, rec.Request)
	if errors.Is(err, ports.ErrOrderNotFound) {
		return e.finish(ctx, rec, domain.OrderRejected)
	}
	if err != nil {
		return domain.OrderResult{}, err
	}
	e.track(rec.Request.IdempotencyKey, rec.Request.Symbol)
	return e.await(ctx, rec, order)
}

// await polls until the order is terminal or OrderTimeout passes, then cancels the remainder.
func (e *Engine) await(ctx context.Context, rec *domain.OrderRecord, order *ports.ExchangeOrder) (domain.OrderResult, error) {
	op := "await"
	deadline := e.now().Add(e.cfg.OrderTimeout)
	for {
		if !order.Status.IsOpen() {
			return e.settle(ctx, rec, order, false)
		}
		if !e.now().Before(deadline) {
			e.logger.Warn(ctx, op+": order not filled in time, canceling remainder", map[string]interface{}{
				"key": rec.Request.IdempotencyKey, "orderID": order.OrderID, "executedQty": order.ExecutedQty,
			})
			final, err := e.cancelRemainder(ctx, rec.Request, order)
			if err != nil {
				return domain.OrderResult{}, err
			}
			return e.settle(ctx, rec, final, true)
		}
		if err := e.sleep(ctx, e.cfg.PollInterval); err != nil {
			return domain.OrderResult{}, fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
		}
		next, err := e.lookupOrder(ctx, rec.Request)
		if err != nil {
			return domain.OrderResult{}, err
		}
		order = next
	}
}

func (e *Engine) lookupOrder(ctx context.Context, req domain.OrderRequest) (*ports.ExchangeOrder, error) {
	var order *ports.ExchangeOrder
	err := e.policy.Do(ctx, "GetOrder", func(ctx context.Context) error {
		var err error
		order, err = e.exchange.GetOrder(ctx, req.Symbol, req.IdempotencyKey)
		return err
	})
	return order, err
}

// cancelRemainder cancels an open order and returns its final state.
func (e *Engine) cancelRemainder(ctx context.Context, req domain.OrderRequest, order *ports.ExchangeOrder) (*ports.ExchangeOrder, error) {
	if err := e.cancelOrderWarn(ctx, req.Symbol, order.OrderID); err != nil {
		return nil, err
	}
	final, err := e.lookupOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	return final, nil
}

// cancelOrderWarn cancels an order, treating an unknown order as already gone.
func (e *Engine) cancelOrderWarn(ctx context.Context, symbol string, orderID int64) error {
	op := "cancelOrderWarn"
	err := e.policy.Do(ctx, "CancelOrder", func(ctx context.Context) error {
		return e.exchange.CancelOrder(ctx, symbol, orderID)
	})
	if err != nil {
		if errors.Is(err, ports.ErrOrderNotFound) {
			e.logger.Warn(ctx, op+": order not found, likely already filled or canceled", map[string]interface{}{"symbol": symbol, "orderID": orderID})
			return nil
		}
		e.logger.Error(ctx, err, op+": failed to cancel order", map[string]interface{}{"symbol": symbol, "orderID": orderID})
		return err
	}
	e.logger.Info(ctx, op+": order canceled", map[string]interface{}{"symbol": symbol, "orderID": orderID})
	return nil
}

func (e *Engine) track(key, symbol string) {
	e.stateMu.Lock()
	e.tracked[key] = symbol
	e.stateMu.Unlock()
}

// Positions returns copies of the open positions, ordered by symbol.
func (e *Engine) Positions() []*domain.Position {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := make([]*domain.Position, 0, len(e.positions))
	for _, p := range e.positions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns a copy of the open position for symbol.
func (e *Engine) Position(symbol string) (*domain.Position, bool) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	p, ok := e.positions[symbol]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Exposure returns a copy of the exposure ledger.
func (e *Engine) Exposure() domain.ExposureLedger {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.exposure.Clone()
}

// CircuitOpen reports whether Execute is currently rejecting calls.
func (e *Engine) CircuitOpen() bool {
	return e.breaker.isOpen()
}

// UpdateTrailingStop ratchets the trailing stop of the symbol's open position and persists it.
// It reports whether the stop moved.
func (e *Engine) UpdateTrailingStop(ctx context.Context, symbol string, price float64) (bool, error) {
	lock := e.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return false, nil
	}
	next := *pos
	if !e.risk.UpdateTrailingStop(&next, price) {
		return false, nil
	}
	next.LastUpdatedAt = e.now().UTC()
	if err := e.store.SavePosition(ctx, &next); err != nil {
		return false, err
	}
	e.positions[symbol] = &next
	e.logger.Info(ctx, "Trailing stop raised", map[string]interface{}{
		"symbol": symbol, "price": price, "trailingStop": next.TrailingStopPrice,
	})
	return true, nil
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
