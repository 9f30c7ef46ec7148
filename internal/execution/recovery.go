package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/multierr"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// ledgerTolerance is the per-symbol notional difference accepted when comparing ledgers.
const ledgerTolerance = 1e-6

// Restore rebuilds positions and the exposure ledger from the store, then settles every order
// left in flight by a previous run: filled orders are applied, open orders are canceled and
// recorded as timed out, and orders unknown to the exchange are rejected.
func (e *Engine) Restore(ctx context.Context) error {
	op := "Restore"
	positions, err := e.store.LoadOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	persisted, err := e.store.LoadExposure(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	rebuilt := domain.NewExposureLedger(positions)
	if diff := ledgerDiff(rebuilt, persisted); len(diff) > 0 {
		e.logger.Warn(ctx, op+": persisted exposure ledger differs from open positions, using positions", map[string]interface{}{
			"symbols": diff, "rebuilt": rebuilt.Total(), "persisted": persisted.Total(),
		})
		e.notify(ctx, fmt.Sprintf("⚠️ Exposure ledger mismatch on restore for %v; rebuilt from open positions.", diff))
	}

	e.stateMu.Lock()
	e.positions = make(map[string]*domain.Position, len(positions))
	for _, p := range positions {
		e.positions[p.Symbol] = p
	}
	e.exposure = rebuilt
	e.observer.Portfolio(len(e.positions), rebuilt.Total())
	e.stateMu.Unlock()

	inflight, err := e.store.LoadInFlightOrders(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	var errs error
	for _, rec := range inflight {
		if err := e.reconcile(ctx, rec); err != nil {
			e.logger.Error(ctx, err, op+": failed to reconcile order", map[string]interface{}{"key": rec.Request.IdempotencyKey})
			errs = multierr.Append(errs, err)
		}
	}

	e.logger.Info(ctx, op+": state restored", map[string]interface{}{
		"openPositions": len(positions), "exposure": rebuilt.Total(), "inFlightOrders": len(inflight),
	})
	if errs != nil {
		return fmt.Errorf("%s failed: %w", op, errs)
	}
	return nil
}

// reconcile settles one in-flight order against the exchange.
func (e *Engine) reconcile(ctx context.Context, rec *domain.OrderRecord) error {
	lock := e.symbolLock(rec.Request.Symbol)
	lock.Lock()
	defer lock.Unlock()
	return e.reconcileLocked(ctx, rec)
}

// settlePending reconciles every other unresolved order of req's symbol before req is placed.
// While the exchange cannot say what became of such an order, no new order goes out for the
// symbol. The caller holds the symbol lock.
func (e *Engine) settlePending(ctx context.Context, req domain.OrderRequest) error {
	inflight, err := e.store.LoadInFlightOrders(ctx)
	if err != nil {
		return err
	}
	for _, rec := range inflight {
		if rec.Request.Symbol != req.Symbol || rec.Request.IdempotencyKey == req.IdempotencyKey {
			continue
		}
		e.logger.Info(ctx, "settlePending: reconciling unresolved order", map[string]interface{}{
			"symbol": req.Symbol, "key": rec.Request.IdempotencyKey, "state": rec.State, "next": req.IdempotencyKey,
		})
		if err := e.reconcileLocked(ctx, rec); err != nil {
			return fmt.Errorf("unresolved order %s for %s: %w", rec.Request.IdempotencyKey, req.Symbol, err)
		}
	}
	return nil
}

func (e *Engine) reconcileLocked(ctx context.Context, rec *domain.OrderRecord) error {
	order, err := e.lookupOrder(ctx, rec.Request)
	if errors.Is(err, ports.ErrOrderNotFound) {
		_, err = e.finish(ctx, rec, domain.OrderRejected)
		return err
	}
	if err != nil {
		return err
	}

	timedOut := false
	if order.Status.IsOpen() {
		order, err = e.cancelRemainder(ctx, rec.Request, order)
		if err != nil {
			return err
		}
		timedOut = true
	}
	_, err = e.settle(ctx, rec, order, timedOut)
	if errors.Is(err, ports.ErrOrderPlacementFailed) {
		return nil // recorded as rejected
	}
	return err
}

func ledgerDiff(a, b domain.ExposureLedger) []string {
	seen := make(map[string]struct{})
	var diff []string
	check := func(symbol string) {
		if _, ok := seen[symbol]; ok {
			return
		}
		seen[symbol] = struct{}{}
		if math.Abs(a[symbol]-b[symbol]) > ledgerTolerance {
			diff = append(diff, symbol)
		}
	}
	for s := range a {
		check(s)
	}
	for s := range b {
		check(s)
	}
	sort.Strings(diff)
	return diff
}

// Shutdown cancels exchange-side open orders this process submitted and flushes the store.
// Orders left Submitted are settled by the next Restore. All errors are returned combined.
func (e *Engine) Shutdown(ctx context.Context) error {
	op := "Shutdown"
	e.stateMu.Lock()
	bySymbol := make(map[string]map[string]struct{})
	for key, symbol := range e.tracked {
		if bySymbol[symbol] == nil {
			bySymbol[symbol] = make(map[string]struct{})
		}
		bySymbol[symbol][key] = struct{}{}
	}
	e.stateMu.Unlock()

	var errs error
	for symbol, keys := range bySymbol {
		var open []*ports.ExchangeOrder
		err := e.policy.Do(ctx, "GetOpenOrders", func(ctx context.Context) error {
			var err error
			open, err = e.exchange.GetOpenOrders(ctx, symbol)
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, o := range open {
			if _, ours := keys[o.ClientOrderID]; !ours {
				continue
			}
			errs = multierr.Append(errs, e.cancelOrderWarn(ctx, symbol, o.OrderID))
		}
	}

	errs = multierr.Append(errs, e.store.Flush(ctx))
	if errs != nil {
		e.logger.Error(ctx, errs, op+": completed with errors")
		return fmt.Errorf("%s failed: %w", op, errs)
	}
	e.logger.Info(ctx, op+": execution engine stopped", map[string]interface{}{"trackedSymbols": len(bySymbol)})
	return nil
}
