package app

import (
	"context"
	"fmt"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/risk"
)

// Decision cycle outcomes, as exported to metrics.
const (
	OutcomeEntry    = "entry"
	OutcomeExit     = "exit"
	OutcomeHold     = "hold"
	OutcomeNoSignal = "no_signal"
	OutcomeNoData   = "no_data"
	OutcomeSkipped  = "skipped"
	OutcomeUnfilled = "unfilled"
	OutcomeCanceled = "canceled"
	OutcomeFailed   = "failed"
)

// CycleResult is what one symbol's decision cycle did.
type CycleResult struct {
	Symbol  string
	Outcome string
	Reason  string
	Err     error
	Order   *domain.OrderResult
	Fields  map[string]interface{}
}

func (r CycleResult) conclude(outcome, reason string, fields ...map[string]interface{}) CycleResult {
	r.Outcome, r.Reason = outcome, reason
	for _, f := range fields {
		r.Fields = merge(r.Fields, f)
	}
	return r
}

// withError maps err onto an outcome: missing data and risk rejections skip the cycle,
// cancellation ends it quietly and everything else fails it.
func (r CycleResult) withError(err error, reason string) CycleResult {
	r.Err, r.Reason = err, reason
	switch ports.Classify(err) {
	case ports.ClassDataUnavailable:
		r.Outcome = OutcomeNoData
	case ports.ClassValidation:
		r.Outcome = OutcomeSkipped
	case ports.ClassCanceled:
		r.Outcome = OutcomeCanceled
	default:
		r.Outcome = OutcomeFailed
	}
	return r
}

// evaluate runs one decision cycle for symbol. It never logs; report does.
func (s *TradingService) evaluate(ctx context.Context, symbol string) CycleResult {
	res := CycleResult{Symbol: symbol, Fields: map[string]interface{}{"symbol": symbol}}
	now := s.now()

	price, err := s.feed.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return res.withError(err, "no current price")
	}
	res.Fields["price"] = price

	snap, snapErr := s.snapshots.Snapshot(ctx, symbol)
	if _, open := s.engine.Position(symbol); open {
		if snapErr != nil {
			// Price-based exits still apply without indicators.
			res.Fields["snapshotError"] = snapErr.Error()
			snap = nil
		}
		return s.manage(ctx, res, price, snap, now)
	}
	if snapErr != nil {
		return res.withError(snapErr, "no market snapshot")
	}
	return s.enter(ctx, res, price, snap, now)
}

// manage ratchets the trailing stop of an open position and closes it when an exit triggers.
func (s *TradingService) manage(ctx context.Context, res CycleResult, price float64, snap *domain.MarketSnapshot, now time.Time) CycleResult {
	symbol := res.Symbol
	if _, err := s.engine.UpdateTrailingStop(ctx, symbol, price); err != nil {
		return res.withError(err, "trailing stop not persisted")
	}
	pos, ok := s.engine.Position(symbol)
	if !ok {
		return res.conclude(OutcomeSkipped, "position closed during cycle")
	}
	res.Fields["unrealizedPnl"] = pos.UnrealizedPNL(price)
	res.Fields["stop"] = pos.EffectiveStop()

	exit := s.risk.ComputeExit(pos, price, snap, now)
	if !exit.Exit {
		return res.conclude(OutcomeHold, "no exit condition")
	}
	res.Fields["closeReason"] = exit.Reason
	res.Fields["exitDetail"] = exit.Detail

	req := domain.OrderRequest{
		IdempotencyKey: domain.NewIdempotencyKey(symbol, domain.Sell, price, s.cfg.PriceBucket, s.cfg.KeyWindow, now),
		Symbol:         symbol,
		Side:           domain.Sell,
		Quantity:       pos.Quantity,
		CloseReason:    exit.Reason,
		CreatedAt:      now.UTC(),
	}
	return s.execute(ctx, res, req, OutcomeExit)
}

// enter runs the entry pipeline: trade cadence, entry signal, sizing, entry gates and
// risk-reward, then submits a market buy.
func (s *TradingService) enter(ctx context.Context, res CycleResult, price float64, snap *domain.MarketSnapshot, now time.Time) CycleResult {
	symbol := res.Symbol
	quote, committed, accountValue, err := s.balances(ctx)
	if err != nil {
		return res.withError(err, "account balance unavailable")
	}
	s.mu.Lock()
	s.session.AccountValue = accountValue
	s.mu.Unlock()
	res.Fields["quoteFree"] = quote.Free
	res.Fields["accountValue"] = accountValue

	since := risk.DayStart(now)
	if gap := s.risk.Config().MinTradeInterval; gap > 0 && now.Add(-gap).Before(since) {
		since = now.Add(-gap)
	}
	trades, err := s.trades.TradesSince(ctx, since)
	if err != nil {
		return res.withError(err, "trade log unavailable")
	}
	if gate := s.risk.CanTradeNow(symbol, trades, accountValue, now); !gate.Passed {
		return res.conclude(OutcomeSkipped, gate.Reason, gate.Fields())
	}

	if snap == nil || !snap.Ready {
		return res.conclude(OutcomeNoData, "insufficient candle history")
	}
	if !s.signal.ShouldEnter(ctx, snap) {
		return res.conclude(OutcomeNoSignal, "entry conditions not met")
	}

	info, err := s.symbols.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return res.withError(err, "symbol filters unavailable")
	}
	qty, sizing, err := s.risk.SizePosition(accountValue, committed, price, snap, info)
	if err != nil {
		return res.withError(err, "position sizing rejected")
	}
	res.Fields["qty"] = qty
	res.Fields["volatilityFactor"] = sizing.VolatilityFactor
	res.Fields["impactFactor"] = sizing.ImpactFactor

	if decision := s.risk.ValidateEntry(snap, qty); !decision.Allowed {
		gate, _ := decision.Failed()
		res = res.withError(decision.Err(), "entry gate failed")
		res.Fields = merge(res.Fields, gate.Fields())
		return res
	}
	stop, takeProfit := s.risk.StopLossFor(price), s.risk.TakeProfitFor(price)
	if rr := s.risk.CheckRiskReward(price, stop, takeProfit); !rr.Passed {
		res = res.withError(rr.Err(), "risk-reward too low")
		res.Fields = merge(res.Fields, rr.Fields())
		return res
	}

	req := domain.OrderRequest{
		IdempotencyKey: domain.NewIdempotencyKey(symbol, domain.Buy, price, s.cfg.PriceBucket, s.cfg.KeyWindow, now),
		Symbol:         symbol,
		Side:           domain.Buy,
		Quantity:       qty,
		StopLoss:       stop,
		TakeProfit:     takeProfit,
		CreatedAt:      now.UTC(),
	}
	return s.execute(ctx, res, req, OutcomeEntry)
}

func (s *TradingService) execute(ctx context.Context, res CycleResult, req domain.OrderRequest, filled string) CycleResult {
	res.Fields["key"] = req.IdempotencyKey
	res.Fields["side"] = req.Side
	result, err := s.engine.Execute(ctx, req)
	if result.IdempotencyKey != "" {
		res.Order = &result
		res.Fields["status"] = result.Status
		res.Fields["filledQty"] = result.FilledQty
		res.Fields["avgPrice"] = result.AvgPrice
	}
	if err != nil {
		return res.withError(err, "order execution failed")
	}

	switch {
	case result.Status == domain.ResultFilled:
		return res.conclude(filled, "")
	case result.Status == domain.ResultTimedOut && result.FilledQty > 0:
		return res.conclude(filled, "partially filled before timeout")
	case result.Status == domain.ResultTimedOut:
		return res.conclude(OutcomeUnfilled, "order timed out without a fill")
	default:
		return res.conclude(OutcomeUnfilled, "order rejected by the exchange")
	}
}

// report writes exactly one log line for the cycle and raises one alert per run of fatal failures.
func (s *TradingService) report(ctx context.Context, res CycleResult) {
	s.observer.CycleOutcome(res.Symbol, res.Outcome)

	fields := res.Fields
	if res.Reason != "" {
		fields = merge(fields, map[string]interface{}{"reason": res.Reason})
	}
	if res.Err != nil && res.Outcome != OutcomeFailed {
		fields = merge(fields, map[string]interface{}{"error": res.Err.Error()})
	}

	switch res.Outcome {
	case OutcomeEntry:
		s.logger.Info(ctx, "Position entered", fields)
	case OutcomeExit:
		s.logger.Info(ctx, "Position exited", fields)
	case OutcomeHold:
		s.logger.Debug(ctx, "Holding position", fields)
	case OutcomeCanceled:
		s.logger.Debug(ctx, "Decision cycle canceled", fields)
	case OutcomeUnfilled:
		s.logger.Warn(ctx, "Order not filled", fields)
	case OutcomeFailed:
		s.logger.Error(ctx, res.Err, "Decision cycle failed", fields)
	default:
		s.logger.Info(ctx, "Decision cycle skipped", fields)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Outcome != OutcomeFailed {
		delete(s.lastFatal, res.Symbol)
		return
	}
	class := ports.Classify(res.Err)
	if !class.Fatal() {
		return
	}
	now := s.now()
	if last, ok := s.lastFatal[res.Symbol]; ok && last.class == class && now.Sub(last.at) < s.cfg.AlertRepeat {
		return
	}
	s.lastFatal[res.Symbol] = fatalAlert{class: class, at: now}
	s.notify(ctx, fmt.Sprintf("🚨 %s decision cycle failed (%s): %s: %v", res.Symbol, class, res.Reason, res.Err))
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
