package execution

import (
	"context"
	"fmt"
	"math"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// qtyEpsilon is the relative remainder below which a position counts as fully exited.
const qtyEpsilon = 1e-9

// settle maps the exchange's final view of an order onto a terminal state.
// timedOut is set when the engine canceled the remainder itself.
func (e *Engine) settle(ctx context.Context, rec *domain.OrderRecord, order *ports.ExchangeOrder, timedOut bool) (domain.OrderResult, error) {
	rec.ExchangeOrderID = order.OrderID

	if order.ExecutedQty <= 0 {
		state := domain.OrderRejected
		if timedOut {
			state = domain.OrderTimedOut
		}
		res, err := e.finish(ctx, rec, state)
		if err != nil {
			return res, err
		}
		if order.Status == ports.ExchangeOrderRejected {
			return res, fmt.Errorf("%w: exchange rejected order %d", ports.ErrOrderPlacementFailed, order.OrderID)
		}
		return res, nil
	}

	state := domain.OrderConfirmed
	if timedOut && order.Status != ports.ExchangeOrderFilled {
		state = domain.OrderTimedOut
	}
	return e.applyFill(ctx, rec, order, state)
}

// finish records a terminal state for an order that filled nothing.
func (e *Engine) finish(ctx context.Context, rec *domain.OrderRecord, state domain.OrderState) (domain.OrderResult, error) {
	rec.State = state
	rec.UpdatedAt = e.now().UTC()
	if err := e.store.SaveOrder(ctx, rec); err != nil {
		return domain.OrderResult{}, err
	}
	e.stateMu.Lock()
	delete(e.tracked, rec.Request.IdempotencyKey)
	e.stateMu.Unlock()

	e.logger.Info(ctx, "Order finished without fill", map[string]interface{}{
		"symbol": rec.Request.Symbol, "key": rec.Request.IdempotencyKey, "state": state,
	})
	return rec.Result(), nil
}

func fillPrice(rec *domain.OrderRecord, order *ports.ExchangeOrder) float64 {
	if p := order.AvgPrice(); p > 0 {
		return p
	}
	if order.Price > 0 {
		return order.Price
	}
	return rec.Request.LimitPrice
}

// applyFill persists the order, position, trade and ledger of a fill in one store transaction,
// then swaps the in-memory state. Nothing in memory changes when the store fails.
func (e *Engine) applyFill(ctx context.Context, rec *domain.OrderRecord, order *ports.ExchangeOrder, state domain.OrderState) (domain.OrderResult, error) {
	op := "applyFill"
	req := rec.Request
	qty := order.ExecutedQty
	price := fillPrice(rec, order)
	if price <= 0 {
		err := fmt.Errorf("%s: %w: no fill price for order %d", op, ports.ErrInvalidRequest, order.OrderID)
		e.logger.Error(ctx, err, op+": cannot record fill", map[string]interface{}{"key": req.IdempotencyKey})
		e.notify(ctx, fmt.Sprintf("🚨 %s %s filled %.8f but no fill price was reported (key %s). Manual check required.",
			req.Symbol, req.Side, qty, req.IdempotencyKey))
		return domain.OrderResult{}, err
	}
	now := e.now().UTC()

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	ledger := e.exposure.Clone()
	trade := domain.TradeRecord{
		Timestamp: now,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  qty,
		Price:     price,
		OrderKey:  req.IdempotencyKey,
	}

	var pos *domain.Position
	existing, hasExisting := e.positions[req.Symbol]
	switch req.Side {
	case domain.Buy:
		if hasExisting {
			next := *existing
			total := next.Quantity + qty
			next.EntryPrice = (next.EntryPrice*next.Quantity + price*qty) / total
			next.Quantity = total
			next.LastUpdatedAt = now
			pos = &next
		} else {
			stop, tp := req.StopLoss, req.TakeProfit
			if stop <= 0 {
				stop = e.risk.StopLossFor(price)
			}
			if tp <= 0 {
				tp = e.risk.TakeProfitFor(price)
			}
			pos = &domain.Position{
				Symbol:        req.Symbol,
				Side:          domain.Buy,
				Quantity:      qty,
				EntryPrice:    price,
				StopLoss:      stop,
				TakeProfit:    tp,
				OpenedAt:      now,
				LastUpdatedAt: now,
				Status:        domain.StatusOpen,
				EntryOrderKey: req.IdempotencyKey,
			}
		}
	case domain.Sell:
		if !hasExisting {
			e.logger.Error(ctx, fmt.Errorf("sell fill without open position"), op+": recording trade only",
				map[string]interface{}{"symbol": req.Symbol, "key": req.IdempotencyKey})
			e.notify(ctx, fmt.Sprintf("⚠️ %s sell of %.8f filled with no open position on record (key %s).",
				req.Symbol, qty, req.IdempotencyKey))
			break
		}
		next := *existing
		sold := math.Min(qty, next.Quantity)
		profit := (price - next.EntryPrice) * sold
		trade.Profit = profit
		next.PNL += profit
		next.LastUpdatedAt = now
		if remaining := next.Quantity - sold; remaining > next.Quantity*qtyEpsilon {
			next.Quantity = remaining
		} else {
			reason := req.CloseReason
			if reason == "" {
				reason = domain.CloseReasonUnknown
			}
			next.Status = domain.StatusClosed
			next.ExitPrice = price
			next.ClosedAt = now
			next.CloseReason = reason
			trade.CloseReason = reason
		}
		pos = &next
	}

	if pos != nil {
		if pos.IsOpen() {
			ledger.Set(pos.Symbol, pos.Notional())
		} else {
			ledger.Set(pos.Symbol, 0)
		}
	}

	rec.State = state
	rec.ExchangeOrderID = order.OrderID
	rec.FilledQty = qty
	rec.AvgPrice = price
	rec.UpdatedAt = now

	fill := &ports.Fill{Order: *rec, Position: pos, Trade: trade, Exposure: ledger}
	if err := e.store.ApplyFill(ctx, fill); err != nil {
		e.logger.Error(ctx, err, op+": fill not persisted", map[string]interface{}{
			"symbol": req.Symbol, "key": req.IdempotencyKey, "qty": qty, "price": price,
		})
		e.notify(ctx, fmt.Sprintf("🚨 %s %s %.8f @ %.4f filled on the exchange but could not be persisted: %v",
			req.Symbol, req.Side, qty, price, err))
		return domain.OrderResult{}, err
	}

	if pos != nil {
		if pos.IsOpen() {
			e.positions[pos.Symbol] = pos
		} else {
			delete(e.positions, pos.Symbol)
		}
	}
	e.exposure = ledger
	delete(e.tracked, req.IdempotencyKey)
	e.observer.Portfolio(len(e.positions), ledger.Total())

	e.logger.Info(ctx, "Order filled", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "qty": qty, "price": price, "state": state,
		"profit": trade.Profit, "exposure": ledger.Total(),
	})
	return rec.Result(), nil
}
