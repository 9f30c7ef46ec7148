package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderState is a step of the order state machine:
// Validated -> Submitted -> Confirmed | Rejected | TimedOut.
type OrderState string

const (
	OrderValidated OrderState = "VALIDATED"
	OrderSubmitted OrderState = "SUBMITTED"
	OrderConfirmed OrderState = "CONFIRMED"
	OrderRejected  OrderState = "REJECTED"
	OrderTimedOut  OrderState = "TIMED_OUT"
)

// IsTerminal reports whether no further transition is possible.
func (s OrderState) IsTerminal() bool {
	return s == OrderConfirmed || s == OrderRejected || s == OrderTimedOut
}

// ResultStatus is the outcome reported to callers of the execution engine.
type ResultStatus string

const (
	ResultFilled   ResultStatus = "FILLED"
	ResultRejected ResultStatus = "REJECTED"
	ResultTimedOut ResultStatus = "TIMED_OUT"
)

// OrderRequest is an intent to trade. The idempotency key doubles as the exchange client order id.
type OrderRequest struct {
	IdempotencyKey string
	Symbol         string
	Side           OrderSide
	Quantity       float64
	LimitPrice     float64 // Zero for market orders

	// Entry orders carry the protective levels of the position they open.
	StopLoss   float64
	TakeProfit float64

	// Exit orders carry the reason the position is being closed.
	CloseReason CloseReason

	CreatedAt time.Time
}

// IsMarket reports whether the request is a market order.
func (r OrderRequest) IsMarket() bool {
	return r.LimitPrice <= 0
}

// OrderResult is the terminal outcome of an executed request.
type OrderResult struct {
	IdempotencyKey  string
	ExchangeOrderID int64
	FilledQty       float64
	AvgPrice        float64
	Status          ResultStatus
}

// OrderRecord is the persisted view of a request moving through the state machine.
type OrderRecord struct {
	Request         OrderRequest
	State           OrderState
	ExchangeOrderID int64
	FilledQty       float64
	AvgPrice        float64
	UpdatedAt       time.Time
}

// Result converts a terminal record into the result returned to callers.
func (o *OrderRecord) Result() OrderResult {
	status := ResultRejected
	switch o.State {
	case OrderConfirmed:
		status = ResultFilled
	case OrderTimedOut:
		status = ResultTimedOut
	}
	return OrderResult{
		IdempotencyKey:  o.Request.IdempotencyKey,
		ExchangeOrderID: o.ExchangeOrderID,
		FilledQty:       o.FilledQty,
		AvgPrice:        o.AvgPrice,
		Status:          status,
	}
}

var orderKeyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cryptospotbot:order"))

// NewIdempotencyKey derives a deterministic order key from symbol, side, the intended price
// rounded down to priceBucket, and the time window containing at. Two intents that agree on
// all four produce the same key, so a resubmission after a timeout cannot execute twice.
func NewIdempotencyKey(symbol string, side OrderSide, price, priceBucket float64, window time.Duration, at time.Time) string {
	bucketed := decimal.NewFromFloat(price)
	if priceBucket > 0 {
		step := decimal.NewFromFloat(priceBucket)
		bucketed = bucketed.Div(step).Floor().Mul(step)
	}
	windowStart := at.UTC()
	if window > 0 {
		windowStart = windowStart.Truncate(window)
	}
	name := fmt.Sprintf("%s|%s|%s|%d", symbol, side, bucketed.String(), windowStart.Unix())
	return uuid.NewSHA1(orderKeyNamespace, []byte(name)).String()
}
