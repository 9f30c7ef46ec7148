package ports

import (
	"context"
	"time"

	"cryptoSpotBot/internal/domain"
)

// ExchangeOrderStatus mirrors the venue's order status strings.
type ExchangeOrderStatus string

const (
	ExchangeOrderNew             ExchangeOrderStatus = "NEW"
	ExchangeOrderPartiallyFilled ExchangeOrderStatus = "PARTIALLY_FILLED"
	ExchangeOrderFilled          ExchangeOrderStatus = "FILLED"
	ExchangeOrderCanceled        ExchangeOrderStatus = "CANCELED"
	ExchangeOrderRejected        ExchangeOrderStatus = "REJECTED"
	ExchangeOrderExpired         ExchangeOrderStatus = "EXPIRED"
)

// IsOpen reports whether the order can still fill.
func (s ExchangeOrderStatus) IsOpen() bool {
	return s == ExchangeOrderNew || s == ExchangeOrderPartiallyFilled
}

// ExchangeOrder represents the essential details of an order as the exchange reports it.
type ExchangeOrder struct {
	OrderID       int64  // Exchange's order ID
	ClientOrderID string // Idempotency key supplied on submission
	Symbol        string
	Side          domain.OrderSide
	Status        ExchangeOrderStatus
	OrigQuantity  float64
	ExecutedQty   float64
	QuoteQty      float64 // Cumulative quote amount filled
	Price         float64 // Limit price, zero for market orders
	UpdatedAt     time.Time
}

// AvgPrice returns the volume-weighted fill price, or zero when nothing has filled.
func (o *ExchangeOrder) AvgPrice() float64 {
	if o.ExecutedQty <= 0 {
		return 0
	}
	return o.QuoteQty / o.ExecutedQty
}

// Balance is the free and locked amount of one asset.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total returns free plus locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// ExchangeAdapter is the narrow view of the venue consumed by the feed and the execution engine.
// Errors are wrapped with the sentinels in errors.go so Classify can route them.
type ExchangeAdapter interface {
	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetTicker retrieves the last traded price for a symbol.
	GetTicker(ctx context.Context, symbol string) (float64, error)

	// GetBookTicker retrieves the best bid and ask for a symbol.
	GetBookTicker(ctx context.Context, symbol string) (*domain.BookTicker, error)

	// GetHistoricalCandles retrieves raw candles. A zero start or end leaves that bound open;
	// limit caps the number of most recent candles returned.
	GetHistoricalCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*domain.RawCandle, error)

	// StreamCandles makes one attempt to open a candle stream. doneCh closes when the stream
	// ends for any reason; closing stopCh ends it. Reconnecting is the caller's job.
	StreamCandles(ctx context.Context, symbol, interval string, handler func(*domain.RawCandle), errHandler func(error)) (doneCh <-chan struct{}, stopCh chan<- struct{}, err error)

	// SubmitOrder places an order using req.IdempotencyKey as the client order id.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (*ExchangeOrder, error)

	// GetOrder looks an order up by its client order id. Returns ErrOrderNotFound when unknown.
	GetOrder(ctx context.Context, symbol, clientOrderID string) (*ExchangeOrder, error)

	// GetOpenOrders lists orders that can still fill for a symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]*ExchangeOrder, error)

	// CancelOrder cancels an open order by its exchange id.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error

	// GetAccountBalances retrieves balances keyed by asset.
	GetAccountBalances(ctx context.Context) (map[string]Balance, error)
}

// SymbolMetadata exposes the trading rules of a symbol. Implementations query the
// exchange once per symbol and cache the answer.
type SymbolMetadata interface {
	GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error)
}
