package ports

import (
	"context"
	"time"

	"cryptoSpotBot/internal/domain"
)

// Fill is everything that changes when an order fills. Stores apply it in one transaction.
type Fill struct {
	Order    domain.OrderRecord
	Position *domain.Position // Opened, reduced, or closed position
	Trade    domain.TradeRecord
	Exposure domain.ExposureLedger // Ledger after the fill
}

// PositionStore is the durable, single-writer record of positions, orders, the exposure
// ledger snapshot and the append-only trade log. Every error wraps ErrStorage.
type PositionStore interface {
	// SavePosition inserts or updates a position. Assigns pos.ID on insert.
	SavePosition(ctx context.Context, pos *domain.Position) error
	// LoadOpenPositions returns every open position, ordered by symbol.
	LoadOpenPositions(ctx context.Context) ([]*domain.Position, error)

	// SaveOrder inserts an order record or updates its execution fields.
	SaveOrder(ctx context.Context, rec *domain.OrderRecord) error
	// FindOrder returns the order with the given idempotency key, or nil, nil if not found.
	FindOrder(ctx context.Context, key string) (*domain.OrderRecord, error)
	// UpdateStatus moves an order to status. It is a no-op when the order is already there.
	UpdateStatus(ctx context.Context, key string, status domain.OrderState) error
	// LoadInFlightOrders returns orders that have not reached a terminal state.
	LoadInFlightOrders(ctx context.Context) ([]*domain.OrderRecord, error)

	// AppendTrade adds a record to the trade log. Once it returns nil the record is durable.
	AppendTrade(ctx context.Context, rec *domain.TradeRecord) error
	// TradesSince returns trade records at or after since, oldest first.
	TradesSince(ctx context.Context, since time.Time) ([]domain.TradeRecord, error)

	// LoadExposure returns the last persisted exposure ledger snapshot.
	LoadExposure(ctx context.Context) (domain.ExposureLedger, error)
	// ApplyFill persists the order, position, trade and ledger of a fill atomically.
	ApplyFill(ctx context.Context, fill *Fill) error

	// Flush forces buffered writes to durable storage.
	Flush(ctx context.Context) error
}
