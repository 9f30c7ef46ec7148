package ports

import (
	"context"

	"cryptoSpotBot/internal/domain"
)

// EntrySignal decides whether market conditions call for opening a position.
// Risk gates are evaluated separately; a signal only proposes.
type EntrySignal interface {
	// RequiredDataPoints returns the minimum number of candles the signal needs.
	RequiredDataPoints() int
	// ShouldEnter evaluates the snapshot.
	ShouldEnter(ctx context.Context, snap *domain.MarketSnapshot) bool
}

// SnapshotProvider builds a fresh market snapshot for a symbol.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error)
}
