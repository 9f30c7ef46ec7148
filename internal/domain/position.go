package domain

import "time"

// Position represents a spot position held by the bot. At most one open position exists per symbol.
type Position struct {
	ID                int64          // Unique identifier (from the store)
	Symbol            string         // Trading symbol (e.g., "BTCUSDT")
	Side              OrderSide      // Side of the entry order
	Quantity          float64        // Base asset quantity still held
	EntryPrice        float64        // Average fill price of the entry order
	StopLoss          float64        // Fixed initial stop-loss price
	TakeProfit        float64        // Take-profit price
	TrailingStopPrice float64        // Current trailing stop (0 until activated)
	OpenedAt          time.Time      // Fill time of the entry order
	LastUpdatedAt     time.Time      // Last mutation (trailing stop, partial exit, close)
	Status            PositionStatus // open or closed
	EntryOrderKey     string         // Idempotency key of the entry order

	// Populated on close
	ExitPrice   float64
	ClosedAt    time.Time
	PNL         float64
	CloseReason CloseReason
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// Notional returns the committed quote value of the position at its entry price.
func (p *Position) Notional() float64 {
	return p.Quantity * p.EntryPrice
}

// EffectiveStop returns the higher of the fixed stop-loss and the trailing stop.
func (p *Position) EffectiveStop() float64 {
	if p.TrailingStopPrice > p.StopLoss {
		return p.TrailingStopPrice
	}
	return p.StopLoss
}

// UnrealizedPNL returns the profit of the remaining quantity at the given price.
func (p *Position) UnrealizedPNL(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity
}
