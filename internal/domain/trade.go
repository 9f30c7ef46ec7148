package domain

import "time"

// TradeRecord is one entry of the append-only trade log. Records are never edited;
// daily-loss, consecutive-loss and profit-target accounting is derived from them.
type TradeRecord struct {
	ID          int64     // Assigned by the store
	Timestamp   time.Time // Fill time
	Symbol      string
	Side        OrderSide
	Quantity    float64
	Price       float64
	Profit      float64 // Realized profit; zero for entries
	OrderKey    string  // Idempotency key of the filled order
	CloseReason CloseReason
}

// IsExit reports whether the record closed (part of) a position.
func (t TradeRecord) IsExit() bool {
	return t.Side == Sell
}
