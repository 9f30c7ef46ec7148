package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionStatus represents the status of a trading position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss      CloseReason = "SL"
	CloseReasonTrailingStop  CloseReason = "TRAILING_SL"
	CloseReasonTakeProfit    CloseReason = "TP"
	CloseReasonTimeLimit     CloseReason = "TIME_LIMIT" // Held longer than the configured max duration
	CloseReasonRSIOverbought CloseReason = "RSI_OVERBOUGHT"
	CloseReasonWeakTrend     CloseReason = "ADX_WEAK"
	CloseReasonMomentum      CloseReason = "NEGATIVE_MOMENTUM"
	CloseReasonTrendStrength CloseReason = "TREND_STRENGTH"
	CloseReasonManual        CloseReason = "MANUAL"
	CloseReasonUnknown       CloseReason = "Unknown"
)

// IsTechnical reports whether the reason comes from an indicator signal rather than a price level.
func (r CloseReason) IsTechnical() bool {
	switch r {
	case CloseReasonRSIOverbought, CloseReasonWeakTrend, CloseReasonMomentum, CloseReasonTrendStrength:
		return true
	default:
		return false
	}
}
