package domain

import "time"

// BookTicker is the best bid and ask for a symbol.
type BookTicker struct {
	Symbol string
	Bid    float64
	Ask    float64
}

// MarketSnapshot is the indicator view of one symbol at one point in time.
// Risk gates and exit rules read it; it is rebuilt every decision cycle.
type MarketSnapshot struct {
	Symbol    string
	Timestamp time.Time
	Price     float64
	Bid       float64
	Ask       float64

	Volume            float64 // Volume of the last closed candle
	VolumeMA          float64 // Moving average of volume
	AvgVolumeNotional float64 // Average quote volume per candle
	PriceChange       float64 // Fractional change of the last close
	Momentum          float64 // Rate of change over the momentum period

	EMAShort      float64
	EMALong       float64
	PrevEMAShort  float64
	PrevEMALong   float64
	RSI           float64
	ADX           float64
	ATR           float64
	VWAP          float64
	Volatility    float64
	TrendStrength float64

	// Ready is false when any indicator lacked enough candles.
	Ready bool
}

// HasBook reports whether both sides of the book are known.
func (s *MarketSnapshot) HasBook() bool {
	return s.Bid > 0 && s.Ask > 0
}
