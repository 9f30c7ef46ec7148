package domain

import "time"

// Candle is one validated OHLCV bar. Candles are produced only by the market data feed
// and are never mutated after construction.
type Candle struct {
	Symbol    string
	Interval  string
	Timestamp time.Time // Open time of the bar
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// RawCandle is a bar as delivered by the exchange, before numeric parsing and validation.
type RawCandle struct {
	Symbol    string
	Interval  string
	OpenTime  int64 // Unix milliseconds
	CloseTime int64 // Unix milliseconds
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	IsFinal   bool // Whether the exchange has closed this interval
}

// TypicalPrice returns (high + low + close) / 3.
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}
