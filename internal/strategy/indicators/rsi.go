package indicators

import (
	"context"

	"github.com/markcheno/go-talib"

	"cryptoSpotBot/internal/domain"
)

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
	Overbought float64
	Oversold   float64
}

// RSI implements the Relative Strength Index indicator
type RSI struct {
	BaseIndicator
	config RSIConfig
}

// NewRSI creates a new RSI indicator instance
func NewRSI(config RSIConfig) *RSI {
	return &RSI{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (r *RSI) Name() string {
	return "RSI"
}

// RequiredDataPoints returns period+1 since RSI works on price changes.
func (r *RSI) RequiredDataPoints() int {
	return r.Config.Period + 1
}

// Calculate computes the RSI value using Wilder's smoothing method
func (r *RSI) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	if r.Config.Period < 1 || len(candles) < r.RequiredDataPoints() {
		return 0, insufficient("RSI", r.RequiredDataPoints(), len(candles))
	}

	prices := closes(candles)
	flat := true
	for i := 1; i < len(prices); i++ {
		if prices[i] != prices[0] {
			flat = false
			break
		}
	}
	// talib reports 0 for a series without movement; neutral is the meaningful value.
	if flat {
		return 50, nil
	}
	return last(talib.Rsi(prices, r.Config.Period)), nil
}

// IsOverbought checks if the RSI value indicates an overbought condition
func (r *RSI) IsOverbought(value float64) bool {
	return value >= r.config.Overbought
}

// IsOversold checks if the RSI value indicates an oversold condition
func (r *RSI) IsOversold(value float64) bool {
	return value <= r.config.Oversold
}
