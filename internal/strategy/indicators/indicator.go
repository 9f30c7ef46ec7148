package indicators

import (
	"context"
	"errors"
	"fmt"

	"cryptoSpotBot/internal/domain"
)

// ErrInsufficientData is returned when fewer candles are supplied than an indicator needs.
var ErrInsufficientData = errors.New("insufficient data")

// Indicator represents a technical indicator that can be calculated from candle data
type Indicator interface {
	// Calculate computes the latest indicator value for the given candles
	Calculate(ctx context.Context, candles []*domain.Candle) (float64, error)

	// RequiredDataPoints returns the minimum number of candles needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of candles needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

func insufficient(name string, need, got int) error {
	return fmt.Errorf("%s needs %d candles, got %d: %w", name, need, got, ErrInsufficientData)
}

func closes(candles []*domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func volumes(candles []*domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func hlc(candles []*domain.Candle) (highs, lows, cls []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	cls = make([]float64, len(candles))
	for i, c := range candles {
		highs[i], lows[i], cls[i] = c.High, c.Low, c.Close
	}
	return highs, lows, cls
}

func last(values []float64) float64 {
	return values[len(values)-1]
}
