package indicators

import (
	"context"
	"fmt"

	"github.com/markcheno/go-talib"

	"cryptoSpotBot/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements both SMA and EMA indicators over closing prices
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return string(m.config.Type)
}

// Calculate computes the latest moving average value based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	series, err := m.Series(candles)
	if err != nil {
		return 0, err
	}
	return last(series), nil
}

// Previous returns the moving average one candle before the latest.
func (m *MovingAverage) Previous(candles []*domain.Candle) (float64, error) {
	if len(candles) < m.Config.Period+1 {
		return 0, insufficient(string(m.config.Type), m.Config.Period+1, len(candles))
	}
	series, err := m.Series(candles)
	if err != nil {
		return 0, err
	}
	return series[len(series)-2], nil
}

// Series returns the full talib output; entries before the first full window are zero.
func (m *MovingAverage) Series(candles []*domain.Candle) ([]float64, error) {
	if m.Config.Period < 1 || len(candles) < m.Config.Period {
		return nil, insufficient(string(m.config.Type), m.Config.Period, len(candles))
	}
	prices := closes(candles)
	switch m.config.Type {
	case SimpleMovingAverage:
		return talib.Sma(prices, m.Config.Period), nil
	case ExponentialMovingAverage:
		return talib.Ema(prices, m.Config.Period), nil
	default:
		return nil, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}
