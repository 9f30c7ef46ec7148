package indicators

import (
	"context"

	"github.com/markcheno/go-talib"

	"cryptoSpotBot/internal/domain"
)

// Momentum is the fractional rate of change of the close over Period candles.
type Momentum struct {
	BaseIndicator
}

// NewMomentum creates a new momentum indicator instance
func NewMomentum(config IndicatorConfig) *Momentum {
	return &Momentum{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (m *Momentum) Name() string { return "Momentum" }

// RequiredDataPoints returns period+1 closes.
func (m *Momentum) RequiredDataPoints() int { return m.Config.Period + 1 }

// Calculate computes (close - close[n]) / close[n]
func (m *Momentum) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	if m.Config.Period < 1 || len(candles) < m.RequiredDataPoints() {
		return 0, insufficient("Momentum", m.RequiredDataPoints(), len(candles))
	}
	return last(talib.Rocp(closes(candles), m.Config.Period)), nil
}

// MeanMomentum averages every Period-candle rate of change across the series.
func MeanMomentum(candles []*domain.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < period+1 {
		return 0, insufficient("MeanMomentum", period+1, len(candles))
	}
	series := talib.Rocp(closes(candles), period)[period:]
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series)), nil
}

// VolumeRatio compares the latest volume with its Period simple average.
type VolumeRatio struct {
	BaseIndicator
}

// NewVolumeRatio creates a new volume ratio indicator instance
func NewVolumeRatio(config IndicatorConfig) *VolumeRatio {
	return &VolumeRatio{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (v *VolumeRatio) Name() string { return "VolumeRatio" }

// Calculate returns volume / SMA(volume); 0 when the average is zero.
func (v *VolumeRatio) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	avg, err := VolumeMA(candles, v.Config.Period)
	if err != nil {
		return 0, err
	}
	if avg == 0 {
		return 0, nil
	}
	return candles[len(candles)-1].Volume / avg, nil
}

// VolumeMA returns the simple average of volume over the last period candles.
func VolumeMA(candles []*domain.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < period {
		return 0, insufficient("VolumeMA", period, len(candles))
	}
	return last(talib.Sma(volumes(candles), period)), nil
}

// AverageQuoteVolume returns the mean close*volume over the last period candles.
func AverageQuoteVolume(candles []*domain.Candle, period int) (float64, error) {
	if period < 1 || len(candles) < period {
		return 0, insufficient("AverageQuoteVolume", period, len(candles))
	}
	sum := 0.0
	for _, c := range candles[len(candles)-period:] {
		sum += c.Close * c.Volume
	}
	return sum / float64(period), nil
}

// PriceChange returns the fractional change between the last two closes.
func PriceChange(candles []*domain.Candle) (float64, error) {
	if len(candles) < 2 {
		return 0, insufficient("PriceChange", 2, len(candles))
	}
	prev := candles[len(candles)-2].Close
	if prev == 0 {
		return 0, nil
	}
	return (candles[len(candles)-1].Close - prev) / prev, nil
}
