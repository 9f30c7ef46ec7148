package indicators

import (
	"context"
	"math"

	"cryptoSpotBot/internal/domain"
)

// Trend strength component weights.
const (
	WeightEMASpread   = 0.35
	WeightMomentum    = 0.25
	WeightVolumeTrend = 0.20
	WeightDirection   = 0.20
)

// TrendParams configures the trend strength composite.
type TrendParams struct {
	EMAShortPeriod    int
	EMALongPeriod     int
	DirectionLookback int // Rate-of-change period whose mean sign gives the direction
	MomentumPeriod    int
	VolumePeriod      int
	VolatilityPeriod  int
	MaxVolatility     float64 // Volatility at which the composite is halved
}

// DefaultTrendParams mirrors the periods used by the trading configuration defaults.
func DefaultTrendParams() TrendParams {
	return TrendParams{
		EMAShortPeriod:    9,
		EMALongPeriod:     21,
		DirectionLookback: 10,
		MomentumPeriod:    5,
		VolumePeriod:      10,
		VolatilityPeriod:  20,
		MaxVolatility:     0.2,
	}
}

// RequiredDataPoints returns the candle count needed by every component.
func (p TrendParams) RequiredDataPoints() int {
	need := p.EMALongPeriod
	for _, n := range []int{p.EMAShortPeriod, p.DirectionLookback + 1, p.MomentumPeriod + 1, p.VolumePeriod, p.VolatilityPeriod + 1} {
		if n > need {
			need = n
		}
	}
	return need
}

// VolatilityAdjustment returns max(0.5, 1 - vol/maxVol). It never increases with vol.
func VolatilityAdjustment(vol, maxVol float64) float64 {
	if maxVol <= 0 {
		return 1
	}
	return math.Max(0.5, 1-vol/maxVol)
}

// TrendStrength computes the weighted composite of EMA spread, momentum, volume trend and
// direction, scaled down by VolatilityAdjustment.
func TrendStrength(ctx context.Context, candles []*domain.Candle, p TrendParams) (float64, error) {
	if len(candles) < p.RequiredDataPoints() {
		return 0, insufficient("TrendStrength", p.RequiredDataPoints(), len(candles))
	}

	emaShort, err := NewMovingAverage(MovingAverageConfig{IndicatorConfig{p.EMAShortPeriod}, ExponentialMovingAverage}).Calculate(ctx, candles)
	if err != nil {
		return 0, err
	}
	emaLong, err := NewMovingAverage(MovingAverageConfig{IndicatorConfig{p.EMALongPeriod}, ExponentialMovingAverage}).Calculate(ctx, candles)
	if err != nil {
		return 0, err
	}
	spread := 0.0
	if emaLong != 0 {
		spread = math.Abs(emaShort-emaLong) / emaLong
	}

	directionMean, err := MeanMomentum(candles, p.DirectionLookback)
	if err != nil {
		return 0, err
	}
	direction := 0.0
	switch {
	case directionMean > 0:
		direction = 1
	case directionMean < 0:
		direction = -1
	}

	momentum, err := MeanMomentum(candles, p.MomentumPeriod)
	if err != nil {
		return 0, err
	}

	volumeRatio, err := NewVolumeRatio(IndicatorConfig{p.VolumePeriod}).Calculate(ctx, candles)
	if err != nil {
		return 0, err
	}
	volumeTrend := 0.0
	if volumeRatio > 0 {
		volumeTrend = volumeRatio - 1
	}

	strength := spread*WeightEMASpread +
		math.Abs(momentum)*WeightMomentum +
		math.Abs(volumeTrend)*WeightVolumeTrend +
		direction*WeightDirection

	vol, err := NewVolatility(IndicatorConfig{p.VolatilityPeriod}).Calculate(ctx, candles)
	if err != nil {
		return 0, err
	}
	return strength * VolatilityAdjustment(vol, p.MaxVolatility), nil
}
