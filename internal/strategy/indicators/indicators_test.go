package indicators

import (
	"context"
	"math"
	"testing"

	"cryptoSpotBot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geometric(start, growth float64, n int) []float64 {
	out := make([]float64, n)
	p := start
	for i := range out {
		out[i] = p
		p *= growth
	}
	return out
}

func TestShortInputReturnsInsufficientData(t *testing.T) {
	ctx := context.Background()
	short := series(100, 101)

	for _, ind := range []Indicator{
		NewRSI(RSIConfig{IndicatorConfig: IndicatorConfig{Period: 14}}),
		NewMovingAverage(MovingAverageConfig{IndicatorConfig: IndicatorConfig{Period: 9}, Type: ExponentialMovingAverage}),
		NewATR(IndicatorConfig{Period: 14}),
		NewADX(IndicatorConfig{Period: 14}),
		NewVWAP(IndicatorConfig{Period: 20}),
		NewVolatility(IndicatorConfig{Period: 20}),
		NewMomentum(IndicatorConfig{Period: 10}),
		NewVolumeRatio(IndicatorConfig{Period: 20}),
	} {
		t.Run(ind.Name(), func(t *testing.T) {
			_, err := ind.Calculate(ctx, short)
			assert.ErrorIs(t, err, ErrInsufficientData)
		})
	}

	_, err := PriceChange(series(100))
	assert.ErrorIs(t, err, ErrInsufficientData)
	_, err = TrendStrength(ctx, short, DefaultTrendParams())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestATR_ConstantRange(t *testing.T) {
	candles := make([]*domain.Candle, 20)
	for i := range candles {
		candles[i] = &domain.Candle{Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}
	}
	atr, err := NewATR(IndicatorConfig{Period: 14}).Calculate(context.Background(), candles)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)
}

func TestADX_RequiresTwoPeriods(t *testing.T) {
	adx := NewADX(IndicatorConfig{Period: 5})
	prices := geometric(100, 1.01, 10)

	_, err := adx.Calculate(context.Background(), series(prices[:9]...))
	assert.ErrorIs(t, err, ErrInsufficientData)

	value, err := adx.Calculate(context.Background(), series(prices...))
	require.NoError(t, err)
	assert.Greater(t, value, 50.0, "a steady uptrend has a strong ADX")
}

func TestVWAP(t *testing.T) {
	candles := []*domain.Candle{
		{High: 12, Low: 8, Close: 10, Volume: 1},  // typical 10
		{High: 21, Low: 19, Close: 20, Volume: 3}, // typical 20
	}
	vwap, err := NewVWAP(IndicatorConfig{Period: 2}).Calculate(context.Background(), candles)
	require.NoError(t, err)
	assert.InDelta(t, 17.5, vwap, 1e-9)

	candles[0].Volume, candles[1].Volume = 0, 0
	vwap, err = NewVWAP(IndicatorConfig{Period: 2}).Calculate(context.Background(), candles)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, vwap, 1e-9)
}

func TestVolatility(t *testing.T) {
	v := NewVolatility(IndicatorConfig{Period: 4})

	steady, err := v.Calculate(context.Background(), series(geometric(100, 1.02, 5)...))
	require.NoError(t, err)
	assert.InDelta(t, 0, steady, 1e-6)

	r := math.Log(1.1)
	choppy, err := v.Calculate(context.Background(), series(100, 110, 100, 110, 100))
	require.NoError(t, err)
	assert.InDelta(t, r*math.Sqrt(4.0/3.0)*math.Sqrt(24), choppy, 1e-9)
}

func TestMomentumAndPriceChange(t *testing.T) {
	candles := series(100, 104, 105, 110)

	m, err := NewMomentum(IndicatorConfig{Period: 2}).Calculate(context.Background(), candles)
	require.NoError(t, err)
	assert.InDelta(t, (110.0-104.0)/104.0, m, 1e-9)

	pc, err := PriceChange(candles)
	require.NoError(t, err)
	assert.InDelta(t, (110.0-105.0)/105.0, pc, 1e-9)
}

func TestVolumeRatio(t *testing.T) {
	candles := series(1, 2, 3, 4)
	candles[3].Volume = 4 // volumes 1,1,1,4 -> average 7/4
	ratio, err := NewVolumeRatio(IndicatorConfig{Period: 4}).Calculate(context.Background(), candles)
	require.NoError(t, err)
	assert.InDelta(t, 4/1.75, ratio, 1e-9)

	quote, err := AverageQuoteVolume(candles, 2)
	require.NoError(t, err)
	assert.InDelta(t, (3.0+16.0)/2, quote, 1e-9)
}

func TestVolatilityAdjustment(t *testing.T) {
	tests := []struct {
		vol, maxVol, want float64
	}{
		{vol: 0, maxVol: 0.2, want: 1},
		{vol: 0.05, maxVol: 0.2, want: 0.75},
		{vol: 0.1, maxVol: 0.2, want: 0.5},
		{vol: 0.5, maxVol: 0.2, want: 0.5},
		{vol: 0.5, maxVol: 0, want: 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, VolatilityAdjustment(tt.vol, tt.maxVol), 1e-9)
	}

	prev := VolatilityAdjustment(0, 0.2)
	for vol := 0.01; vol < 0.5; vol += 0.01 {
		cur := VolatilityAdjustment(vol, 0.2)
		assert.LessOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestTrendStrength(t *testing.T) {
	ctx := context.Background()
	params := DefaultTrendParams()

	flat := make([]float64, params.RequiredDataPoints()+5)
	for i := range flat {
		flat[i] = 100
	}
	strength, err := TrendStrength(ctx, series(flat...), params)
	require.NoError(t, err)
	assert.InDelta(t, 0, strength, 1e-9)

	up, err := TrendStrength(ctx, series(geometric(100, 1.01, 40)...), params)
	require.NoError(t, err)
	assert.Greater(t, up, WeightDirection, "direction alone contributes its full weight")

	down, err := TrendStrength(ctx, series(geometric(100, 0.99, 40)...), params)
	require.NoError(t, err)
	assert.Less(t, down, up)
}
