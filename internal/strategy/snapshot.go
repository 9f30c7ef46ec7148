package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/strategy/indicators"
)

// SnapshotParams holds the indicator periods used to build a MarketSnapshot.
type SnapshotParams struct {
	Interval         string
	Lookback         int // Candles requested per snapshot
	RSIPeriod        int
	EMAShortPeriod   int
	EMALongPeriod    int
	ADXPeriod        int
	ATRPeriod        int
	VWAPPeriod       int
	VolatilityPeriod int
	MomentumPeriod   int
	VolumeMAPeriod   int
	Trend            indicators.TrendParams
}

// DefaultSnapshotParams returns the periods used when nothing is configured.
func DefaultSnapshotParams() SnapshotParams {
	return SnapshotParams{
		Interval:         "1h",
		Lookback:         100,
		RSIPeriod:        14,
		EMAShortPeriod:   9,
		EMALongPeriod:    21,
		ADXPeriod:        14,
		ATRPeriod:        14,
		VWAPPeriod:       20,
		VolatilityPeriod: 20,
		MomentumPeriod:   10,
		VolumeMAPeriod:   20,
		Trend:            indicators.DefaultTrendParams(),
	}
}

// BuildSnapshot computes every indicator for symbol from candles. The snapshot is returned even
// when some indicators lack data; Ready is false in that case.
func BuildSnapshot(ctx context.Context, symbol string, candles []*domain.Candle, price float64, book *domain.BookTicker, p SnapshotParams) (*domain.MarketSnapshot, error) {
	snap := &domain.MarketSnapshot{Symbol: symbol, Price: price, Ready: true}
	if len(candles) > 0 {
		latest := candles[len(candles)-1]
		snap.Timestamp = latest.Timestamp
		snap.Volume = latest.Volume
		if snap.Price <= 0 {
			snap.Price = latest.Close
		}
	}
	if book != nil {
		snap.Bid, snap.Ask = book.Bid, book.Ask
	}

	var missing []string
	set := func(name string, dst *float64, fn func() (float64, error)) error {
		v, err := fn()
		if err != nil {
			if errors.Is(err, indicators.ErrInsufficientData) {
				missing = append(missing, name)
				return nil
			}
			return fmt.Errorf("calculate %s for %s: %w", name, symbol, err)
		}
		*dst = v
		return nil
	}
	calc := func(ind indicators.Indicator) func() (float64, error) {
		return func() (float64, error) { return ind.Calculate(ctx, candles) }
	}

	emaShort := indicators.NewMovingAverage(indicators.MovingAverageConfig{IndicatorConfig: indicators.IndicatorConfig{Period: p.EMAShortPeriod}, Type: indicators.ExponentialMovingAverage})
	emaLong := indicators.NewMovingAverage(indicators.MovingAverageConfig{IndicatorConfig: indicators.IndicatorConfig{Period: p.EMALongPeriod}, Type: indicators.ExponentialMovingAverage})

	steps := []struct {
		name string
		dst  *float64
		fn   func() (float64, error)
	}{
		{"ema_short", &snap.EMAShort, calc(emaShort)},
		{"ema_long", &snap.EMALong, calc(emaLong)},
		{"prev_ema_short", &snap.PrevEMAShort, func() (float64, error) { return emaShort.Previous(candles) }},
		{"prev_ema_long", &snap.PrevEMALong, func() (float64, error) { return emaLong.Previous(candles) }},
		{"rsi", &snap.RSI, calc(indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: p.RSIPeriod}}))},
		{"adx", &snap.ADX, calc(indicators.NewADX(indicators.IndicatorConfig{Period: p.ADXPeriod}))},
		{"atr", &snap.ATR, calc(indicators.NewATR(indicators.IndicatorConfig{Period: p.ATRPeriod}))},
		{"vwap", &snap.VWAP, calc(indicators.NewVWAP(indicators.IndicatorConfig{Period: p.VWAPPeriod}))},
		{"volatility", &snap.Volatility, calc(indicators.NewVolatility(indicators.IndicatorConfig{Period: p.VolatilityPeriod}))},
		{"momentum", &snap.Momentum, calc(indicators.NewMomentum(indicators.IndicatorConfig{Period: p.MomentumPeriod}))},
		{"volume_ma", &snap.VolumeMA, func() (float64, error) { return indicators.VolumeMA(candles, p.VolumeMAPeriod) }},
		{"avg_volume_notional", &snap.AvgVolumeNotional, func() (float64, error) { return indicators.AverageQuoteVolume(candles, p.VolumeMAPeriod) }},
		{"price_change", &snap.PriceChange, func() (float64, error) { return indicators.PriceChange(candles) }},
		{"trend_strength", &snap.TrendStrength, func() (float64, error) { return indicators.TrendStrength(ctx, candles, p.Trend) }},
	}
	for _, s := range steps {
		if err := set(s.name, s.dst, s.fn); err != nil {
			return nil, err
		}
	}

	if len(missing) > 0 {
		snap.Ready = false
	}
	return snap, nil
}

// MarketData is the subset of the market data feed needed to build snapshots.
type MarketData interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)
	GetBookTicker(ctx context.Context, symbol string) (*domain.BookTicker, error)
}

// SnapshotBuilder implements ports.SnapshotProvider on top of a market data feed.
type SnapshotBuilder struct {
	feed   MarketData
	params SnapshotParams
	logger ports.Logger
	now    func() time.Time
}

// NewSnapshotBuilder creates a SnapshotBuilder.
func NewSnapshotBuilder(feed MarketData, params SnapshotParams, logger ports.Logger) *SnapshotBuilder {
	return &SnapshotBuilder{feed: feed, params: params, logger: logger, now: time.Now}
}

// Snapshot fetches price, candles and book for symbol and builds a fresh snapshot.
// A missing book is tolerated; the spread gate is then skipped.
func (b *SnapshotBuilder) Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error) {
	price, err := b.feed.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	candles, err := b.feed.GetHistoricalCandles(ctx, symbol, b.params.Interval, b.params.Lookback)
	if err != nil {
		return nil, err
	}
	book, err := b.feed.GetBookTicker(ctx, symbol)
	if err != nil {
		b.logger.Warn(ctx, "Book ticker unavailable, spread check will be skipped", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		book = nil
	}

	snap, err := BuildSnapshot(ctx, symbol, candles, price, book, b.params)
	if err != nil {
		return nil, err
	}
	snap.Timestamp = b.now()
	if !snap.Ready {
		b.logger.Debug(ctx, "Snapshot built with insufficient history", map[string]interface{}{"symbol": symbol, "candles": len(candles)})
	}
	return snap, nil
}
