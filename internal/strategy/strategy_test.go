package strategy

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func validConfig() Config {
	return Config{
		EMAShortPeriod:   9,
		EMALongPeriod:    21,
		RSIPeriod:        14,
		ADXPeriod:        14,
		RSIOverbought:    70,
		ADXThreshold:     25,
		MomentumMin:      0,
		TrendStrengthMin: 0.2,
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		logger  ports.Logger
		wantErr bool
	}{
		{name: "valid config", logger: &mockLogger{}},
		{name: "nil logger", logger: nil, wantErr: true},
		{name: "invalid periods", mutate: func(c *Config) { c.RSIPeriod = 0 }, logger: &mockLogger{}, wantErr: true},
		{name: "short EMA not below long EMA", mutate: func(c *Config) { c.EMAShortPeriod = 21 }, logger: &mockLogger{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			s, err := New(cfg, tt.logger)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}

func TestRequiredDataPoints(t *testing.T) {
	s, err := New(validConfig(), &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, 28, s.RequiredDataPoints()) // 2 * ADX period
}

func crossingSnapshot() *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Symbol:        "BTCUSDT",
		Price:         50000,
		PrevEMAShort:  49900,
		PrevEMALong:   49950,
		EMAShort:      50010,
		EMALong:       49990,
		RSI:           60,
		ADX:           30,
		Momentum:      0.01,
		TrendStrength: 0.3,
		Ready:         true,
	}
}

func TestShouldEnter(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.MarketSnapshot)
		want   bool
	}{
		{name: "all conditions met", want: true},
		{name: "not ready", mutate: func(s *domain.MarketSnapshot) { s.Ready = false }},
		{name: "already above on previous bar", mutate: func(s *domain.MarketSnapshot) { s.PrevEMAShort = 50000 }},
		{name: "no cross", mutate: func(s *domain.MarketSnapshot) { s.EMAShort = 49980 }},
		{name: "overbought", mutate: func(s *domain.MarketSnapshot) { s.RSI = 75 }},
		{name: "weak trend", mutate: func(s *domain.MarketSnapshot) { s.ADX = 20 }},
		{name: "negative momentum", mutate: func(s *domain.MarketSnapshot) { s.Momentum = -0.01 }},
		{name: "low trend strength", mutate: func(s *domain.MarketSnapshot) { s.TrendStrength = 0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			s, err := New(validConfig(), logger)
			require.NoError(t, err)

			snap := crossingSnapshot()
			if tt.mutate != nil {
				tt.mutate(snap)
			}
			assert.Equal(t, tt.want, s.ShouldEnter(context.Background(), snap))
			if tt.want {
				assert.Contains(t, logger.infoMsgs, "Trade entry conditions met")
			} else {
				assert.NotEmpty(t, logger.debugMsgs)
			}
		})
	}
}

// trendingCandles builds n hourly candles rising by step per bar.
func trendingCandles(n int, start, step float64) []*domain.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Candle, n)
	for i := range out {
		p := start + float64(i)*step
		out[i] = &domain.Candle{
			Symbol: "BTCUSDT", Interval: "1h", Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open: p - step/2, High: p + 1, Low: p - 1, Close: p, Volume: 10 + float64(i%3),
		}
	}
	return out
}

func TestBuildSnapshot(t *testing.T) {
	ctx := context.Background()
	params := DefaultSnapshotParams()

	snap, err := BuildSnapshot(ctx, "BTCUSDT", trendingCandles(60, 100, 1), 0, &domain.BookTicker{Bid: 158.9, Ask: 159.1}, params)
	require.NoError(t, err)
	assert.True(t, snap.Ready)
	assert.Equal(t, 159.0, snap.Price, "falls back to the last close")
	assert.True(t, snap.HasBook())
	assert.Greater(t, snap.EMAShort, snap.EMALong)
	assert.Greater(t, snap.RSI, 50.0)
	assert.Greater(t, snap.Momentum, 0.0)
	assert.Greater(t, snap.VWAP, 0.0)
	assert.Greater(t, snap.VolumeMA, 0.0)
	assert.Greater(t, snap.AvgVolumeNotional, 0.0)

	short, err := BuildSnapshot(ctx, "BTCUSDT", trendingCandles(10, 100, 1), 105, nil, params)
	require.NoError(t, err)
	assert.False(t, short.Ready)
	assert.False(t, short.HasBook())
	assert.Equal(t, 105.0, short.Price)
}

type mockFeed struct {
	price    float64
	priceErr error
	candles  []*domain.Candle
	bookErr  error
}

func (m *mockFeed) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockFeed) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	return m.candles, nil
}

func (m *mockFeed) GetBookTicker(ctx context.Context, symbol string) (*domain.BookTicker, error) {
	if m.bookErr != nil {
		return nil, m.bookErr
	}
	return &domain.BookTicker{Symbol: symbol, Bid: m.price - 1, Ask: m.price + 1}, nil
}

func TestSnapshotBuilder(t *testing.T) {
	ctx := context.Background()
	logger := &mockLogger{}
	feed := &mockFeed{price: 160, candles: trendingCandles(60, 100, 1)}
	b := NewSnapshotBuilder(feed, DefaultSnapshotParams(), logger)

	snap, err := b.Snapshot(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 160.0, snap.Price)
	assert.True(t, snap.HasBook())

	feed.bookErr = ports.ErrTimeout
	snap, err = b.Snapshot(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, snap.HasBook())
	assert.Len(t, logger.warnMsgs, 1)

	feed.priceErr = ports.ErrDataUnavailable
	_, err = b.Snapshot(ctx, "BTCUSDT")
	assert.True(t, errors.Is(err, ports.ErrDataUnavailable))
}
