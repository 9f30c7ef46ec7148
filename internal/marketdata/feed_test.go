package marketdata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu       sync.Mutex
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func (m *mockLogger) warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnMsgs...)
}

// mockExchange implements Exchange for testing
type mockExchange struct {
	mu          sync.Mutex
	price       float64
	tickerErr   error
	tickerCalls int
	klines      []*domain.RawCandle
	klinesErr   error
	klineCalls  int
	klinesGate  chan struct{} // when set, kline requests block until it is closed

	streamCalls  atomic.Int32
	failFirst    bool
	streamCandle *domain.RawCandle
}

func (m *mockExchange) GetTicker(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickerCalls++
	return m.price, m.tickerErr
}

func (m *mockExchange) GetBookTicker(ctx context.Context, symbol string) (*domain.BookTicker, error) {
	return &domain.BookTicker{Symbol: symbol, Bid: 99, Ask: 101}, nil
}

func (m *mockExchange) GetHistoricalCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*domain.RawCandle, error) {
	m.mu.Lock()
	m.klineCalls++
	klines, err, gate := m.klines, m.klinesErr, m.klinesGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if limit > 0 && len(klines) > limit {
		klines = klines[len(klines)-limit:]
	}
	return klines, err
}

func (m *mockExchange) StreamCandles(ctx context.Context, symbol, interval string, handler func(*domain.RawCandle), errHandler func(error)) (<-chan struct{}, chan<- struct{}, error) {
	n := m.streamCalls.Add(1)
	if m.failFirst && n == 1 {
		return nil, nil, fmt.Errorf("dial: %w", ports.ErrConnectionFailed)
	}
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		if m.streamCandle != nil {
			handler(m.streamCandle)
		}
		<-stop
	}()
	return done, stop, nil
}

func (m *mockExchange) calls() (ticker, klines int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickerCalls, m.klineCalls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func rawBar(i int, close string, final bool) *domain.RawCandle {
	open := t0.Add(time.Duration(i) * time.Hour)
	return &domain.RawCandle{
		Symbol:    "BTCUSDT",
		Interval:  "1h",
		OpenTime:  open.UnixMilli(),
		CloseTime: open.Add(time.Hour).UnixMilli() - 1,
		Open:      close,
		High:      "200",
		Low:       "1",
		Close:     close,
		Volume:    "10",
		IsFinal:   final,
	}
}

func rawBars(n int) []*domain.RawCandle {
	out := make([]*domain.RawCandle, n)
	for i := range out {
		out[i] = rawBar(i, fmt.Sprintf("%d", 100+i), true)
	}
	return out
}

func newTestFeed(t *testing.T, ex *mockExchange, cfg Config) (*Feed, *fakeClock, *mockLogger) {
	t.Helper()
	clock := &fakeClock{now: t0}
	logger := &mockLogger{}
	f, err := NewFeed(ex, nil, logger, cfg, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f, clock, logger
}

func TestParseCandle(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.RawCandle)
		wantErr bool
	}{
		{name: "valid"},
		{name: "unparseable close", mutate: func(r *domain.RawCandle) { r.Close = "abc" }, wantErr: true},
		{name: "close above high", mutate: func(r *domain.RawCandle) { r.Close = "250" }, wantErr: true},
		{name: "open below low", mutate: func(r *domain.RawCandle) { r.Open = "0.5" }, wantErr: true},
		{name: "negative volume", mutate: func(r *domain.RawCandle) { r.Volume = "-1" }, wantErr: true},
		{name: "zero open time", mutate: func(r *domain.RawCandle) { r.OpenTime = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawBar(0, "150", true)
			if tt.mutate != nil {
				tt.mutate(raw)
			}
			c, err := ParseCandle(raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 150.0, c.Close)
			assert.Equal(t, t0, c.Timestamp)
		})
	}
}

func TestMergeCandles(t *testing.T) {
	mk := func(i int, close float64) *domain.Candle {
		return &domain.Candle{Timestamp: t0.Add(time.Duration(i) * time.Hour), Close: close}
	}
	existing := []*domain.Candle{mk(2, 3), mk(0, 1), mk(1, 2)}
	incoming := []*domain.Candle{mk(1, 20), mk(3, 4)}

	merged := MergeCandles(existing, incoming)
	require.Len(t, merged, 4)
	for i, c := range merged {
		assert.Equal(t, t0.Add(time.Duration(i)*time.Hour), c.Timestamp)
	}
	assert.Equal(t, 20.0, merged[1].Close, "incoming bar wins")
	assert.Equal(t, 3.0, existing[0].Close, "input untouched")
}

func TestDiskCache_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDiskCache(dir)
	require.NoError(t, err)

	_, _, err = d.Load("BTCUSDT", "1h")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	candles := []*domain.Candle{
		{Symbol: "BTCUSDT", Interval: "1h", Timestamp: t0.Add(time.Hour), Open: 2, High: 3, Low: 1, Close: 2.5, Volume: 7},
		{Symbol: "BTCUSDT", Interval: "1h", Timestamp: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3},
		{Symbol: "BTCUSDT", Interval: "1h", Timestamp: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3},
	}
	require.NoError(t, d.Save("BTCUSDT", "1h", candles, t0))

	loaded, cachedAt, err := d.Load("BTCUSDT", "1h")
	require.NoError(t, err)
	assert.Equal(t, t0, cachedAt)
	require.Len(t, loaded, 2, "deduplicated")
	assert.Equal(t, *candles[1], *loaded[0])
	assert.Equal(t, *candles[0], *loaded[1])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	require.NoError(t, d.Remove("BTCUSDT", "1h"))
	require.NoError(t, d.Remove("BTCUSDT", "1h"))
	_, _, err = d.Load("BTCUSDT", "1h")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestDiskCache_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDiskCache(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_1h.candles.zst"), []byte("garbage"), 0o644))

	_, _, err = d.Load("BTCUSDT", "1h")
	assert.ErrorIs(t, err, ports.ErrStorage)
}

func TestGetCurrentPrice(t *testing.T) {
	ctx := context.Background()
	ex := &mockExchange{price: 101}
	f, clock, _ := newTestFeed(t, ex, Config{PriceMaxAge: 30 * time.Second})

	price, err := f.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.0, price)

	ex.mu.Lock()
	ex.price = 102
	ex.mu.Unlock()
	price, err = f.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 101.0, price, "served from cache")
	calls, _ := ex.calls()
	assert.Equal(t, 1, calls)

	clock.Advance(31 * time.Second)
	price, err = f.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 102.0, price, "stale entry refetched")
}

func TestGetCurrentPrice_NeverStale(t *testing.T) {
	ctx := context.Background()
	ex := &mockExchange{price: 101}
	f, clock, _ := newTestFeed(t, ex, Config{PriceMaxAge: 30 * time.Second})

	_, err := f.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	ex.mu.Lock()
	ex.tickerErr = fmt.Errorf("read: %w", ports.ErrConnectionFailed)
	ex.mu.Unlock()

	price, err := f.GetCurrentPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrDataUnavailable)
	assert.Equal(t, ports.ClassDataUnavailable, ports.Classify(err))
	assert.Zero(t, price)
}

func TestGetHistoricalCandles_CacheLayers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ex := &mockExchange{klines: rawBars(50)}
	f, clock, logger := newTestFeed(t, ex, Config{HistoryTTL: 5 * time.Minute, CacheDir: dir})

	candles, err := f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 30)
	require.NoError(t, err)
	require.Len(t, candles, 30)
	assert.Equal(t, 149.0, candles[29].Close, "most recent bars")
	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp))
	}

	_, err = f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 30)
	require.NoError(t, err)
	_, klineCalls := ex.calls()
	assert.Equal(t, 1, klineCalls, "memory hit")

	// A second feed over the same directory is served from disk.
	ex2 := &mockExchange{klinesErr: ports.ErrConnectionFailed}
	f2, _, _ := newTestFeed(t, ex2, Config{HistoryTTL: 5 * time.Minute, CacheDir: dir})
	fromDisk, err := f2.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 30)
	require.NoError(t, err)
	assert.Len(t, fromDisk, 30)
	_, klineCalls = ex2.calls()
	assert.Equal(t, 0, klineCalls)

	// Expired cache with a failing exchange falls back to the stale copy.
	clock.Advance(10 * time.Minute)
	ex.mu.Lock()
	ex.klinesErr = fmt.Errorf("read: %w", ports.ErrConnectionFailed)
	ex.mu.Unlock()
	stale, err := f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 30)
	require.NoError(t, err)
	assert.Len(t, stale, 30)
	assert.Contains(t, logger.warnings(), "Serving stale candle history")

	// Invalidate drops both copies; the next failing fetch has nothing to fall back on.
	require.NoError(t, f.Invalidate("BTCUSDT", "1h"))
	_, err = f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 30)
	assert.ErrorIs(t, err, ports.ErrDataUnavailable)
}

func TestGetHistoricalCandles_DropsInvalidBars(t *testing.T) {
	bars := rawBars(5)
	bars[2].Close = "not-a-number"
	ex := &mockExchange{klines: bars}
	f, _, _ := newTestFeed(t, ex, Config{})

	candles, err := f.GetHistoricalCandles(context.Background(), "BTCUSDT", "1h", 5)
	require.NoError(t, err)
	assert.Len(t, candles, 4)
}

func TestSubscribe_ReconnectsAndCachesPrice(t *testing.T) {
	ctx := context.Background()
	ex := &mockExchange{failFirst: true, streamCandle: rawBar(0, "123", false)}
	f, _, logger := newTestFeed(t, ex, Config{ReconnectDelay: 10 * time.Millisecond})

	require.NoError(t, f.Subscribe(ctx, "BTCUSDT"))
	require.NoError(t, f.Subscribe(ctx, "BTCUSDT"), "idempotent")

	assert.Eventually(t, func() bool { return ex.streamCalls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool {
		f.priceMu.RLock()
		defer f.priceMu.RUnlock()
		_, ok := f.prices["BTCUSDT"]
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, logger.warnings(), "Candle stream down, reconnecting")

	price, err := f.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 123.0, price)
	ticker, _ := ex.calls()
	assert.Zero(t, ticker, "served from the stream")

	require.NoError(t, f.Close(ctx))
	err = f.Subscribe(ctx, "ETHUSDT")
	assert.True(t, errors.Is(err, ports.ErrContextCanceled))
}

func TestSubscribe_StopsWithContext(t *testing.T) {
	ex := &mockExchange{}
	f, _, _ := newTestFeed(t, ex, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.Subscribe(ctx, "BTCUSDT"))
	cancel()

	assert.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.subs) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHandleCandle_MergesFinalBars(t *testing.T) {
	ctx := context.Background()
	ex := &mockExchange{klines: rawBars(10)}
	f, _, _ := newTestFeed(t, ex, Config{})

	_, err := f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 10)
	require.NoError(t, err)

	f.handleCandle(ctx, "BTCUSDT", rawBar(10, "150", false))
	candles, err := f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 20)
	require.NoError(t, err)
	assert.Len(t, candles, 10, "open bars only update the price")

	f.handleCandle(ctx, "BTCUSDT", rawBar(10, "150", true))
	f.handleCandle(ctx, "BTCUSDT", rawBar(9, "160", true))
	candles, err = f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 11)
	require.NoError(t, err)
	require.Len(t, candles, 11)
	assert.Equal(t, 160.0, candles[9].Close, "replaces the bar with the same open time")
	assert.Equal(t, 150.0, candles[10].Close)

	f.handleCandle(ctx, "BTCUSDT", rawBar(11, "999", true)) // close above high
	price, err := f.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 160.0, price, "invalid bar dropped")
}

func TestGetHistoricalCandles_EvictsOldestCached(t *testing.T) {
	ctx := context.Background()
	ex := &mockExchange{klines: rawBars(5)}
	f, clock, _ := newTestFeed(t, ex, Config{HistoryCapacity: 2, HistoryTTL: 10 * time.Minute})

	fetch := func(symbol string) {
		t.Helper()
		_, err := f.GetHistoricalCandles(ctx, symbol, "1h", 5)
		require.NoError(t, err)
	}
	klineCalls := func() int {
		_, n := ex.calls()
		return n
	}

	fetch("AAAUSDT")
	clock.Advance(time.Minute)
	fetch("BBBUSDT")
	fetch("AAAUSDT") // a read does not make A younger
	require.Equal(t, 2, klineCalls())

	clock.Advance(time.Minute)
	fetch("CCCUSDT")
	require.Equal(t, 3, klineCalls())
	assert.Equal(t, 2, f.history.Len())

	fetch("BBBUSDT")
	assert.Equal(t, 3, klineCalls(), "B kept")
	fetch("AAAUSDT")
	assert.Equal(t, 4, klineCalls(), "A evicted as the oldest cached")
}

func TestGetHistoricalCandles_LargerLimitNotShared(t *testing.T) {
	ctx := context.Background()
	ex := &mockExchange{klines: rawBars(50), klinesGate: make(chan struct{})}
	f, _, _ := newTestFeed(t, ex, Config{})

	var wg sync.WaitGroup
	got := make([][]*domain.Candle, 2)
	fetch := func(i, limit int) {
		defer wg.Done()
		candles, err := f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", limit)
		assert.NoError(t, err)
		got[i] = candles
	}

	wg.Add(1)
	go fetch(0, 5)
	require.Eventually(t, func() bool { _, n := ex.calls(); return n == 1 }, time.Second, time.Millisecond)
	wg.Add(1)
	go fetch(1, 50)
	require.Eventually(t, func() bool { _, n := ex.calls(); return n == 2 }, time.Second, time.Millisecond)

	close(ex.klinesGate)
	wg.Wait()
	assert.Len(t, got[0], 5)
	assert.Len(t, got[1], 50)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	ex := &mockExchange{price: 100, klines: rawBars(5)}
	f, clock, _ := newTestFeed(t, ex, Config{PriceMaxAge: 30 * time.Second, HistoryRetention: time.Hour})

	_, err := f.GetCurrentPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	_, err = f.GetHistoricalCandles(ctx, "BTCUSDT", "1h", 5)
	require.NoError(t, err)

	prices, history := f.Sweep()
	assert.Zero(t, prices)
	assert.Zero(t, history)

	clock.Advance(2 * time.Hour)
	prices, history = f.Sweep()
	assert.Equal(t, 1, prices)
	assert.Equal(t, 1, history)
}
