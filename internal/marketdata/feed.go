// Package marketdata maintains live prices and candle history for the trading loop.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/retry"
)

// Exchange is the subset of ports.ExchangeAdapter the feed reads from.
type Exchange interface {
	GetTicker(ctx context.Context, symbol string) (float64, error)
	GetBookTicker(ctx context.Context, symbol string) (*domain.BookTicker, error)
	GetHistoricalCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*domain.RawCandle, error)
	StreamCandles(ctx context.Context, symbol, interval string, handler func(*domain.RawCandle), errHandler func(error)) (<-chan struct{}, chan<- struct{}, error)
}

// Observer receives feed events for metrics. All methods must be safe for concurrent use.
type Observer interface {
	StreamState(symbol string, connected bool)
	StreamReconnect(symbol string)
	CandleDropped(symbol string)
	PriceCacheLookup(hit bool)
}

type nopObserver struct{}

func (nopObserver) StreamState(string, bool) {}
func (nopObserver) StreamReconnect(string)   {}
func (nopObserver) CandleDropped(string)     {}
func (nopObserver) PriceCacheLookup(bool)    {}

var errStreamClosed = errors.New("candle stream closed")

// Config holds feed tuning.
type Config struct {
	StreamInterval   string        // Kline interval subscribed over the websocket
	PriceMaxAge      time.Duration // A cached price older than this is refetched
	HistoryTTL       time.Duration // Cached history older than this is refetched
	HistoryCapacity  int           // Max (symbol, interval) entries kept in memory, oldest cachedAt evicted first
	HistoryRetention time.Duration // The janitor drops history cached longer ago than this
	MaxCandles       int           // Max candles kept per entry after stream merges
	ReconnectDelay   time.Duration
	JanitorInterval  time.Duration
	CacheDir         string // Empty disables the disk cache
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		StreamInterval:   "1h",
		PriceMaxAge:      30 * time.Second,
		HistoryTTL:       300 * time.Second,
		HistoryCapacity:  64,
		HistoryRetention: 24 * time.Hour,
		MaxCandles:       1000,
		ReconnectDelay:   5 * time.Second,
		JanitorInterval:  300 * time.Second,
		CacheDir:         "data/candles",
	}
}

type priceEntry struct {
	price      float64
	observedAt time.Time
}

type historyEntry struct {
	candles  []*domain.Candle
	cachedAt time.Time
}

// Option configures a Feed.
type Option func(*Feed)

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(f *Feed) {
		if o != nil {
			f.observer = o
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// Feed serves prices and candle history from memory, disk and the exchange, in that order,
// and keeps them current from per-symbol candle streams.
type Feed struct {
	exchange Exchange
	logger   ports.Logger
	policy   *retry.Policy
	disk     *DiskCache
	observer Observer
	cfg      Config
	now      func() time.Time

	priceMu sync.RWMutex
	prices  map[string]priceEntry

	historyMu sync.Mutex // serializes read-modify-write of history entries
	history   *lru.Cache
	fetches   singleflight.Group

	mu     sync.Mutex
	subs   map[string]context.CancelFunc
	closed bool
	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeed constructs a feed. A nil policy disables retries.
func NewFeed(exchange Exchange, policy *retry.Policy, logger ports.Logger, cfg Config, opts ...Option) (*Feed, error) {
	if exchange == nil {
		return nil, fmt.Errorf("NewFeed failed: %w: exchange is required", ports.ErrConfigurationError)
	}
	if logger == nil {
		return nil, fmt.Errorf("NewFeed failed: %w: logger is required", ports.ErrConfigurationError)
	}
	def := DefaultConfig()
	if cfg.StreamInterval == "" {
		cfg.StreamInterval = def.StreamInterval
	}
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = def.PriceMaxAge
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = def.HistoryTTL
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = def.HistoryCapacity
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = def.HistoryRetention
	}
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = def.MaxCandles
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = def.JanitorInterval
	}
	if policy == nil {
		policy = &retry.Policy{MaxAttempts: 1, Logger: logger}
	}

	history, err := lru.New(cfg.HistoryCapacity)
	if err != nil {
		return nil, fmt.Errorf("NewFeed failed: %w: %w", ports.ErrConfigurationError, err)
	}

	f := &Feed{
		exchange: exchange,
		logger:   logger,
		policy:   policy,
		observer: nopObserver{},
		cfg:      cfg,
		now:      time.Now,
		prices:   make(map[string]priceEntry),
		history:  history,
		subs:     make(map[string]context.CancelFunc),
	}
	f.root, f.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(f)
	}

	if cfg.CacheDir != "" {
		disk, err := NewDiskCache(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		f.disk = disk
	}
	return f, nil
}

func historyKey(symbol, interval string) string {
	return symbol + "|" + interval
}

// Subscribe starts a supervised candle stream for the symbol. Calling it again for a
// subscribed symbol is a no-op. The stream stops when ctx is canceled or the feed closes.
func (f *Feed) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("Subscribe failed: %w: feed closed", ports.ErrContextCanceled)
	}
	if _, ok := f.subs[symbol]; ok {
		return nil
	}

	streamCtx, cancel := context.WithCancel(f.root)
	stop := context.AfterFunc(ctx, cancel)
	f.subs[symbol] = func() {
		stop()
		cancel()
	}

	f.wg.Add(1)
	go f.supervise(streamCtx, symbol)
	f.logger.Info(ctx, "Subscribed to candle stream", map[string]interface{}{
		"symbol":   symbol,
		"interval": f.cfg.StreamInterval,
	})
	return nil
}

// supervise keeps one symbol's stream alive until ctx ends.
func (f *Feed) supervise(ctx context.Context, symbol string) {
	defer f.wg.Done()
	defer func() {
		f.mu.Lock()
		if release, ok := f.subs[symbol]; ok {
			release()
			delete(f.subs, symbol)
		}
		f.mu.Unlock()
	}()

	for {
		err := f.streamOnce(ctx, symbol)
		if ctx.Err() != nil {
			return
		}
		f.observer.StreamReconnect(symbol)
		f.logger.Warn(ctx, "Candle stream down, reconnecting", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
			"delay":  f.cfg.ReconnectDelay.String(),
		})

		timer := time.NewTimer(f.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *Feed) streamOnce(ctx context.Context, symbol string) error {
	handler := func(raw *domain.RawCandle) { f.handleCandle(ctx, symbol, raw) }
	errHandler := func(err error) {
		f.logger.Warn(ctx, "Candle stream error", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	done, stop, err := f.exchange.StreamCandles(ctx, symbol, f.cfg.StreamInterval, handler, errHandler)
	if err != nil {
		return err
	}
	f.observer.StreamState(symbol, true)
	defer f.observer.StreamState(symbol, false)

	select {
	case <-done:
		return errStreamClosed
	case <-ctx.Done():
		close(stop)
		<-done
		return ctx.Err()
	}
}

// handleCandle validates a streamed bar, refreshes the price cache and merges final bars.
func (f *Feed) handleCandle(ctx context.Context, symbol string, raw *domain.RawCandle) {
	c, err := ParseCandle(raw)
	if err != nil {
		f.observer.CandleDropped(symbol)
		f.logger.Warn(ctx, "Dropping invalid candle", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return
	}
	if c.Symbol == "" {
		c.Symbol = symbol
	}
	if c.Interval == "" {
		c.Interval = f.cfg.StreamInterval
	}

	f.setPrice(symbol, c.Close)
	if !raw.IsFinal {
		return
	}

	key := historyKey(symbol, c.Interval)
	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	v, ok := f.history.Peek(key)
	if !ok {
		return // nothing fetched yet; the next read loads full history
	}
	entry := v.(historyEntry)
	f.history.Add(key, historyEntry{
		candles:  tail(MergeCandles(entry.candles, []*domain.Candle{c}), f.cfg.MaxCandles),
		cachedAt: entry.cachedAt,
	})
}

func (f *Feed) setPrice(symbol string, price float64) {
	f.priceMu.Lock()
	f.prices[symbol] = priceEntry{price: price, observedAt: f.now()}
	f.priceMu.Unlock()
}

// GetCurrentPrice returns a price no older than PriceMaxAge. When the cache is stale,
// one synchronous fetch is made and shared by concurrent callers. It never returns a
// stale value; a failed fetch returns ErrDataUnavailable.
func (f *Feed) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.priceMu.RLock()
	e, ok := f.prices[symbol]
	f.priceMu.RUnlock()
	if ok && f.now().Sub(e.observedAt) <= f.cfg.PriceMaxAge {
		f.observer.PriceCacheLookup(true)
		return e.price, nil
	}
	f.observer.PriceCacheLookup(false)

	v, err, _ := f.fetches.Do("price|"+symbol, func() (interface{}, error) {
		price, err := f.exchange.GetTicker(ctx, symbol)
		if err != nil {
			return 0.0, err
		}
		if price <= 0 {
			return 0.0, fmt.Errorf("%w: non-positive price %v", ports.ErrInvalidRequest, price)
		}
		f.setPrice(symbol, price)
		return price, nil
	})
	if err != nil {
		f.logger.Warn(ctx, "Price fetch failed", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return 0, fmt.Errorf("GetCurrentPrice failed: %w: %w", ports.ErrDataUnavailable, err)
	}
	return v.(float64), nil
}

// GetBookTicker returns the current best bid and ask.
func (f *Feed) GetBookTicker(ctx context.Context, symbol string) (*domain.BookTicker, error) {
	return f.exchange.GetBookTicker(ctx, symbol)
}

// GetHistoricalCandles returns up to limit of the most recent candles, sorted and deduplicated.
// Sources are tried in order: fresh memory, fresh disk, the exchange. When the exchange fails
// the newest cached copy is served regardless of age; with no copy the error is
// ErrDataUnavailable.
func (f *Feed) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	key := historyKey(symbol, interval)
	now := f.now()

	var stale *historyEntry
	if e, ok := f.memoryEntry(key); ok {
		if now.Sub(e.cachedAt) <= f.cfg.HistoryTTL && len(e.candles) >= limit {
			return tail(e.candles, limit), nil
		}
		stale = &e
	}

	if f.disk != nil {
		candles, cachedAt, err := f.disk.Load(symbol, interval)
		switch {
		case err == nil:
			e := historyEntry{candles: candles, cachedAt: cachedAt}
			if now.Sub(cachedAt) <= f.cfg.HistoryTTL && len(candles) >= limit {
				f.storeMemory(key, e)
				return tail(candles, limit), nil
			}
			if stale == nil || cachedAt.After(stale.cachedAt) {
				stale = &e
			}
		case !errors.Is(err, ports.ErrNotFound):
			f.logger.Warn(ctx, "Disk candle cache unreadable", map[string]interface{}{
				"symbol":   symbol,
				"interval": interval,
				"error":    err.Error(),
			})
		}
	}

	// Callers asking for more bars must not share a smaller in-flight fetch.
	v, err, _ := f.fetches.Do(fmt.Sprintf("history|%s|%d", key, limit), func() (interface{}, error) {
		return f.fetchHistory(ctx, symbol, interval, limit)
	})
	if err == nil {
		return tail(v.([]*domain.Candle), limit), nil
	}

	if stale != nil && len(stale.candles) > 0 {
		f.logger.Warn(ctx, "Serving stale candle history", map[string]interface{}{
			"symbol":    symbol,
			"interval":  interval,
			"cached_at": stale.cachedAt,
			"error":     err.Error(),
		})
		return tail(stale.candles, limit), nil
	}
	return nil, fmt.Errorf("GetHistoricalCandles failed: %w: %w", ports.ErrDataUnavailable, err)
}

func (f *Feed) fetchHistory(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	var raws []*domain.RawCandle
	err := f.policy.Do(ctx, "GetHistoricalCandles", func(ctx context.Context) error {
		var err error
		raws, err = f.exchange.GetHistoricalCandles(ctx, symbol, interval, time.Time{}, time.Time{}, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	candles := make([]*domain.Candle, 0, len(raws))
	for _, raw := range raws {
		c, err := ParseCandle(raw)
		if err != nil {
			f.observer.CandleDropped(symbol)
			f.logger.Warn(ctx, "Dropping invalid historical candle", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		c.Symbol, c.Interval = symbol, interval
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: exchange returned no valid candles", ports.ErrNotFound)
	}
	candles = MergeCandles(nil, candles)

	cachedAt := f.now()
	f.storeMemory(historyKey(symbol, interval), historyEntry{candles: candles, cachedAt: cachedAt})
	if f.disk != nil {
		if err := f.disk.Save(symbol, interval, candles, cachedAt); err != nil {
			f.logger.Warn(ctx, "Failed to write candle cache", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
	}
	return candles, nil
}

// memoryEntry reads without promoting: eviction order is by cachedAt, not by access.
func (f *Feed) memoryEntry(key string) (historyEntry, bool) {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	v, ok := f.history.Peek(key)
	if !ok {
		return historyEntry{}, false
	}
	return v.(historyEntry), true
}

// storeMemory makes room for a new key by evicting the oldest cached entry itself, so the
// LRU's own recency-based eviction never fires.
func (f *Feed) storeMemory(key string, e historyEntry) {
	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	if !f.history.Contains(key) {
		f.trimHistoryLocked(f.cfg.HistoryCapacity - 1)
	}
	f.history.Add(key, e)
}

// trimHistoryLocked removes entries, oldest cachedAt first, until at most n remain.
// It returns the number removed. The caller holds historyMu.
func (f *Feed) trimHistoryLocked(n int) int {
	excess := f.history.Len() - n
	if excess <= 0 {
		return 0
	}
	entries := f.historyByAgeLocked()
	for _, e := range entries[:excess] {
		f.history.Remove(e.key)
	}
	return excess
}

type agedKey struct {
	key      interface{}
	cachedAt time.Time
}

// historyByAgeLocked lists cached keys oldest cachedAt first.
func (f *Feed) historyByAgeLocked() []agedKey {
	var out []agedKey
	for _, k := range f.history.Keys() {
		if v, ok := f.history.Peek(k); ok {
			out = append(out, agedKey{key: k, cachedAt: v.(historyEntry).cachedAt})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].cachedAt.Before(out[j].cachedAt) })
	return out
}

// Invalidate forces the next history read for (symbol, interval) to skip memory and disk.
func (f *Feed) Invalidate(symbol, interval string) error {
	f.historyMu.Lock()
	f.history.Remove(historyKey(symbol, interval))
	f.historyMu.Unlock()
	if f.disk != nil {
		return f.disk.Remove(symbol, interval)
	}
	return nil
}

// RunJanitor sweeps the caches every JanitorInterval until ctx is done or the feed closes.
func (f *Feed) RunJanitor(ctx context.Context) error {
	ticker := time.NewTicker(f.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.root.Done():
			return nil
		case <-ticker.C:
			prices, history := f.Sweep()
			f.logger.Debug(ctx, "Market data caches swept", map[string]interface{}{
				"prices_evicted":  prices,
				"history_evicted": history,
			})
		}
	}
}

// Sweep drops expired prices and history cached longer ago than HistoryRetention, then trims
// history to HistoryCapacity, oldest cachedAt first. It returns the number of entries removed
// from each cache.
func (f *Feed) Sweep() (prices, history int) {
	now := f.now()
	f.priceMu.Lock()
	for symbol, e := range f.prices {
		if now.Sub(e.observedAt) > f.cfg.PriceMaxAge {
			delete(f.prices, symbol)
			prices++
		}
	}
	f.priceMu.Unlock()

	f.historyMu.Lock()
	defer f.historyMu.Unlock()
	for _, e := range f.historyByAgeLocked() {
		if now.Sub(e.cachedAt) <= f.cfg.HistoryRetention {
			break
		}
		f.history.Remove(e.key)
		history++
	}
	history += f.trimHistoryLocked(f.cfg.HistoryCapacity)
	return prices, history
}

// Close stops every stream and the janitor, waits for them, and persists in-memory
// history to disk. Errors from each persisted entry are combined.
func (f *Feed) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, cancel := range f.subs {
		cancel()
	}
	f.mu.Unlock()
	f.cancel()

	var errs error
	waited := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("Feed.Close failed: %w: %w", ports.ErrTimeout, ctx.Err()))
	}

	if f.disk != nil {
		f.historyMu.Lock()
		for _, k := range f.history.Keys() {
			v, ok := f.history.Peek(k)
			if !ok {
				continue
			}
			e := v.(historyEntry)
			if len(e.candles) == 0 {
				continue
			}
			first := e.candles[0]
			errs = multierr.Append(errs, f.disk.Save(first.Symbol, first.Interval, e.candles, e.cachedAt))
		}
		f.historyMu.Unlock()
	}
	return errs
}
