package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"cryptoSpotBot/config"
	"cryptoSpotBot/internal/adapters/binanceclient"
	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/marketdata"
	"cryptoSpotBot/internal/retry"
	"cryptoSpotBot/internal/utils"
)

// fetch_klines warms the on-disk candle cache the bot reads at startup and can export the
// same candles as CSV.
func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default: SYMBOLS from config)")
	interval := flag.String("interval", "", "kline interval (default: INTERVAL from config)")
	limit := flag.Int("limit", 500, "number of most recent candles per symbol")
	csvDir := flag.String("csv", "", "also export candles as CSV into this directory")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel})
	defer func() { _ = appLogger.Sync() }()

	// 3. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:            cfg.APIKey,
		SecretKey:         cfg.SecretKey,
		UseTestnet:        cfg.IsTestnet,
		Logger:            appLogger,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	// 4. Feed writes every fetch through to the disk cache
	feedCfg := cfg.Feed
	if *interval != "" {
		feedCfg.StreamInterval = *interval
	}
	if *limit > feedCfg.MaxCandles {
		feedCfg.MaxCandles = *limit
	}
	policy := retry.DefaultPolicy(appLogger, nil)
	feed, err := marketdata.NewFeed(binanceClient, policy, appLogger, feedCfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize market data feed: %v", err)
	}
	defer feed.Close(context.Background())

	symbols := cfg.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(strings.ToUpper(*symbolsFlag), ",")
	}

	failed := 0
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if err := feed.Invalidate(symbol, feedCfg.StreamInterval); err != nil {
			appLogger.Warn(ctx, "Failed to invalidate cached candles", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		}
		candles, err := feed.GetHistoricalCandles(ctx, symbol, feedCfg.StreamInterval, *limit)
		if err != nil {
			appLogger.Error(ctx, err, "Error fetching klines", map[string]interface{}{"symbol": symbol})
			failed++
			continue
		}
		fields := map[string]interface{}{"symbol": symbol, "interval": feedCfg.StreamInterval, "count": len(candles), "cacheDir": feedCfg.CacheDir}
		if len(candles) > 0 {
			fields["from"] = candles[0].Timestamp
			fields["to"] = candles[len(candles)-1].Timestamp
		}
		appLogger.Info(ctx, "Fetched klines", fields)

		if *csvDir == "" || len(candles) == 0 {
			continue
		}
		filename := filepath.Join(*csvDir, fmt.Sprintf("%s_%s_%s_to_%s.csv", symbol, feedCfg.StreamInterval,
			candles[0].Timestamp.Format("20060102"), candles[len(candles)-1].Timestamp.Format("20060102")))
		if err := utils.WriteCandlesToCSV(candles, filename); err != nil {
			appLogger.Error(ctx, err, "Error writing CSV", map[string]interface{}{"filename": filename})
			failed++
			continue
		}
		appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
	}

	if failed > 0 {
		log.Fatalf("%d of %d symbols failed", failed, len(symbols))
	}
}
