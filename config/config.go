package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptoSpotBot/internal/adapters/logger" // Import the logger package for LogLevel
	"cryptoSpotBot/internal/execution"
	"cryptoSpotBot/internal/marketdata"
	"cryptoSpotBot/internal/risk"
	"cryptoSpotBot/internal/strategy"
	"cryptoSpotBot/internal/strategy/indicators"
)

// RetryConfig holds the transport retry policy settings.
type RetryConfig struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	RateLimitBaseDelay time.Duration
	MaxDelay           time.Duration
}

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey            string
	SecretKey         string
	IsTestnet         bool
	RequestsPerSecond float64

	// Trading
	Symbols              []string
	QuoteAsset           string
	CycleInterval        time.Duration // Time between decision cycles
	MaxConcurrentSymbols int
	PriceBucket          float64       // Price granularity of order idempotency keys
	KeyWindow            time.Duration // Time granularity of order idempotency keys

	// Component settings
	Risk      risk.Config
	Strategy  strategy.Config
	Snapshot  strategy.SnapshotParams
	Feed      marketdata.Config
	Execution execution.Config
	Retry     RetryConfig

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFile  string          // Empty disables the rotating file sink

	// Alerts
	TelegramToken  string
	TelegramChatID string
	AlertQueueSize int
	AlertRepeat    time.Duration // A persisting fatal failure is alerted again after this long

	// Metrics
	MetricsAddr string // Empty disables the metrics server

	// Status reports
	StatusInterval        time.Duration // Zero disables the periodic status report
	StatusMetricsWindow   time.Duration
	WinRateThreshold      float64
	ProfitFactorThreshold float64

	ShutdownTimeout time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors
	check := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}
	cfg.RequestsPerSecond = getEnvAsFloat("BINANCE_REQUESTS_PER_SECOND", 10)

	// Trading
	cfg.Symbols = getEnvAsList("SYMBOLS", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	if len(cfg.Symbols) == 0 {
		errs = append(errs, "SYMBOLS must list at least one symbol")
	}
	cfg.QuoteAsset = strings.ToUpper(getEnv("QUOTE_ASSET", "USDT"))
	for _, s := range cfg.Symbols {
		if !strings.HasSuffix(s, cfg.QuoteAsset) {
			errs = append(errs, fmt.Sprintf("symbol %s is not quoted in %s", s, cfg.QuoteAsset))
		}
	}
	var err error
	cfg.CycleInterval, err = getEnvAsDuration("CYCLE_INTERVAL", time.Minute)
	check(err)
	if cfg.CycleInterval <= 0 {
		errs = append(errs, "CYCLE_INTERVAL must be positive")
	}
	cfg.MaxConcurrentSymbols, err = getEnvAsIntRequired("MAX_CONCURRENT_SYMBOLS", 3)
	check(err)
	if cfg.MaxConcurrentSymbols <= 0 {
		errs = append(errs, "MAX_CONCURRENT_SYMBOLS must be positive")
	}
	cfg.PriceBucket, err = getEnvAsFloatRequired("ORDER_KEY_PRICE_BUCKET", 1)
	check(err)
	if cfg.PriceBucket <= 0 {
		errs = append(errs, "ORDER_KEY_PRICE_BUCKET must be positive")
	}
	cfg.KeyWindow, err = getEnvAsDuration("ORDER_KEY_WINDOW", time.Minute)
	check(err)

	check(loadRisk(cfg))
	check(loadStrategy(cfg))
	check(loadFeed(cfg))
	check(loadExecution(cfg))

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/spot_bot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package
	cfg.LogFile = getEnv("LOG_FILE", "")

	// Alerts
	cfg.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	if cfg.TelegramToken != "" && cfg.TelegramChatID == "" {
		errs = append(errs, "TELEGRAM_CHAT_ID is required when TELEGRAM_TOKEN is set")
	}
	cfg.AlertQueueSize = getEnvAsInt("ALERT_QUEUE_SIZE", 64)
	cfg.AlertRepeat, err = getEnvAsDuration("ALERT_REPEAT_INTERVAL", 30*time.Minute)
	check(err)

	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")
	cfg.StatusInterval, err = getEnvAsDuration("STATUS_INTERVAL", time.Hour)
	check(err)
	if cfg.StatusInterval < 0 {
		errs = append(errs, "STATUS_INTERVAL must not be negative")
	}
	cfg.StatusMetricsWindow, err = getEnvAsDuration("STATUS_METRICS_WINDOW", 7*24*time.Hour)
	check(err)
	cfg.WinRateThreshold, err = getEnvAsFloatRequired("WIN_RATE_THRESHOLD", 0.5)
	check(err)
	cfg.ProfitFactorThreshold, err = getEnvAsFloatRequired("PROFIT_FACTOR_THRESHOLD", 1.5)
	check(err)
	cfg.ShutdownTimeout, err = getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second)
	check(err)

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

func loadRisk(cfg *Config) error {
	var errs []string
	floats := []struct {
		key string
		dst *float64
		def float64
	}{
		{"RISK_PER_TRADE", &cfg.Risk.RiskPerTrade, 0.02},
		{"STOP_LOSS", &cfg.Risk.StopLossPercent, 0.02},
		{"TAKE_PROFIT", &cfg.Risk.TakeProfitPercent, 0.03},
		{"MAX_EXPOSURE_FRACTION", &cfg.Risk.MaxExposureFraction, 0.9},
		{"MIN_NOTIONAL", &cfg.Risk.MinNotional, 10},
		{"MAX_VOLATILITY", &cfg.Risk.MaxVolatility, 0.2},
		{"MIN_VOLATILITY", &cfg.Risk.MinVolatility, 0.001},
		{"MARKET_IMPACT_THRESHOLD", &cfg.Risk.MarketImpactThreshold, 0.1},
		{"MIN_RISK_REWARD_RATIO", &cfg.Risk.MinRiskRewardRatio, 1.5},
		{"MAX_SPREAD_PERCENT", &cfg.Risk.MaxSpreadPercent, 0.1},
		{"MIN_VOLUME_MULTIPLIER", &cfg.Risk.MinVolumeMultiplier, 1.0},
		{"PRICE_CHANGE_THRESHOLD", &cfg.Risk.PriceChangeThreshold, 0.03},
		{"TREND_STRENGTH_THRESHOLD", &cfg.Risk.TrendStrengthThreshold, 0.3},
		{"MAX_VWAP_DISTANCE", &cfg.Risk.MaxVWAPDistance, 0.02},
		{"RSI_OVERBOUGHT", &cfg.Risk.RSIOverbought, 70},
		{"ADX_THRESHOLD", &cfg.Risk.ADXThreshold, 25},
		{"TRAILING_ACTIVATION", &cfg.Risk.TrailingActivationPct, 0.01},
		{"TRAILING_DISTANCE", &cfg.Risk.TrailingDistancePct, 0.005},
		{"DAILY_PROFIT_TARGET", &cfg.Risk.DailyProfitTarget, 0.05},
		{"DAILY_LOSS_LIMIT", &cfg.Risk.MaxDailyLoss, 0.05},
	}
	for _, f := range floats {
		v, err := getEnvAsFloatRequired(f.key, f.def)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		*f.dst = v
	}

	var err error
	if cfg.Risk.MaxDailyTrades, err = getEnvAsIntRequired("MAX_DAILY_TRADES", 5); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Risk.MaxConsecutiveLosses, err = getEnvAsIntRequired("MAX_CONSECUTIVE_LOSSES", 3); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Risk.MinTradeInterval, err = getEnvAsDuration("MIN_TRADE_INTERVAL", 300*time.Second); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Risk.MaxPositionDuration, err = getEnvAsDuration("MAX_POSITION_DURATION", 24*time.Hour); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) == 0 {
		if err := cfg.Risk.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("invalid risk settings: %v", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func loadStrategy(cfg *Config) error {
	// Strategy Parameters (using defaults if not set)
	cfg.Strategy = strategy.Config{
		EMAShortPeriod:   getEnvAsInt("STRATEGY_EMA_SHORT_PERIOD", 9),
		EMALongPeriod:    getEnvAsInt("STRATEGY_EMA_LONG_PERIOD", 21),
		RSIPeriod:        getEnvAsInt("STRATEGY_RSI_PERIOD", 14),
		ADXPeriod:        getEnvAsInt("STRATEGY_ADX_PERIOD", 14),
		RSIOverbought:    cfg.Risk.RSIOverbought,
		ADXThreshold:     cfg.Risk.ADXThreshold,
		MomentumMin:      getEnvAsFloat("STRATEGY_MOMENTUM_MIN", 0),
		TrendStrengthMin: cfg.Risk.TrendStrengthThreshold,
	}

	snap := strategy.DefaultSnapshotParams()
	snap.Interval = getEnv("INTERVAL", "1m")
	snap.Lookback = getEnvAsInt("CANDLE_LOOKBACK", 100)
	snap.RSIPeriod = cfg.Strategy.RSIPeriod
	snap.EMAShortPeriod = cfg.Strategy.EMAShortPeriod
	snap.EMALongPeriod = cfg.Strategy.EMALongPeriod
	snap.ADXPeriod = cfg.Strategy.ADXPeriod
	snap.ATRPeriod = getEnvAsInt("STRATEGY_ATR_PERIOD", 14)
	snap.VWAPPeriod = getEnvAsInt("STRATEGY_VWAP_PERIOD", 20)
	snap.VolatilityPeriod = getEnvAsInt("STRATEGY_VOLATILITY_PERIOD", 20)
	snap.MomentumPeriod = getEnvAsInt("STRATEGY_MOMENTUM_PERIOD", 10)
	snap.VolumeMAPeriod = getEnvAsInt("STRATEGY_VOLUME_MA_PERIOD", 20)
	snap.Trend = indicators.DefaultTrendParams()
	snap.Trend.EMAShortPeriod = cfg.Strategy.EMAShortPeriod
	snap.Trend.EMALongPeriod = cfg.Strategy.EMALongPeriod
	snap.Trend.MaxVolatility = cfg.Risk.MaxVolatility
	cfg.Snapshot = snap

	var errs []string
	// Validate strategy periods
	if cfg.Strategy.EMAShortPeriod <= 0 || cfg.Strategy.EMALongPeriod <= 0 || cfg.Strategy.RSIPeriod <= 0 || cfg.Strategy.ADXPeriod <= 0 {
		errs = append(errs, "strategy periods (EMA, RSI, ADX) must be positive")
	}
	if cfg.Strategy.EMAShortPeriod >= cfg.Strategy.EMALongPeriod {
		errs = append(errs, "STRATEGY_EMA_SHORT_PERIOD must be less than STRATEGY_EMA_LONG_PERIOD")
	}
	if snap.Lookback < snap.EMALongPeriod+1 || snap.Lookback < 2*snap.ADXPeriod {
		errs = append(errs, "CANDLE_LOOKBACK is too short for the configured indicator periods")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func loadFeed(cfg *Config) error {
	var errs []string
	feed := marketdata.DefaultConfig()
	feed.StreamInterval = cfg.Snapshot.Interval
	feed.CacheDir = getEnv("CANDLE_CACHE_DIR", "data/candles")
	feed.HistoryCapacity = getEnvAsInt("HISTORY_CACHE_CAPACITY", 50)
	feed.MaxCandles = getEnvAsInt("HISTORY_MAX_CANDLES", feed.MaxCandles)

	durations := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"PRICE_MAX_AGE", &feed.PriceMaxAge, 15 * time.Second},
		{"HISTORY_TTL", &feed.HistoryTTL, 300 * time.Second},
		{"HISTORY_RETENTION", &feed.HistoryRetention, 24 * time.Hour},
		{"JANITOR_INTERVAL", &feed.JanitorInterval, 300 * time.Second},
		{"RECONNECT_DELAY", &feed.ReconnectDelay, 5 * time.Second},
	}
	for _, d := range durations {
		v, err := getEnvAsDuration(d.key, d.def)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if v <= 0 {
			errs = append(errs, d.key+" must be positive")
			continue
		}
		*d.dst = v
	}
	if feed.HistoryCapacity <= 0 {
		errs = append(errs, "HISTORY_CACHE_CAPACITY must be positive")
	}
	cfg.Feed = feed

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func loadExecution(cfg *Config) error {
	var errs []string
	exec := execution.DefaultConfig()
	exec.QuoteAsset = cfg.QuoteAsset
	var err error
	if exec.OrderTimeout, err = getEnvAsDuration("ORDER_TIMEOUT", exec.OrderTimeout); err != nil {
		errs = append(errs, err.Error())
	}
	if exec.PollInterval, err = getEnvAsDuration("ORDER_POLL_INTERVAL", exec.PollInterval); err != nil {
		errs = append(errs, err.Error())
	}
	if exec.FailureThreshold, err = getEnvAsIntRequired("CIRCUIT_FAILURE_THRESHOLD", exec.FailureThreshold); err != nil {
		errs = append(errs, err.Error())
	}
	if exec.Cooldown, err = getEnvAsDuration("CIRCUIT_COOLDOWN", exec.Cooldown); err != nil {
		errs = append(errs, err.Error())
	}
	if exec.PollInterval >= exec.OrderTimeout {
		errs = append(errs, "ORDER_POLL_INTERVAL must be shorter than ORDER_TIMEOUT")
	}
	cfg.Execution = exec

	cfg.Retry = RetryConfig{MaxAttempts: getEnvAsInt("MAX_RETRIES", 3)}
	if cfg.Retry.BaseDelay, err = getEnvAsDuration("RETRY_BASE_DELAY", 5*time.Second); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Retry.RateLimitBaseDelay, err = getEnvAsDuration("RATE_LIMIT_BASE_DELAY", 30*time.Second); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Retry.MaxDelay, err = getEnvAsDuration("RETRY_MAX_DELAY", 2*time.Minute); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Retry.MaxAttempts <= 0 {
		errs = append(errs, "MAX_RETRIES must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsList splits a comma-separated value, trimming blanks and upper-casing entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.ToUpper(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
