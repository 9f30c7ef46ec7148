package strategy

import (
	"context"
	"fmt"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// Config holds parameters for the EMA crossover entry signal.
type Config struct {
	EMAShortPeriod   int     // e.g., 9
	EMALongPeriod    int     // e.g., 21
	RSIPeriod        int     // e.g., 14
	ADXPeriod        int     // e.g., 14
	RSIOverbought    float64 // e.g., 70.0
	ADXThreshold     float64 // e.g., 25.0
	MomentumMin      float64 // Minimum rate of change
	TrendStrengthMin float64
}

// EMACrossover implements ports.EntrySignal: the short EMA crossing above the long EMA on the
// last bar, confirmed by RSI, ADX, momentum and trend strength.
type EMACrossover struct {
	cfg    Config
	logger ports.Logger
}

var _ ports.EntrySignal = (*EMACrossover)(nil)

// New creates a new EMACrossover instance.
func New(cfg Config, logger ports.Logger) (*EMACrossover, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	// Basic validation
	if cfg.EMAShortPeriod <= 0 || cfg.EMALongPeriod <= 0 || cfg.RSIPeriod <= 0 || cfg.ADXPeriod <= 0 {
		return nil, fmt.Errorf("strategy periods must be positive")
	}
	if cfg.EMAShortPeriod >= cfg.EMALongPeriod {
		return nil, fmt.Errorf("short EMA period must be less than long EMA period")
	}
	return &EMACrossover{cfg: cfg, logger: logger}, nil
}

// RequiredDataPoints returns the minimum number of candles needed for the signal's indicators.
// The crossover compares two bars, so the long EMA needs one extra candle; ADX needs two periods.
func (s *EMACrossover) RequiredDataPoints() int {
	need := s.cfg.EMALongPeriod + 1
	if s.cfg.RSIPeriod+1 > need {
		need = s.cfg.RSIPeriod + 1
	}
	if 2*s.cfg.ADXPeriod > need {
		need = 2 * s.cfg.ADXPeriod
	}
	return need
}

// ShouldEnter reports whether every entry condition holds on the snapshot.
func (s *EMACrossover) ShouldEnter(ctx context.Context, snap *domain.MarketSnapshot) bool {
	if snap == nil || !snap.Ready {
		s.logger.Debug(ctx, "Not enough candle data for strategy evaluation")
		return false
	}

	crossedUp := snap.PrevEMAShort < snap.PrevEMALong && snap.EMAShort > snap.EMALong
	isNotOverbought := snap.RSI < s.cfg.RSIOverbought
	isTrending := snap.ADX > s.cfg.ADXThreshold
	hasMomentum := snap.Momentum > s.cfg.MomentumMin
	isStrong := snap.TrendStrength > s.cfg.TrendStrengthMin

	fields := map[string]interface{}{
		"symbol":          snap.Symbol,
		"price":           snap.Price,
		"emaShort":        snap.EMAShort,
		"emaLong":         snap.EMALong,
		"rsi":             snap.RSI,
		"adx":             snap.ADX,
		"momentum":        snap.Momentum,
		"trendStrength":   snap.TrendStrength,
		"crossedUp":       crossedUp,
		"isNotOverbought": isNotOverbought,
		"isTrending":      isTrending,
		"hasMomentum":     hasMomentum,
		"isStrong":        isStrong,
	}
	if crossedUp && isNotOverbought && isTrending && hasMomentum && isStrong {
		s.logger.Info(ctx, "Trade entry conditions met", fields)
		return true
	}

	s.logger.Debug(ctx, "Trade entry conditions not met", fields)
	return false
}
