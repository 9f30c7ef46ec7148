package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/strategy/indicators"
)

// Config holds configuration for risk management. Percent-like values are fractions
// (0.02 = 2%) except MaxSpreadPercent, which is in percent.
type Config struct {
	// Sizing
	RiskPerTrade          float64 // Fraction of balance lost if the stop is hit
	StopLossPercent       float64
	TakeProfitPercent     float64
	MaxExposureFraction   float64 // Cap on total committed notional relative to balance
	MinNotional           float64 // Lower bound on order notional; exchange minimum wins when larger
	MaxVolatility         float64 // Dampener denominator and upper volatility band
	MinVolatility         float64 // Lower volatility band
	MarketImpactThreshold float64 // Max order notional relative to average candle quote volume
	MinRiskRewardRatio    float64

	// Entry gates
	MaxSpreadPercent       float64
	MinVolumeMultiplier    float64
	PriceChangeThreshold   float64
	TrendStrengthThreshold float64
	MaxVWAPDistance        float64

	// Exits
	RSIOverbought         float64
	ADXThreshold          float64
	TrailingActivationPct float64
	TrailingDistancePct   float64
	MaxPositionDuration   time.Duration // Zero disables the time limit

	// Trade cadence, derived from the trade log
	MinTradeInterval     time.Duration
	MaxDailyTrades       int
	DailyProfitTarget    float64 // Fraction of account value
	MaxDailyLoss         float64 // Fraction of account value
	MaxConsecutiveLosses int
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.RiskPerTrade <= 0 || c.RiskPerTrade > 0.1:
		return fmt.Errorf("risk per trade must be in (0, 0.1], got %f", c.RiskPerTrade)
	case c.StopLossPercent <= 0 || c.StopLossPercent >= 1:
		return fmt.Errorf("stop loss percent must be in (0, 1), got %f", c.StopLossPercent)
	case c.TakeProfitPercent <= 0:
		return fmt.Errorf("take profit percent must be positive, got %f", c.TakeProfitPercent)
	case c.MaxExposureFraction <= 0 || c.MaxExposureFraction > 1:
		return fmt.Errorf("max exposure fraction must be in (0, 1], got %f", c.MaxExposureFraction)
	case c.MaxVolatility <= 0 || c.MinVolatility < 0 || c.MinVolatility >= c.MaxVolatility:
		return fmt.Errorf("volatility band [%f, %f] is invalid", c.MinVolatility, c.MaxVolatility)
	case c.TrailingDistancePct < 0 || c.TrailingDistancePct >= 1:
		return fmt.Errorf("trailing distance must be in [0, 1), got %f", c.TrailingDistancePct)
	case c.MaxConsecutiveLosses < 0 || c.MaxDailyTrades < 0:
		return fmt.Errorf("trade count limits must not be negative")
	}
	return nil
}

// Manager decides whether and how large a trade may be. It holds no mutable state;
// every decision is derived from its inputs.
type Manager struct {
	cfg Config
}

// NewManager creates a new risk manager instance.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// StopLossFor returns the fixed initial stop for a long entry.
func (m *Manager) StopLossFor(entryPrice float64) float64 {
	return entryPrice * (1 - m.cfg.StopLossPercent)
}

// TakeProfitFor returns the take-profit level for a long entry.
func (m *Manager) TakeProfitFor(entryPrice float64) float64 {
	return entryPrice * (1 + m.cfg.TakeProfitPercent)
}

// SizingReport records every step of a sizing decision.
type SizingReport struct {
	Base             float64 // Fixed-fractional quantity before adjustments
	VolatilityFactor float64
	MarketImpact     float64 // Order notional / average candle quote volume, before scaling
	ImpactFactor     float64
	Cap              float64 // Quantity allowed by the remaining exposure budget
	MinQty           float64 // Quantity needed to reach the minimum notional
	Final            float64
}

// SizePosition sizes a long entry at price using the configured stop distance.
func (m *Manager) SizePosition(balance, committed, price float64, snap *domain.MarketSnapshot, info *domain.SymbolInfo) (float64, SizingReport, error) {
	return m.SizePositionWithStop(balance, committed, price, m.StopLossFor(price), snap, info)
}

// SizePositionWithStop applies fixed-fractional sizing, the volatility dampener, the market-impact
// scale-down, the exposure cap and the minimum notional floor, then rounds down to the lot step.
// The result is non-increasing in snapshot volatility.
func (m *Manager) SizePositionWithStop(balance, committed, entry, stop float64, snap *domain.MarketSnapshot, info *domain.SymbolInfo) (float64, SizingReport, error) {
	var rep SizingReport
	if balance <= 0 || entry <= 0 {
		return 0, rep, fmt.Errorf("%w: balance %f and entry %f must be positive", ports.ErrValidationFailed, balance, entry)
	}
	distance := math.Abs(entry - stop)
	if distance == 0 {
		return 0, rep, fmt.Errorf("%w: stop equals entry %f", ports.ErrValidationFailed, entry)
	}

	rep.Base = balance * m.cfg.RiskPerTrade / distance
	qty := rep.Base

	rep.VolatilityFactor = 1
	rep.ImpactFactor = 1
	if snap != nil {
		rep.VolatilityFactor = indicators.VolatilityAdjustment(snap.Volatility, m.cfg.MaxVolatility)
		qty *= rep.VolatilityFactor

		if snap.AvgVolumeNotional > 0 && m.cfg.MarketImpactThreshold > 0 {
			rep.MarketImpact = qty * entry / snap.AvgVolumeNotional
			if rep.MarketImpact > m.cfg.MarketImpactThreshold {
				rep.ImpactFactor = m.cfg.MarketImpactThreshold / rep.MarketImpact
				qty *= rep.ImpactFactor
			}
		}
	}

	rep.Cap = (balance*m.cfg.MaxExposureFraction - committed) / entry
	if rep.Cap <= 0 {
		return 0, rep, fmt.Errorf("%w: exposure budget exhausted (committed %f of %f)",
			ports.ErrValidationFailed, committed, balance*m.cfg.MaxExposureFraction)
	}
	if qty > rep.Cap {
		qty = rep.Cap
	}

	step, minNotional, minQty := 0.0, m.cfg.MinNotional, 0.0
	if info != nil {
		step = info.StepSize
		minNotional = math.Max(minNotional, info.MinNotional)
		minQty = info.MinQty
	}
	rep.MinQty = math.Max(CeilToStep(minNotional/entry, step), minQty)
	if qty < rep.MinQty {
		if rep.MinQty > rep.Cap {
			return 0, rep, fmt.Errorf("%w: minimum order %f exceeds exposure cap %f",
				ports.ErrValidationFailed, rep.MinQty, rep.Cap)
		}
		qty = rep.MinQty
	}

	rep.Final = FloorToStep(qty, step)
	if rep.Final <= 0 {
		return 0, rep, fmt.Errorf("%w: quantity rounds to zero", ports.ErrValidationFailed)
	}
	return rep.Final, rep, nil
}

// FloorToStep rounds qty down to a multiple of step. A non-positive step leaves qty unchanged.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(qty).Div(s).Floor().Mul(s).InexactFloat64()
}

// CeilToStep rounds qty up to a multiple of step. A non-positive step leaves qty unchanged.
func CeilToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(qty).Div(s).Ceil().Mul(s).InexactFloat64()
}
