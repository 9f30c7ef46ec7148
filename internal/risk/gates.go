package risk

import (
	"fmt"
	"math"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// Gate names, in evaluation order.
const (
	GateQuantity      = "quantity"
	GateSpread        = "spread"
	GateVolume        = "volume"
	GatePriceChange   = "price_change"
	GateTrendStrength = "trend_strength"
	GateVolatility    = "volatility"
	GateVWAPDistance  = "vwap_distance"
	GateRiskReward    = "risk_reward"
)

// GateResult is the observable outcome of one check.
type GateResult struct {
	Name      string
	Passed    bool
	Value     float64 // Measured value
	Threshold float64
	Reason    string
}

// Err returns nil for a passing gate and a ValidationFailed error otherwise.
func (g GateResult) Err() error {
	if g.Passed {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ports.ErrValidationFailed, g.Name, g.Reason)
}

// Fields returns the gate as log fields.
func (g GateResult) Fields() map[string]interface{} {
	return map[string]interface{}{
		"gate": g.Name, "passed": g.Passed, "value": g.Value, "threshold": g.Threshold, "reason": g.Reason,
	}
}

func pass(name string, value, threshold float64) GateResult {
	return GateResult{Name: name, Passed: true, Value: value, Threshold: threshold}
}

func fail(name string, value, threshold float64, format string, args ...interface{}) GateResult {
	return GateResult{Name: name, Value: value, Threshold: threshold, Reason: fmt.Sprintf(format, args...)}
}

// EntryDecision is the outcome of ValidateEntry. Gates holds every evaluated gate; evaluation stops
// at the first failure.
type EntryDecision struct {
	Allowed bool
	Gates   []GateResult
}

// Failed returns the failing gate, if any.
func (d EntryDecision) Failed() (GateResult, bool) {
	if len(d.Gates) == 0 || d.Allowed {
		return GateResult{}, false
	}
	return d.Gates[len(d.Gates)-1], true
}

// Err returns the failing gate's error, or nil when the entry is allowed.
func (d EntryDecision) Err() error {
	if g, ok := d.Failed(); ok {
		return g.Err()
	}
	return nil
}

// ValidateEntry runs the entry gates in order: spread, volume, price change, trend strength,
// volatility band and VWAP distance.
func (m *Manager) ValidateEntry(snap *domain.MarketSnapshot, qty float64) EntryDecision {
	var d EntryDecision
	if qty <= 0 {
		d.Gates = append(d.Gates, fail(GateQuantity, qty, 0, "proposed quantity must be positive"))
		return d
	}
	if snap == nil {
		d.Gates = append(d.Gates, fail(GateQuantity, qty, 0, "no market snapshot"))
		return d
	}

	for _, gate := range []func(*domain.MarketSnapshot) GateResult{
		m.SpreadGate,
		m.VolumeGate,
		m.PriceChangeGate,
		m.TrendStrengthGate,
		m.VolatilityGate,
		m.VWAPDistanceGate,
	} {
		g := gate(snap)
		d.Gates = append(d.Gates, g)
		if !g.Passed {
			return d
		}
	}
	d.Allowed = true
	return d
}

// SpreadGate fails when the bid/ask spread in percent exceeds MaxSpreadPercent.
// Without a book the gate passes and says so.
func (m *Manager) SpreadGate(snap *domain.MarketSnapshot) GateResult {
	if !snap.HasBook() {
		g := pass(GateSpread, 0, m.cfg.MaxSpreadPercent)
		g.Reason = "no order book, skipped"
		return g
	}
	spread := (snap.Ask - snap.Bid) / snap.Bid * 100
	if spread < 0 {
		return fail(GateSpread, spread, m.cfg.MaxSpreadPercent, "crossed book: ask %f below bid %f", snap.Ask, snap.Bid)
	}
	if spread > m.cfg.MaxSpreadPercent {
		return fail(GateSpread, spread, m.cfg.MaxSpreadPercent, "spread %.4f%% exceeds %.4f%%", spread, m.cfg.MaxSpreadPercent)
	}
	return pass(GateSpread, spread, m.cfg.MaxSpreadPercent)
}

// VolumeGate requires the last candle volume to reach MinVolumeMultiplier times its moving average.
func (m *Manager) VolumeGate(snap *domain.MarketSnapshot) GateResult {
	threshold := snap.VolumeMA * m.cfg.MinVolumeMultiplier
	if snap.Volume < threshold {
		return fail(GateVolume, snap.Volume, threshold, "volume %.4f below %.4f", snap.Volume, threshold)
	}
	return pass(GateVolume, snap.Volume, threshold)
}

// PriceChangeGate rejects candles that moved more than PriceChangeThreshold in either direction.
func (m *Manager) PriceChangeGate(snap *domain.MarketSnapshot) GateResult {
	change := math.Abs(snap.PriceChange)
	if change > m.cfg.PriceChangeThreshold {
		return fail(GatePriceChange, change, m.cfg.PriceChangeThreshold, "price change %.4f%% too high", change*100)
	}
	return pass(GatePriceChange, change, m.cfg.PriceChangeThreshold)
}

// TrendStrengthGate requires the composite trend strength to reach its threshold.
func (m *Manager) TrendStrengthGate(snap *domain.MarketSnapshot) GateResult {
	if snap.TrendStrength < m.cfg.TrendStrengthThreshold {
		return fail(GateTrendStrength, snap.TrendStrength, m.cfg.TrendStrengthThreshold, "weak trend strength %.4f", snap.TrendStrength)
	}
	return pass(GateTrendStrength, snap.TrendStrength, m.cfg.TrendStrengthThreshold)
}

// VolatilityGate rejects volatility outside [MinVolatility, MaxVolatility].
// Threshold reports the bound that was violated.
func (m *Manager) VolatilityGate(snap *domain.MarketSnapshot) GateResult {
	v := snap.Volatility
	if v > m.cfg.MaxVolatility {
		return fail(GateVolatility, v, m.cfg.MaxVolatility, "volatility %.4f above %.4f", v, m.cfg.MaxVolatility)
	}
	if v < m.cfg.MinVolatility {
		return fail(GateVolatility, v, m.cfg.MinVolatility, "volatility %.4f below %.4f", v, m.cfg.MinVolatility)
	}
	return pass(GateVolatility, v, m.cfg.MaxVolatility)
}

// VWAPDistanceGate rejects prices too far from VWAP.
func (m *Manager) VWAPDistanceGate(snap *domain.MarketSnapshot) GateResult {
	if snap.VWAP <= 0 {
		return fail(GateVWAPDistance, 0, m.cfg.MaxVWAPDistance, "VWAP unavailable")
	}
	distance := math.Abs(snap.Price-snap.VWAP) / snap.VWAP
	if distance > m.cfg.MaxVWAPDistance {
		return fail(GateVWAPDistance, distance, m.cfg.MaxVWAPDistance, "price %.4f%% from VWAP", distance*100)
	}
	return pass(GateVWAPDistance, distance, m.cfg.MaxVWAPDistance)
}

// CheckRiskReward requires (takeProfit - entry) / (entry - stop) to reach MinRiskRewardRatio.
func (m *Manager) CheckRiskReward(entry, stop, takeProfit float64) GateResult {
	risk := entry - stop
	if risk <= 0 {
		return fail(GateRiskReward, 0, m.cfg.MinRiskRewardRatio, "stop %f not below entry %f", stop, entry)
	}
	ratio := (takeProfit - entry) / risk
	if ratio < m.cfg.MinRiskRewardRatio {
		return fail(GateRiskReward, ratio, m.cfg.MinRiskRewardRatio, "risk/reward %.2f below %.2f", ratio, m.cfg.MinRiskRewardRatio)
	}
	return pass(GateRiskReward, ratio, m.cfg.MinRiskRewardRatio)
}
