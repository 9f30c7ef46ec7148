package risk

import (
	"fmt"
	"time"

	"cryptoSpotBot/internal/domain"
)

// ExitDecision tells the caller whether and why to close a position.
type ExitDecision struct {
	Exit   bool
	Reason domain.CloseReason
	Value  float64 // Measured value that triggered the exit
	Detail string
}

// ComputeExit evaluates exit conditions in priority order: stop (fixed or trailing), take-profit,
// max holding time, then technical signals. Technical signals need a ready snapshot.
func (m *Manager) ComputeExit(pos *domain.Position, price float64, snap *domain.MarketSnapshot, now time.Time) ExitDecision {
	if pos == nil || !pos.IsOpen() {
		return ExitDecision{}
	}

	if stop := pos.EffectiveStop(); stop > 0 && price <= stop {
		reason := domain.CloseReasonStopLoss
		if pos.TrailingStopPrice > pos.StopLoss {
			reason = domain.CloseReasonTrailingStop
		}
		return ExitDecision{Exit: true, Reason: reason, Value: price, Detail: fmt.Sprintf("price %f at or below stop %f", price, stop)}
	}
	if pos.TakeProfit > 0 && price >= pos.TakeProfit {
		return ExitDecision{Exit: true, Reason: domain.CloseReasonTakeProfit, Value: price, Detail: fmt.Sprintf("price %f reached take-profit %f", price, pos.TakeProfit)}
	}
	if m.cfg.MaxPositionDuration > 0 && !pos.OpenedAt.IsZero() {
		if held := now.Sub(pos.OpenedAt); held >= m.cfg.MaxPositionDuration {
			return ExitDecision{Exit: true, Reason: domain.CloseReasonTimeLimit, Value: held.Hours(), Detail: fmt.Sprintf("held for %s", held.Round(time.Minute))}
		}
	}

	if snap == nil || !snap.Ready {
		return ExitDecision{}
	}
	switch {
	case snap.RSI > m.cfg.RSIOverbought:
		return ExitDecision{Exit: true, Reason: domain.CloseReasonRSIOverbought, Value: snap.RSI, Detail: "RSI overbought"}
	case snap.ADX < m.cfg.ADXThreshold:
		return ExitDecision{Exit: true, Reason: domain.CloseReasonWeakTrend, Value: snap.ADX, Detail: "ADX below threshold"}
	case snap.Momentum < 0:
		return ExitDecision{Exit: true, Reason: domain.CloseReasonMomentum, Value: snap.Momentum, Detail: "negative momentum"}
	case snap.TrendStrength < m.cfg.TrendStrengthThreshold:
		return ExitDecision{Exit: true, Reason: domain.CloseReasonTrendStrength, Value: snap.TrendStrength, Detail: "trend strength below threshold"}
	}
	return ExitDecision{}
}

// UpdateTrailingStop ratchets the trailing stop once price has cleared the activation level.
// The stop only moves up. Returns true when the position was changed.
func (m *Manager) UpdateTrailingStop(pos *domain.Position, price float64) bool {
	if pos == nil || !pos.IsOpen() || pos.EntryPrice <= 0 {
		return false
	}
	if price < pos.EntryPrice*(1+m.cfg.TrailingActivationPct) {
		return false
	}
	candidate := price * (1 - m.cfg.TrailingDistancePct)
	if candidate <= pos.EffectiveStop() {
		return false
	}
	pos.TrailingStopPrice = candidate
	return true
}
