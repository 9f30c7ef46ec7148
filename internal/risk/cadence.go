package risk

import (
	"fmt"
	"sort"
	"time"

	"cryptoSpotBot/internal/domain"
)

// Cadence gate names.
const (
	GateMinInterval       = "min_trade_interval"
	GateDailyTrades       = "max_daily_trades"
	GateProfitTarget      = "daily_profit_target"
	GateDailyLoss         = "daily_loss_limit"
	GateConsecutiveLosses = "consecutive_losses"
)

// DayStart returns midnight UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// CanTradeNow decides whether a new entry for symbol is allowed. Everything is recomputed from
// trades on each call: minimum interval since the symbol's last trade, entries today, the daily
// profit target and loss limit (across all symbols), and consecutive losing exits today.
func (m *Manager) CanTradeNow(symbol string, trades []domain.TradeRecord, accountValue float64, now time.Time) GateResult {
	log := make([]domain.TradeRecord, len(trades))
	copy(log, trades)
	sort.SliceStable(log, func(i, j int) bool { return log[i].Timestamp.Before(log[j].Timestamp) })

	today := DayStart(now)
	var lastTrade time.Time
	var entriesToday, streak int
	var profitToday float64
	for _, t := range log {
		isToday := !t.Timestamp.Before(today)
		if t.Symbol == symbol && t.Timestamp.After(lastTrade) {
			lastTrade = t.Timestamp
		}
		if !isToday {
			continue
		}
		if t.IsExit() {
			profitToday += t.Profit
		}
		if t.Symbol != symbol {
			continue
		}
		if !t.IsExit() {
			entriesToday++
			continue
		}
		switch {
		case t.Profit < 0:
			streak++
		case t.Profit > 0:
			streak = 0
		}
	}

	if m.cfg.MinTradeInterval > 0 && !lastTrade.IsZero() {
		since := now.Sub(lastTrade)
		if since < m.cfg.MinTradeInterval {
			return fail(GateMinInterval, since.Seconds(), m.cfg.MinTradeInterval.Seconds(),
				"last %s trade %s ago, minimum interval %s", symbol, since.Round(time.Second), m.cfg.MinTradeInterval)
		}
	}
	if m.cfg.MaxDailyTrades > 0 && entriesToday >= m.cfg.MaxDailyTrades {
		return fail(GateDailyTrades, float64(entriesToday), float64(m.cfg.MaxDailyTrades),
			"%d entries today for %s", entriesToday, symbol)
	}
	if m.cfg.DailyProfitTarget > 0 && accountValue > 0 {
		target := accountValue * m.cfg.DailyProfitTarget
		if profitToday >= target {
			return fail(GateProfitTarget, profitToday, target, "daily profit target reached")
		}
	}
	if m.cfg.MaxDailyLoss > 0 && accountValue > 0 {
		limit := -accountValue * m.cfg.MaxDailyLoss
		if profitToday <= limit {
			return fail(GateDailyLoss, profitToday, limit, "daily loss limit reached")
		}
	}
	if m.cfg.MaxConsecutiveLosses > 0 && streak >= m.cfg.MaxConsecutiveLosses {
		return fail(GateConsecutiveLosses, float64(streak), float64(m.cfg.MaxConsecutiveLosses),
			"%d consecutive losses today for %s", streak, symbol)
	}
	g := pass("can_trade", profitToday, 0)
	g.Reason = fmt.Sprintf("%d entries today", entriesToday)
	return g
}
