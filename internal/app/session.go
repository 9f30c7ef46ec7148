package app

import (
	"context"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/risk"
	"cryptoSpotBot/internal/strategy/analytics"
)

// Session tracks the trading day the service is in.
type Session struct {
	Day          time.Time // Midnight UTC of the current trading day
	LastReportAt time.Time // When the last daily summary was sent
	AccountValue float64   // Last observed quote balance plus committed notional
}

// Session returns a copy of the current session state.
func (s *TradingService) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// rollover starts a new trading day when now has crossed midnight UTC and sends the
// summary of the day that ended.
func (s *TradingService) rollover(ctx context.Context, now time.Time) {
	today := risk.DayStart(now)

	s.mu.Lock()
	ended := s.session.Day
	if !today.After(ended) {
		s.mu.Unlock()
		return
	}
	s.session.Day = today
	value := s.session.AccountValue
	s.mu.Unlock()

	if ended.IsZero() {
		return // first cycle of the process
	}
	if err := s.sendDailySummary(ctx, ended, value); err != nil {
		s.logger.Error(ctx, err, "Failed to send daily summary", map[string]interface{}{"day": ended.Format("2006-01-02")})
		return
	}
	s.mu.Lock()
	s.session.LastReportAt = now
	s.mu.Unlock()
}

// sendDailySummary analyzes the trades of day and posts the summary to the alert sink.
func (s *TradingService) sendDailySummary(ctx context.Context, day time.Time, accountValue float64) error {
	trades, err := s.trades.TradesSince(ctx, day)
	if err != nil {
		return err
	}
	end := day.Add(24 * time.Hour)
	var daily []domain.TradeRecord
	for _, t := range trades {
		if t.Timestamp.Before(end) {
			daily = append(daily, t)
		}
	}

	m := analytics.AnalyzePerformance(daily, accountValue)
	s.logger.Info(ctx, "Daily summary", map[string]interface{}{
		"day":         day.Format("2006-01-02"),
		"closed":      m.TotalTrades,
		"profit":      m.TotalProfit,
		"winRate":     m.WinRate,
		"maxDrawdown": m.MaxDrawdown,
	})
	s.notify(ctx, analytics.DailySummary(day, m))
	return nil
}
