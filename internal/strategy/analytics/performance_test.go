package analytics

import (
	"testing"
	"time"

	"cryptoSpotBot/internal/domain"

	"github.com/stretchr/testify/assert"
)

var day = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func TestAnalyzePerformance(t *testing.T) {
	initialBalance := 10000.0
	trades := []domain.TradeRecord{
		{Timestamp: day.Add(1 * time.Hour), Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.1, Price: 50000},
		{Timestamp: day.Add(5 * time.Hour), Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 0.1, Price: 55000, Profit: 500, CloseReason: domain.CloseReasonTakeProfit},
		{Timestamp: day.Add(6 * time.Hour), Symbol: "ETHUSDT", Side: domain.Buy, Quantity: 1, Price: 3000},
		{Timestamp: day.Add(8 * time.Hour), Symbol: "ETHUSDT", Side: domain.Sell, Quantity: 1, Price: 2750, Profit: -250, CloseReason: domain.CloseReasonStopLoss},
	}

	metrics := AnalyzePerformance(trades, initialBalance)

	assert.Equal(t, 2, metrics.TotalTrades)
	assert.Equal(t, 1, metrics.WinningTrades)
	assert.Equal(t, 1, metrics.LosingTrades)
	assert.Equal(t, 0.5, metrics.WinRate)
	assert.Equal(t, 250.0, metrics.TotalProfit)
	assert.Equal(t, 10250.0, metrics.FinalBalance)
	assert.InDelta(t, 0.025, metrics.ReturnOnInvestment, 1e-12)

	assert.Equal(t, 1, metrics.MaxConsecutiveWins)
	assert.Equal(t, 1, metrics.MaxConsecutiveLosses)
	assert.Equal(t, 500.0, metrics.AverageWin)
	assert.Equal(t, -250.0, metrics.AverageLoss)
	assert.Equal(t, 2.0, metrics.ProfitFactor)
	assert.Equal(t, 2.0, metrics.RiskRewardRatio)
	assert.Equal(t, 125.0, metrics.Expectancy)
	assert.Equal(t, 3*time.Hour, metrics.AverageTradeDuration)

	assert.InDelta(t, 250.0/10500.0, metrics.MaxDrawdown, 1e-12)
	assert.Len(t, metrics.Drawdowns, 1)
	assert.Len(t, metrics.EquityCurve, 2)
	assert.Equal(t, map[string]float64{"BTCUSDT": 500, "ETHUSDT": -250}, metrics.ProfitBySymbol)
	assert.Equal(t, 1, metrics.ExitsByReason[domain.CloseReasonStopLoss])
	assert.Equal(t, 250.0, metrics.MonthlyReturns["2024-05"])
}

func TestAnalyzePerformance_PartialExit(t *testing.T) {
	trades := []domain.TradeRecord{
		{Timestamp: day, Symbol: "BTCUSDT", Side: domain.Buy, Quantity: 0.2, Price: 50000},
		{Timestamp: day.Add(time.Hour), Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 0.1, Price: 51000, Profit: 100},
		{Timestamp: day.Add(3 * time.Hour), Symbol: "BTCUSDT", Side: domain.Sell, Quantity: 0.1, Price: 49000, Profit: -100, CloseReason: domain.CloseReasonStopLoss},
	}
	metrics := AnalyzePerformance(trades, 10000)

	assert.Equal(t, 2, metrics.TotalTrades)
	assert.Equal(t, map[domain.CloseReason]int{domain.CloseReasonStopLoss: 1}, metrics.ExitsByReason)
	assert.Equal(t, 2*time.Hour, metrics.AverageTradeDuration, "both exits measured from the same entry")
}

func TestAnalyzePerformance_NoTrades(t *testing.T) {
	metrics := AnalyzePerformance(nil, 1000)
	assert.Equal(t, 0, metrics.TotalTrades)
	assert.Equal(t, 1000.0, metrics.FinalBalance)
	assert.Empty(t, metrics.EquityCurve)

	entriesOnly := AnalyzePerformance([]domain.TradeRecord{{Timestamp: day, Symbol: "BTCUSDT", Side: domain.Buy}}, 1000)
	assert.Equal(t, 0, entriesOnly.TotalTrades)
	assert.Equal(t, 0.0, entriesOnly.WinRate)
}

func TestAnalyzePerformance_DoesNotReorderInput(t *testing.T) {
	trades := []domain.TradeRecord{
		{Timestamp: day.Add(2 * time.Hour), Symbol: "BTCUSDT", Side: domain.Sell, Profit: 10, CloseReason: domain.CloseReasonTakeProfit},
		{Timestamp: day.Add(1 * time.Hour), Symbol: "BTCUSDT", Side: domain.Sell, Profit: -5, CloseReason: domain.CloseReasonStopLoss},
	}
	metrics := AnalyzePerformance(trades, 100)
	assert.Equal(t, 10.0, trades[0].Profit)
	assert.Equal(t, -5.0, metrics.EquityCurve[0].Value-100)
}

func TestGetMonthlyReturns(t *testing.T) {
	m := &PerformanceMetrics{MonthlyReturns: map[string]float64{"2024-03": 5, "2024-01": 1, "2024-02": -2}}
	got := m.GetMonthlyReturns()
	assert.Len(t, got, 3)
	assert.Equal(t, time.January, got[0].Month.Month())
	assert.Equal(t, -2.0, got[1].Return)
	assert.Equal(t, time.March, got[2].Month.Month())
}

func TestDailySummary(t *testing.T) {
	empty := DailySummary(day, AnalyzePerformance(nil, 1000))
	assert.Contains(t, empty, "2024-05-10")
	assert.Contains(t, empty, "No closed trades.")

	m := AnalyzePerformance([]domain.TradeRecord{
		{Timestamp: day, Symbol: "ETHUSDT", Side: domain.Sell, Profit: 12.5, CloseReason: domain.CloseReasonTakeProfit},
	}, 1000)
	msg := DailySummary(day, m)
	assert.Contains(t, msg, "Closed trades: 1 (won 1, lost 0, win rate 100.0%)")
	assert.Contains(t, msg, "Realized profit: 12.5000")
	assert.Contains(t, msg, "ETHUSDT: 12.5000")
}
