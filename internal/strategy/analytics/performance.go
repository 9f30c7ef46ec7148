package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"cryptoSpotBot/internal/domain"
)

// PerformanceMetrics holds performance metrics derived from the trade log
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int // Closing trades only
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	GrossProfit        float64
	GrossLoss          float64 // Negative or zero
	MaxDrawdown        float64
	ProfitFactor       float64
	AverageWin         float64
	AverageLoss        float64
	SharpeRatio        float64 // Per-trade, not annualized
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	RecoveryFactor       float64
	Expectancy           float64
	RiskRewardRatio      float64
	ProfitBySymbol       map[string]float64
	ExitsByReason        map[domain.CloseReason]int
	MonthlyReturns       map[string]float64
	Drawdowns            []Drawdown
	EquityCurve          []EquityPoint
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates performance metrics from trade records. Sell records are
// the realized results; buy records are used to measure holding time.
func AnalyzePerformance(records []domain.TradeRecord, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		ProfitBySymbol: make(map[string]float64),
		ExitsByReason:  make(map[domain.CloseReason]int),
		MonthlyReturns: make(map[string]float64),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0),
	}

	if len(records) == 0 {
		return metrics
	}

	trades := make([]domain.TradeRecord, len(records))
	copy(trades, records)
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})

	var currentBalance = initialBalance
	var peakBalance = initialBalance
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var totalDuration time.Duration
	var durations int
	var returns []float64
	openedAt := make(map[string]time.Time)

	// Process each trade
	for _, trade := range trades {
		if !trade.IsExit() {
			if _, ok := openedAt[trade.Symbol]; !ok {
				openedAt[trade.Symbol] = trade.Timestamp
			}
			continue
		}
		if start, ok := openedAt[trade.Symbol]; ok {
			totalDuration += trade.Timestamp.Sub(start)
			durations++
		}
		// Partial exits carry no close reason and keep the position open; only a full close
		// resets the holding clock.
		if trade.CloseReason != "" {
			delete(openedAt, trade.Symbol)
			metrics.ExitsByReason[trade.CloseReason]++
		}

		// Update basic metrics
		metrics.TotalTrades++
		metrics.ProfitBySymbol[trade.Symbol] += trade.Profit
		if trade.Profit > 0 {
			metrics.WinningTrades++
			metrics.GrossProfit += trade.Profit
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss += trade.Profit
			consecutiveLosses++
			consecutiveWins = 0
		}

		// Update consecutive wins/losses
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}

		if currentBalance > 0 {
			returns = append(returns, trade.Profit/currentBalance)
		}

		// Update balance and equity curve
		currentBalance += trade.Profit
		metrics.TotalProfit += trade.Profit
		metrics.FinalBalance = currentBalance

		// Update monthly returns
		monthKey := trade.Timestamp.UTC().Format("2006-01")
		metrics.MonthlyReturns[monthKey] += trade.Profit

		// Update drawdown tracking
		if currentBalance > peakBalance {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				currentDrawdown.EndTime = trade.Timestamp
				currentDrawdown.EndValue = currentBalance
				currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else if peakBalance > 0 {
			drawdown := (peakBalance - currentBalance) / peakBalance
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  trade.Timestamp,
					StartValue: peakBalance,
					Depth:      drawdown,
				}
			} else {
				currentDrawdown.Depth = math.Max(currentDrawdown.Depth, drawdown)
			}
			if drawdown > metrics.MaxDrawdown {
				metrics.MaxDrawdown = drawdown
			}
		}

		// Add equity curve point
		point := EquityPoint{Time: trade.Timestamp, Value: currentBalance}
		if peakBalance > 0 {
			point.Drawdown = (peakBalance - currentBalance) / peakBalance
		}
		metrics.EquityCurve = append(metrics.EquityCurve, point)
	}

	// Close any open drawdown
	if currentDrawdown != nil {
		currentDrawdown.EndTime = trades[len(trades)-1].Timestamp
		currentDrawdown.EndValue = currentBalance
		currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
	}

	if metrics.TotalTrades == 0 {
		return metrics
	}

	// Calculate final metrics
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if metrics.WinningTrades > 0 {
		metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AverageLoss = metrics.GrossLoss / float64(metrics.LosingTrades)
	}
	if metrics.GrossLoss != 0 {
		metrics.ProfitFactor = metrics.GrossProfit / -metrics.GrossLoss
	}
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
		if metrics.MaxDrawdown > 0 {
			metrics.RecoveryFactor = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
		}
	}
	if durations > 0 {
		metrics.AverageTradeDuration = totalDuration / time.Duration(durations)
	}

	// Calculate expectancy
	metrics.Expectancy = (metrics.WinRate * metrics.AverageWin) + ((1 - metrics.WinRate) * metrics.AverageLoss)

	// Calculate risk-reward ratio
	if metrics.AverageLoss != 0 {
		metrics.RiskRewardRatio = metrics.AverageWin / -metrics.AverageLoss
	}

	metrics.SharpeRatio = sharpe(returns)
	return metrics
}

func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return mean / std
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}

// DailySummary formats the metrics of one trading day for an alert message.
func DailySummary(day time.Time, m *PerformanceMetrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Daily summary %s\n", day.UTC().Format("2006-01-02"))
	if m.TotalTrades == 0 {
		b.WriteString("No closed trades.")
		return b.String()
	}
	fmt.Fprintf(&b, "Closed trades: %d (won %d, lost %d, win rate %.1f%%)\n",
		m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate*100)
	fmt.Fprintf(&b, "Realized profit: %.4f\n", m.TotalProfit)
	if m.ProfitFactor > 0 {
		fmt.Fprintf(&b, "Profit factor: %.2f\n", m.ProfitFactor)
	}
	fmt.Fprintf(&b, "Max drawdown: %.2f%%", m.MaxDrawdown*100)

	symbols := make([]string, 0, len(m.ProfitBySymbol))
	for s := range m.ProfitBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		fmt.Fprintf(&b, "\n%s: %.4f", s, m.ProfitBySymbol[s])
	}
	return b.String()
}
