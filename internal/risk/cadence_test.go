package risk

import (
	"testing"
	"time"

	"cryptoSpotBot/internal/domain"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time {
	return time.Date(2024, 5, 10, h, m, 0, 0, time.UTC)
}

func buy(symbol string, ts time.Time) domain.TradeRecord {
	return domain.TradeRecord{Timestamp: ts, Symbol: symbol, Side: domain.Buy, Quantity: 1, Price: 100}
}

func sell(symbol string, ts time.Time, profit float64) domain.TradeRecord {
	return domain.TradeRecord{Timestamp: ts, Symbol: symbol, Side: domain.Sell, Quantity: 1, Price: 100 + profit, Profit: profit, CloseReason: domain.CloseReasonStopLoss}
}

func TestCanTradeNow(t *testing.T) {
	const account = 1000.0 // profit target 50, loss limit -30

	tests := []struct {
		name     string
		trades   []domain.TradeRecord
		wantPass bool
		wantGate string
	}{
		{name: "empty log", wantPass: true},
		{
			name:     "within minimum interval",
			trades:   []domain.TradeRecord{buy("BTCUSDT", at(14, 30))},
			wantGate: GateMinInterval,
		},
		{
			name:     "other symbol traded recently",
			trades:   []domain.TradeRecord{buy("ETHUSDT", at(14, 30))},
			wantPass: true,
		},
		{
			name: "daily entry limit",
			trades: []domain.TradeRecord{
				buy("BTCUSDT", at(1, 0)), buy("BTCUSDT", at(3, 0)), buy("BTCUSDT", at(5, 0)),
				buy("BTCUSDT", at(7, 0)), buy("BTCUSDT", at(9, 0)),
			},
			wantGate: GateDailyTrades,
		},
		{
			name: "entries from yesterday do not count",
			trades: []domain.TradeRecord{
				buy("BTCUSDT", at(1, 0).Add(-24*time.Hour)), buy("BTCUSDT", at(3, 0).Add(-24*time.Hour)),
				buy("BTCUSDT", at(5, 0).Add(-24*time.Hour)), buy("BTCUSDT", at(7, 0).Add(-24*time.Hour)),
				buy("BTCUSDT", at(9, 0).Add(-24*time.Hour)),
			},
			wantPass: true,
		},
		{
			name:     "daily profit target reached across symbols",
			trades:   []domain.TradeRecord{sell("ETHUSDT", at(9, 0), 30), sell("SOLUSDT", at(10, 0), 25)},
			wantGate: GateProfitTarget,
		},
		{
			name:     "daily loss limit",
			trades:   []domain.TradeRecord{sell("ETHUSDT", at(9, 0), -35)},
			wantGate: GateDailyLoss,
		},
		{
			name: "consecutive losses",
			trades: []domain.TradeRecord{
				sell("BTCUSDT", at(8, 0), -1), sell("BTCUSDT", at(10, 0), -1), sell("BTCUSDT", at(12, 0), -1),
			},
			wantGate: GateConsecutiveLosses,
		},
		{
			name: "a win resets the streak",
			trades: []domain.TradeRecord{
				sell("BTCUSDT", at(8, 0), -1), sell("BTCUSDT", at(9, 0), -1), sell("BTCUSDT", at(10, 0), -1),
				sell("BTCUSDT", at(12, 0), 2),
			},
			wantPass: true,
		},
		{
			name: "day rollover resets the streak",
			trades: []domain.TradeRecord{
				sell("BTCUSDT", at(20, 0).Add(-24*time.Hour), -1),
				sell("BTCUSDT", at(21, 0).Add(-24*time.Hour), -1),
				sell("BTCUSDT", at(22, 0).Add(-24*time.Hour), -1),
			},
			wantPass: true,
		},
		{
			name: "other symbols' losses do not count toward the streak",
			trades: []domain.TradeRecord{
				sell("ETHUSDT", at(8, 0), -1), sell("ETHUSDT", at(10, 0), -1), sell("ETHUSDT", at(12, 0), -1),
			},
			wantPass: true,
		},
		{
			name: "unsorted log is handled",
			trades: []domain.TradeRecord{
				sell("BTCUSDT", at(12, 0), 2), sell("BTCUSDT", at(8, 0), -1), sell("BTCUSDT", at(9, 0), -1),
				sell("BTCUSDT", at(10, 0), -1),
			},
			wantPass: true,
		},
	}

	m := newTestManager(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := m.CanTradeNow("BTCUSDT", tt.trades, account, at(15, 0))
			assert.Equal(t, tt.wantPass, g.Passed, g.Reason)
			if !tt.wantPass {
				assert.Equal(t, tt.wantGate, g.Name)
			}
		})
	}
}

func TestCanTradeNow_ReopensAfterInterval(t *testing.T) {
	m := newTestManager(t)
	trades := []domain.TradeRecord{sell("BTCUSDT", at(14, 30), 1)}

	assert.False(t, m.CanTradeNow("BTCUSDT", trades, 1000, at(15, 0)).Passed)
	assert.True(t, m.CanTradeNow("BTCUSDT", trades, 1000, at(15, 31)).Passed)
}

func TestDayStart(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	ts := time.Date(2024, 5, 11, 1, 0, 0, 0, loc) // 2024-05-10 22:00 UTC
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), DayStart(ts))
}
