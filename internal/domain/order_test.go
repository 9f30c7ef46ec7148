package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewIdempotencyKey(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC)

	tests := []struct {
		name     string
		a        func() string
		b        func() string
		wantSame bool
	}{
		{
			name:     "same inputs",
			a:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50000, 10, time.Minute, base) },
			b:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50000, 10, time.Minute, base) },
			wantSame: true,
		},
		{
			name: "price within bucket and time within window",
			a:    func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50001.5, 10, time.Minute, base) },
			b: func() string {
				return NewIdempotencyKey("BTCUSDT", Buy, 50009.9, 10, time.Minute, base.Add(40*time.Second))
			},
			wantSame: true,
		},
		{
			name:     "next price bucket",
			a:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50009, 10, time.Minute, base) },
			b:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50010, 10, time.Minute, base) },
			wantSame: false,
		},
		{
			name:     "next time window",
			a:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50000, 10, time.Minute, base) },
			b:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50000, 10, time.Minute, base.Add(time.Minute)) },
			wantSame: false,
		},
		{
			name:     "different side",
			a:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50000, 10, time.Minute, base) },
			b:        func() string { return NewIdempotencyKey("BTCUSDT", Sell, 50000, 10, time.Minute, base) },
			wantSame: false,
		},
		{
			name:     "different symbol",
			a:        func() string { return NewIdempotencyKey("BTCUSDT", Buy, 50000, 10, time.Minute, base) },
			b:        func() string { return NewIdempotencyKey("ETHUSDT", Buy, 50000, 10, time.Minute, base) },
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.a(), tt.b()
			assert.Len(t, a, 36) // Fits the exchange's client order id limit
			if tt.wantSame {
				assert.Equal(t, a, b)
			} else {
				assert.NotEqual(t, a, b)
			}
		})
	}
}

func TestOrderRecord_Result(t *testing.T) {
	rec := &OrderRecord{
		Request:         OrderRequest{IdempotencyKey: "k1"},
		State:           OrderConfirmed,
		ExchangeOrderID: 42,
		FilledQty:       0.5,
		AvgPrice:        100,
	}
	res := rec.Result()
	assert.Equal(t, ResultFilled, res.Status)
	assert.Equal(t, int64(42), res.ExchangeOrderID)

	rec.State = OrderTimedOut
	assert.Equal(t, ResultTimedOut, rec.Result().Status)
	rec.State = OrderRejected
	assert.Equal(t, ResultRejected, rec.Result().Status)
	assert.True(t, OrderRejected.IsTerminal())
	assert.False(t, OrderSubmitted.IsTerminal())
}

func TestExposureLedger(t *testing.T) {
	positions := []*Position{
		{Symbol: "BTCUSDT", Quantity: 0.01, EntryPrice: 50000, Status: StatusOpen},
		{Symbol: "ETHUSDT", Quantity: 1, EntryPrice: 2000, Status: StatusOpen},
		{Symbol: "SOLUSDT", Quantity: 10, EntryPrice: 100, Status: StatusClosed},
	}
	ledger := NewExposureLedger(positions)
	assert.InDelta(t, 500.0, ledger["BTCUSDT"], 1e-9)
	assert.InDelta(t, 2500.0, ledger.Total(), 1e-9)
	assert.NotContains(t, ledger, "SOLUSDT")

	clone := ledger.Clone()
	clone.Set("BTCUSDT", 0)
	assert.NotContains(t, clone, "BTCUSDT")
	assert.Contains(t, ledger, "BTCUSDT")
}

func TestPosition_EffectiveStop(t *testing.T) {
	p := &Position{StopLoss: 98, TrailingStopPrice: 0}
	assert.Equal(t, 98.0, p.EffectiveStop())
	p.TrailingStopPrice = 101
	assert.Equal(t, 101.0, p.EffectiveStop())
}
