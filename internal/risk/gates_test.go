package risk

import (
	"testing"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"

	"github.com/stretchr/testify/assert"
)

func passingSnapshot() *domain.MarketSnapshot {
	return &domain.MarketSnapshot{
		Symbol:        "BTCUSDT",
		Price:         100,
		Bid:           100,
		Ask:           100.05,
		Volume:        12,
		VolumeMA:      10,
		PriceChange:   0.01,
		TrendStrength: 0.3,
		Volatility:    0.05,
		VWAP:          100.5,
		Ready:         true,
	}
}

func TestValidateEntry_GateOrder(t *testing.T) {
	tests := []struct {
		name      string
		qty       float64
		mutate    func(*domain.MarketSnapshot)
		wantGate  string
		wantGates int
	}{
		{name: "all gates pass", qty: 1, wantGates: 6},
		{name: "zero quantity", qty: 0, wantGate: GateQuantity, wantGates: 1},
		{name: "wide spread", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.Ask = 101 }, wantGate: GateSpread, wantGates: 1},
		{name: "crossed book", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.Ask = 99.9 }, wantGate: GateSpread, wantGates: 1},
		{name: "missing book skips spread", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.Bid, s.Ask = 0, 0 }, wantGates: 6},
		{name: "low volume", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.Volume = 5 }, wantGate: GateVolume, wantGates: 2},
		{name: "price dumped", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.PriceChange = -0.05 }, wantGate: GatePriceChange, wantGates: 3},
		{name: "weak trend", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.TrendStrength = 0.1 }, wantGate: GateTrendStrength, wantGates: 4},
		{name: "too volatile", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.Volatility = 0.3 }, wantGate: GateVolatility, wantGates: 5},
		{name: "too quiet", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.Volatility = 0.0001 }, wantGate: GateVolatility, wantGates: 5},
		{name: "far from VWAP", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.VWAP = 102.5 }, wantGate: GateVWAPDistance, wantGates: 6},
		{name: "first failure short-circuits", qty: 1, mutate: func(s *domain.MarketSnapshot) { s.Volume = 0; s.Volatility = 1 }, wantGate: GateVolume, wantGates: 2},
	}

	m := newTestManager(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := passingSnapshot()
			if tt.mutate != nil {
				tt.mutate(snap)
			}
			d := m.ValidateEntry(snap, tt.qty)
			assert.Len(t, d.Gates, tt.wantGates)

			failed, ok := d.Failed()
			if tt.wantGate == "" {
				assert.True(t, d.Allowed)
				assert.False(t, ok)
				assert.NoError(t, d.Err())
				return
			}
			assert.False(t, d.Allowed)
			assert.True(t, ok)
			assert.Equal(t, tt.wantGate, failed.Name)
			assert.NotEmpty(t, failed.Reason)
			assert.ErrorIs(t, d.Err(), ports.ErrValidationFailed)
		})
	}
}

func TestGates_RecordMeasuredValues(t *testing.T) {
	m := newTestManager(t)
	snap := passingSnapshot()

	spread := m.SpreadGate(snap)
	assert.True(t, spread.Passed)
	assert.InDelta(t, 0.05, spread.Value, 1e-9)
	assert.Equal(t, 0.1, spread.Threshold)

	vol := m.VolumeGate(snap)
	assert.Equal(t, 12.0, vol.Value)
	assert.Equal(t, 10.0, vol.Threshold)

	vwap := m.VWAPDistanceGate(snap)
	assert.InDelta(t, 0.5/100.5, vwap.Value, 1e-12)

	snap.VWAP = 0
	assert.False(t, m.VWAPDistanceGate(snap).Passed)

	fields := spread.Fields()
	assert.Equal(t, GateSpread, fields["gate"])
}

func TestCheckRiskReward(t *testing.T) {
	m := newTestManager(t)

	g := m.CheckRiskReward(100, 98, 104)
	assert.True(t, g.Passed)
	assert.InDelta(t, 2.0, g.Value, 1e-9)

	g = m.CheckRiskReward(100, 98, 102)
	assert.False(t, g.Passed)
	assert.Equal(t, GateRiskReward, g.Name)

	assert.False(t, m.CheckRiskReward(100, 100, 104).Passed)
}
