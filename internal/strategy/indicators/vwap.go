package indicators

import (
	"context"

	"cryptoSpotBot/internal/domain"
)

// VWAP is the volume weighted average of the typical price over the last Period candles.
type VWAP struct {
	BaseIndicator
}

// NewVWAP creates a new VWAP indicator instance
func NewVWAP(config IndicatorConfig) *VWAP {
	return &VWAP{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (v *VWAP) Name() string { return "VWAP" }

// Calculate computes VWAP; a window without volume yields the mean typical price.
func (v *VWAP) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	if v.Config.Period < 1 || len(candles) < v.Config.Period {
		return 0, insufficient("VWAP", v.Config.Period, len(candles))
	}
	window := candles[len(candles)-v.Config.Period:]
	var pv, vol, tp float64
	for _, c := range window {
		typical := c.TypicalPrice()
		pv += typical * c.Volume
		vol += c.Volume
		tp += typical
	}
	if vol == 0 {
		return tp / float64(len(window)), nil
	}
	return pv / vol, nil
}
