package marketdata

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// ParseCandle converts an exchange bar into a validated candle.
// Unparseable numerics, inconsistent OHLC ranges, negative volume and non-positive
// open times are rejected with ErrInvalidRequest.
func ParseCandle(raw *domain.RawCandle) (*domain.Candle, error) {
	if raw == nil {
		return nil, fmt.Errorf("ParseCandle failed: %w: nil candle", ports.ErrInvalidRequest)
	}
	if raw.OpenTime <= 0 {
		return nil, fmt.Errorf("ParseCandle failed: %w: open time %d", ports.ErrInvalidRequest, raw.OpenTime)
	}

	var vals [5]float64
	for i, s := range [5]string{raw.Open, raw.High, raw.Low, raw.Close, raw.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("ParseCandle failed: %w: %w", ports.ErrInvalidRequest, err)
		}
		vals[i] = v
	}
	c := &domain.Candle{
		Symbol:    raw.Symbol,
		Interval:  raw.Interval,
		Timestamp: time.UnixMilli(raw.OpenTime).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}
	if err := validateCandle(c); err != nil {
		return nil, err
	}
	return c, nil
}

func validateCandle(c *domain.Candle) error {
	switch {
	case c.Low <= 0:
		return fmt.Errorf("validateCandle failed: %w: low %v", ports.ErrInvalidRequest, c.Low)
	case c.High < c.Close || c.Close < c.Low:
		return fmt.Errorf("validateCandle failed: %w: close %v outside [%v, %v]", ports.ErrInvalidRequest, c.Close, c.Low, c.High)
	case c.High < c.Open || c.Open < c.Low:
		return fmt.Errorf("validateCandle failed: %w: open %v outside [%v, %v]", ports.ErrInvalidRequest, c.Open, c.Low, c.High)
	case c.Volume < 0:
		return fmt.Errorf("validateCandle failed: %w: volume %v", ports.ErrInvalidRequest, c.Volume)
	}
	return nil
}

// MergeCandles returns the union of both series sorted by timestamp.
// On equal timestamps the incoming bar replaces the existing one.
// Neither input is modified.
func MergeCandles(existing, incoming []*domain.Candle) []*domain.Candle {
	byTS := make(map[int64]*domain.Candle, len(existing)+len(incoming))
	for _, c := range existing {
		byTS[c.Timestamp.UnixNano()] = c
	}
	for _, c := range incoming {
		byTS[c.Timestamp.UnixNano()] = c
	}

	out := make([]*domain.Candle, 0, len(byTS))
	for _, c := range byTS {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// tail returns at most n of the most recent candles as a fresh slice.
func tail(candles []*domain.Candle, n int) []*domain.Candle {
	if n <= 0 || n > len(candles) {
		n = len(candles)
	}
	out := make([]*domain.Candle, n)
	copy(out, candles[len(candles)-n:])
	return out
}
