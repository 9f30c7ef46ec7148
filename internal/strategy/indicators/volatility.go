package indicators

import (
	"context"
	"math"

	"github.com/markcheno/go-talib"

	"cryptoSpotBot/internal/domain"
)

// ATR implements the Average True Range indicator
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config IndicatorConfig) *ATR {
	return &ATR{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (a *ATR) Name() string { return "ATR" }

// RequiredDataPoints returns period+1; the first true range needs a previous close.
func (a *ATR) RequiredDataPoints() int { return a.Config.Period + 1 }

// Calculate computes the Average True Range value for the given candles
func (a *ATR) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	if a.Config.Period < 1 || len(candles) < a.RequiredDataPoints() {
		return 0, insufficient("ATR", a.RequiredDataPoints(), len(candles))
	}
	h, l, c := hlc(candles)
	return last(talib.Atr(h, l, c, a.Config.Period)), nil
}

// ADX implements the Average Directional Index indicator
type ADX struct {
	BaseIndicator
}

// NewADX creates a new ADX indicator instance
func NewADX(config IndicatorConfig) *ADX {
	return &ADX{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (a *ADX) Name() string { return "ADX" }

// RequiredDataPoints returns 2*period, the talib lookback plus one output bar.
func (a *ADX) RequiredDataPoints() int { return 2 * a.Config.Period }

// Calculate computes the latest ADX value
func (a *ADX) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	if a.Config.Period < 1 || len(candles) < a.RequiredDataPoints() {
		return 0, insufficient("ADX", a.RequiredDataPoints(), len(candles))
	}
	h, l, c := hlc(candles)
	return last(talib.Adx(h, l, c, a.Config.Period)), nil
}

// AnnualizationFactor scales the stdev of hourly log returns to a daily figure (sqrt of 24 bars).
var AnnualizationFactor = math.Sqrt(24)

// Volatility is the sample standard deviation of log returns over the lookback, scaled by AnnualizationFactor.
type Volatility struct {
	BaseIndicator
}

// NewVolatility creates a new volatility indicator; Period is the number of returns used.
func NewVolatility(config IndicatorConfig) *Volatility {
	return &Volatility{BaseIndicator: BaseIndicator{Config: config}}
}

// Name returns the name of the indicator
func (v *Volatility) Name() string { return "Volatility" }

// RequiredDataPoints returns period+1 closes for period returns.
func (v *Volatility) RequiredDataPoints() int { return v.Config.Period + 1 }

// Calculate computes the volatility of the most recent returns
func (v *Volatility) Calculate(ctx context.Context, candles []*domain.Candle) (float64, error) {
	n := v.Config.Period
	if n < 2 || len(candles) < v.RequiredDataPoints() {
		return 0, insufficient("Volatility", v.RequiredDataPoints(), len(candles))
	}
	window := candles[len(candles)-n-1:]
	returns := make([]float64, n)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev <= 0 || window[i].Close <= 0 {
			return 0, insufficient("Volatility", v.RequiredDataPoints(), 0)
		}
		returns[i-1] = math.Log(window[i].Close / prev)
	}
	// talib's StdDev is the population deviation; rescale to the sample estimate.
	population := last(talib.StdDev(returns, n, 1))
	sample := population * math.Sqrt(float64(n)/float64(n-1))
	return sample * AnnualizationFactor, nil
}
