package domain

// ExposureLedger maps a symbol to the quote notional committed to its open position.
// Callers must hold the execution critical section while mutating it.
type ExposureLedger map[string]float64

// NewExposureLedger rebuilds a ledger from open positions.
func NewExposureLedger(positions []*Position) ExposureLedger {
	ledger := make(ExposureLedger, len(positions))
	for _, p := range positions {
		if p.IsOpen() {
			ledger[p.Symbol] += p.Notional()
		}
	}
	return ledger
}

// Total returns the sum of committed notional across all symbols.
func (l ExposureLedger) Total() float64 {
	total := 0.0
	for _, v := range l {
		total += v
	}
	return total
}

// Set replaces the committed notional for a symbol, dropping it when zero.
func (l ExposureLedger) Set(symbol string, notional float64) {
	if notional <= 0 {
		delete(l, symbol)
		return
	}
	l[symbol] = notional
}

// Clone returns an independent copy.
func (l ExposureLedger) Clone() ExposureLedger {
	out := make(ExposureLedger, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}
