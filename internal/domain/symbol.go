package domain

// SymbolInfo holds the exchange trading rules needed to size and format orders.
type SymbolInfo struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	StepSize    float64 // Quantity increment
	TickSize    float64 // Price increment
	MinQty      float64
	MinNotional float64
}
