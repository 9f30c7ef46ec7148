package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

func parseFloat(s, field string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s '%s': %w", field, s, err)
	}
	return v, nil
}

// parseOptional returns zero for values the exchange leaves empty.
func parseOptional(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// roundDown floors v to a multiple of step and renders it without exponent or trailing zeros.
func roundDown(v, step float64) string {
	d := decimal.NewFromFloat(v)
	if step <= 0 {
		return d.Truncate(8).String()
	}
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s).String()
}

func formatQuantity(qty, stepSize float64) string {
	return roundDown(qty, stepSize)
}

func formatPrice(price, tickSize float64) string {
	return roundDown(price, tickSize)
}

func translateKlines(klines []*binance.Kline, symbol, interval string) []*domain.RawCandle {
	out := make([]*domain.RawCandle, 0, len(klines))
	for _, k := range klines {
		if k == nil {
			continue
		}
		out = append(out, &domain.RawCandle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  k.OpenTime,
			CloseTime: k.CloseTime,
			Open:      k.Open,
			High:      k.High,
			Low:       k.Low,
			Close:     k.Close,
			Volume:    k.Volume,
			IsFinal:   k.CloseTime < time.Now().UnixMilli(),
		})
	}
	return out
}

func translateWsKline(event *binance.WsKlineEvent) (*domain.RawCandle, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	return &domain.RawCandle{
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		OpenTime:  k.StartTime,
		CloseTime: k.EndTime,
		Open:      k.Open,
		High:      k.High,
		Low:       k.Low,
		Close:     k.Close,
		Volume:    k.Volume,
		IsFinal:   k.IsFinal,
	}, nil
}

func translateBookTicker(t *binance.BookTicker) (*domain.BookTicker, error) {
	bid, err := parseFloat(t.BidPrice, "bid price")
	if err != nil {
		return nil, err
	}
	ask, err := parseFloat(t.AskPrice, "ask price")
	if err != nil {
		return nil, err
	}
	return &domain.BookTicker{Symbol: t.Symbol, Bid: bid, Ask: ask}, nil
}

func translateCreateOrderResponse(o *binance.CreateOrderResponse) *ports.ExchangeOrder {
	if o == nil {
		return nil
	}
	return &ports.ExchangeOrder{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Status:        ports.ExchangeOrderStatus(o.Status),
		OrigQuantity:  parseOptional(o.OrigQuantity),
		ExecutedQty:   parseOptional(o.ExecutedQuantity),
		QuoteQty:      parseOptional(o.CummulativeQuoteQuantity),
		Price:         parseOptional(o.Price),
		UpdatedAt:     time.UnixMilli(o.TransactTime),
	}
}

func translateOrder(o *binance.Order) *ports.ExchangeOrder {
	if o == nil {
		return nil
	}
	return &ports.ExchangeOrder{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Status:        ports.ExchangeOrderStatus(o.Status),
		OrigQuantity:  parseOptional(o.OrigQuantity),
		ExecutedQty:   parseOptional(o.ExecutedQuantity),
		QuoteQty:      parseOptional(o.CummulativeQuoteQuantity),
		Price:         parseOptional(o.Price),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func translateBalances(in []binance.Balance) (map[string]ports.Balance, error) {
	out := make(map[string]ports.Balance)
	for _, b := range in {
		free, err := parseFloat(b.Free, b.Asset+" free balance")
		if err != nil {
			return nil, err
		}
		locked, err := parseFloat(b.Locked, b.Asset+" locked balance")
		if err != nil {
			return nil, err
		}
		if free == 0 && locked == 0 {
			continue
		}
		out[b.Asset] = ports.Balance{Asset: b.Asset, Free: free, Locked: locked}
	}
	return out, nil
}

// translateSymbol reads the lot size, price and notional filters of a symbol.
func translateSymbol(s *binance.Symbol) (*domain.SymbolInfo, error) {
	info := &domain.SymbolInfo{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}
	if lot := s.LotSizeFilter(); lot != nil {
		var err error
		if info.StepSize, err = parseFloat(lot.StepSize, "step size"); err != nil {
			return nil, err
		}
		if info.MinQty, err = parseFloat(lot.MinQuantity, "min quantity"); err != nil {
			return nil, err
		}
	}
	if pf := s.PriceFilter(); pf != nil {
		info.TickSize = parseOptional(pf.TickSize)
	}
	if nf := s.NotionalFilter(); nf != nil {
		info.MinNotional = parseOptional(nf.MinNotional)
	}
	return info, nil
}
