package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	maxKlinesPerRequest = 1000
)

// Client implements ports.ExchangeAdapter and ports.SymbolMetadata for Binance spot.
type Client struct {
	spot    *binance.Client
	logger  ports.Logger
	limiter *rate.Limiter

	metaMu sync.RWMutex
	meta   map[string]*domain.SymbolInfo
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
	// RequestsPerSecond bounds REST calls made through this client. Defaults to 10.
	RequestsPerSecond float64
	Burst             int
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		// The websocket endpoint is only selectable through the package flag.
		binance.UseTestnet = true
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}

	return &Client{
		spot:    client,
		logger:  cfg.Logger,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		meta:    make(map[string]*domain.SymbolInfo),
	}, nil
}

// mapAPIError maps a Binance API error code onto a ports sentinel.
func mapAPIError(apiErr *common.APIError) error {
	switch apiErr.Code {
	case 0: // Non-JSON error body, typically a gateway or 5xx response
		return ports.ErrExchangeUnavailable
	case -1001, -1016: // Internal error / service shutting down
		return ports.ErrExchangeUnavailable
	case -1003, -1015: // Too many requests / too many new orders
		return ports.ErrRateLimited
	case -1007, -1021: // Backend timeout / timestamp outside recvWindow
		return ports.ErrTimeout
	case -1022, -2014, -2015: // Signature invalid / API-key format / permissions
		return ports.ErrAuthenticationFailed
	case -1121: // Invalid symbol
		return ports.ErrInvalidSymbol
	case -1013, -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010: // New order rejected
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
			return ports.ErrInsufficientFunds
		}
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2019, -3005: // Margin / balance insufficient
		return ports.ErrInsufficientFunds
	default:
		return ports.ErrUnknown
	}
}

// handleError translates Binance and transport errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		mappedErr := mapAPIError(apiErr)
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		if errors.Is(mappedErr, ports.ErrOrderNotFound) {
			c.logger.Debug(ctx, operation+" found no order", fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return finalErr
	}

	var finalErr error
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset by peer"),
		strings.Contains(msg, "no such host"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	case strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "i/o timeout"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// wait blocks until the request limiter admits one call.
func (c *Client) wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limiter wait: %w: %w", operation, ports.ErrContextCanceled, err)
	}
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	return nil
}

// GetTicker retrieves the last traded price for a given symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	op := "GetTicker"
	if err := c.wait(ctx, op); err != nil {
		return 0, err
	}
	prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		price, err := parseFloat(p.Price, "price")
		if err != nil {
			return 0, c.handleError(ctx, err, op)
		}
		return price, nil
	}
	return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
}

// GetBookTicker retrieves the best bid and ask for a symbol.
func (c *Client) GetBookTicker(ctx context.Context, symbol string) (*domain.BookTicker, error) {
	op := "GetBookTicker"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	tickers, err := c.spot.NewListBookTickersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for _, t := range tickers {
		if t.Symbol == symbol {
			return translateBookTicker(t)
		}
	}
	return nil, c.handleError(ctx, fmt.Errorf("no book ticker returned for symbol %s", symbol), op)
}

// GetHistoricalCandles retrieves raw candles, paginating forward when a start time is given.
func (c *Client) GetHistoricalCandles(ctx context.Context, symbol, interval string, start, end time.Time, limit int) ([]*domain.RawCandle, error) {
	op := "GetHistoricalCandles"
	if limit <= 0 {
		limit = maxKlinesPerRequest
	}

	// Most recent candles only
	if start.IsZero() {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		svc := c.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(min(limit, maxKlinesPerRequest))
		if !end.IsZero() {
			svc = svc.EndTime(end.UnixMilli())
		}
		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		return translateKlines(klines, symbol, interval), nil
	}

	var all []*domain.RawCandle
	from := start
	for len(all) < limit {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		svc := c.spot.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			Limit(min(limit-len(all), maxKlinesPerRequest))
		if !end.IsZero() {
			svc = svc.EndTime(end.UnixMilli())
		}
		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		all = append(all, translateKlines(klines, symbol, interval)...)
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if len(klines) < maxKlinesPerRequest || (!end.IsZero() && !from.Before(end)) {
			break
		}
	}
	return all, nil
}

// StreamCandles opens one websocket kline stream. Reconnection is left to the caller.
func (c *Client) StreamCandles(ctx context.Context, symbol, interval string, handler func(*domain.RawCandle), errHandler func(error)) (<-chan struct{}, chan<- struct{}, error) {
	op := "StreamCandles"

	wsHandler := func(event *binance.WsKlineEvent) {
		raw, err := translateWsKline(event)
		if err != nil {
			c.logger.Warn(ctx, op+": dropping malformed kline event", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			return
		}
		handler(raw)
	}
	wsErrHandler := func(err error) {
		errHandler(c.handleError(ctx, err, op+" WebSocket"))
	}

	doneC, stopC, err := binance.WsKlineServe(strings.ToLower(symbol), interval, wsHandler, wsErrHandler)
	if err != nil {
		return nil, nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+": WebSocket connection established", map[string]interface{}{"symbol": symbol, "interval": interval})
	return doneC, stopC, nil
}

// SubmitOrder places a market or GTC limit order with the idempotency key as client order id.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*ports.ExchangeOrder, error) {
	op := "SubmitOrder"
	info, err := c.GetSymbolInfo(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	qty := formatQuantity(req.Quantity, info.StepSize)
	if qty == "0" {
		return nil, fmt.Errorf("%s failed: %w: quantity %f rounds to zero at step %f", op, ports.ErrInvalidRequest, req.Quantity, info.StepSize)
	}

	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	svc := c.spot.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(qty).
		NewClientOrderID(req.IdempotencyKey)
	if req.IsMarket() {
		svc = svc.Type(binance.OrderTypeMarket)
	} else {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatPrice(req.LimitPrice, info.TickSize))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order := translateCreateOrderResponse(resp)
	c.logger.Info(ctx, "Order submitted", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "quantity": qty, "clientOrderId": req.IdempotencyKey,
		"orderId": order.OrderID, "status": order.Status,
	})
	return order, nil
}

// GetOrder looks an order up by client order id.
func (c *Client) GetOrder(ctx context.Context, symbol, clientOrderID string) (*ports.ExchangeOrder, error) {
	op := "GetOrder"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	o, err := c.spot.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientOrderID).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(o), nil
}

// GetOpenOrders lists open orders for a symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]*ports.ExchangeOrder, error) {
	op := "GetOpenOrders"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	orders, err := c.spot.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	out := make([]*ports.ExchangeOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, translateOrder(o))
	}
	return out, nil
}

// CancelOrder cancels an existing open order by its ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	op := "CancelOrder"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	if _, err := c.spot.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, "Order canceled", map[string]interface{}{"symbol": symbol, "orderId": orderID})
	return nil
}

// GetAccountBalances retrieves all non-zero balances keyed by asset.
func (c *Client) GetAccountBalances(ctx context.Context) (map[string]ports.Balance, error) {
	op := "GetAccountBalances"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	acc, err := c.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	balances, err := translateBalances(acc.Balances)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return balances, nil
}

// GetSymbolInfo returns the trading rules for a symbol, querying the exchange only once.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	c.metaMu.RLock()
	info, ok := c.meta[symbol]
	c.metaMu.RUnlock()
	if ok {
		return info, nil
	}

	op := "GetSymbolInfo"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	exInfo, err := c.spot.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	for i := range exInfo.Symbols {
		if exInfo.Symbols[i].Symbol != symbol {
			continue
		}
		info, err := translateSymbol(&exInfo.Symbols[i])
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		c.metaMu.Lock()
		c.meta[symbol] = info
		c.metaMu.Unlock()
		c.logger.Info(ctx, "Symbol metadata cached", map[string]interface{}{
			"symbol": symbol, "stepSize": info.StepSize, "tickSize": info.TickSize, "minNotional": info.MinNotional,
		})
		return info, nil
	}
	return nil, fmt.Errorf("%s failed: %w: %s", op, ports.ErrInvalidSymbol, symbol)
}
