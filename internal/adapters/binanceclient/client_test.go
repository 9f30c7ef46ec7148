package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{APIKey: "key", SecretKey: "secret", Logger: &mockLogger{}, RequestsPerSecond: 1000})
	require.NoError(t, err)
	c.spot.BaseURL = srv.URL
	return c
}

func TestHandleError(t *testing.T) {
	c := &Client{logger: &mockLogger{}}
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", &common.APIError{Code: -1003, Message: "Too many requests"}, ports.ErrRateLimited},
		{"recv window", &common.APIError{Code: -1021, Message: "Timestamp outside recvWindow"}, ports.ErrTimeout},
		{"bad signature", &common.APIError{Code: -1022}, ports.ErrAuthenticationFailed},
		{"invalid symbol", &common.APIError{Code: -1121, Message: "Invalid symbol."}, ports.ErrInvalidSymbol},
		{"insufficient balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, ports.ErrInsufficientFunds},
		{"order rejected", &common.APIError{Code: -2010, Message: "Duplicate order sent."}, ports.ErrOrderPlacementFailed},
		{"unknown order", &common.APIError{Code: -2013, Message: "Order does not exist."}, ports.ErrOrderNotFound},
		{"gateway error", &common.APIError{Code: 0}, ports.ErrExchangeUnavailable},
		{"unmapped code", &common.APIError{Code: -9999}, ports.ErrUnknown},
		{"deadline", context.DeadlineExceeded, ports.ErrTimeout},
		{"canceled", context.Canceled, ports.ErrContextCanceled},
		{"connection reset", errors.New("read tcp: connection reset by peer"), ports.ErrConnectionFailed},
		{"http client timeout", errors.New("Get \"https://api\": net/http: request canceled (Client.Timeout exceeded)"), ports.ErrTimeout},
		{"other", errors.New("something else"), ports.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.handleError(ctx, tt.err, "Op")
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, c.handleError(ctx, nil, "Op"))
}

func TestFormatQuantity(t *testing.T) {
	tests := []struct {
		qty  float64
		step float64
		want string
	}{
		{0.0123456, 0.00001, "0.01234"},
		{1.99, 0.1, "1.9"},
		{0.00000999, 0.00001, "0"},
		{5, 1, "5"},
		{0.123456789, 0, "0.12345678"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%v", tt.qty, tt.step), func(t *testing.T) {
			assert.Equal(t, tt.want, formatQuantity(tt.qty, tt.step))
		})
	}
}

func TestTranslateWsKline(t *testing.T) {
	event := &binance.WsKlineEvent{
		Kline: binance.WsKline{
			StartTime: 1700000000000,
			EndTime:   1700000059999,
			Symbol:    "BTCUSDT",
			Interval:  "1m",
			Open:      "100.0",
			High:      "101.5",
			Low:       "99.5",
			Close:     "101.0",
			Volume:    "12.5",
			IsFinal:   true,
		},
	}
	raw, err := translateWsKline(event)
	require.NoError(t, err)
	assert.Equal(t, &domain.RawCandle{
		Symbol: "BTCUSDT", Interval: "1m", OpenTime: 1700000000000, CloseTime: 1700000059999,
		Open: "100.0", High: "101.5", Low: "99.5", Close: "101.0", Volume: "12.5", IsFinal: true,
	}, raw)

	_, err = translateWsKline(nil)
	assert.Error(t, err)
}

func TestTranslateBalances(t *testing.T) {
	got, err := translateBalances([]binance.Balance{
		{Asset: "USDT", Free: "1000.5", Locked: "10"},
		{Asset: "BTC", Free: "0.00000000", Locked: "0.00000000"},
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.InDelta(t, 1010.5, got["USDT"].Total(), 1e-9)

	_, err = translateBalances([]binance.Balance{{Asset: "ETH", Free: "abc", Locked: "0"}})
	assert.Error(t, err)
}

func TestTranslateSymbol(t *testing.T) {
	tests := []struct {
		name        string
		filters     []map[string]interface{}
		minNotional float64
		tickSize    float64
	}{
		{
			name: "notional filter",
			filters: []map[string]interface{}{
				{"filterType": "PRICE_FILTER", "tickSize": "0.01"},
				{"filterType": "LOT_SIZE", "minQty": "0.001", "stepSize": "0.001"},
				{"filterType": "NOTIONAL", "minNotional": "5.00000000", "maxNotional": "9000000.00000000"},
			},
			minNotional: 5,
			tickSize:    0.01,
		},
		{
			name: "no notional filter",
			filters: []map[string]interface{}{
				{"filterType": "LOT_SIZE", "minQty": "0.001", "stepSize": "0.001"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := translateSymbol(&binance.Symbol{Symbol: "SOLUSDT", BaseAsset: "SOL", QuoteAsset: "USDT", Filters: tt.filters})
			require.NoError(t, err)
			assert.InDelta(t, tt.minNotional, info.MinNotional, 1e-12)
			assert.InDelta(t, tt.tickSize, info.TickSize, 1e-12)
			assert.InDelta(t, 0.001, info.StepSize, 1e-12)
		})
	}
}

func TestClient_GetTicker(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		fmt.Fprint(w, `{"symbol":"BTCUSDT","price":"50123.45"}`)
	})
	c := newTestClient(t, mux)

	price, err := c.GetTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 50123.45, price, 1e-9)
}

func TestClient_RateLimitMapped(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests."}`)
	}))

	_, err := c.GetTicker(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRateLimited)
	assert.Equal(t, ports.ClassRateLimit, ports.Classify(err))
}

func TestClient_SymbolInfoCachedAndOrderSubmitted(t *testing.T) {
	exchangeInfoCalls := 0
	var gotQty, gotClientID string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		exchangeInfoCalls++
		fmt.Fprint(w, `{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","filters":[
			{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01"},
			{"filterType":"LOT_SIZE","minQty":"0.00001","maxQty":"9000","stepSize":"0.00001"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000"}]}]}`)
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotQty = r.Form.Get("quantity")
		gotClientID = r.Form.Get("newClientOrderId")
		fmt.Fprintf(w, `{"symbol":"BTCUSDT","orderId":7,"clientOrderId":"%s","transactTime":1700000000000,
			"price":"0.00000000","origQty":"%s","executedQty":"%s","cummulativeQuoteQty":"501.00",
			"status":"FILLED","timeInForce":"GTC","type":"MARKET","side":"BUY"}`, gotClientID, gotQty, gotQty)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	info, err := c.GetSymbolInfo(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, info.MinNotional, 1e-9)
	assert.InDelta(t, 0.00001, info.StepSize, 1e-12)

	order, err := c.SubmitOrder(ctx, domain.OrderRequest{
		IdempotencyKey: "0b7e1c9a-1111-5222-8333-444455556666",
		Symbol:         "BTCUSDT",
		Side:           domain.Buy,
		Quantity:       0.0100234,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, exchangeInfoCalls)
	assert.Equal(t, "0.01002", gotQty)
	assert.Equal(t, "0b7e1c9a-1111-5222-8333-444455556666", gotClientID)
	assert.Equal(t, ports.ExchangeOrderFilled, order.Status)
	assert.InDelta(t, 501.0/0.01002, order.AvgPrice(), 1e-6)
}
