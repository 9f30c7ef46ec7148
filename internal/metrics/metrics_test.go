package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StreamReconnect("BTCUSDT")
	m.StreamReconnect("BTCUSDT")
	m.StreamState("BTCUSDT", true)
	m.CandleDropped("ETHUSDT")
	m.PriceCacheLookup(true)
	m.PriceCacheLookup(false)
	m.PriceCacheLookup(false)
	m.OrderFinished("BTCUSDT", "BUY", "FILLED", 250*time.Millisecond)
	m.CircuitState(true)
	m.Portfolio(2, 150.5)
	m.AlertDropped()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamReconnects.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamConnected.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CandlesDropped.WithLabelValues("ETHUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PriceCache.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrderResults.WithLabelValues("BTCUSDT", "BUY", "FILLED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 150.5, testutil.ToFloat64(m.Exposure))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsDropped))

	m.StreamState("BTCUSDT", false)
	m.CircuitState(false)
	assert.Zero(t, testutil.ToFloat64(m.StreamConnected.WithLabelValues("BTCUSDT")))
	assert.Zero(t, testutil.ToFloat64(m.CircuitOpen))
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.CycleOutcome("BTCUSDT", "entered")

	var healthErr error
	router := NewRouter(reg, func(ctx context.Context) error { return healthErr })

	tests := []struct {
		name       string
		path       string
		healthErr  error
		wantStatus int
		wantBody   string
	}{
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: `spotbot_trading_cycles_total{outcome="entered",symbol="BTCUSDT"} 1`},
		{name: "healthy", path: "/healthz", wantStatus: http.StatusOK, wantBody: "ok"},
		{name: "unhealthy", path: "/healthz", healthErr: errors.New("circuit open"), wantStatus: http.StatusServiceUnavailable, wantBody: "circuit open"},
		{name: "unknown path", path: "/nope", wantStatus: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthErr = tt.healthErr
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			body, err := io.ReadAll(rec.Body)
			require.NoError(t, err)
			if tt.wantBody != "" {
				assert.True(t, strings.Contains(string(body), tt.wantBody), string(body))
			}
		})
	}
}
