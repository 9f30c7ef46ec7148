// Package metrics exposes Prometheus collectors for the trading loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spotbot"

// Metrics holds every collector. Construct it once per registry.
type Metrics struct {
	// Market data
	StreamReconnects *prometheus.CounterVec
	StreamConnected  *prometheus.GaugeVec
	CandlesDropped   *prometheus.CounterVec
	PriceCache       *prometheus.CounterVec

	// Execution
	OrderResults     *prometheus.CounterVec
	ExecutionLatency *prometheus.HistogramVec
	CircuitOpen      prometheus.Gauge

	// Decision loop
	Cycles        *prometheus.CounterVec
	OpenPositions prometheus.Gauge
	Exposure      prometheus.Gauge

	// Alerts
	AlertsDropped prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "stream_reconnects_total",
			Help:      "Candle stream reconnect attempts",
		}, []string{"symbol"}),
		StreamConnected: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "stream_connected",
			Help:      "Candle stream state (1=connected, 0=disconnected)",
		}, []string{"symbol"}),
		CandlesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "candles_dropped_total",
			Help:      "Candles rejected by validation",
		}, []string{"symbol"}),
		PriceCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketdata",
			Name:      "price_cache_lookups_total",
			Help:      "Price cache lookups by result",
		}, []string{"result"}), // hit, miss

		OrderResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "order_results_total",
			Help:      "Order outcomes by symbol, side and status",
		}, []string{"symbol", "side", "status"}),
		ExecutionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "execute_duration_seconds",
			Help:      "Time from Execute call to terminal result",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"symbol", "side"}),
		CircuitOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "circuit_open",
			Help:      "Circuit breaker state (1=open, 0=closed)",
		}),

		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "cycles_total",
			Help:      "Decision cycles by symbol and outcome",
		}, []string{"symbol", "outcome"}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "open_positions",
			Help:      "Currently open positions",
		}),
		Exposure: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trading",
			Name:      "committed_notional",
			Help:      "Committed notional across open positions in quote currency",
		}),

		AlertsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "dropped_total",
			Help:      "Alerts dropped because the queue was full or closed",
		}),
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// StreamState records whether a symbol's candle stream is connected.
func (m *Metrics) StreamState(symbol string, connected bool) {
	m.StreamConnected.WithLabelValues(symbol).Set(boolGauge(connected))
}

// StreamReconnect counts one reconnect attempt.
func (m *Metrics) StreamReconnect(symbol string) {
	m.StreamReconnects.WithLabelValues(symbol).Inc()
}

// CandleDropped counts one invalid candle.
func (m *Metrics) CandleDropped(symbol string) {
	m.CandlesDropped.WithLabelValues(symbol).Inc()
}

// PriceCacheLookup counts a price cache hit or miss.
func (m *Metrics) PriceCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PriceCache.WithLabelValues(result).Inc()
}

// OrderFinished records an order outcome and its latency.
func (m *Metrics) OrderFinished(symbol, side, status string, elapsed time.Duration) {
	m.OrderResults.WithLabelValues(symbol, side, status).Inc()
	m.ExecutionLatency.WithLabelValues(symbol, side).Observe(elapsed.Seconds())
}

// CircuitState records the breaker state.
func (m *Metrics) CircuitState(open bool) {
	m.CircuitOpen.Set(boolGauge(open))
}

// CycleOutcome counts one decision cycle.
func (m *Metrics) CycleOutcome(symbol, outcome string) {
	m.Cycles.WithLabelValues(symbol, outcome).Inc()
}

// Portfolio records the open position count and committed notional.
func (m *Metrics) Portfolio(openPositions int, committed float64) {
	m.OpenPositions.Set(float64(openPositions))
	m.Exposure.Set(committed)
}

// AlertDropped counts one dropped alert.
func (m *Metrics) AlertDropped() {
	m.AlertsDropped.Inc()
}
