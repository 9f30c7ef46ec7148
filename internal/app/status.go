package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/strategy/analytics"
)

// PriceSource prices held assets for the status report.
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// StatusConfig holds the status monitor settings.
type StatusConfig struct {
	Symbols               []string
	QuoteAsset            string
	Interval              time.Duration // Time between reports
	MetricsWindow         time.Duration // Trades closed within this window feed the performance section
	WinRateThreshold      float64       // Fraction of winning exits below which a warning is added
	ProfitFactorThreshold float64
}

// AssetValue is one held asset priced in the quote asset.
type AssetValue struct {
	Asset    string
	Symbol   string
	Quantity float64
	Price    float64 // Zero when the asset could not be priced
	Value    float64
}

// StatusReport is one snapshot of the account and recent performance.
type StatusReport struct {
	At             time.Time
	QuoteAsset     string
	Quote          ports.Balance
	Assets         []AssetValue
	PortfolioValue float64 // Quote balance plus every priced asset
	Metrics        *analytics.PerformanceMetrics
	Warnings       []string
}

// String formats the report for an alert message.
func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Status report %s UTC\n", r.At.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Portfolio value: %.2f %s\n", r.PortfolioValue, r.QuoteAsset)
	fmt.Fprintf(&b, "%s balance: %.2f (locked %.2f)", r.QuoteAsset, r.Quote.Free, r.Quote.Locked)
	for _, a := range r.Assets {
		if a.Price == 0 {
			fmt.Fprintf(&b, "\n%s: %.8f (not priced)", a.Asset, a.Quantity)
			continue
		}
		fmt.Fprintf(&b, "\n%s: %.8f (%.2f %s)", a.Asset, a.Quantity, a.Value, r.QuoteAsset)
	}
	if m := r.Metrics; m != nil && m.TotalTrades > 0 {
		fmt.Fprintf(&b, "\nClosed trades: %d, win rate %.1f%%, profit factor %.2f, profit %.4f",
			m.TotalTrades, m.WinRate*100, m.ProfitFactor, m.TotalProfit)
	}
	for _, w := range r.Warnings {
		b.WriteString("\n⚠️ " + w)
	}
	return b.String()
}

// StatusMonitor periodically reports balances, portfolio value and recent performance
// through the alert sink.
type StatusMonitor struct {
	account Account
	prices  PriceSource
	trades  TradeLog
	alerts  ports.AlertSink
	logger  ports.Logger
	cfg     StatusConfig
	now     func() time.Time
}

// StatusOption configures a StatusMonitor.
type StatusOption func(*StatusMonitor)

// WithStatusClock overrides time.Now.
func WithStatusClock(now func() time.Time) StatusOption {
	return func(m *StatusMonitor) { m.now = now }
}

// NewStatusMonitor creates a status monitor.
func NewStatusMonitor(account Account, prices PriceSource, trades TradeLog, alerts ports.AlertSink, logger ports.Logger, cfg StatusConfig, opts ...StatusOption) (*StatusMonitor, error) {
	if account == nil || prices == nil || trades == nil || alerts == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for StatusMonitor")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("status interval must be positive")
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = 7 * 24 * time.Hour
	}
	m := &StatusMonitor{
		account: account,
		prices:  prices,
		trades:  trades,
		alerts:  alerts,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run sends a report every Interval until ctx is done. Failed reports are alerted and the
// monitor keeps going.
func (m *StatusMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.send(ctx)
		}
	}
}

func (m *StatusMonitor) send(ctx context.Context) {
	report, err := m.Report(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error(ctx, err, "Status report failed")
		m.alerts.Notify(ctx, fmt.Sprintf("⚠️ Status report failed: %v", err))
		return
	}
	m.logger.Info(ctx, "Status report", map[string]interface{}{
		"portfolioValue": report.PortfolioValue,
		"assets":         len(report.Assets),
		"warnings":       len(report.Warnings),
	})
	m.alerts.Notify(ctx, report.String())
}

// Report builds one status report. Only a balance failure is an error; an asset that cannot
// be priced is listed without a value and a trade log failure drops the performance section.
func (m *StatusMonitor) Report(ctx context.Context) (StatusReport, error) {
	now := m.now()
	balances, err := m.account.GetAccountBalances(ctx)
	if err != nil {
		return StatusReport{}, fmt.Errorf("could not fetch balances: %w", err)
	}

	r := StatusReport{At: now, QuoteAsset: m.cfg.QuoteAsset, Quote: balances[m.cfg.QuoteAsset]}
	r.PortfolioValue = r.Quote.Total()
	for _, symbol := range m.cfg.Symbols {
		asset := strings.TrimSuffix(symbol, m.cfg.QuoteAsset)
		bal, ok := balances[asset]
		if !ok || bal.Total() <= 0 {
			continue
		}
		av := AssetValue{Asset: asset, Symbol: symbol, Quantity: bal.Total()}
		price, err := m.prices.GetCurrentPrice(ctx, symbol)
		if err != nil {
			m.logger.Warn(ctx, "Status report could not price asset", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s could not be priced", symbol))
		} else {
			av.Price = price
			av.Value = av.Quantity * price
			r.PortfolioValue += av.Value
		}
		r.Assets = append(r.Assets, av)
	}

	trades, err := m.trades.TradesSince(ctx, now.Add(-m.cfg.MetricsWindow))
	if err != nil {
		m.logger.Warn(ctx, "Status report could not read trades", map[string]interface{}{"error": err.Error()})
		r.Warnings = append(r.Warnings, "trade log unavailable")
		return r, nil
	}
	r.Metrics = analytics.AnalyzePerformance(trades, r.PortfolioValue)
	r.Warnings = append(r.Warnings, m.performanceWarnings(r.Metrics)...)
	return r, nil
}

func (m *StatusMonitor) performanceWarnings(pm *analytics.PerformanceMetrics) []string {
	if pm.TotalTrades == 0 {
		return nil
	}
	var out []string
	if m.cfg.WinRateThreshold > 0 && pm.WinRate < m.cfg.WinRateThreshold {
		out = append(out, fmt.Sprintf("Win rate %.1f%% below threshold %.1f%%", pm.WinRate*100, m.cfg.WinRateThreshold*100))
	}
	// No losing exits leaves the profit factor at zero; that is not a warning.
	if m.cfg.ProfitFactorThreshold > 0 && pm.GrossLoss != 0 && pm.ProfitFactor < m.cfg.ProfitFactorThreshold {
		out = append(out, fmt.Sprintf("Profit factor %.2f below threshold %.2f", pm.ProfitFactor, m.cfg.ProfitFactorThreshold))
	}
	return out
}

var _ Runner = (*StatusMonitor)(nil)
