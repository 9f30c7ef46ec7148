package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/adapters/sqlite"
	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/strategy/analytics"
)

// trade_report prints performance metrics over the bot's trade log.
func main() {
	_ = godotenv.Load()
	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/spot_bot.db"
	}
	dbPath := flag.String("db", defaultDB, "path to the bot database")
	days := flag.Int("days", 30, "report trades from the last N days (0 for all)")
	balance := flag.Float64("balance", 1000, "initial balance used for drawdown and ROI")
	flag.Parse()

	appLogger := logger.New(logger.Config{Level: logger.LevelWarn})
	defer func() { _ = appLogger.Sync() }()

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening database %s: %v", *dbPath, err)
	}
	defer repo.Close()

	var since time.Time
	if *days > 0 {
		since = time.Now().UTC().AddDate(0, 0, -*days)
	}
	records, err := repo.TradesSince(context.Background(), since)
	if err != nil {
		log.Fatalf("Error reading trades: %v", err)
	}
	if len(records) == 0 {
		log.Println("No trades found in the selected period.")
		return
	}

	if err := writeReport(os.Stdout, analytics.AnalyzePerformance(records, *balance)); err != nil {
		log.Fatalf("Error writing report: %v", err)
	}
}

// writeReport renders the summary table followed by per-symbol, per-exit-reason and
// monthly breakdowns.
func writeReport(out io.Writer, m *analytics.PerformanceMetrics) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Trades\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\tMaxDD\tPF\tSharpe\t")
	fmt.Fprintf(w, "%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
		m.TotalTrades,
		m.WinRate*100,
		m.AverageWin,
		m.AverageLoss,
		m.TotalProfit,
		m.MaxDrawdown*100,
		m.ProfitFactor,
		m.SharpeRatio,
	)
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nFinal balance: %.2f (ROI %.2f%%), expectancy %.4f, avg hold %s\n",
		m.FinalBalance, m.ReturnOnInvestment*100, m.Expectancy, m.AverageTradeDuration.Round(time.Second))
	fmt.Fprintf(out, "Max consecutive wins %d, losses %d\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)

	fmt.Fprintln(out, "\n## Profit by Symbol")
	symbols := make([]string, 0, len(m.ProfitBySymbol))
	for s := range m.ProfitBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		fmt.Fprintf(out, "%s\t%.4f\n", s, m.ProfitBySymbol[s])
	}

	fmt.Fprintln(out, "\n## Exits by Reason")
	reasons := make([]domain.CloseReason, 0, len(m.ExitsByReason))
	for r := range m.ExitsByReason {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
	technical := 0
	for _, r := range reasons {
		fmt.Fprintf(out, "%s\t%d\n", r, m.ExitsByReason[r])
		if r.IsTechnical() {
			technical += m.ExitsByReason[r]
		}
	}
	if m.TotalTrades > 0 {
		fmt.Fprintf(out, "Technical exits: %d of %d\n", technical, m.TotalTrades)
	}

	fmt.Fprintln(out, "\n## Monthly Returns")
	for _, mr := range m.GetMonthlyReturns() {
		fmt.Fprintf(out, "%s\t%.4f\n", mr.Month.Format("2006-01"), mr.Return)
	}
	return nil
}
