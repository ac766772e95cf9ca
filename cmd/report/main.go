// Command report prints a trading summary for one agent's decision log.
//
// Usage:
//
//	report [-dir decision_logs] [-lookback 100] <trader_id>
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"vela/logger"
)

func main() {
	dir := flag.String("dir", "decision_logs", "base directory holding per-trader decision logs")
	lookback := flag.Int("lookback", 100, "number of recent cycles to analyze")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: report [-dir decision_logs] [-lookback 100] <trader_id>")
		os.Exit(2)
	}
	traderID := flag.Arg(0)

	l := logger.NewDecisionLogger(filepath.Join(*dir, traderID))
	defer l.Close()

	stats, err := l.GetStatistics()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load statistics: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("📊 Decision log report: %s\n", traderID)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Total cycles:      %d\n", stats.TotalCycles)
	fmt.Printf("Successful cycles: %d\n", stats.SuccessfulCycles)
	fmt.Printf("Failed cycles:     %d\n", stats.FailedCycles)
	fmt.Printf("Actions executed:  %d\n", stats.TotalActions)

	analysis, err := l.AnalyzePerformance(*lookback)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to analyze performance: %v\n", err)
		os.Exit(1)
	}
	if analysis == nil || analysis.CycleCount == 0 {
		fmt.Println("\nNo completed cycles to analyze.")
		return
	}

	fmt.Println(strings.Repeat("-", 70))
	writePerformance(os.Stdout, *lookback, analysis)
	fmt.Println(strings.Repeat("=", 70))
}

func writePerformance(w io.Writer, lookback int, analysis *logger.PerformanceAnalysis) {
	fmt.Fprintf(w, "Performance over last %d cycles:\n", lookback)
	fmt.Fprintf(w, "  Total P&L:      %+.2f USDT\n", analysis.TotalPnL)
	// WinRate is stored as a fraction.
	fmt.Fprintf(w, "  Win rate:       %.1f%%\n", analysis.WinRate*100)
	fmt.Fprintf(w, "  Avg win:        %+.2f USDT\n", analysis.AvgWin)
	fmt.Fprintf(w, "  Avg loss:       %+.2f USDT\n", analysis.AvgLoss)
	fmt.Fprintf(w, "  Profit factor:  %.2f\n", analysis.ProfitFactor)
	fmt.Fprintf(w, "  Sharpe ratio:   %.2f\n", analysis.SharpeRatio)
	fmt.Fprintf(w, "  Max drawdown:   %.2f%%\n", analysis.MaxDrawdown)
}
