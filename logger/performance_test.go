package logger

import (
	"math"
	"testing"
)

func pos(symbol, side string, pnl float64) PositionSnapshot {
	return PositionSnapshot{Symbol: symbol, Side: side, PositionAmt: 1, UnrealizedProfit: pnl}
}

func TestAnalyzePerformanceDetectsClosedTrades(t *testing.T) {
	l := NewDecisionLogger(t.TempDir())
	defer l.Close()

	// Cycle 1 holds a winner, cycle 2 it is gone and a loser appears,
	// cycle 3 the loser is gone too.
	records := []*DecisionRecord{
		testRecord(1, 10000, []PositionSnapshot{pos("BTCUSDT", "long", 50)}),
		testRecord(2, 10050, []PositionSnapshot{pos("ETHUSDT", "short", -20)}),
		testRecord(3, 10030, nil),
	}
	for _, r := range records {
		if err := l.LogDecision(r); err != nil {
			t.Fatalf("LogDecision failed: %v", err)
		}
	}

	analysis, err := l.AnalyzePerformance(100)
	if err != nil {
		t.Fatalf("AnalyzePerformance failed: %v", err)
	}
	if analysis.CycleCount != 3 {
		t.Errorf("CycleCount = %d, want 3", analysis.CycleCount)
	}
	if math.Abs(analysis.TotalPnL-30) > 1e-9 {
		t.Errorf("TotalPnL = %v, want 30", analysis.TotalPnL)
	}
	if math.Abs(analysis.WinRate-0.5) > 1e-9 {
		t.Errorf("WinRate = %v, want 0.5", analysis.WinRate)
	}
	if math.Abs(analysis.AvgWin-50) > 1e-9 || math.Abs(analysis.AvgLoss-(-20)) > 1e-9 {
		t.Errorf("AvgWin = %v, AvgLoss = %v", analysis.AvgWin, analysis.AvgLoss)
	}
	if math.Abs(analysis.ProfitFactor-2.5) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want 2.5", analysis.ProfitFactor)
	}
}

func TestAnalyzePerformanceSurvivingPositionIsNotATrade(t *testing.T) {
	l := NewDecisionLogger(t.TempDir())
	defer l.Close()

	held := []PositionSnapshot{pos("BTCUSDT", "long", 10)}
	for cycle := 1; cycle <= 3; cycle++ {
		if err := l.LogDecision(testRecord(cycle, 10000, held)); err != nil {
			t.Fatalf("LogDecision failed: %v", err)
		}
	}

	analysis, err := l.AnalyzePerformance(100)
	if err != nil {
		t.Fatalf("AnalyzePerformance failed: %v", err)
	}
	if analysis.TotalPnL != 0 || analysis.WinRate != 0 {
		t.Errorf("held position counted as a trade: %+v", analysis)
	}
}

func TestAnalyzePerformanceEmpty(t *testing.T) {
	l := NewDecisionLogger(t.TempDir())
	defer l.Close()

	analysis, err := l.AnalyzePerformance(100)
	if err != nil {
		t.Fatalf("AnalyzePerformance failed: %v", err)
	}
	if analysis.CycleCount != 0 || analysis.TotalPnL != 0 {
		t.Errorf("empty store analysis = %+v", analysis)
	}
}

func TestEquityOfDoesNotRecountUnrealized(t *testing.T) {
	// TotalBalance is snapshotted as full equity, so open P&L must not be
	// added on top of it.
	r := testRecord(1, 1100, nil)
	r.AccountState.TotalUnrealizedProfit = 100
	if got := equityOf(r); got != 1100 {
		t.Errorf("equityOf = %v, want 1100", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	records := []*DecisionRecord{
		testRecord(1, 100, nil),
		testRecord(2, 120, nil),
		testRecord(3, 90, nil),
		testRecord(4, 110, nil),
	}
	if got := maxDrawdown(records); math.Abs(got-25) > 1e-9 {
		t.Errorf("maxDrawdown = %v, want 25", got)
	}
}

func TestSharpeRatioTooFewRecords(t *testing.T) {
	records := []*DecisionRecord{
		testRecord(1, 100, nil),
		testRecord(2, 110, nil),
	}
	if got := sharpeRatio(records); got != 0 {
		t.Errorf("sharpeRatio = %v, want 0 for short history", got)
	}
}

func TestGetStatistics(t *testing.T) {
	l := NewDecisionLogger(t.TempDir())
	defer l.Close()

	good := testRecord(1, 10000, nil)
	good.Decisions = []DecisionAction{{Action: "open_long"}, {Action: "hold"}}
	bad := testRecord(2, 9900, nil)
	bad.Success = false
	bad.ErrorMessage = "ai unavailable"

	for _, r := range []*DecisionRecord{good, bad} {
		if err := l.LogDecision(r); err != nil {
			t.Fatalf("LogDecision failed: %v", err)
		}
	}

	stats, err := l.GetStatistics()
	if err != nil {
		t.Fatalf("GetStatistics failed: %v", err)
	}
	if stats.TotalCycles != 2 || stats.SuccessfulCycles != 1 || stats.FailedCycles != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalActions != 2 {
		t.Errorf("TotalActions = %d, want 2", stats.TotalActions)
	}
	if stats.LatestEquity != 9900 {
		t.Errorf("LatestEquity = %v, want 9900", stats.LatestEquity)
	}
}
