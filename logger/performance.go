package logger

import (
	"math"
)

// PerformanceAnalysis rolling trade statistics over recent cycles.
type PerformanceAnalysis struct {
	SharpeRatio  float64 `json:"sharpe_ratio"`
	TotalPnL     float64 `json:"total_pnl"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	ProfitFactor float64 `json:"profit_factor"`
	CycleCount   int     `json:"cycle_count"`
}

// Statistics whole-history aggregates used by the API layer.
type Statistics struct {
	TotalCycles      int     `json:"total_cycles"`
	SuccessfulCycles int     `json:"successful_cycles"`
	FailedCycles     int     `json:"failed_cycles"`
	TotalActions     int     `json:"total_actions"`
	FirstCycleTime   string  `json:"first_cycle_time"`
	LastCycleTime    string  `json:"last_cycle_time"`
	LatestEquity     float64 `json:"latest_equity"`
}

// AnalyzePerformance computes trade statistics over the last lookbackCycles
// records. Closed trades are detected by a position disappearing between
// consecutive records; its last seen unrealized PnL approximates the
// realized result.
func (l *DecisionLogger) AnalyzePerformance(lookbackCycles int) (*PerformanceAnalysis, error) {
	records, err := l.GetLatestRecords(lookbackCycles)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &PerformanceAnalysis{}, nil
	}

	analysis := &PerformanceAnalysis{CycleCount: len(records)}

	var wins, losses []float64
	for i := 1; i < len(records); i++ {
		prev, curr := records[i-1], records[i]

		open := make(map[string]bool, len(curr.Positions))
		for _, pos := range curr.Positions {
			open[pos.Symbol+"_"+pos.Side] = true
		}
		for _, pos := range prev.Positions {
			if open[pos.Symbol+"_"+pos.Side] {
				continue
			}
			if pos.UnrealizedProfit >= 0 {
				wins = append(wins, pos.UnrealizedProfit)
			} else {
				losses = append(losses, pos.UnrealizedProfit)
			}
		}
	}

	for _, w := range wins {
		analysis.TotalPnL += w
		analysis.AvgWin += w
	}
	grossLoss := 0.0
	for _, loss := range losses {
		analysis.TotalPnL += loss
		grossLoss += -loss
		analysis.AvgLoss += loss
	}
	if len(wins) > 0 {
		analysis.AvgWin /= float64(len(wins))
	}
	if len(losses) > 0 {
		analysis.AvgLoss /= float64(len(losses))
	}
	if total := len(wins) + len(losses); total > 0 {
		analysis.WinRate = float64(len(wins)) / float64(total)
	}
	if grossLoss > 0 {
		analysis.ProfitFactor = (analysis.TotalPnL + grossLoss) / grossLoss
	} else if len(wins) > 0 {
		analysis.ProfitFactor = math.Inf(1)
	}

	analysis.SharpeRatio = sharpeRatio(records)
	analysis.MaxDrawdown = maxDrawdown(records)

	return analysis, nil
}

// sharpeRatio computes the per-cycle Sharpe ratio over the equity series.
func sharpeRatio(records []*DecisionRecord) float64 {
	if len(records) < 3 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(records); i++ {
		prev := equityOf(records[i-1])
		curr := equityOf(records[i])
		if prev > 0 {
			returns = append(returns, (curr-prev)/prev)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(float64(len(returns)))
}

// maxDrawdown returns the largest peak-to-trough equity decline in percent.
func maxDrawdown(records []*DecisionRecord) float64 {
	peak, maxDD := 0.0, 0.0
	for _, r := range records {
		equity := equityOf(r)
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// equityOf reads the equity snapshotted at decision time. TotalBalance is
// stored as full equity with unrealized P&L already folded in.
func equityOf(r *DecisionRecord) float64 {
	return r.AccountState.TotalBalance
}

// GetStatistics aggregates the whole decision history.
func (l *DecisionLogger) GetStatistics() (*Statistics, error) {
	records, err := l.GetAllRecords()
	if err != nil {
		return nil, err
	}

	stats := &Statistics{TotalCycles: len(records)}
	if len(records) == 0 {
		return stats, nil
	}

	for _, r := range records {
		if r.Success {
			stats.SuccessfulCycles++
		} else {
			stats.FailedCycles++
		}
		stats.TotalActions += len(r.Decisions)
	}
	stats.FirstCycleTime = records[0].Timestamp.Format("2006-01-02 15:04:05")
	last := records[len(records)-1]
	stats.LastCycleTime = last.Timestamp.Format("2006-01-02 15:04:05")
	stats.LatestEquity = equityOf(last)
	return stats, nil
}
