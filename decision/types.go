package decision

import (
	"time"

	"vela/market"
)

// Cooldown windows advertised to the model after recent activity.
const (
	enterCooldown      = 9 * time.Minute
	stopCooldown       = 6 * time.Minute
	takeProfitCooldown = 3 * time.Minute
)

// AccountInfo account state at context build time
type AccountInfo struct {
	TotalEquity      float64 `json:"total_equity"`
	AvailableBalance float64 `json:"available_balance"`
	TotalPnL         float64 `json:"total_pnl"`
	TotalPnLPct      float64 `json:"total_pnl_pct"`
	MarginUsed       float64 `json:"margin_used"`
	MarginUsedPct    float64 `json:"margin_used_pct"`
	PositionCount    int     `json:"position_count"`
}

// PositionInfo one open position as seen by the model. Quantity is a
// non-negative magnitude; Side carries the direction.
type PositionInfo struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	EntryPrice       float64 `json:"entry_price"`
	MarkPrice        float64 `json:"mark_price"`
	Quantity         float64 `json:"quantity"`
	Leverage         float64 `json:"leverage"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	LiquidationPrice float64 `json:"liquidation_price"`
	MarginUsed       float64 `json:"margin_used"`
	HoldingMinutes   int     `json:"holding_minutes"`
}

// CandidateCoin a pool symbol with its provenance tags ("ai500", "oi_top").
// Candidates double as the open-position allow-list.
type CandidateCoin struct {
	Symbol  string   `json:"symbol"`
	Sources []string `json:"sources"`
}

// OITopEntry optional open-interest growth detail for a candidate.
type OITopEntry struct {
	Rank              int     `json:"rank"`
	OIDeltaPercent    float64 `json:"oi_delta_percent"`
	PriceDeltaPercent float64 `json:"price_delta_percent"`
}

// PerformanceSummary rolling trade statistics handed to the prompt.
type PerformanceSummary struct {
	SharpeRatio  float64 `json:"sharpe_ratio"`
	TotalPnL     float64 `json:"total_pnl"`
	WinRate      float64 `json:"win_rate"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	ProfitFactor float64 `json:"profit_factor"`
	CycleCount   int     `json:"cycle_count"`
}

// Context everything the model sees for one cycle. Built fresh per cycle and
// never shared across agents.
type Context struct {
	CurrentTime    time.Time
	CycleNumber    int
	RuntimeMinutes int

	Account        AccountInfo
	Positions      []PositionInfo
	CandidateCoins []CandidateCoin

	MarketSnapshots map[string]*market.Data
	OITopEntries    map[string]OITopEntry
	Performance     *PerformanceSummary

	BTCETHLeverage  int
	AltcoinLeverage int
	ShortInterval   string

	// Cooldown / streak state, restored from the decision log on restart.
	LastEnterTime      time.Time
	LastStopTime       time.Time
	LastTakeProfitTime time.Time
	ConsecutiveLosses  int
	DailyLossPercent   float64
}

// CooldownStatus reports "cooling" while any cooldown window is still open,
// otherwise "ok". Zero timestamps never trigger a cooldown.
func (c *Context) CooldownStatus(now time.Time) string {
	if withinWindow(now, c.LastEnterTime, enterCooldown) ||
		withinWindow(now, c.LastStopTime, stopCooldown) ||
		withinWindow(now, c.LastTakeProfitTime, takeProfitCooldown) {
		return "cooling"
	}
	return "ok"
}

func withinWindow(now, since time.Time, window time.Duration) bool {
	return !since.IsZero() && now.Sub(since) < window
}

// Decision one model action. Sizing fields are only meaningful for
// open_long/open_short.
type Decision struct {
	Symbol          string  `json:"symbol"`
	Action          string  `json:"action"` // open_long, open_short, close_long, close_short, hold, wait
	Leverage        int     `json:"leverage,omitempty"`
	PositionSizeUSD float64 `json:"position_size_usd,omitempty"`
	StopLoss        float64 `json:"stop_loss,omitempty"`
	TakeProfit      float64 `json:"take_profit,omitempty"`
	Confidence      int     `json:"confidence,omitempty"`
	RiskUSD         float64 `json:"risk_usd,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// FullDecision one cycle's model output: the prompt that produced it, the
// free-text reasoning trace, and the parsed decision list. Persisted whether
// or not the cycle succeeded.
type FullDecision struct {
	UserPrompt string     `json:"user_prompt"`
	CoTTrace   string     `json:"cot_trace"`
	Decisions  []Decision `json:"decisions"`
	Timestamp  time.Time  `json:"timestamp"`
}

// actionPriority orders execution: closes free margin before opens, holds
// and waits go last, unknown actions sink to the very end.
func actionPriority(action string) int {
	switch action {
	case "close_long", "close_short":
		return 1
	case "open_long", "open_short":
		return 2
	case "hold", "wait":
		return 3
	default:
		return 999
	}
}

// SortByPriority stable-sorts decisions so closes run before opens. Sorting
// an already-ordered list leaves it unchanged.
func SortByPriority(decisions []Decision) {
	// Insertion sort keeps equal-priority entries in input order.
	for i := 1; i < len(decisions); i++ {
		for j := i; j > 0 && actionPriority(decisions[j].Action) < actionPriority(decisions[j-1].Action); j-- {
			decisions[j], decisions[j-1] = decisions[j-1], decisions[j]
		}
	}
}
