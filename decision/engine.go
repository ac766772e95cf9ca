package decision

import (
	"fmt"
	"strings"
	"time"

	"vela/market"
	"vela/mcp"
)

// GetFullDecision compiles both prompts, calls the model and parses the
// response. The returned FullDecision always carries the user prompt, and on
// parse failure whatever reasoning trace was extracted, so the caller can
// record the cycle either way.
func GetFullDecision(client *mcp.Client, ctx *Context) (*FullDecision, error) {
	systemPrompt := BuildSystemPrompt(ctx.Account.TotalEquity, ctx.BTCETHLeverage, ctx.AltcoinLeverage)
	userPrompt := BuildUserPrompt(ctx)

	raw, err := client.CallWithMessages(systemPrompt, userPrompt)
	if err != nil {
		return &FullDecision{UserPrompt: userPrompt, Timestamp: time.Now()}, err
	}

	fd, err := Parse(raw)
	fd.UserPrompt = userPrompt
	if err != nil {
		return fd, err
	}
	return fd, nil
}

// BuildSystemPrompt renders the static strategy rules with the hard
// constraints interpolated from the account state and leverage caps.
func BuildSystemPrompt(accountEquity float64, btcEthLeverage, altcoinLeverage int) string {
	var sb strings.Builder

	sb.WriteString("You are an autonomous cryptocurrency perpetual futures trader.\n")
	sb.WriteString("Your objective is to maximize risk-adjusted return (Sharpe ratio), not raw trade frequency. ")
	sb.WriteString("Overtrading and churning positions destroys returns through fees and slippage.\n\n")

	sb.WriteString("## Hard constraints (violations are rejected before execution)\n\n")
	sb.WriteString(fmt.Sprintf("- Reward:risk ratio of every new position must be at least %.1f:1\n", MinRiskRewardRatio))
	sb.WriteString("- At most 3 symbols may hold positions at the same time\n")
	sb.WriteString(fmt.Sprintf("- BTCUSDT/ETHUSDT: leverage up to %dx, position value up to %.0f USDT (%.0fx equity)\n",
		btcEthLeverage, accountEquity*btcEthPositionMultiple, btcEthPositionMultiple))
	sb.WriteString(fmt.Sprintf("- Altcoins: leverage up to %dx, position value up to %.0f USDT (%.1fx equity)\n",
		altcoinLeverage, accountEquity*altcoinPositionMultiple, altcoinPositionMultiple))
	sb.WriteString("- Total margin utilization must stay below 90%\n")
	sb.WriteString("- Only open positions in symbols listed as candidates this cycle\n")
	sb.WriteString("- Every new position must carry a stop_loss and a take_profit\n\n")

	sb.WriteString("## Output format\n\n")
	sb.WriteString("First write your market analysis as free text (your chain of thought).\n")
	sb.WriteString("Then output a single JSON array of decision objects, nothing after it:\n\n")
	sb.WriteString("[\n")
	sb.WriteString(fmt.Sprintf(`  {"symbol": "BTCUSDT", "action": "open_long", "leverage": %d, "position_size_usd": %.0f, "stop_loss": 95000, "take_profit": 108000, "confidence": 85, "risk_usd": 200, "reasoning": "trend continuation above EMA20"},`,
		btcEthLeverage, accountEquity*5))
	sb.WriteString("\n")
	sb.WriteString(`  {"symbol": "SOLUSDT", "action": "close_long", "reasoning": "target reached"},`)
	sb.WriteString("\n")
	sb.WriteString(`  {"symbol": "ETHUSDT", "action": "hold", "reasoning": "no edge"}`)
	sb.WriteString("\n]\n\n")
	sb.WriteString("Valid actions: open_long, open_short, close_long, close_short, hold, wait.\n")
	sb.WriteString("leverage, position_size_usd, stop_loss, take_profit, confidence and risk_usd are required for open_long/open_short only.\n")
	sb.WriteString("For open_long the stop_loss must be below the take_profit; for open_short above it.\n")
	sb.WriteString("Use standard ASCII double quotes in the JSON.\n")

	return sb.String()
}

// BuildUserPrompt renders the per-cycle data report. Pure function of ctx;
// the section ordering is part of the contract the model is tuned against.
func BuildUserPrompt(ctx *Context) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Time: %s | Cycle: #%d | Runtime: %d minutes\n\n",
		ctx.CurrentTime.Format("2006-01-02 15:04:05"), ctx.CycleNumber, ctx.RuntimeMinutes))

	writeBTCSection(&sb, ctx)
	writeAccountSection(&sb, ctx)
	writeCooldownSection(&sb, ctx)
	writePositionsSection(&sb, ctx)
	writeCandidatesSection(&sb, ctx)
	writePerformanceSection(&sb, ctx)

	sb.WriteString("Analyze the data and output your decisions now.\n")
	return sb.String()
}

// writeBTCSection gives the model the BTC regime context used to gate
// altcoin trades.
func writeBTCSection(sb *strings.Builder, ctx *Context) {
	btc, ok := ctx.MarketSnapshots["BTCUSDT"]
	if !ok {
		return
	}
	sb.WriteString("## BTC market regime\n\n")
	sb.WriteString(market.Format(btc))
}

func writeAccountSection(sb *strings.Builder, ctx *Context) {
	a := ctx.Account
	sb.WriteString("## Account\n\n")
	sb.WriteString(fmt.Sprintf("Equity: %.2f USDT | Available: %.2f USDT | PnL: %+.2f (%+.2f%%) | Margin used: %.2f USDT (%.1f%%) | Positions: %d\n\n",
		a.TotalEquity, a.AvailableBalance, a.TotalPnL, a.TotalPnLPct, a.MarginUsed, a.MarginUsedPct, a.PositionCount))
}

func writeCooldownSection(sb *strings.Builder, ctx *Context) {
	now := ctx.CurrentTime
	sb.WriteString("## Trade pacing\n\n")
	sb.WriteString(fmt.Sprintf("cooldown_status: %s\n", ctx.CooldownStatus(now)))
	writeSince(sb, "last_enter", now, ctx.LastEnterTime)
	writeSince(sb, "last_stop", now, ctx.LastStopTime)
	writeSince(sb, "last_take_profit", now, ctx.LastTakeProfitTime)
	sb.WriteString(fmt.Sprintf("consecutive_losses: %d\n", ctx.ConsecutiveLosses))
	sb.WriteString(fmt.Sprintf("daily_loss_percent: %.2f%%\n\n", ctx.DailyLossPercent))
}

func writeSince(sb *strings.Builder, name string, now, since time.Time) {
	if since.IsZero() {
		sb.WriteString(fmt.Sprintf("%s: never\n", name))
		return
	}
	sb.WriteString(fmt.Sprintf("%s: %d minutes ago\n", name, int(now.Sub(since).Minutes())))
}

func writePositionsSection(sb *strings.Builder, ctx *Context) {
	sb.WriteString(fmt.Sprintf("## Open positions (%d)\n\n", len(ctx.Positions)))
	if len(ctx.Positions) == 0 {
		sb.WriteString("none\n\n")
		return
	}
	for i, pos := range ctx.Positions {
		sb.WriteString(fmt.Sprintf("%d. %s %s | entry %.4f current %.4f | PnL %+.2f%% | %.0fx | margin %.0f | liq %.4f | held %s\n",
			i+1, pos.Symbol, strings.ToUpper(pos.Side), pos.EntryPrice, pos.MarkPrice,
			pos.UnrealizedPnLPct, pos.Leverage, pos.MarginUsed, pos.LiquidationPrice,
			formatDuration(pos.HoldingMinutes)))
		if snap, ok := ctx.MarketSnapshots[pos.Symbol]; ok {
			sb.WriteString("\n")
			sb.WriteString(market.Format(snap))
		}
	}
	sb.WriteString("\n")
}

func writeCandidatesSection(sb *strings.Builder, ctx *Context) {
	sb.WriteString(fmt.Sprintf("## Candidate coins (%d analyzed)\n\n", len(ctx.CandidateCoins)))
	for _, coin := range ctx.CandidateCoins {
		snap, ok := ctx.MarketSnapshots[coin.Symbol]
		if !ok {
			continue
		}
		sb.WriteString(fmt.Sprintf("### %s [%s]\n\n", coin.Symbol, strings.Join(coin.Sources, ", ")))
		if oi, ok := ctx.OITopEntries[coin.Symbol]; ok {
			sb.WriteString(fmt.Sprintf("OI growth rank #%d | OI change %+.2f%% | price change %+.2f%%\n\n",
				oi.Rank, oi.OIDeltaPercent, oi.PriceDeltaPercent))
		}
		sb.WriteString(market.Format(snap))
	}
}

func writePerformanceSection(sb *strings.Builder, ctx *Context) {
	p := ctx.Performance
	if p == nil || p.CycleCount == 0 {
		return
	}
	sb.WriteString("## Recent performance\n\n")
	sb.WriteString(fmt.Sprintf("Sharpe ratio: %.2f | Win rate: %.1f%% | Profit factor: %.2f | Max drawdown: %.2f%% (last %d cycles)\n\n",
		p.SharpeRatio, p.WinRate*100, p.ProfitFactor, p.MaxDrawdown, p.CycleCount))
}

func formatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh%dm", minutes/60, minutes%60)
}
