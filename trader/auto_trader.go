package trader

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"vela/decision"
	"vela/logger"
	"vela/market"
	"vela/mcp"
	"vela/pool"
)

var ErrMarginInsufficient = errors.New("margin insufficient for order")

const (
	// Candidates below this open-interest notional are too thin to trade.
	// Existing positions are exempt so they can always be managed.
	minCandidateOIValueUSD = 15_000_000

	maxOpenPositions = 6

	// delay between executed decisions so exchange rate limits and margin
	// recalculation keep up
	interDecisionDelay = 1 * time.Second

	// price-move thresholds classifying a close as a stop or a take profit
	// for cooldown bookkeeping
	stopLossClassifyPct   = -1.0
	takeProfitClassifyPct = 1.0

	performanceLookback = 20
	ai500Limit          = 20
)

// CycleState is the phase the trading loop is currently in.
type CycleState string

const (
	StateIdle            CycleState = "idle"
	StateRiskPaused      CycleState = "risk_paused"
	StateBuildingContext CycleState = "building_context"
	StateAwaitingAI      CycleState = "awaiting_ai"
	StateValidating      CycleState = "validating"
	StateExecuting       CycleState = "executing"
	StateRecording       CycleState = "recording"
)

// AutoTraderConfig configures one autonomous trading agent.
type AutoTraderConfig struct {
	ID      string
	Name    string
	AIModel string // "deepseek", "qwen", "groq", or "custom"

	Exchange string // "binance", "hyperliquid", "aster", or "paper"

	BinanceAPIKey    string
	BinanceSecretKey string

	HyperliquidPrivateKey string
	HyperliquidTestnet    bool

	AsterAPIKey    string
	AsterSecretKey string

	DeepSeekKey     string
	QwenKey         string
	GroqKey         string
	GroqModel       string
	CustomAPIURL    string
	CustomAPIKey    string
	CustomModelName string

	CoinPoolAPIURL  string
	OITopAPIURL     string
	UseDefaultCoins bool
	DefaultCoins    []string
	CustomCoins     []string

	ScanInterval  time.Duration
	ShortInterval string // kline interval for the short timeframe, e.g. "3m"

	InitialBalance float64

	BTCETHLeverage  int
	AltcoinLeverage int

	MaxDailyLoss    float64
	StopTradingTime time.Duration
}

// Status is a point-in-time view of the agent for the HTTP API.
type Status struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	AIModel        string     `json:"ai_model"`
	Exchange       string     `json:"exchange"`
	Running        bool       `json:"running"`
	State          CycleState `json:"state"`
	CycleNumber    int        `json:"cycle_number"`
	RuntimeMinutes int        `json:"runtime_minutes"`
	InitialBalance float64    `json:"initial_balance"`
	TotalEquity    float64    `json:"total_equity"`
	TotalPnL       float64    `json:"total_pnl"`
	TotalPnLPct    float64    `json:"total_pnl_pct"`
	PositionCount  int        `json:"position_count"`
	CooldownStatus string     `json:"cooldown_status"`
	PausedUntil    *time.Time `json:"paused_until,omitempty"`
}

// AutoTrader runs the perpetual decision loop for one agent: build context,
// ask the model, validate, execute, record.
type AutoTrader struct {
	id       string
	name     string
	aiModel  string
	exchange string
	config   AutoTraderConfig

	trader         Trader
	mcpClient      *mcp.Client
	decisionLogger *logger.DecisionLogger
	marketData     *market.Provider
	coinPool       *pool.Provider
	validator      *decision.Validator

	initialBalance float64
	startTime      time.Time

	mu        sync.Mutex
	state     CycleState
	running   bool
	inCycle   bool
	stopCh    chan struct{}
	stopUntil time.Time

	positionFirstSeen map[string]time.Time

	lastEnterTime      time.Time
	lastStopTime       time.Time
	lastTakeProfitTime time.Time
	consecutiveLosses  int
	dayStartEquity     float64
	dayStartTime       time.Time
	dailyLossPercent   float64
}

// NewAutoTrader wires an agent from its configuration: AI provider, exchange
// adapter, coin pool, market data, decision log. Cooldown state is restored
// from the latest persisted record so restarts do not reset risk memory.
func NewAutoTrader(cfg AutoTraderConfig, supabase *logger.SupabaseConfig) (*AutoTrader, error) {
	if cfg.ID == "" {
		cfg.ID = "default_trader"
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "binance"
	}
	if cfg.ShortInterval == "" {
		cfg.ShortInterval = "3m"
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 3 * time.Minute
	}
	if cfg.BTCETHLeverage <= 0 {
		cfg.BTCETHLeverage = 10
	}
	if cfg.AltcoinLeverage <= 0 {
		cfg.AltcoinLeverage = 5
	}
	if cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be greater than 0")
	}

	mcpClient := mcp.NewClient()
	switch cfg.AIModel {
	case "custom":
		mcpClient.SetCustomAPI(cfg.CustomAPIURL, cfg.CustomAPIKey, cfg.CustomModelName)
		log.Printf("🤖 [%s] Using custom AI API: %s (model: %s)", cfg.Name, cfg.CustomAPIURL, cfg.CustomModelName)
	case "qwen":
		mcpClient.SetQwenAPIKey(cfg.QwenKey)
		log.Printf("🤖 [%s] Using Qwen AI", cfg.Name)
	case "groq":
		mcpClient.SetGroqAPIKey(cfg.GroqKey, cfg.GroqModel)
		log.Printf("🤖 [%s] Using Groq AI (model: %s)", cfg.Name, cfg.GroqModel)
	case "deepseek", "":
		cfg.AIModel = "deepseek"
		mcpClient.SetDeepSeekAPIKey(cfg.DeepSeekKey)
		log.Printf("🤖 [%s] Using DeepSeek AI", cfg.Name)
	default:
		return nil, fmt.Errorf("unsupported AI model: %s", cfg.AIModel)
	}

	var t Trader
	var err error
	switch cfg.Exchange {
	case "binance":
		log.Printf("🏦 [%s] Using Binance Futures", cfg.Name)
		t = NewBinanceTrader(cfg.BinanceAPIKey, cfg.BinanceSecretKey)
	case "hyperliquid":
		log.Printf("🏦 [%s] Using Hyperliquid", cfg.Name)
		t, err = NewHyperliquidTrader(cfg.HyperliquidPrivateKey, cfg.HyperliquidTestnet)
		if err != nil {
			return nil, fmt.Errorf("initialize hyperliquid trader: %w", err)
		}
	case "aster":
		log.Printf("🏦 [%s] Using Aster", cfg.Name)
		t = NewAsterTrader(cfg.AsterAPIKey, cfg.AsterSecretKey)
	case "paper":
		log.Printf("📊 [%s] Using paper trading mode", cfg.Name)
		t = NewPaperTrader(cfg.InitialBalance)
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Exchange)
	}

	logDir := fmt.Sprintf("decision_logs/%s", cfg.ID)
	decisionLogger := logger.NewDecisionLoggerWithConfig(logDir, cfg.ID, supabase)

	at := &AutoTrader{
		id:                cfg.ID,
		name:              cfg.Name,
		aiModel:           cfg.AIModel,
		exchange:          cfg.Exchange,
		config:            cfg,
		trader:            t,
		mcpClient:         mcpClient,
		decisionLogger:    decisionLogger,
		marketData:        market.NewProvider(market.DefaultBaseURL),
		validator:         decision.NewValidator(cfg.BTCETHLeverage, cfg.AltcoinLeverage),
		initialBalance:    cfg.InitialBalance,
		startTime:         time.Now(),
		state:             StateIdle,
		stopCh:            make(chan struct{}),
		positionFirstSeen: make(map[string]time.Time),
		dayStartTime:      time.Now(),
	}

	at.coinPool = pool.NewProvider(pool.Config{
		AI500URL:        cfg.CoinPoolAPIURL,
		OITopURL:        cfg.OITopAPIURL,
		UseDefaultCoins: cfg.UseDefaultCoins,
		DefaultCoins:    cfg.DefaultCoins,
		CustomCoins:     cfg.CustomCoins,
		CacheDir:        fmt.Sprintf("coin_pool_cache/%s", cfg.ID),
	})

	at.restoreCooldownState()
	return at, nil
}

// restoreCooldownState loads the cooldown timestamps and loss streak from
// the latest decision record.
func (at *AutoTrader) restoreCooldownState() {
	record, err := at.decisionLogger.GetLatestRecord()
	if err != nil {
		log.Printf("⚠️  [%s] Could not restore cooldown state: %v", at.name, err)
		return
	}
	if record == nil {
		return
	}
	at.lastEnterTime = record.LastEnterTime
	at.lastStopTime = record.LastStopTime
	at.lastTakeProfitTime = record.LastTakeProfitTime
	at.consecutiveLosses = record.ConsecutiveLosses
	at.dailyLossPercent = record.DailyLossPercent
	log.Printf("🔄 [%s] Restored cooldown state from cycle #%d", at.name, record.CycleNumber)
}

// Run starts the trading loop. It runs a cycle immediately, then once per
// scan interval until Stop is called. A cycle that overruns the interval is
// never overlapped by the next tick.
func (at *AutoTrader) Run() error {
	at.mu.Lock()
	if at.running {
		at.mu.Unlock()
		return fmt.Errorf("trader %s already running", at.id)
	}
	at.running = true
	at.stopCh = make(chan struct{})
	at.mu.Unlock()

	log.Printf("🚀 [%s] Auto trading started (exchange: %s, interval: %v)", at.name, at.exchange, at.config.ScanInterval)
	log.Printf("💰 [%s] Initial balance: %.2f USDT | Leverage: BTC/ETH %dx, altcoin %dx",
		at.name, at.initialBalance, at.config.BTCETHLeverage, at.config.AltcoinLeverage)

	ticker := time.NewTicker(at.config.ScanInterval)
	defer ticker.Stop()

	at.tryRunCycle()

	for {
		select {
		case <-ticker.C:
			at.tryRunCycle()
		case <-at.stopCh:
			log.Printf("⏹ [%s] Auto trading stopped", at.name)
			return nil
		}
	}
}

// tryRunCycle runs a cycle unless one is already in flight.
func (at *AutoTrader) tryRunCycle() {
	at.mu.Lock()
	if at.inCycle {
		at.mu.Unlock()
		log.Printf("⏭ [%s] Previous cycle still running, skipping tick", at.name)
		return
	}
	at.inCycle = true
	at.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [%s] Cycle panicked: %v", at.name, r)
		}
		at.mu.Lock()
		at.inCycle = false
		at.state = StateIdle
		at.mu.Unlock()
	}()

	if err := at.runCycle(); err != nil {
		log.Printf("❌ [%s] Cycle failed: %v", at.name, err)
	}
}

// Stop requests the loop to exit after the current cycle.
func (at *AutoTrader) Stop() {
	at.mu.Lock()
	defer at.mu.Unlock()
	if !at.running {
		return
	}
	at.running = false
	close(at.stopCh)
	at.decisionLogger.Close()
}

func (at *AutoTrader) setState(s CycleState) {
	at.mu.Lock()
	at.state = s
	at.mu.Unlock()
}

// runCycle executes one decision cycle. Exactly one record is appended to
// the decision log per invocation, whatever happens in between.
func (at *AutoTrader) runCycle() error {
	cycleNumber := at.decisionLogger.NextCycleNumber()

	log.Printf("\n[%s] %s", at.name, strings.Repeat("=", 70))
	log.Printf("[%s] ⏰ %s - Decision cycle #%d", at.name, time.Now().Format("2006-01-02 15:04:05"), cycleNumber)
	log.Printf("[%s] %s", at.name, strings.Repeat("=", 70))

	record := &logger.DecisionRecord{
		Timestamp:    time.Now(),
		CycleNumber:  cycleNumber,
		ExecutionLog: []string{},
		Success:      true,
	}
	defer func() {
		record.LastEnterTime = at.lastEnterTime
		record.LastStopTime = at.lastStopTime
		record.LastTakeProfitTime = at.lastTakeProfitTime
		record.ConsecutiveLosses = at.consecutiveLosses
		record.DailyLossPercent = at.dailyLossPercent
		if err := at.decisionLogger.LogDecision(record); err != nil {
			log.Printf("⚠️  [%s] Failed to save decision record: %v", at.name, err)
		}
	}()

	// 1. Risk-control pause gate
	if ok, remaining := at.riskPaused(); ok {
		at.setState(StateRiskPaused)
		log.Printf("⏸ [%s] Risk control active, trading resumes in %.0f minutes", at.name, remaining.Minutes())
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("risk control pause active, %.0f minutes remaining", remaining.Minutes())
		return nil
	}

	// 2. Daily loss window reset
	at.rollDailyWindow()

	// 3. Build trading context
	at.setState(StateBuildingContext)
	ctx, err := at.buildTradingContext(cycleNumber)
	if err != nil {
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("build trading context: %v", err)
		return fmt.Errorf("build trading context: %w", err)
	}
	at.snapshotAccount(record, ctx)

	log.Printf("📊 [%s] Equity: %.2f | Available: %.2f | Positions: %d | Candidates: %d | Cooldown: %s",
		at.name, ctx.Account.TotalEquity, ctx.Account.AvailableBalance,
		ctx.Account.PositionCount, len(ctx.CandidateCoins), ctx.CooldownStatus(time.Now()))

	// 4. Ask the model
	at.setState(StateAwaitingAI)
	log.Printf("🤖 [%s] Requesting AI decision...", at.name)
	fullDecision, err := decision.GetFullDecision(at.mcpClient, ctx)
	if fullDecision != nil {
		record.InputPrompt = fullDecision.UserPrompt
		record.CoTTrace = fullDecision.CoTTrace
	}
	if err != nil {
		var parseErr *decision.ParseError
		if errors.As(err, &parseErr) && parseErr.Reasoning != "" {
			record.CoTTrace = parseErr.Reasoning
		}
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("get AI decision: %v", err)
		return fmt.Errorf("get AI decision: %w", err)
	}

	if fullDecision.CoTTrace != "" {
		log.Printf("💭 [%s] AI reasoning:\n%s", at.name, fullDecision.CoTTrace)
	}
	log.Printf("📋 [%s] AI decision list (%d items):", at.name, len(fullDecision.Decisions))
	for i, d := range fullDecision.Decisions {
		log.Printf("  [%d] %s %s - %s", i+1, d.Symbol, d.Action, d.Reasoning)
		if d.Action == "open_long" || d.Action == "open_short" {
			log.Printf("      Leverage: %dx | Size: %.2f USDT | SL: %.4f | TP: %.4f",
				d.Leverage, d.PositionSizeUSD, d.StopLoss, d.TakeProfit)
		}
	}
	if decisionJSON, err := json.MarshalIndent(fullDecision.Decisions, "", "  "); err == nil {
		record.DecisionJSON = string(decisionJSON)
	}

	// 5. Validate the whole batch. One bad decision rejects the batch.
	at.setState(StateValidating)
	if err := at.validator.Validate(fullDecision.Decisions, ctx.Account.TotalEquity); err != nil {
		log.Printf("🚫 [%s] Decision batch rejected: %v", at.name, err)
		record.Success = false
		record.ErrorMessage = fmt.Sprintf("validation failed: %v", err)
		return nil
	}

	// 6. Closes run before opens so freed margin is available.
	sorted := make([]decision.Decision, len(fullDecision.Decisions))
	copy(sorted, fullDecision.Decisions)
	decision.SortByPriority(sorted)

	// 7. Cap new positions to the remaining slots.
	sorted = at.capNewPositions(sorted, ctx.Account.PositionCount, record)

	// 8. Execute, isolating failures per decision.
	at.setState(StateExecuting)
	for i, d := range sorted {
		actionRecord := logger.DecisionAction{
			Action:    d.Action,
			Symbol:    d.Symbol,
			Leverage:  d.Leverage,
			Timestamp: time.Now(),
		}
		if err := at.executeDecision(&d, ctx, &actionRecord); err != nil {
			log.Printf("❌ [%s] %s %s failed: %v", at.name, d.Symbol, d.Action, err)
			actionRecord.Error = err.Error()
			record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("❌ %s %s failed: %v", d.Symbol, d.Action, err))
		} else {
			actionRecord.Success = true
			record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("✓ %s %s succeeded", d.Symbol, d.Action))
		}
		record.Decisions = append(record.Decisions, actionRecord)
		if i < len(sorted)-1 {
			time.Sleep(interDecisionDelay)
		}
	}

	// 9. Refresh snapshots so the record reflects post-execution state.
	at.setState(StateRecording)
	at.refreshSnapshots(record)
	at.updateDailyLoss(record.AccountState.TotalBalance)
	at.maybeTriggerRiskPause()
	return nil
}

func (at *AutoTrader) riskPaused() (bool, time.Duration) {
	at.mu.Lock()
	defer at.mu.Unlock()
	if time.Now().Before(at.stopUntil) {
		return true, time.Until(at.stopUntil)
	}
	return false, 0
}

func (at *AutoTrader) rollDailyWindow() {
	if time.Since(at.dayStartTime) > 24*time.Hour {
		at.dayStartTime = time.Now()
		at.dayStartEquity = 0
		at.dailyLossPercent = 0
		log.Printf("📅 [%s] Daily loss window reset", at.name)
	}
}

func (at *AutoTrader) updateDailyLoss(currentEquity float64) {
	if at.dayStartEquity == 0 {
		at.dayStartEquity = currentEquity
		return
	}
	if at.dayStartEquity > 0 {
		change := (currentEquity - at.dayStartEquity) / at.dayStartEquity * 100
		if change < 0 {
			at.dailyLossPercent = -change
		} else {
			at.dailyLossPercent = 0
		}
	}
}

func (at *AutoTrader) maybeTriggerRiskPause() {
	if at.config.MaxDailyLoss <= 0 || at.config.StopTradingTime <= 0 {
		return
	}
	if at.dailyLossPercent >= at.config.MaxDailyLoss {
		at.mu.Lock()
		at.stopUntil = time.Now().Add(at.config.StopTradingTime)
		at.mu.Unlock()
		log.Printf("🛑 [%s] Daily loss %.2f%% exceeded limit %.2f%%, pausing until %s",
			at.name, at.dailyLossPercent, at.config.MaxDailyLoss, at.stopUntil.Format("15:04:05"))
	}
}

func (at *AutoTrader) snapshotAccount(record *logger.DecisionRecord, ctx *decision.Context) {
	record.AccountState = logger.AccountSnapshot{
		TotalBalance:          ctx.Account.TotalEquity,
		AvailableBalance:      ctx.Account.AvailableBalance,
		TotalUnrealizedProfit: ctx.Account.TotalPnL,
		PositionCount:         ctx.Account.PositionCount,
		MarginUsedPct:         ctx.Account.MarginUsedPct,
	}
	for _, pos := range ctx.Positions {
		record.Positions = append(record.Positions, logger.PositionSnapshot{
			Symbol:           pos.Symbol,
			Side:             pos.Side,
			PositionAmt:      pos.Quantity,
			EntryPrice:       pos.EntryPrice,
			MarkPrice:        pos.MarkPrice,
			UnrealizedProfit: pos.UnrealizedPnL,
			Leverage:         pos.Leverage,
			LiquidationPrice: pos.LiquidationPrice,
		})
	}
	for _, coin := range ctx.CandidateCoins {
		record.CandidateCoins = append(record.CandidateCoins, coin.Symbol)
	}
}

// refreshSnapshots replaces the pre-execution account and position snapshots
// with post-execution state so newly opened positions are persisted.
func (at *AutoTrader) refreshSnapshots(record *logger.DecisionRecord) {
	balance, err := at.trader.GetBalance()
	if err != nil {
		log.Printf("⚠️  [%s] Failed to refresh balance before logging: %v", at.name, err)
		return
	}
	equity := balance.TotalWalletBalance + balance.TotalUnrealizedProfit
	record.AccountState.TotalBalance = equity
	record.AccountState.AvailableBalance = balance.AvailableBalance
	record.AccountState.TotalUnrealizedProfit = balance.TotalUnrealizedProfit

	positions, err := at.trader.GetPositions()
	if err != nil {
		log.Printf("⚠️  [%s] Failed to refresh positions before logging: %v", at.name, err)
		return
	}
	record.Positions = record.Positions[:0]
	for _, pos := range positions {
		record.Positions = append(record.Positions, logger.PositionSnapshot{
			Symbol:           pos.Symbol,
			Side:             pos.Side,
			PositionAmt:      pos.Quantity,
			EntryPrice:       pos.EntryPrice,
			MarkPrice:        pos.MarkPrice,
			UnrealizedProfit: pos.UnrealizedProfit,
			Leverage:         pos.Leverage,
			LiquidationPrice: pos.LiquidationPrice,
		})
	}
	record.AccountState.PositionCount = len(record.Positions)
}

// capNewPositions drops open decisions that would push the position count
// past the hard limit. Closes always pass through.
func (at *AutoTrader) capNewPositions(decisions []decision.Decision, currentCount int, record *logger.DecisionRecord) []decision.Decision {
	slots := maxOpenPositions - currentCount
	if slots < 0 {
		slots = 0
	}
	opened := 0
	out := decisions[:0]
	for _, d := range decisions {
		if d.Action == "open_long" || d.Action == "open_short" {
			if opened >= slots {
				log.Printf("⏭ [%s] Skipping %s %s (position limit %d reached)", at.name, d.Symbol, d.Action, maxOpenPositions)
				record.ExecutionLog = append(record.ExecutionLog, fmt.Sprintf("⏭ Skipped %s %s (position limit reached)", d.Symbol, d.Action))
				continue
			}
			opened++
		}
		out = append(out, d)
	}
	return out
}

// buildTradingContext assembles everything the model sees this cycle:
// account, positions, the merged candidate pool filtered by liquidity,
// market snapshots, and rolling performance.
func (at *AutoTrader) buildTradingContext(cycleNumber int) (*decision.Context, error) {
	balance, err := at.trader.GetBalance()
	if err != nil {
		return nil, fmt.Errorf("get account balance: %w", err)
	}
	totalEquity := balance.TotalWalletBalance + balance.TotalUnrealizedProfit

	positions, err := at.trader.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	now := time.Now()
	currentKeys := make(map[string]bool)
	var positionInfos []decision.PositionInfo
	totalMarginUsed := 0.0

	for _, pos := range positions {
		leverage := pos.Leverage
		if leverage == 0 {
			leverage = float64(at.config.AltcoinLeverage)
		}
		marginUsed := pos.Quantity * pos.MarkPrice / leverage
		totalMarginUsed += marginUsed

		pnlPct := 0.0
		if pos.EntryPrice > 0 {
			if pos.Side == "long" {
				pnlPct = (pos.MarkPrice - pos.EntryPrice) / pos.EntryPrice * leverage * 100
			} else {
				pnlPct = (pos.EntryPrice - pos.MarkPrice) / pos.EntryPrice * leverage * 100
			}
		}

		key := positionKey(pos.Symbol, pos.Side)
		currentKeys[key] = true
		firstSeen, seen := at.positionFirstSeen[key]
		if !seen {
			firstSeen = now
			at.positionFirstSeen[key] = firstSeen
		}

		positionInfos = append(positionInfos, decision.PositionInfo{
			Symbol:           pos.Symbol,
			Side:             pos.Side,
			EntryPrice:       pos.EntryPrice,
			MarkPrice:        pos.MarkPrice,
			Quantity:         pos.Quantity,
			Leverage:         leverage,
			UnrealizedPnL:    pos.UnrealizedProfit,
			UnrealizedPnLPct: pnlPct,
			LiquidationPrice: pos.LiquidationPrice,
			MarginUsed:       marginUsed,
			HoldingMinutes:   int(now.Sub(firstSeen).Minutes()),
		})
	}

	// Drop first-seen entries for positions that no longer exist.
	for key := range at.positionFirstSeen {
		if !currentKeys[key] {
			delete(at.positionFirstSeen, key)
		}
	}

	mergedPool, err := at.coinPool.GetMergedPool(ai500Limit)
	if err != nil {
		return nil, fmt.Errorf("get merged coin pool: %w", err)
	}

	oiEntries := make(map[string]decision.OITopEntry)
	for _, p := range mergedPool.OITopCoins {
		oiEntries[market.Normalize(p.Symbol)] = decision.OITopEntry{
			Rank:              p.Rank,
			OIDeltaPercent:    p.OIDeltaPercent,
			PriceDeltaPercent: p.PriceDeltaPercent,
		}
	}

	positionSymbols := make(map[string]bool)
	for _, pos := range positionInfos {
		positionSymbols[pos.Symbol] = true
	}

	// Fetch snapshots and apply the liquidity filter. Position symbols are
	// always kept even when below the threshold.
	snapshots := make(map[string]*market.Data)
	var candidates []decision.CandidateCoin
	for _, symbol := range mergedPool.AllSymbols {
		data, err := at.marketData.GetSnapshot(symbol, at.config.ShortInterval)
		if err != nil {
			log.Printf("⚠️  [%s] Market data for %s unavailable, skipping: %v", at.name, symbol, err)
			continue
		}
		if !positionSymbols[symbol] && data.OIValueUSD() < minCandidateOIValueUSD {
			log.Printf("💧 [%s] %s filtered out (OI value %.0f USDT below %d)",
				at.name, symbol, data.OIValueUSD(), minCandidateOIValueUSD)
			continue
		}
		snapshots[symbol] = data
		candidates = append(candidates, decision.CandidateCoin{
			Symbol:  symbol,
			Sources: mergedPool.SymbolSources[symbol],
		})
	}

	// Positions need snapshots too so the model can manage them.
	for symbol := range positionSymbols {
		if _, ok := snapshots[symbol]; ok {
			continue
		}
		data, err := at.marketData.GetSnapshot(symbol, at.config.ShortInterval)
		if err != nil {
			log.Printf("⚠️  [%s] Market data for held %s unavailable: %v", at.name, symbol, err)
			continue
		}
		snapshots[symbol] = data
	}

	// BTC regime snapshot is always included.
	if _, ok := snapshots["BTCUSDT"]; !ok {
		if data, err := at.marketData.GetSnapshot("BTCUSDT", at.config.ShortInterval); err == nil {
			snapshots["BTCUSDT"] = data
		}
	}

	log.Printf("📋 [%s] Candidate pool: %d symbols after liquidity filter", at.name, len(candidates))

	totalPnL := totalEquity - at.initialBalance
	totalPnLPct := 0.0
	if at.initialBalance > 0 {
		totalPnLPct = totalPnL / at.initialBalance * 100
	}
	marginUsedPct := 0.0
	if totalEquity > 0 {
		marginUsedPct = totalMarginUsed / totalEquity * 100
	}

	var perf *decision.PerformanceSummary
	if analysis, err := at.decisionLogger.AnalyzePerformance(performanceLookback); err != nil {
		log.Printf("⚠️  [%s] Performance analysis failed: %v", at.name, err)
	} else if analysis != nil {
		perf = &decision.PerformanceSummary{
			SharpeRatio:  analysis.SharpeRatio,
			TotalPnL:     analysis.TotalPnL,
			WinRate:      analysis.WinRate,
			AvgWin:       analysis.AvgWin,
			AvgLoss:      analysis.AvgLoss,
			MaxDrawdown:  analysis.MaxDrawdown,
			ProfitFactor: analysis.ProfitFactor,
			CycleCount:   analysis.CycleCount,
		}
	}

	return &decision.Context{
		CurrentTime:    now,
		CycleNumber:    cycleNumber,
		RuntimeMinutes: int(time.Since(at.startTime).Minutes()),
		Account: decision.AccountInfo{
			TotalEquity:      totalEquity,
			AvailableBalance: balance.AvailableBalance,
			TotalPnL:         totalPnL,
			TotalPnLPct:      totalPnLPct,
			MarginUsed:       totalMarginUsed,
			MarginUsedPct:    marginUsedPct,
			PositionCount:    len(positionInfos),
		},
		Positions:          positionInfos,
		CandidateCoins:     candidates,
		MarketSnapshots:    snapshots,
		OITopEntries:       oiEntries,
		Performance:        perf,
		BTCETHLeverage:     at.config.BTCETHLeverage,
		AltcoinLeverage:    at.config.AltcoinLeverage,
		ShortInterval:      at.config.ShortInterval,
		LastEnterTime:      at.lastEnterTime,
		LastStopTime:       at.lastStopTime,
		LastTakeProfitTime: at.lastTakeProfitTime,
		ConsecutiveLosses:  at.consecutiveLosses,
		DailyLossPercent:   at.dailyLossPercent,
	}, nil
}

func (at *AutoTrader) executeDecision(d *decision.Decision, ctx *decision.Context, actionRecord *logger.DecisionAction) error {
	switch d.Action {
	case "open_long":
		return at.executeOpen(d, ctx, actionRecord, "long")
	case "open_short":
		return at.executeOpen(d, ctx, actionRecord, "short")
	case "close_long":
		return at.executeClose(d, actionRecord, "long")
	case "close_short":
		return at.executeClose(d, actionRecord, "short")
	case "hold", "wait":
		return nil
	default:
		return fmt.Errorf("unknown action: %s", d.Action)
	}
}

func (at *AutoTrader) executeOpen(d *decision.Decision, ctx *decision.Context, actionRecord *logger.DecisionAction, side string) error {
	log.Printf("  📈 [%s] Opening %s: %s", at.name, side, d.Symbol)

	// Opens are restricted to the candidate pool the model was shown.
	inPool := false
	for _, c := range ctx.CandidateCoins {
		if c.Symbol == d.Symbol {
			inPool = true
			break
		}
	}
	if !inPool {
		return fmt.Errorf("%s is not in the candidate pool", d.Symbol)
	}

	// Never stack a second position on the same symbol and side. The guard
	// needs live state, a cached snapshot can miss a fill from earlier in
	// this same cycle.
	positions, err := at.freshPositions()
	if err != nil {
		return fmt.Errorf("check existing positions: %w", err)
	}
	for _, pos := range positions {
		if pos.Symbol == d.Symbol && pos.Side == side {
			return fmt.Errorf("position already open: %s %s", d.Symbol, side)
		}
	}

	price, err := at.currentPrice(d.Symbol, ctx)
	if err != nil {
		return err
	}

	quantity := d.PositionSizeUSD / price
	actionRecord.Quantity = quantity
	actionRecord.Price = price

	var order *OrderResult
	if side == "long" {
		order, err = at.trader.OpenLong(d.Symbol, quantity, d.Leverage)
	} else {
		order, err = at.trader.OpenShort(d.Symbol, quantity, d.Leverage)
	}
	if err != nil {
		if isMarginInsufficientAPIError(err) {
			return fmt.Errorf("%w: %s rejected %s (size %.2f USDT): %v",
				ErrMarginInsufficient, at.exchange, d.Symbol, d.PositionSizeUSD, err)
		}
		return err
	}
	actionRecord.OrderID = order.OrderID
	log.Printf("  ✓ [%s] Opened %s %s, order %d, qty %.6f @ %.4f",
		at.name, d.Symbol, side, order.OrderID, order.Quantity, price)

	at.lastEnterTime = time.Now()
	at.positionFirstSeen[positionKey(d.Symbol, side)] = time.Now()

	// Protective orders are best effort. The model re-evaluates every cycle
	// even if the exchange rejects them.
	positionSide := strings.ToUpper(side)
	if err := at.trader.SetStopLoss(d.Symbol, positionSide, order.Quantity, d.StopLoss); err != nil {
		log.Printf("  ⚠ [%s] Failed to set stop loss on %s: %v", at.name, d.Symbol, err)
	}
	if err := at.trader.SetTakeProfit(d.Symbol, positionSide, order.Quantity, d.TakeProfit); err != nil {
		log.Printf("  ⚠ [%s] Failed to set take profit on %s: %v", at.name, d.Symbol, err)
	}
	return nil
}

func (at *AutoTrader) executeClose(d *decision.Decision, actionRecord *logger.DecisionAction, side string) error {
	log.Printf("  🔄 [%s] Closing %s: %s", at.name, side, d.Symbol)

	// Capture the price move before closing so the exit can be classified
	// for cooldown bookkeeping.
	pnlPct, found := at.positionPnLPct(d.Symbol, side)
	if !found {
		return fmt.Errorf("%w: %s %s", ErrNoPosition, d.Symbol, side)
	}

	var order *OrderResult
	var err error
	if side == "long" {
		order, err = at.trader.CloseLong(d.Symbol, 0)
	} else {
		order, err = at.trader.CloseShort(d.Symbol, 0)
	}
	if err != nil {
		return err
	}
	actionRecord.Quantity = order.Quantity
	actionRecord.Price = order.Price
	actionRecord.OrderID = order.OrderID
	log.Printf("  ✓ [%s] Closed %s %s at %.2f%% price move", at.name, d.Symbol, side, pnlPct)

	delete(at.positionFirstSeen, positionKey(d.Symbol, side))

	switch {
	case pnlPct < stopLossClassifyPct:
		at.lastStopTime = time.Now()
		at.consecutiveLosses++
		log.Printf("  📉 [%s] Classified as stop (losses in a row: %d)", at.name, at.consecutiveLosses)
	case pnlPct > takeProfitClassifyPct:
		at.lastTakeProfitTime = time.Now()
		at.consecutiveLosses = 0
		log.Printf("  📈 [%s] Classified as take profit", at.name)
	}
	return nil
}

// freshPositions drops the adapter's read cache, when it has one, before
// querying so the result reflects orders placed moments ago.
func (at *AutoTrader) freshPositions() ([]Position, error) {
	if inv, ok := at.trader.(interface{ invalidateCache() }); ok {
		inv.invalidateCache()
	}
	return at.trader.GetPositions()
}

func (at *AutoTrader) positionPnLPct(symbol, side string) (float64, bool) {
	positions, err := at.trader.GetPositions()
	if err != nil {
		return 0, false
	}
	for _, pos := range positions {
		if pos.Symbol != symbol || pos.Side != side {
			continue
		}
		if pos.EntryPrice <= 0 {
			return 0, true
		}
		// Raw price move, not leveraged return. A 10x position that moved
		// 0.5% is still a 0.5% move for classification.
		if side == "long" {
			return (pos.MarkPrice - pos.EntryPrice) / pos.EntryPrice * 100, true
		}
		return (pos.EntryPrice - pos.MarkPrice) / pos.EntryPrice * 100, true
	}
	return 0, false
}

func (at *AutoTrader) currentPrice(symbol string, ctx *decision.Context) (float64, error) {
	if data, ok := ctx.MarketSnapshots[symbol]; ok && data.CurrentPrice > 0 {
		return data.CurrentPrice, nil
	}
	price, err := at.trader.GetMarketPrice(symbol)
	if err != nil {
		return 0, fmt.Errorf("get price for %s: %w", symbol, err)
	}
	return price, nil
}

func isMarginInsufficientAPIError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "margin is insufficient") || strings.Contains(lower, "-2019")
}

// GetID returns the trader's unique identifier.
func (at *AutoTrader) GetID() string { return at.id }

// GetName returns the trader's display name.
func (at *AutoTrader) GetName() string { return at.name }

// GetAIModel returns the configured AI provider name.
func (at *AutoTrader) GetAIModel() string { return at.aiModel }

// GetExchange returns the configured exchange name.
func (at *AutoTrader) GetExchange() string { return at.exchange }

// GetDecisionLogger exposes the decision log for the HTTP API.
func (at *AutoTrader) GetDecisionLogger() *logger.DecisionLogger { return at.decisionLogger }

// GetInitialBalance returns the P&L baseline.
func (at *AutoTrader) GetInitialBalance() float64 { return at.initialBalance }

// GetStatus returns a point-in-time view of the agent.
func (at *AutoTrader) GetStatus() *Status {
	at.mu.Lock()
	state := at.state
	running := at.running
	stopUntil := at.stopUntil
	at.mu.Unlock()

	status := &Status{
		ID:             at.id,
		Name:           at.name,
		AIModel:        at.aiModel,
		Exchange:       at.exchange,
		Running:        running,
		State:          state,
		CycleNumber:    at.decisionLogger.CycleNumber(),
		RuntimeMinutes: int(time.Since(at.startTime).Minutes()),
		InitialBalance: at.initialBalance,
	}
	if time.Now().Before(stopUntil) {
		status.PausedUntil = &stopUntil
	}

	cooldownCtx := &decision.Context{
		LastEnterTime:      at.lastEnterTime,
		LastStopTime:       at.lastStopTime,
		LastTakeProfitTime: at.lastTakeProfitTime,
	}
	status.CooldownStatus = cooldownCtx.CooldownStatus(time.Now())

	if balance, err := at.trader.GetBalance(); err == nil {
		equity := balance.TotalWalletBalance + balance.TotalUnrealizedProfit
		status.TotalEquity = equity
		status.TotalPnL = equity - at.initialBalance
		if at.initialBalance > 0 {
			status.TotalPnLPct = status.TotalPnL / at.initialBalance * 100
		}
	}
	if positions, err := at.trader.GetPositions(); err == nil {
		status.PositionCount = len(positions)
	}
	return status
}

// GetAccountInfo returns the live balance from the exchange.
func (at *AutoTrader) GetAccountInfo() (*Balance, error) {
	return at.trader.GetBalance()
}

// GetPositions returns the live positions from the exchange.
func (at *AutoTrader) GetPositions() ([]Position, error) {
	return at.trader.GetPositions()
}
