package manager

import (
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"vela/config"
	"vela/logger"
	"vela/trader"
)

// TraderComparison is one trader's row in the comparison view.
type TraderComparison struct {
	TraderID      string  `json:"trader_id"`
	TraderName    string  `json:"trader_name"`
	AIModel       string  `json:"ai_model"`
	Exchange      string  `json:"exchange"`
	TotalEquity   float64 `json:"total_equity"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalPnLPct   float64 `json:"total_pnl_pct"`
	PositionCount int     `json:"position_count"`
	CycleNumber   int     `json:"cycle_number"`
	IsRunning     bool    `json:"is_running"`
}

// TraderManager holds every configured agent and their lifecycles.
type TraderManager struct {
	traders map[string]*trader.AutoTrader
	order   []string
	mu      sync.RWMutex
}

func NewTraderManager() *TraderManager {
	return &TraderManager{
		traders: make(map[string]*trader.AutoTrader),
	}
}

// AddTrader builds an agent from its configuration and registers it.
func (tm *TraderManager) AddTrader(cfg config.TraderConfig, globalConfig *config.Config) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, exists := tm.traders[cfg.ID]; exists {
		return fmt.Errorf("trader ID '%s' already exists", cfg.ID)
	}

	traderConfig := trader.AutoTraderConfig{
		ID:                    cfg.ID,
		Name:                  cfg.Name,
		AIModel:               cfg.AIModel,
		Exchange:              cfg.Exchange,
		BinanceAPIKey:         cfg.BinanceAPIKey,
		BinanceSecretKey:      cfg.BinanceSecretKey,
		HyperliquidPrivateKey: cfg.HyperliquidPrivateKey,
		HyperliquidTestnet:    cfg.HyperliquidTestnet,
		AsterAPIKey:           cfg.AsterAPIKey,
		AsterSecretKey:        cfg.AsterSecretKey,
		DeepSeekKey:           cfg.DeepSeekKey,
		QwenKey:               cfg.QwenKey,
		GroqKey:               cfg.GroqKey,
		GroqModel:             cfg.GroqModel,
		CustomAPIURL:          cfg.CustomAPIURL,
		CustomAPIKey:          cfg.CustomAPIKey,
		CustomModelName:       cfg.CustomModelName,
		CoinPoolAPIURL:        globalConfig.CoinPoolAPIURL,
		OITopAPIURL:           globalConfig.OITopAPIURL,
		UseDefaultCoins:       globalConfig.UseDefaultCoins,
		DefaultCoins:          globalConfig.DefaultCoins,
		CustomCoins:           globalConfig.CustomCoins,
		ScanInterval:          cfg.GetScanInterval(),
		ShortInterval:         globalConfig.ShortInterval,
		InitialBalance:        cfg.InitialBalance,
		BTCETHLeverage:        globalConfig.Leverage.BTCETHLeverage,
		AltcoinLeverage:       globalConfig.Leverage.AltcoinLeverage,
		MaxDailyLoss:          globalConfig.MaxDailyLoss,
		StopTradingTime:       time.Duration(globalConfig.StopTradingMinutes) * time.Minute,
	}

	var supabaseConfig *logger.SupabaseConfig
	if globalConfig.UseSupabase && globalConfig.SupabaseDatabaseURL != "" {
		supabaseConfig = &logger.SupabaseConfig{
			UseSupabase: true,
			DatabaseURL: globalConfig.SupabaseDatabaseURL,
			Schema:      globalConfig.SupabaseSchema,
		}
		if supabaseConfig.Schema == "" {
			supabaseConfig.Schema = "public"
		}
		log.Printf("📊 Supabase enabled for trader '%s'", cfg.Name)
	}

	at, err := trader.NewAutoTrader(traderConfig, supabaseConfig)
	if err != nil {
		return fmt.Errorf("create trader '%s': %w", cfg.ID, err)
	}

	tm.traders[cfg.ID] = at
	tm.order = append(tm.order, cfg.ID)
	log.Printf("✓ Trader '%s' (%s on %s) added", cfg.Name, cfg.AIModel, at.GetExchange())
	return nil
}

// GetTrader returns the trader with the given ID.
func (tm *TraderManager) GetTrader(id string) (*trader.AutoTrader, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	t, exists := tm.traders[id]
	if !exists {
		return nil, fmt.Errorf("trader ID '%s' does not exist", id)
	}
	return t, nil
}

// GetTraderIDs returns registered trader IDs in registration order.
func (tm *TraderManager) GetTraderIDs() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	ids := make([]string, len(tm.order))
	copy(ids, tm.order)
	return ids
}

// StartAll launches every trader loop in its own goroutine. A panicking
// trader is restarted after a short delay instead of taking the process
// down.
func (tm *TraderManager) StartAll() {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	log.Println("🚀 Starting all traders...")
	for _, t := range tm.traders {
		go tm.runWithRecovery(t)
	}
}

func (tm *TraderManager) runWithRecovery(at *trader.AutoTrader) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🚨 PANIC in %s: %v\n%s", at.GetName(), r, stackTrace())
			log.Printf("🔄 Restarting %s in 5 seconds...", at.GetName())
			time.Sleep(5 * time.Second)
			go tm.runWithRecovery(at)
		}
	}()

	log.Printf("▶️  Starting %s...", at.GetName())
	if err := at.Run(); err != nil {
		log.Printf("❌ %s runtime error: %v", at.GetName(), err)
	}
}

func stackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// StopAll stops every trader loop.
func (tm *TraderManager) StopAll() {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	log.Println("⏹  Stopping all traders...")
	for _, t := range tm.traders {
		t.Stop()
	}
}

// GetComparisonData returns a side-by-side view of all traders for the
// comparison endpoint.
func (tm *TraderManager) GetComparisonData() []TraderComparison {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	comparisons := make([]TraderComparison, 0, len(tm.order))
	for _, id := range tm.order {
		t := tm.traders[id]
		status := t.GetStatus()
		comparisons = append(comparisons, TraderComparison{
			TraderID:      t.GetID(),
			TraderName:    t.GetName(),
			AIModel:       t.GetAIModel(),
			Exchange:      t.GetExchange(),
			TotalEquity:   status.TotalEquity,
			TotalPnL:      status.TotalPnL,
			TotalPnLPct:   status.TotalPnLPct,
			PositionCount: status.PositionCount,
			CycleNumber:   status.CycleNumber,
			IsRunning:     status.Running,
		})
	}
	return comparisons
}
