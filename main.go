package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"vela/api"
	"vela/config"
	"vela/manager"
)

func main() {
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║        🤖 Vela - AI-Driven Perpetual Futures Agent        ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	// Load .env if present (silently ignore if missing)
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			log.Printf("ℹ️  No .env file found, continuing with OS environment variables")
		} else {
			log.Printf("⚠️  Failed to load .env file: %v", err)
		}
	}

	configFile := "config.json"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	log.Printf("📋 Loading configuration file: %s", configFile)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	// Hosting platforms inject PORT; it wins over the config file.
	if envPort := os.Getenv("PORT"); envPort != "" {
		if portNum, err := strconv.Atoi(envPort); err == nil {
			cfg.APIServerPort = portNum
			log.Printf("✓ Using PORT from environment: %d", portNum)
		}
	}

	log.Printf("✓ Configuration loaded, %d traders configured", len(cfg.Traders))
	if cfg.UseDefaultCoins {
		log.Printf("✓ Default coin list enabled (%d coins): %v", len(cfg.DefaultCoins), cfg.DefaultCoins)
	}
	if cfg.CoinPoolAPIURL != "" {
		log.Printf("✓ AI500 coin pool API configured")
	}
	if cfg.OITopAPIURL != "" {
		log.Printf("✓ OI Top API configured")
	}
	fmt.Println()

	traderManager := manager.NewTraderManager()

	enabledCount := 0
	for i, traderCfg := range cfg.Traders {
		if !traderCfg.Enabled {
			log.Printf("⏭️  [%d/%d] Skipping disabled trader: %s", i+1, len(cfg.Traders), traderCfg.Name)
			continue
		}

		enabledCount++
		log.Printf("📦 [%d/%d] Initializing %s (%s model)...",
			i+1, len(cfg.Traders), traderCfg.Name, strings.ToUpper(traderCfg.AIModel))

		if err := traderManager.AddTrader(traderCfg, cfg); err != nil {
			log.Fatalf("❌ Failed to initialize trader: %v", err)
		}
	}

	if enabledCount == 0 {
		log.Fatalf("❌ No enabled traders found, please set at least one trader's enabled=true in %s", configFile)
	}

	fmt.Println()
	fmt.Println("🏁 Active agents:")
	for _, traderCfg := range cfg.Traders {
		if !traderCfg.Enabled {
			continue
		}
		fmt.Printf("  • %s (%s on %s) - Initial Balance: %.0f USDT\n",
			traderCfg.Name, strings.ToUpper(traderCfg.AIModel), traderCfg.Exchange, traderCfg.InitialBalance)
	}

	fmt.Println()
	fmt.Println("🤖 AI Full Decision Mode:")
	fmt.Printf("  • Leverage caps: %dx BTC/ETH, %dx altcoins\n",
		cfg.Leverage.BTCETHLeverage, cfg.Leverage.AltcoinLeverage)
	fmt.Println("  • The model decides position size, stop loss and take profit per trade")
	fmt.Println("  • Every decision batch is risk-validated before any order is placed")
	fmt.Println()
	fmt.Println("⚠️  Risk Warning: AI automated trading has risks, recommend testing with small funds!")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	apiServer := api.NewServer(traderManager, cfg.APIServerPort)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("❌ API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	traderManager.StartAll()

	<-sigChan
	fmt.Println()
	log.Println("📛 Received shutdown signal, stopping all traders...")
	traderManager.StopAll()
	fmt.Println("👋 Shutdown complete")
}
