package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TraderConfig configuration for a single trader
type TraderConfig struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	AIModel string `json:"ai_model"` // "deepseek", "qwen", "groq", or "custom"

	Exchange string `json:"exchange"` // "binance", "hyperliquid", "aster", or "paper"

	// Binance configuration
	BinanceAPIKey    string `json:"binance_api_key,omitempty"`
	BinanceSecretKey string `json:"binance_secret_key,omitempty"`

	// Hyperliquid configuration
	HyperliquidPrivateKey string `json:"hyperliquid_private_key,omitempty"`
	HyperliquidTestnet    bool   `json:"hyperliquid_testnet,omitempty"`

	// Aster configuration
	AsterAPIKey    string `json:"aster_api_key,omitempty"`
	AsterSecretKey string `json:"aster_secret_key,omitempty"`

	// AI configuration
	QwenKey     string `json:"qwen_key,omitempty"`
	DeepSeekKey string `json:"deepseek_key,omitempty"`
	GroqKey     string `json:"groq_key,omitempty"`
	GroqModel   string `json:"groq_model,omitempty"`

	// Custom AI API configuration (any OpenAI-format API)
	CustomAPIURL    string `json:"custom_api_url,omitempty"`
	CustomAPIKey    string `json:"custom_api_key,omitempty"`
	CustomModelName string `json:"custom_model_name,omitempty"`

	InitialBalance      float64 `json:"initial_balance"`
	ScanIntervalMinutes float64 `json:"scan_interval_minutes"`
}

// LeverageConfig caps handed to the decision validator and the prompt.
type LeverageConfig struct {
	BTCETHLeverage  int `json:"btc_eth_leverage"`
	AltcoinLeverage int `json:"altcoin_leverage"`
}

// Config main configuration
type Config struct {
	Traders            []TraderConfig `json:"traders"`
	UseDefaultCoins    bool           `json:"use_default_coins"`
	DefaultCoins       []string       `json:"default_coins"`
	CustomCoins        []string       `json:"custom_coins,omitempty"` // operator override, wins over every other source
	CoinPoolAPIURL     string         `json:"coin_pool_api_url"`
	OITopAPIURL        string         `json:"oi_top_api_url"`
	ShortInterval      string         `json:"short_interval"` // short kline timeframe, e.g. "3m"
	APIServerPort      int            `json:"api_server_port"`
	MaxDailyLoss       float64        `json:"max_daily_loss"`
	MaxDrawdown        float64        `json:"max_drawdown"`
	StopTradingMinutes int            `json:"stop_trading_minutes"`
	Leverage           LeverageConfig `json:"leverage"`

	// Supabase configuration (optional cloud database storage)
	SupabaseURL         string `json:"supabase_url,omitempty"`
	SupabaseKey         string `json:"supabase_key,omitempty"`
	SupabaseDatabaseURL string `json:"supabase_database_url,omitempty"`
	UseSupabase         bool   `json:"use_supabase,omitempty"`
	SupabaseSchema      string `json:"supabase_schema,omitempty"`
}

// LoadConfig loads configuration from file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Without a pool API the default mainstream list is the only source.
	if !config.UseDefaultCoins && config.CoinPoolAPIURL == "" {
		config.UseDefaultCoins = true
	}

	if len(config.DefaultCoins) == 0 {
		config.DefaultCoins = []string{
			"BTCUSDT",
			"ETHUSDT",
			"SOLUSDT",
			"BNBUSDT",
			"XRPUSDT",
			"DOGEUSDT",
			"ADAUSDT",
			"HYPEUSDT",
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates configuration validity
func (c *Config) Validate() error {
	if len(c.Traders) == 0 {
		return fmt.Errorf("at least one trader must be configured")
	}

	traderIDs := make(map[string]bool)
	for i := range c.Traders {
		trader := &c.Traders[i]
		if trader.ID == "" {
			return fmt.Errorf("trader[%d]: ID cannot be empty", i)
		}
		if traderIDs[trader.ID] {
			return fmt.Errorf("trader[%d]: ID '%s' is duplicated", i, trader.ID)
		}
		traderIDs[trader.ID] = true

		if trader.Name == "" {
			return fmt.Errorf("trader[%d]: Name cannot be empty", i)
		}
		if trader.AIModel != "groq" && trader.AIModel != "qwen" && trader.AIModel != "deepseek" && trader.AIModel != "custom" {
			return fmt.Errorf("trader[%d]: ai_model must be 'deepseek', 'qwen', 'groq' or 'custom'", i)
		}

		if trader.Exchange == "" {
			trader.Exchange = "paper"
		}
		if trader.Exchange != "binance" && trader.Exchange != "hyperliquid" && trader.Exchange != "aster" && trader.Exchange != "paper" {
			return fmt.Errorf("trader[%d]: exchange must be 'binance', 'hyperliquid', 'aster' or 'paper'", i)
		}

		// Paper trading needs no API keys.
		if trader.Exchange == "binance" {
			if trader.BinanceAPIKey == "" || trader.BinanceSecretKey == "" {
				return fmt.Errorf("trader[%d]: binance_api_key and binance_secret_key must be configured when using Binance", i)
			}
		} else if trader.Exchange == "hyperliquid" {
			if trader.HyperliquidPrivateKey == "" {
				return fmt.Errorf("trader[%d]: hyperliquid_private_key must be configured when using Hyperliquid", i)
			}
		} else if trader.Exchange == "aster" {
			if trader.AsterAPIKey == "" || trader.AsterSecretKey == "" {
				return fmt.Errorf("trader[%d]: aster_api_key and aster_secret_key must be configured when using Aster", i)
			}
		}

		if trader.AIModel == "qwen" && trader.QwenKey == "" {
			return fmt.Errorf("trader[%d]: qwen_key must be configured when using Qwen", i)
		}
		if trader.AIModel == "deepseek" && trader.DeepSeekKey == "" {
			return fmt.Errorf("trader[%d]: deepseek_key must be configured when using DeepSeek", i)
		}
		if trader.AIModel == "groq" && trader.GroqKey == "" {
			return fmt.Errorf("trader[%d]: groq_key must be configured when using Groq", i)
		}
		if trader.AIModel == "custom" {
			if trader.CustomAPIURL == "" {
				return fmt.Errorf("trader[%d]: custom_api_url must be configured when using custom API", i)
			}
			if trader.CustomAPIKey == "" {
				return fmt.Errorf("trader[%d]: custom_api_key must be configured when using custom API", i)
			}
			if trader.CustomModelName == "" {
				return fmt.Errorf("trader[%d]: custom_model_name must be configured when using custom API", i)
			}
		}
		if trader.InitialBalance <= 0 {
			return fmt.Errorf("trader[%d]: initial_balance must be greater than 0", i)
		}
		if trader.ScanIntervalMinutes <= 0 {
			trader.ScanIntervalMinutes = 3.0
		}
	}

	if c.APIServerPort <= 0 {
		c.APIServerPort = 8080
	}
	if c.ShortInterval == "" {
		c.ShortInterval = "3m"
	}

	// Leverage defaults sized for Binance subaccounts (max 5x).
	if c.Leverage.BTCETHLeverage <= 0 {
		c.Leverage.BTCETHLeverage = 5
	}
	if c.Leverage.BTCETHLeverage > 5 {
		fmt.Printf("⚠️  Warning: BTC/ETH leverage set to %dx, may fail if using subaccount (subaccount limit ≤5x)\n", c.Leverage.BTCETHLeverage)
	}
	if c.Leverage.AltcoinLeverage <= 0 {
		c.Leverage.AltcoinLeverage = 5
	}
	if c.Leverage.AltcoinLeverage > 5 {
		fmt.Printf("⚠️  Warning: Altcoin leverage set to %dx, may fail if using subaccount (subaccount limit ≤5x)\n", c.Leverage.AltcoinLeverage)
	}

	return nil
}

// GetScanInterval gets the scan interval
func (tc *TraderConfig) GetScanInterval() time.Duration {
	return time.Duration(tc.ScanIntervalMinutes * float64(time.Minute))
}
