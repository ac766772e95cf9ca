package pool

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"vela/market"
)

// defaultMainstreamCoins is the fallback pool used when no scored pool is
// reachable and no custom list is configured.
var defaultMainstreamCoins = []string{
	"BTCUSDT",
	"ETHUSDT",
	"SOLUSDT",
	"BNBUSDT",
	"XRPUSDT",
	"DOGEUSDT",
	"ADAUSDT",
	"HYPEUSDT",
}

// CoinInfo one entry of the AI500 scored pool
type CoinInfo struct {
	Pair            string  `json:"pair"`
	Score           float64 `json:"score"`
	StartTime       int64   `json:"start_time"`
	StartPrice      float64 `json:"start_price"`
	LastScore       float64 `json:"last_score"`
	MaxScore        float64 `json:"max_score"`
	MaxPrice        float64 `json:"max_price"`
	IncreasePercent float64 `json:"increase_percent"`
	IsAvailable     bool    `json:"-"`
}

// OIPosition one entry of the open-interest growth top list
type OIPosition struct {
	Symbol            string  `json:"symbol"`
	Rank              int     `json:"rank"`
	CurrentOI         float64 `json:"current_oi"`
	OIDelta           float64 `json:"oi_delta"`
	OIDeltaPercent    float64 `json:"oi_delta_percent"`
	OIDeltaValue      float64 `json:"oi_delta_value"`
	PriceDeltaPercent float64 `json:"price_delta_percent"`
	NetLong           float64 `json:"net_long"`
	NetShort          float64 `json:"net_short"`
}

// MergedCoinPool deduplicated candidate set with per-symbol provenance.
type MergedCoinPool struct {
	AI500Coins    []CoinInfo
	OITopCoins    []OIPosition
	AllSymbols    []string
	SymbolSources map[string][]string // "ai500" and/or "oi_top"
}

// Config pool provider configuration. Zero value means "default mainstream
// coins only".
type Config struct {
	AI500URL        string
	OITopURL        string
	UseDefaultCoins bool
	DefaultCoins    []string
	CustomCoins     []string
	CacheDir        string
	Timeout         time.Duration
}

// Provider fetches and merges candidate symbol lists. Safe for concurrent
// reads by multiple agents; the cache file is written last-writer-wins.
type Provider struct {
	cfg    Config
	client *http.Client
	mu     sync.RWMutex
}

// NewProvider creates a coin pool provider.
func NewProvider(cfg Config) *Provider {
	if cfg.CacheDir == "" {
		cfg.CacheDir = "coin_pool_cache"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if len(cfg.DefaultCoins) == 0 {
		cfg.DefaultCoins = defaultMainstreamCoins
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// SetCustomCoins replaces the custom symbol list. A non-empty custom list
// takes precedence over both the API pool and the defaults.
func (p *Provider) SetCustomCoins(coins []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.CustomCoins = coins
	log.Printf("✓ Custom coin list set: %v", coins)
}

// GetCoinPool returns the scored coin list: custom list first, then the
// default list when enabled or no API is configured, then the AI500 API with
// retry and cache fallback.
func (p *Provider) GetCoinPool() ([]CoinInfo, error) {
	p.mu.RLock()
	custom := p.cfg.CustomCoins
	useDefault := p.cfg.UseDefaultCoins
	apiURL := p.cfg.AI500URL
	p.mu.RUnlock()

	if len(custom) > 0 {
		return symbolsToCoins(custom), nil
	}
	if useDefault || apiURL == "" {
		return symbolsToCoins(p.cfg.DefaultCoins), nil
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			log.Printf("⚠️  Retrying coin pool fetch (%d/%d)...", attempt, maxRetries)
			time.Sleep(2 * time.Second)
		}
		coins, err := p.fetchAI500(apiURL)
		if err == nil {
			if err := p.saveCache("latest.json", coinCache{Coins: coins, FetchedAt: time.Now().Unix()}); err != nil {
				log.Printf("⚠️  Failed to save coin pool cache: %v", err)
			}
			return coins, nil
		}
		lastErr = err
		log.Printf("❌ Coin pool fetch attempt %d failed: %v", attempt, err)
	}

	if cached, err := p.loadCoinCache(); err == nil {
		log.Printf("✓ Using cached coin pool (%d coins)", len(cached))
		return cached, nil
	}

	log.Printf("⚠️  Coin pool API and cache both unavailable (last error: %v), using default list", lastErr)
	return symbolsToCoins(p.cfg.DefaultCoins), nil
}

// GetTopRatedCoins returns the top-N available symbols by score, descending.
func (p *Provider) GetTopRatedCoins(limit int) ([]string, error) {
	coins, err := p.GetCoinPool()
	if err != nil {
		return nil, err
	}

	available := make([]CoinInfo, 0, len(coins))
	for _, c := range coins {
		if c.IsAvailable {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("no tradable coins in pool")
	}

	sort.SliceStable(available, func(i, j int) bool {
		return available[i].Score > available[j].Score
	})

	if limit > len(available) {
		limit = len(available)
	}
	symbols := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		symbols = append(symbols, market.Normalize(available[i].Pair))
	}
	return symbols, nil
}

// GetOITopPositions returns the open-interest growth list. An unset URL or a
// total fetch failure yields an empty list, never an error: OI Top is an
// optional enrichment.
func (p *Provider) GetOITopPositions() []OIPosition {
	p.mu.RLock()
	apiURL := p.cfg.OITopURL
	p.mu.RUnlock()

	if apiURL == "" {
		return nil
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			log.Printf("⚠️  Retrying OI Top fetch (%d/%d)...", attempt, maxRetries)
			time.Sleep(2 * time.Second)
		}
		positions, err := p.fetchOITop(apiURL)
		if err == nil {
			if err := p.saveCache("oi_top_latest.json", oiCache{Positions: positions, FetchedAt: time.Now().Unix()}); err != nil {
				log.Printf("⚠️  Failed to save OI Top cache: %v", err)
			}
			return positions
		}
		lastErr = err
		log.Printf("❌ OI Top fetch attempt %d failed: %v", attempt, err)
	}

	if cached, err := p.loadOICache(); err == nil {
		log.Printf("✓ Using cached OI Top data (%d symbols)", len(cached))
		return cached
	}

	log.Printf("⚠️  OI Top API and cache both unavailable (last error: %v), skipping", lastErr)
	return nil
}

// GetMergedPool merges the top-N AI500 symbols with the OI Top symbols,
// deduplicated, each tagged with its sources.
func (p *Provider) GetMergedPool(ai500Limit int) (*MergedCoinPool, error) {
	topSymbols, err := p.GetTopRatedCoins(ai500Limit)
	if err != nil {
		log.Printf("⚠️  AI500 pool unavailable: %v", err)
		topSymbols = nil
	}

	oiPositions := p.GetOITopPositions()

	sources := make(map[string][]string)
	var all []string
	for _, s := range topSymbols {
		if _, seen := sources[s]; !seen {
			all = append(all, s)
		}
		sources[s] = append(sources[s], "ai500")
	}
	for _, pos := range oiPositions {
		s := market.Normalize(pos.Symbol)
		if _, seen := sources[s]; !seen {
			all = append(all, s)
		}
		sources[s] = append(sources[s], "oi_top")
	}

	coins, _ := p.GetCoinPool()
	merged := &MergedCoinPool{
		AI500Coins:    coins,
		OITopCoins:    oiPositions,
		AllSymbols:    all,
		SymbolSources: sources,
	}
	log.Printf("📊 Coin pool merged: ai500=%d, oi_top=%d, total=%d",
		len(topSymbols), len(oiPositions), len(all))
	return merged, nil
}

func (p *Provider) fetchAI500(url string) ([]CoinInfo, error) {
	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			Coins []CoinInfo `json:"coins"`
		} `json:"data"`
	}
	if err := p.getJSON(url, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, fmt.Errorf("coin pool API reported failure")
	}
	if len(payload.Data.Coins) == 0 {
		return nil, fmt.Errorf("coin pool API returned no coins")
	}
	coins := payload.Data.Coins
	for i := range coins {
		coins[i].IsAvailable = true
	}
	return coins, nil
}

func (p *Provider) fetchOITop(url string) ([]OIPosition, error) {
	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			Positions []OIPosition `json:"positions"`
		} `json:"data"`
	}
	if err := p.getJSON(url, &payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, fmt.Errorf("OI Top API reported failure")
	}
	if len(payload.Data.Positions) == 0 {
		return nil, fmt.Errorf("OI Top API returned no positions")
	}
	return payload.Data.Positions, nil
}

func (p *Provider) getJSON(url string, out interface{}) error {
	resp, err := p.client.Get(url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type coinCache struct {
	Coins     []CoinInfo `json:"coins"`
	FetchedAt int64      `json:"fetched_at"`
}

type oiCache struct {
	Positions []OIPosition `json:"positions"`
	FetchedAt int64        `json:"fetched_at"`
}

func (p *Provider) saveCache(name string, v interface{}) error {
	if err := os.MkdirAll(p.cfg.CacheDir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.cfg.CacheDir, name), data, 0644)
}

func (p *Provider) loadCoinCache() ([]CoinInfo, error) {
	data, err := os.ReadFile(filepath.Join(p.cfg.CacheDir, "latest.json"))
	if err != nil {
		return nil, err
	}
	var cache coinCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	logCacheAge(cache.FetchedAt)
	for i := range cache.Coins {
		cache.Coins[i].IsAvailable = true
	}
	return cache.Coins, nil
}

func (p *Provider) loadOICache() ([]OIPosition, error) {
	data, err := os.ReadFile(filepath.Join(p.cfg.CacheDir, "oi_top_latest.json"))
	if err != nil {
		return nil, err
	}
	var cache oiCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	logCacheAge(cache.FetchedAt)
	return cache.Positions, nil
}

func logCacheAge(fetchedAt int64) {
	age := time.Since(time.Unix(fetchedAt, 0))
	if age > 24*time.Hour {
		log.Printf("⚠️  Cache is stale (%.1f hours old), using anyway", age.Hours())
	}
}

func symbolsToCoins(symbols []string) []CoinInfo {
	coins := make([]CoinInfo, 0, len(symbols))
	for _, s := range symbols {
		coins = append(coins, CoinInfo{Pair: market.Normalize(s), IsAvailable: true})
	}
	return coins
}
