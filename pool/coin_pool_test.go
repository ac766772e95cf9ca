package pool

import "testing"

func TestGetCoinPoolCustomListWins(t *testing.T) {
	p := NewProvider(Config{
		CustomCoins:  []string{"btc", "ETHUSDT"},
		DefaultCoins: []string{"SOLUSDT"},
		CacheDir:     t.TempDir(),
	})

	coins, err := p.GetCoinPool()
	if err != nil {
		t.Fatalf("GetCoinPool failed: %v", err)
	}
	if len(coins) != 2 {
		t.Fatalf("got %d coins, want 2", len(coins))
	}
	if coins[0].Pair != "BTCUSDT" || coins[1].Pair != "ETHUSDT" {
		t.Errorf("coins = %+v", coins)
	}
	for _, c := range coins {
		if !c.IsAvailable {
			t.Errorf("%s should be marked available", c.Pair)
		}
	}
}

func TestGetCoinPoolDefaultsWithoutAPI(t *testing.T) {
	p := NewProvider(Config{CacheDir: t.TempDir()})
	coins, err := p.GetCoinPool()
	if err != nil {
		t.Fatalf("GetCoinPool failed: %v", err)
	}
	if len(coins) == 0 {
		t.Fatal("expected the built-in mainstream list")
	}
	if coins[0].Pair != "BTCUSDT" {
		t.Errorf("first default = %q", coins[0].Pair)
	}
}

func TestSetCustomCoinsOverrides(t *testing.T) {
	p := NewProvider(Config{UseDefaultCoins: true, CacheDir: t.TempDir()})
	p.SetCustomCoins([]string{"HYPEUSDT"})

	coins, err := p.GetCoinPool()
	if err != nil {
		t.Fatalf("GetCoinPool failed: %v", err)
	}
	if len(coins) != 1 || coins[0].Pair != "HYPEUSDT" {
		t.Errorf("coins = %+v", coins)
	}
}

func TestGetTopRatedCoinsSortsByScore(t *testing.T) {
	p := NewProvider(Config{
		CustomCoins: []string{"AUSDT", "BUSDT", "CUSDT"},
		CacheDir:    t.TempDir(),
	})

	// Custom coins carry equal scores, so input order must hold.
	symbols, err := p.GetTopRatedCoins(2)
	if err != nil {
		t.Fatalf("GetTopRatedCoins failed: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AUSDT" || symbols[1] != "BUSDT" {
		t.Errorf("symbols = %v", symbols)
	}
}

func TestGetTopRatedCoinsLimitClamped(t *testing.T) {
	p := NewProvider(Config{CustomCoins: []string{"BTCUSDT"}, CacheDir: t.TempDir()})
	symbols, err := p.GetTopRatedCoins(20)
	if err != nil {
		t.Fatalf("GetTopRatedCoins failed: %v", err)
	}
	if len(symbols) != 1 {
		t.Errorf("symbols = %v", symbols)
	}
}

func TestGetOITopPositionsEmptyWithoutURL(t *testing.T) {
	p := NewProvider(Config{CacheDir: t.TempDir()})
	if got := p.GetOITopPositions(); len(got) != 0 {
		t.Errorf("expected no OI entries without a URL, got %v", got)
	}
}

func TestGetMergedPoolTagsSources(t *testing.T) {
	p := NewProvider(Config{
		CustomCoins: []string{"BTCUSDT", "ETHUSDT"},
		CacheDir:    t.TempDir(),
	})

	merged, err := p.GetMergedPool(10)
	if err != nil {
		t.Fatalf("GetMergedPool failed: %v", err)
	}
	if len(merged.AllSymbols) != 2 {
		t.Fatalf("AllSymbols = %v", merged.AllSymbols)
	}
	for _, s := range merged.AllSymbols {
		tags := merged.SymbolSources[s]
		if len(tags) != 1 || tags[0] != "ai500" {
			t.Errorf("%s sources = %v", s, tags)
		}
	}
	if len(merged.OITopCoins) != 0 {
		t.Errorf("OITopCoins = %v", merged.OITopCoins)
	}
}
