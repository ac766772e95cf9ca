package trader

import (
	"math"
	"testing"

	hyperliquid "github.com/sonirico/go-hyperliquid"
)

func TestRoundToSigFigs(t *testing.T) {
	cases := []struct {
		v    float64
		figs int
		want float64
	}{
		{12345.678, 5, 12346},
		{0.0123456, 5, 0.012346},
		{98765.4, 5, 98765},
		{2.34567, 3, 2.35},
		{69421.55, 5, 69422},
		{0.1, 5, 0.1},
		{0, 5, 0},
	}
	for _, tc := range cases {
		if got := RoundToSigFigs(tc.v, tc.figs); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("RoundToSigFigs(%v, %d) = %v, want %v", tc.v, tc.figs, got, tc.want)
		}
	}
}

func TestCoinSymbolMapping(t *testing.T) {
	if got := coinFromSymbol("BTCUSDT"); got != "BTC" {
		t.Errorf("coinFromSymbol = %q", got)
	}
	if got := symbolFromCoin("BTC"); got != "BTCUSDT" {
		t.Errorf("symbolFromCoin = %q", got)
	}
	if got := symbolFromCoin(coinFromSymbol("SOLUSDT")); got != "SOLUSDT" {
		t.Errorf("round trip = %q", got)
	}
}

func TestOrderIDExtraction(t *testing.T) {
	resting := hyperliquid.OrderStatus{
		Resting: &hyperliquid.OrderStatusResting{Oid: 42},
	}
	if got := orderID(resting); got != 42 {
		t.Errorf("resting order id = %d, want 42", got)
	}

	filled := hyperliquid.OrderStatus{
		Filled: &hyperliquid.OrderStatusFilled{Oid: 77, TotalSz: "0.5", AvgPx: "3000"},
	}
	if got := orderID(filled); got != 77 {
		t.Errorf("filled order id = %d, want 77", got)
	}

	if got := orderID(hyperliquid.OrderStatus{}); got != 0 {
		t.Errorf("empty status order id = %d, want 0", got)
	}
}

func TestParseFloatPtr(t *testing.T) {
	if got := parseFloatPtr(nil); got != 0 {
		t.Errorf("nil = %v, want 0", got)
	}
	px := "3123.5"
	if got := parseFloatPtr(&px); got != 3123.5 {
		t.Errorf("deref = %v, want 3123.5", got)
	}
}
