package trader

import (
	"errors"
	"math"
	"testing"
)

func TestPaperTraderOpenAndClose(t *testing.T) {
	pt := NewPaperTrader(10000)
	pt.SetPrice("BTCUSDT", 60000)

	result, err := pt.OpenLong("BTCUSDT", 0.1, 10)
	if err != nil {
		t.Fatalf("OpenLong failed: %v", err)
	}
	if result.Status != "FILLED" || result.Price != 60000 {
		t.Errorf("open result = %+v", result)
	}

	positions, err := pt.GetPositions()
	if err != nil {
		t.Fatalf("GetPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	pos := positions[0]
	if pos.Side != "long" || pos.Quantity != 0.1 || pos.EntryPrice != 60000 {
		t.Errorf("position = %+v", pos)
	}

	// Price rises, closing realizes the gain into the balance.
	pt.SetPrice("BTCUSDT", 61000)
	if _, err := pt.CloseLong("BTCUSDT", 0); err != nil {
		t.Fatalf("CloseLong failed: %v", err)
	}

	balance, err := pt.GetBalance()
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if math.Abs(balance.TotalWalletBalance-10100) > 1e-9 {
		t.Errorf("balance = %v, want 10100", balance.TotalWalletBalance)
	}

	positions, _ = pt.GetPositions()
	if len(positions) != 0 {
		t.Errorf("position should be gone after full close: %+v", positions)
	}
}

func TestPaperTraderAveragesEntries(t *testing.T) {
	pt := NewPaperTrader(10000)
	pt.SetPrice("ETHUSDT", 3000)
	if _, err := pt.OpenShort("ETHUSDT", 1, 5); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	pt.SetPrice("ETHUSDT", 3200)
	if _, err := pt.OpenShort("ETHUSDT", 1, 5); err != nil {
		t.Fatalf("second open failed: %v", err)
	}

	positions, _ := pt.GetPositions()
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1 merged", len(positions))
	}
	if positions[0].Quantity != 2 || math.Abs(positions[0].EntryPrice-3100) > 1e-9 {
		t.Errorf("merged position = %+v", positions[0])
	}
}

func TestPaperTraderPartialClose(t *testing.T) {
	pt := NewPaperTrader(10000)
	pt.SetPrice("SOLUSDT", 200)
	if _, err := pt.OpenLong("SOLUSDT", 10, 5); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pt.SetPrice("SOLUSDT", 190)
	if _, err := pt.CloseLong("SOLUSDT", 4); err != nil {
		t.Fatalf("partial close failed: %v", err)
	}

	positions, _ := pt.GetPositions()
	if len(positions) != 1 || positions[0].Quantity != 6 {
		t.Fatalf("remaining position = %+v", positions)
	}

	// 4 units closed at a 10 loss each.
	balance, _ := pt.GetBalance()
	if math.Abs(balance.TotalWalletBalance-9960) > 1e-9 {
		t.Errorf("balance = %v, want 9960", balance.TotalWalletBalance)
	}
}

func TestPaperTraderShortPnL(t *testing.T) {
	pt := NewPaperTrader(10000)
	pt.SetPrice("BTCUSDT", 60000)
	if _, err := pt.OpenShort("BTCUSDT", 0.5, 10); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	pt.SetPrice("BTCUSDT", 58000)
	balance, _ := pt.GetBalance()
	if math.Abs(balance.TotalUnrealizedProfit-1000) > 1e-9 {
		t.Errorf("unrealized = %v, want 1000", balance.TotalUnrealizedProfit)
	}

	if _, err := pt.CloseShort("BTCUSDT", 0); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	balance, _ = pt.GetBalance()
	if math.Abs(balance.TotalWalletBalance-11000) > 1e-9 {
		t.Errorf("balance = %v, want 11000", balance.TotalWalletBalance)
	}
}

func TestPaperTraderCloseWithoutPosition(t *testing.T) {
	pt := NewPaperTrader(10000)
	pt.SetPrice("BTCUSDT", 60000)
	_, err := pt.CloseLong("BTCUSDT", 1)
	if !errors.Is(err, ErrNoPosition) {
		t.Errorf("expected ErrNoPosition, got %v", err)
	}

	// A short does not satisfy a long close.
	if _, err := pt.OpenShort("BTCUSDT", 1, 5); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := pt.CloseLong("BTCUSDT", 1); !errors.Is(err, ErrNoPosition) {
		t.Errorf("expected ErrNoPosition for wrong side, got %v", err)
	}
}

func TestPositionKey(t *testing.T) {
	if got := positionKey("BTCUSDT", "long"); got != "BTCUSDT_long" {
		t.Errorf("positionKey = %q", got)
	}
	if positionKey("BTCUSDT", "long") == positionKey("BTCUSDT", "short") {
		t.Error("sides must key separately")
	}
}

func TestCalculatePositionSize(t *testing.T) {
	pt := NewPaperTrader(10000)
	// 2% of 10000 at 10x leverage buys 2000 USDT of a 100 USDT asset.
	got := pt.CalculatePositionSize(10000, 2, 100, 10)
	if math.Abs(got-20) > 1e-9 {
		t.Errorf("CalculatePositionSize = %v, want 20", got)
	}
	if pt.CalculatePositionSize(10000, 2, 0, 10) != 0 {
		t.Error("zero price must yield zero size")
	}
}
