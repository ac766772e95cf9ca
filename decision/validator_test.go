package decision

import (
	"strings"
	"testing"
)

func openLongETH() Decision {
	return Decision{
		Symbol:          "ETHUSDT",
		Action:          "open_long",
		Leverage:        10,
		PositionSizeUSD: 1400,
		StopLoss:        3000,
		TakeProfit:      3300,
	}
}

func TestValidateOpenLongPasses(t *testing.T) {
	v := NewValidator(10, 5)
	// Entry interpolates to 3060: risk 60, reward 240, ratio 4.0.
	err := v.Validate([]Decision{openLongETH()}, 1000)
	if err != nil {
		t.Errorf("expected pass, got %v", err)
	}
}

func TestValidateOpenShortPasses(t *testing.T) {
	v := NewValidator(10, 5)
	d := Decision{
		Symbol:          "BTCUSDT",
		Action:          "open_short",
		Leverage:        10,
		PositionSizeUSD: 2000,
		StopLoss:        3300,
		TakeProfit:      3000,
	}
	if err := v.Validate([]Decision{d}, 1000); err != nil {
		t.Errorf("expected pass, got %v", err)
	}
}

func TestValidateNonSizingActionsPass(t *testing.T) {
	v := NewValidator(10, 5)
	for _, action := range []string{"close_long", "close_short", "hold", "wait"} {
		d := Decision{Symbol: "SOLUSDT", Action: action}
		if err := v.Validate([]Decision{d}, 1000); err != nil {
			t.Errorf("%s: expected pass with zero sizing fields, got %v", action, err)
		}
	}
}

func TestValidateUnknownAction(t *testing.T) {
	v := NewValidator(10, 5)
	err := v.Validate([]Decision{{Symbol: "BTCUSDT", Action: "buy"}}, 1000)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
	if !strings.Contains(err.Error(), `unknown action "buy"`) {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateLeverageBounds(t *testing.T) {
	v := NewValidator(10, 5)

	d := openLongETH()
	d.Leverage = 0
	if err := v.Validate([]Decision{d}, 1000); err == nil {
		t.Error("expected error for zero leverage")
	}

	d = openLongETH()
	d.Leverage = 11
	if err := v.Validate([]Decision{d}, 1000); err == nil {
		t.Error("expected error for leverage above BTC/ETH cap")
	}

	// Altcoins use the lower cap.
	alt := Decision{
		Symbol:          "SOLUSDT",
		Action:          "open_long",
		Leverage:        6,
		PositionSizeUSD: 500,
		StopLoss:        100,
		TakeProfit:      200,
	}
	if err := v.Validate([]Decision{alt}, 1000); err == nil {
		t.Error("expected error for leverage above altcoin cap")
	}
	alt.Leverage = 5
	if err := v.Validate([]Decision{alt}, 1000); err != nil {
		t.Errorf("expected pass at altcoin cap, got %v", err)
	}
}

func TestValidatePositionSizeBand(t *testing.T) {
	v := NewValidator(10, 5)

	// Altcoin limit at 1000 equity is 1500 with 1% tolerance.
	alt := Decision{
		Symbol:          "SOLUSDT",
		Action:          "open_long",
		Leverage:        5,
		PositionSizeUSD: 1600,
		StopLoss:        100,
		TakeProfit:      200,
	}
	err := v.Validate([]Decision{alt}, 1000)
	if err == nil {
		t.Fatal("expected error for oversized altcoin position")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("unexpected message: %v", err)
	}

	alt.PositionSizeUSD = 1500
	if err := v.Validate([]Decision{alt}, 1000); err != nil {
		t.Errorf("expected pass at altcoin limit, got %v", err)
	}

	// BTC/ETH allows up to 10x equity.
	eth := openLongETH()
	eth.PositionSizeUSD = 10000
	if err := v.Validate([]Decision{eth}, 1000); err != nil {
		t.Errorf("expected pass at BTC/ETH limit, got %v", err)
	}
	eth.PositionSizeUSD = 10200
	if err := v.Validate([]Decision{eth}, 1000); err == nil {
		t.Error("expected error above BTC/ETH limit")
	}

	eth = openLongETH()
	eth.PositionSizeUSD = 0
	if err := v.Validate([]Decision{eth}, 1000); err == nil {
		t.Error("expected error for zero position size")
	}
}

func TestValidateNonPositiveStops(t *testing.T) {
	v := NewValidator(10, 5)

	d := openLongETH()
	d.StopLoss = 0
	if err := v.Validate([]Decision{d}, 1000); err == nil {
		t.Error("expected error for zero stop loss")
	}

	d = openLongETH()
	d.TakeProfit = -1
	if err := v.Validate([]Decision{d}, 1000); err == nil {
		t.Error("expected error for negative take profit")
	}
}

func TestValidateStopTargetOrdering(t *testing.T) {
	v := NewValidator(10, 5)

	long := openLongETH()
	long.StopLoss = 3300
	long.TakeProfit = 3000
	err := v.Validate([]Decision{long}, 1000)
	if err == nil || !strings.Contains(err.Error(), "must be below") {
		t.Errorf("expected inverted long stop error, got %v", err)
	}

	short := Decision{
		Symbol:          "ETHUSDT",
		Action:          "open_short",
		Leverage:        10,
		PositionSizeUSD: 1000,
		StopLoss:        3000,
		TakeProfit:      3300,
	}
	err = v.Validate([]Decision{short}, 1000)
	if err == nil || !strings.Contains(err.Error(), "must be above") {
		t.Errorf("expected inverted short stop error, got %v", err)
	}
}

func TestValidateRiskRewardFloor(t *testing.T) {
	// A midpoint entry makes risk and reward symmetric, ratio 1.0.
	v := &Validator{BTCETHLeverage: 10, AltcoinLeverage: 5, EntryInterpolation: 0.5}
	err := v.Validate([]Decision{openLongETH()}, 1000)
	if err == nil {
		t.Fatal("expected reward:risk rejection")
	}
	if !strings.Contains(err.Error(), "reward:risk") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidateOutOfRangeInterpolationFallsBack(t *testing.T) {
	v := &Validator{BTCETHLeverage: 10, AltcoinLeverage: 5, EntryInterpolation: 1.5}
	if err := v.Validate([]Decision{openLongETH()}, 1000); err != nil {
		t.Errorf("expected default interpolation fallback to pass, got %v", err)
	}
}

func TestValidateIdentifiesFailingDecision(t *testing.T) {
	v := NewValidator(10, 5)
	batch := []Decision{
		{Symbol: "BTCUSDT", Action: "hold"},
		{Symbol: "SOLUSDT", Action: "flip"},
	}
	err := v.Validate(batch, 1000)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "decision 2 (flip SOLUSDT)") {
		t.Errorf("expected failing decision identified, got %v", err)
	}
}
