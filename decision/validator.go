package decision

import (
	"fmt"
	"math"
)

const (
	// MinRiskRewardRatio is the lowest acceptable reward:risk ratio for a
	// new position.
	MinRiskRewardRatio = 3.0

	// DefaultEntryInterpolation places the assumed entry price 20% of the
	// way from the stop toward the target. The true entry is the live market
	// price, unknown at validation time; biasing toward the stop is the
	// conservative proxy.
	DefaultEntryInterpolation = 0.20

	// Position value bands relative to account equity.
	btcEthPositionMultiple  = 10.0
	altcoinPositionMultiple = 1.5

	// sizeTolerance allows 1% slack for floating point drift in the model's
	// arithmetic.
	sizeTolerance = 1.01
)

// Validator enforces the hard risk rules over parsed decisions.
type Validator struct {
	BTCETHLeverage     int
	AltcoinLeverage    int
	EntryInterpolation float64
}

// NewValidator creates a validator with the default entry interpolation.
func NewValidator(btcEthLeverage, altcoinLeverage int) *Validator {
	return &Validator{
		BTCETHLeverage:     btcEthLeverage,
		AltcoinLeverage:    altcoinLeverage,
		EntryInterpolation: DefaultEntryInterpolation,
	}
}

// Validate checks every decision against the risk rules and fails on the
// first violation. Sizing rules apply to opens only; hold/wait/close pass
// once their action name checks out.
func (v *Validator) Validate(decisions []Decision, accountEquity float64) error {
	for i := range decisions {
		if err := v.validateOne(&decisions[i], accountEquity); err != nil {
			return fmt.Errorf("decision %d (%s %s): %w", i+1, decisions[i].Action, decisions[i].Symbol, err)
		}
	}
	return nil
}

func (v *Validator) validateOne(d *Decision, equity float64) error {
	switch d.Action {
	case "open_long", "open_short":
		// falls through to the sizing rules below
	case "close_long", "close_short", "hold", "wait":
		return nil
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}

	cap := v.AltcoinLeverage
	maxPositionValue := equity * altcoinPositionMultiple
	if isBTCETH(d.Symbol) {
		cap = v.BTCETHLeverage
		maxPositionValue = equity * btcEthPositionMultiple
	}

	if d.Leverage <= 0 || d.Leverage > cap {
		return fmt.Errorf("leverage %dx outside (0, %dx]", d.Leverage, cap)
	}

	if d.PositionSizeUSD <= 0 {
		return fmt.Errorf("position_size_usd must be positive, got %.2f", d.PositionSizeUSD)
	}
	if d.PositionSizeUSD > maxPositionValue*sizeTolerance {
		return fmt.Errorf("position_size_usd %.2f exceeds limit %.2f (equity %.2f)",
			d.PositionSizeUSD, maxPositionValue, equity)
	}

	if d.StopLoss <= 0 {
		return fmt.Errorf("stop_loss must be positive, got %.2f", d.StopLoss)
	}
	if d.TakeProfit <= 0 {
		return fmt.Errorf("take_profit must be positive, got %.2f", d.TakeProfit)
	}

	if d.Action == "open_long" && d.StopLoss >= d.TakeProfit {
		return fmt.Errorf("long stop_loss %.2f must be below take_profit %.2f", d.StopLoss, d.TakeProfit)
	}
	if d.Action == "open_short" && d.StopLoss <= d.TakeProfit {
		return fmt.Errorf("short stop_loss %.2f must be above take_profit %.2f", d.StopLoss, d.TakeProfit)
	}

	ratio, riskPct, rewardPct := v.riskRewardRatio(d)
	if riskPct <= 0 {
		return fmt.Errorf("non-positive risk distance [stop %.2f target %.2f]", d.StopLoss, d.TakeProfit)
	}
	if ratio < MinRiskRewardRatio {
		return fmt.Errorf("reward:risk %.2f:1 below %.1f:1 [risk %.2f%% reward %.2f%%] [stop %.2f target %.2f]",
			ratio, MinRiskRewardRatio, riskPct, rewardPct, d.StopLoss, d.TakeProfit)
	}

	return nil
}

// riskRewardRatio evaluates the trade at an entry price interpolated between
// stop and target, biased toward the stop side.
func (v *Validator) riskRewardRatio(d *Decision) (ratio, riskPct, rewardPct float64) {
	f := v.EntryInterpolation
	if f <= 0 || f >= 1 {
		f = DefaultEntryInterpolation
	}

	var entry float64
	if d.Action == "open_long" {
		entry = d.StopLoss + (d.TakeProfit-d.StopLoss)*f
	} else {
		entry = d.StopLoss - (d.StopLoss-d.TakeProfit)*f
	}
	if entry <= 0 {
		return 0, 0, 0
	}

	riskPct = math.Abs(entry-d.StopLoss) / entry * 100
	rewardPct = math.Abs(d.TakeProfit-entry) / entry * 100
	if riskPct > 0 {
		ratio = rewardPct / riskPct
	}
	return ratio, riskPct, rewardPct
}

func isBTCETH(symbol string) bool {
	return symbol == "BTCUSDT" || symbol == "ETHUSDT"
}
