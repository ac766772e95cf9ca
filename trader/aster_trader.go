package trader

import (
	"fmt"
	"log"
)

// AsterTrader is a placeholder adapter. Aster support is configured but not
// yet wired to a live API, so reads return empty data and writes refuse.
type AsterTrader struct {
	apiKey    string
	secretKey string
}

func NewAsterTrader(apiKey, secretKey string) *AsterTrader {
	log.Printf("⚠️  Aster adapter is a stub, orders will be rejected")
	return &AsterTrader{apiKey: apiKey, secretKey: secretKey}
}

func (t *AsterTrader) GetBalance() (*Balance, error) {
	return &Balance{}, nil
}

func (t *AsterTrader) GetPositions() ([]Position, error) {
	return nil, nil
}

func (t *AsterTrader) SetLeverage(symbol string, leverage int) error {
	return nil
}

func (t *AsterTrader) OpenLong(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return nil, fmt.Errorf("aster adapter not implemented: cannot open long %s", symbol)
}

func (t *AsterTrader) OpenShort(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return nil, fmt.Errorf("aster adapter not implemented: cannot open short %s", symbol)
}

func (t *AsterTrader) CloseLong(symbol string, quantity float64) (*OrderResult, error) {
	return nil, fmt.Errorf("aster adapter not implemented: cannot close long %s", symbol)
}

func (t *AsterTrader) CloseShort(symbol string, quantity float64) (*OrderResult, error) {
	return nil, fmt.Errorf("aster adapter not implemented: cannot close short %s", symbol)
}

func (t *AsterTrader) CancelAllOrders(symbol string) error {
	return nil
}

func (t *AsterTrader) GetMarketPrice(symbol string) (float64, error) {
	return 0, fmt.Errorf("aster adapter not implemented: no price for %s", symbol)
}

func (t *AsterTrader) CalculatePositionSize(balance, riskPercent, price float64, leverage int) float64 {
	if price <= 0 {
		return 0
	}
	return balance * (riskPercent / 100.0) * float64(leverage) / price
}

func (t *AsterTrader) SetStopLoss(symbol, positionSide string, quantity, price float64) error {
	return fmt.Errorf("aster adapter not implemented: cannot set stop loss on %s", symbol)
}

func (t *AsterTrader) SetTakeProfit(symbol, positionSide string, quantity, price float64) error {
	return fmt.Errorf("aster adapter not implemented: cannot set take profit on %s", symbol)
}
