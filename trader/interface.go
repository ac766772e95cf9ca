package trader

import "errors"

// ErrNoPosition is returned by close operations when the account holds no
// position on the requested symbol/side. Callers branch on it with errors.Is.
var ErrNoPosition = errors.New("no open position for symbol")

// Balance account balance snapshot.
// Invariant: equity = TotalWalletBalance + TotalUnrealizedProfit.
type Balance struct {
	TotalWalletBalance    float64
	AvailableBalance      float64
	TotalUnrealizedProfit float64
}

// Position a single open position. Quantity is always a non-negative
// magnitude; direction lives in Side ("long" / "short").
type Position struct {
	Symbol           string
	Side             string
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedProfit float64
	Leverage         float64
	LiquidationPrice float64
}

// OrderResult outcome of a placed order
type OrderResult struct {
	OrderID  int64
	Symbol   string
	Quantity float64
	Price    float64
	Status   string
}

// Trader common capability surface implemented by every exchange adapter.
// Quantity passed to CloseLong/CloseShort may be 0, meaning "close the whole
// live position" (the adapter resolves the quantity itself).
type Trader interface {
	GetBalance() (*Balance, error)
	GetPositions() ([]Position, error)
	SetLeverage(symbol string, leverage int) error
	OpenLong(symbol string, quantity float64, leverage int) (*OrderResult, error)
	OpenShort(symbol string, quantity float64, leverage int) (*OrderResult, error)
	CloseLong(symbol string, quantity float64) (*OrderResult, error)
	CloseShort(symbol string, quantity float64) (*OrderResult, error)
	CancelAllOrders(symbol string) error
	GetMarketPrice(symbol string) (float64, error)
	CalculatePositionSize(balance, riskPercent, price float64, leverage int) float64
	SetStopLoss(symbol, positionSide string, quantity, stopPrice float64) error
	SetTakeProfit(symbol, positionSide string, quantity, takeProfitPrice float64) error
}
