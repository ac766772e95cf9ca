package trader

import (
	"fmt"
	"log"
	"sync"

	"vela/market"
)

// PaperTrader simulates fills against live market prices without touching
// any exchange. Useful for dry runs and tests of the decision loop.
type PaperTrader struct {
	mu        sync.RWMutex
	balance   float64
	positions map[string]*Position // keyed by symbol_side
	leverages map[string]int
	nextOrder int64

	prices *market.Provider
	// fixed prices for tests, bypasses the live lookup when set
	fixedPrices map[string]float64
}

func NewPaperTrader(initialBalance float64) *PaperTrader {
	return &PaperTrader{
		balance:   initialBalance,
		positions: make(map[string]*Position),
		leverages: make(map[string]int),
		nextOrder: 1,
		prices:    market.NewProvider(market.DefaultBaseURL),
	}
}

// SetPrice pins a simulated price for a symbol.
func (t *PaperTrader) SetPrice(symbol string, price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fixedPrices == nil {
		t.fixedPrices = make(map[string]float64)
	}
	t.fixedPrices[symbol] = price
}

func positionKey(symbol, side string) string {
	return symbol + "_" + side
}

func (t *PaperTrader) GetBalance() (*Balance, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var unrealized float64
	for _, pos := range t.positions {
		price, err := t.priceLocked(pos.Symbol)
		if err != nil {
			continue
		}
		unrealized += paperPnL(pos, price)
	}
	return &Balance{
		TotalWalletBalance:    t.balance,
		AvailableBalance:      t.balance,
		TotalUnrealizedProfit: unrealized,
	}, nil
}

func (t *PaperTrader) GetPositions() ([]Position, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Position, 0, len(t.positions))
	for _, pos := range t.positions {
		p := *pos
		if price, err := t.priceLocked(p.Symbol); err == nil {
			p.MarkPrice = price
			p.UnrealizedProfit = paperPnL(pos, price)
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *PaperTrader) SetLeverage(symbol string, leverage int) error {
	t.mu.Lock()
	t.leverages[symbol] = leverage
	t.mu.Unlock()
	return nil
}

func (t *PaperTrader) OpenLong(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return t.open(symbol, quantity, leverage, "long")
}

func (t *PaperTrader) OpenShort(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return t.open(symbol, quantity, leverage, "short")
}

func (t *PaperTrader) open(symbol string, quantity float64, leverage int, side string) (*OrderResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	price, err := t.priceLocked(symbol)
	if err != nil {
		return nil, err
	}

	key := positionKey(symbol, side)
	if existing, ok := t.positions[key]; ok {
		// Average into the existing position.
		total := existing.Quantity + quantity
		existing.EntryPrice = (existing.EntryPrice*existing.Quantity + price*quantity) / total
		existing.Quantity = total
	} else {
		t.positions[key] = &Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   quantity,
			EntryPrice: price,
			MarkPrice:  price,
			Leverage:   float64(leverage),
		}
	}
	t.leverages[symbol] = leverage

	id := t.nextOrder
	t.nextOrder++
	log.Printf("📝 Paper %s %s qty=%.6f @ %.4f", side, symbol, quantity, price)
	return &OrderResult{OrderID: id, Symbol: symbol, Quantity: quantity, Price: price, Status: "FILLED"}, nil
}

func (t *PaperTrader) CloseLong(symbol string, quantity float64) (*OrderResult, error) {
	return t.closePosition(symbol, quantity, "long")
}

func (t *PaperTrader) CloseShort(symbol string, quantity float64) (*OrderResult, error) {
	return t.closePosition(symbol, quantity, "short")
}

func (t *PaperTrader) closePosition(symbol string, quantity float64, side string) (*OrderResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := positionKey(symbol, side)
	pos, ok := t.positions[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNoPosition, symbol, side)
	}
	if quantity == 0 || quantity > pos.Quantity {
		quantity = pos.Quantity
	}

	price, err := t.priceLocked(symbol)
	if err != nil {
		return nil, err
	}

	realized := paperPnL(pos, price) * (quantity / pos.Quantity)
	t.balance += realized

	pos.Quantity -= quantity
	if pos.Quantity <= 1e-12 {
		delete(t.positions, key)
	}

	id := t.nextOrder
	t.nextOrder++
	log.Printf("📝 Paper close %s %s qty=%.6f @ %.4f pnl=%.2f", side, symbol, quantity, price, realized)
	return &OrderResult{OrderID: id, Symbol: symbol, Quantity: quantity, Price: price, Status: "FILLED"}, nil
}

func (t *PaperTrader) CancelAllOrders(symbol string) error {
	return nil
}

func (t *PaperTrader) GetMarketPrice(symbol string) (float64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.priceLocked(symbol)
}

// priceLocked must be called with at least a read lock held.
func (t *PaperTrader) priceLocked(symbol string) (float64, error) {
	if price, ok := t.fixedPrices[symbol]; ok {
		return price, nil
	}
	data, err := t.prices.GetSnapshot(symbol, "3m")
	if err != nil {
		return 0, fmt.Errorf("paper price lookup for %s: %w", symbol, err)
	}
	return data.CurrentPrice, nil
}

func (t *PaperTrader) CalculatePositionSize(balance, riskPercent, price float64, leverage int) float64 {
	if price <= 0 {
		return 0
	}
	return balance * (riskPercent / 100.0) * float64(leverage) / price
}

func (t *PaperTrader) SetStopLoss(symbol, positionSide string, quantity, price float64) error {
	log.Printf("📝 Paper stop loss %s %s @ %.4f (tracked only)", symbol, positionSide, price)
	return nil
}

func (t *PaperTrader) SetTakeProfit(symbol, positionSide string, quantity, price float64) error {
	log.Printf("📝 Paper take profit %s %s @ %.4f (tracked only)", symbol, positionSide, price)
	return nil
}

func paperPnL(pos *Position, price float64) float64 {
	if pos.Side == "long" {
		return (price - pos.EntryPrice) * pos.Quantity
	}
	return (pos.EntryPrice - price) * pos.Quantity
}
