package trader

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	binanceCacheTTL = 15 * time.Second

	// fallbackQuantityPrecision is used when the LOT_SIZE filter lookup
	// fails. Three decimals is safe for every major USDT perpetual.
	fallbackQuantityPrecision = 3
)

// BinanceTrader executes against Binance USDT-margined futures.
type BinanceTrader struct {
	client *futures.Client

	mu             sync.RWMutex
	cachedBalance  *Balance
	balanceTime    time.Time
	cachedPosition []Position
	positionTime   time.Time

	leverageCache map[string]int
	precisions    map[string]int
}

// NewBinanceTrader creates a Binance futures adapter and syncs local clock
// offset against the exchange.
func NewBinanceTrader(apiKey, secretKey string) *BinanceTrader {
	client := futures.NewClient(apiKey, secretKey)

	t := &BinanceTrader{
		client:        client,
		leverageCache: make(map[string]int),
		precisions:    make(map[string]int),
	}
	t.syncServerTime()
	return t
}

func (t *BinanceTrader) syncServerTime() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := t.client.NewSetServerTimeService().Do(ctx); err != nil {
		log.Printf("⚠️  Binance server time sync failed: %v", err)
	}
}

// resyncOnTimestampError re-syncs the clock when the exchange rejects a
// request with error -1021 (timestamp outside recvWindow).
func (t *BinanceTrader) resyncOnTimestampError(err error) bool {
	if err != nil && strings.Contains(err.Error(), "-1021") {
		log.Printf("⚠️  Timestamp drift detected, re-syncing server time")
		t.syncServerTime()
		return true
	}
	return false
}

// GetBalance returns the account balance, cached for a few seconds to keep
// the per-cycle request count down.
func (t *BinanceTrader) GetBalance() (*Balance, error) {
	t.mu.RLock()
	if t.cachedBalance != nil && time.Since(t.balanceTime) < binanceCacheTTL {
		b := *t.cachedBalance
		t.mu.RUnlock()
		return &b, nil
	}
	t.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	account, err := t.client.NewGetAccountService().Do(ctx)
	if err != nil {
		if t.resyncOnTimestampError(err) {
			account, err = t.client.NewGetAccountService().Do(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch account: %w", err)
		}
	}

	balance := &Balance{
		TotalWalletBalance:    parseFloat(account.TotalWalletBalance),
		AvailableBalance:      parseFloat(account.AvailableBalance),
		TotalUnrealizedProfit: parseFloat(account.TotalUnrealizedProfit),
	}

	t.mu.Lock()
	t.cachedBalance = balance
	t.balanceTime = time.Now()
	t.mu.Unlock()

	b := *balance
	return &b, nil
}

// GetPositions returns all non-zero positions with normalized quantity
// magnitudes, cached briefly.
func (t *BinanceTrader) GetPositions() ([]Position, error) {
	t.mu.RLock()
	if t.cachedPosition != nil && time.Since(t.positionTime) < binanceCacheTTL {
		out := make([]Position, len(t.cachedPosition))
		copy(out, t.cachedPosition)
		t.mu.RUnlock()
		return out, nil
	}
	t.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	risks, err := t.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		if t.resyncOnTimestampError(err) {
			risks, err = t.client.NewGetPositionRiskService().Do(ctx)
		}
		if err != nil {
			return nil, fmt.Errorf("fetch positions: %w", err)
		}
	}

	var positions []Position
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		positions = append(positions, Position{
			Symbol:           r.Symbol,
			Side:             side,
			Quantity:         amt,
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			UnrealizedProfit: parseFloat(r.UnRealizedProfit),
			Leverage:         parseFloat(r.Leverage),
			LiquidationPrice: parseFloat(r.LiquidationPrice),
		})
	}

	t.mu.Lock()
	t.cachedPosition = positions
	t.positionTime = time.Now()
	t.mu.Unlock()

	out := make([]Position, len(positions))
	copy(out, positions)
	return out, nil
}

func (t *BinanceTrader) invalidateCache() {
	t.mu.Lock()
	t.cachedBalance = nil
	t.cachedPosition = nil
	t.mu.Unlock()
}

// SetLeverage changes the symbol leverage, skipping the exchange call when
// the target is already set (repeated changes trigger exchange-side
// cooldowns).
func (t *BinanceTrader) SetLeverage(symbol string, leverage int) error {
	t.mu.RLock()
	current, known := t.leverageCache[symbol]
	t.mu.RUnlock()
	if known && current == leverage {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := t.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "No need to change") {
		return fmt.Errorf("set leverage %dx on %s: %w", leverage, symbol, err)
	}

	t.mu.Lock()
	t.leverageCache[symbol] = leverage
	t.mu.Unlock()
	return nil
}

// setIsolatedMargin switches the symbol to isolated margin. "Already
// isolated" and multi-assets-mode rejections count as success.
func (t *BinanceTrader) setIsolatedMargin(symbol string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := t.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginTypeIsolated).Do(ctx)
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "No need to change") ||
		strings.Contains(msg, "-4046") || // already isolated
		strings.Contains(msg, "-4168") || // multi-assets mode
		strings.Contains(msg, "-4050") {
		return nil
	}
	return fmt.Errorf("set isolated margin on %s: %w", symbol, err)
}

// OpenLong opens a long position with a market order sized in coins.
func (t *BinanceTrader) OpenLong(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return t.open(symbol, quantity, leverage, futures.SideTypeBuy)
}

// OpenShort opens a short position with a market order sized in coins.
func (t *BinanceTrader) OpenShort(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return t.open(symbol, quantity, leverage, futures.SideTypeSell)
}

func (t *BinanceTrader) open(symbol string, quantity float64, leverage int, side futures.SideType) (*OrderResult, error) {
	// Stale stop/target orders from an earlier position must not fire
	// against the new one.
	if err := t.CancelAllOrders(symbol); err != nil {
		log.Printf("⚠️  %s: cancel resting orders before open failed: %v", symbol, err)
	}
	if err := t.SetLeverage(symbol, leverage); err != nil {
		return nil, err
	}
	if err := t.setIsolatedMargin(symbol); err != nil {
		return nil, err
	}

	qty := t.FormatQuantity(symbol, quantity)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty)

	order, err := svc.Do(ctx)
	if err != nil && strings.Contains(err.Error(), "-4061") {
		// Account is in one-way position mode
		order, err = svc.PositionSide(futures.PositionSideTypeBoth).Do(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("market %s %s qty=%s: %w", side, symbol, qty, err)
	}

	t.invalidateCache()
	price, _ := t.GetMarketPrice(symbol)
	return &OrderResult{
		OrderID:  order.OrderID,
		Symbol:   symbol,
		Quantity: parseFloat(qty),
		Price:    price,
		Status:   string(order.Status),
	}, nil
}

// CloseLong closes a long position. quantity 0 closes the whole live
// position.
func (t *BinanceTrader) CloseLong(symbol string, quantity float64) (*OrderResult, error) {
	return t.close(symbol, quantity, "long", futures.SideTypeSell)
}

// CloseShort closes a short position. quantity 0 closes the whole live
// position.
func (t *BinanceTrader) CloseShort(symbol string, quantity float64) (*OrderResult, error) {
	return t.close(symbol, quantity, "short", futures.SideTypeBuy)
}

func (t *BinanceTrader) close(symbol string, quantity float64, posSide string, side futures.SideType) (*OrderResult, error) {
	if quantity == 0 {
		resolved, err := t.livePositionQuantity(symbol, posSide)
		if err != nil {
			return nil, err
		}
		quantity = resolved
	}

	qty := t.FormatQuantity(symbol, quantity)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	svc := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		ReduceOnly(true)

	order, err := svc.Do(ctx)
	if err != nil && strings.Contains(err.Error(), "-4061") {
		order, err = t.client.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			Type(futures.OrderTypeMarket).
			Quantity(qty).
			PositionSide(futures.PositionSideTypeBoth).
			Do(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("close %s %s qty=%s: %w", posSide, symbol, qty, err)
	}

	// A closed position must not leave stop/target orders behind.
	if err := t.CancelAllOrders(symbol); err != nil {
		log.Printf("⚠️  %s: cancel resting orders after close failed: %v", symbol, err)
	}

	t.invalidateCache()
	price, _ := t.GetMarketPrice(symbol)
	return &OrderResult{
		OrderID:  order.OrderID,
		Symbol:   symbol,
		Quantity: parseFloat(qty),
		Price:    price,
		Status:   string(order.Status),
	}, nil
}

// livePositionQuantity re-queries the exchange (bypassing the cache) for the
// current position magnitude.
func (t *BinanceTrader) livePositionQuantity(symbol, side string) (float64, error) {
	t.invalidateCache()
	positions, err := t.GetPositions()
	if err != nil {
		return 0, err
	}
	for _, pos := range positions {
		if pos.Symbol == symbol && pos.Side == side {
			return pos.Quantity, nil
		}
	}
	return 0, fmt.Errorf("%w: %s %s", ErrNoPosition, symbol, side)
}

// CancelAllOrders cancels every resting order for the symbol.
func (t *BinanceTrader) CancelAllOrders(symbol string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := t.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return fmt.Errorf("cancel open orders on %s: %w", symbol, err)
	}
	return nil
}

// GetMarketPrice returns the latest traded price.
func (t *BinanceTrader) GetMarketPrice(symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prices, err := t.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

// CalculatePositionSize converts a risk budget to a coin quantity.
func (t *BinanceTrader) CalculatePositionSize(balance, riskPercent, price float64, leverage int) float64 {
	riskAmount := balance * (riskPercent / 100.0)
	positionValue := riskAmount * float64(leverage)
	return positionValue / price
}

// SetStopLoss places a close-position STOP_MARKET trigger.
func (t *BinanceTrader) SetStopLoss(symbol, positionSide string, quantity, stopPrice float64) error {
	side := futures.SideTypeSell
	if strings.EqualFold(positionSide, "SHORT") {
		side = futures.SideTypeBuy
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(stopPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("place stop loss on %s at %.4f: %w", symbol, stopPrice, err)
	}
	return nil
}

// SetTakeProfit places a close-position TAKE_PROFIT_MARKET trigger.
func (t *BinanceTrader) SetTakeProfit(symbol, positionSide string, quantity, takeProfitPrice float64) error {
	side := futures.SideTypeSell
	if strings.EqualFold(positionSide, "SHORT") {
		side = futures.SideTypeBuy
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := t.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeTakeProfitMarket).
		StopPrice(formatPrice(takeProfitPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("place take profit on %s at %.4f: %w", symbol, takeProfitPrice, err)
	}
	return nil
}

// GetSymbolPrecision derives the quantity decimal precision from the
// symbol's LOT_SIZE step, falling back to a conservative default when the
// metadata lookup fails.
func (t *BinanceTrader) GetSymbolPrecision(symbol string) int {
	t.mu.RLock()
	if p, ok := t.precisions[symbol]; ok {
		t.mu.RUnlock()
		return p
	}
	t.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	info, err := t.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		log.Printf("⚠️  %s: exchange info lookup failed, using precision %d: %v",
			symbol, fallbackQuantityPrecision, err)
		return fallbackQuantityPrecision
	}

	precision := fallbackQuantityPrecision
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			if f["filterType"] == "LOT_SIZE" {
				if step, ok := f["stepSize"].(string); ok {
					precision = stepSizePrecision(step)
				}
			}
		}
	}

	t.mu.Lock()
	t.precisions[symbol] = precision
	t.mu.Unlock()
	return precision
}

// FormatQuantity rounds a quantity down to the symbol's step precision and
// renders it without trailing zeros.
func (t *BinanceTrader) FormatQuantity(symbol string, quantity float64) string {
	precision := t.GetSymbolPrecision(symbol)
	factor := math.Pow(10, float64(precision))
	rounded := math.Floor(quantity*factor) / factor
	s := strconv.FormatFloat(rounded, 'f', precision, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// stepSizePrecision converts a step size like "0.001" to a decimal count.
func stepSizePrecision(step string) int {
	v, err := strconv.ParseFloat(step, 64)
	if err != nil || v <= 0 || v >= 1 {
		return 0
	}
	precision := 0
	for v < 1 {
		v *= 10
		precision++
	}
	return precision
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
