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

	"github.com/ethereum/go-ethereum/crypto"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

const (
	hyperliquidCacheTTL = 15 * time.Second

	// hyperliquidRequestTimeout bounds every REST call made by the adapter.
	hyperliquidRequestTimeout = 15 * time.Second

	// ioc market emulation crosses the book with a limit priced this far
	// through the mid.
	iocSlippage = 0.01

	// priceSigFigs is the exchange-wide significant-figure limit for
	// perpetual order prices.
	priceSigFigs = 5
)

// HyperliquidTrader executes against Hyperliquid perpetuals.
type HyperliquidTrader struct {
	info     *hyperliquid.Info
	exchange *hyperliquid.Exchange
	address  string

	mu             sync.RWMutex
	cachedBalance  *Balance
	balanceTime    time.Time
	cachedPosition []Position
	positionTime   time.Time

	szDecimals map[string]int
}

func hyperliquidCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), hyperliquidRequestTimeout)
}

// NewHyperliquidTrader creates a Hyperliquid adapter. The wallet address is
// derived from the private key.
func NewHyperliquidTrader(privateKeyHex string, testnet bool) (t *HyperliquidTrader, err error) {
	baseURL := hyperliquid.MainnetAPIURL
	if testnet {
		baseURL = hyperliquid.TestnetAPIURL
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse hyperliquid private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	ctx, cancel := hyperliquidCtx()
	defer cancel()

	// The SDK fetches perp and spot metadata inside NewExchange and panics
	// when that fetch fails.
	defer func() {
		if r := recover(); r != nil {
			t = nil
			err = fmt.Errorf("init hyperliquid client: %v", r)
		}
	}()
	exchange := hyperliquid.NewExchange(ctx, key, baseURL, nil, "", address, nil)

	t = &HyperliquidTrader{
		info:       exchange.Info(),
		exchange:   exchange,
		address:    address,
		szDecimals: make(map[string]int),
	}
	if merr := t.loadMeta(ctx); merr != nil {
		log.Printf("⚠️  Hyperliquid meta load failed, size precision will default: %v", merr)
	}
	return t, nil
}

func (t *HyperliquidTrader) loadMeta(ctx context.Context) error {
	meta, err := t.info.Meta(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	for _, asset := range meta.Universe {
		t.szDecimals[asset.Name] = asset.SzDecimals
	}
	t.mu.Unlock()
	return nil
}

// coinFromSymbol maps the canonical USDT-suffixed symbol to the exchange's
// bare coin name.
func coinFromSymbol(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
}

func symbolFromCoin(coin string) string {
	return strings.ToUpper(coin) + "USDT"
}

// GetBalance returns the account equity, cached briefly.
func (t *HyperliquidTrader) GetBalance() (*Balance, error) {
	t.mu.RLock()
	if t.cachedBalance != nil && time.Since(t.balanceTime) < hyperliquidCacheTTL {
		b := *t.cachedBalance
		t.mu.RUnlock()
		return &b, nil
	}
	t.mu.RUnlock()

	ctx, cancel := hyperliquidCtx()
	defer cancel()

	state, err := t.info.UserState(ctx, t.address)
	if err != nil {
		return nil, fmt.Errorf("fetch user state: %w", err)
	}

	accountValue := parseFloat(state.MarginSummary.AccountValue)
	marginUsed := parseFloat(state.MarginSummary.TotalMarginUsed)

	var unrealized float64
	for _, ap := range state.AssetPositions {
		unrealized += parseFloat(ap.Position.UnrealizedPnl)
	}

	balance := &Balance{
		TotalWalletBalance:    accountValue - unrealized,
		AvailableBalance:      accountValue - marginUsed,
		TotalUnrealizedProfit: unrealized,
	}

	t.mu.Lock()
	t.cachedBalance = balance
	t.balanceTime = time.Now()
	t.mu.Unlock()

	b := *balance
	return &b, nil
}

// GetPositions returns all open positions, cached briefly.
func (t *HyperliquidTrader) GetPositions() ([]Position, error) {
	t.mu.RLock()
	if t.cachedPosition != nil && time.Since(t.positionTime) < hyperliquidCacheTTL {
		out := make([]Position, len(t.cachedPosition))
		copy(out, t.cachedPosition)
		t.mu.RUnlock()
		return out, nil
	}
	t.mu.RUnlock()

	ctx, cancel := hyperliquidCtx()
	defer cancel()

	state, err := t.info.UserState(ctx, t.address)
	if err != nil {
		return nil, fmt.Errorf("fetch user state: %w", err)
	}

	var positions []Position
	for _, ap := range state.AssetPositions {
		p := ap.Position
		szi := parseFloat(p.Szi)
		if szi == 0 {
			continue
		}
		side := "long"
		if szi < 0 {
			side = "short"
			szi = -szi
		}
		entryPx := parseFloatPtr(p.EntryPx)
		markPx := entryPx
		if szi > 0 {
			markPx = parseFloat(p.PositionValue) / szi
		}
		positions = append(positions, Position{
			Symbol:           symbolFromCoin(p.Coin),
			Side:             side,
			Quantity:         szi,
			EntryPrice:       entryPx,
			MarkPrice:        markPx,
			UnrealizedProfit: parseFloat(p.UnrealizedPnl),
			Leverage:         float64(p.Leverage.Value),
			LiquidationPrice: parseFloatPtr(p.LiquidationPx),
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

func (t *HyperliquidTrader) invalidateCache() {
	t.mu.Lock()
	t.cachedBalance = nil
	t.cachedPosition = nil
	t.mu.Unlock()
}

// SetLeverage updates the coin's isolated leverage.
func (t *HyperliquidTrader) SetLeverage(symbol string, leverage int) error {
	ctx, cancel := hyperliquidCtx()
	defer cancel()

	coin := coinFromSymbol(symbol)
	if _, err := t.exchange.UpdateLeverage(ctx, leverage, coin, false); err != nil {
		return fmt.Errorf("set leverage %dx on %s: %w", leverage, coin, err)
	}
	return nil
}

// OpenLong opens a long with an aggressive IOC limit emulating a market
// order.
func (t *HyperliquidTrader) OpenLong(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return t.open(symbol, quantity, leverage, true)
}

// OpenShort opens a short with an aggressive IOC limit emulating a market
// order.
func (t *HyperliquidTrader) OpenShort(symbol string, quantity float64, leverage int) (*OrderResult, error) {
	return t.open(symbol, quantity, leverage, false)
}

func (t *HyperliquidTrader) open(symbol string, quantity float64, leverage int, isBuy bool) (*OrderResult, error) {
	if err := t.CancelAllOrders(symbol); err != nil {
		log.Printf("⚠️  %s: cancel resting orders before open failed: %v", symbol, err)
	}
	if err := t.SetLeverage(symbol, leverage); err != nil {
		return nil, err
	}

	coin := coinFromSymbol(symbol)
	mid, err := t.GetMarketPrice(symbol)
	if err != nil {
		return nil, err
	}

	limitPx := mid * (1 + iocSlippage)
	if !isBuy {
		limitPx = mid * (1 - iocSlippage)
	}
	limitPx = RoundToSigFigs(limitPx, priceSigFigs)
	size := t.roundSize(coin, quantity)

	ctx, cancel := hyperliquidCtx()
	defer cancel()

	status, err := t.exchange.Order(ctx, hyperliquid.CreateOrderRequest{
		Coin:  coin,
		IsBuy: isBuy,
		Price: limitPx,
		Size:  size,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("order %s sz=%.6f: %w", coin, size, err)
	}
	if status.Error != nil {
		return nil, fmt.Errorf("order %s sz=%.6f rejected: %s", coin, size, *status.Error)
	}

	t.invalidateCache()
	return &OrderResult{
		OrderID:  orderID(status),
		Symbol:   symbol,
		Quantity: size,
		Price:    mid,
		Status:   "FILLED",
	}, nil
}

// CloseLong closes a long position. quantity 0 closes the whole live
// position.
func (t *HyperliquidTrader) CloseLong(symbol string, quantity float64) (*OrderResult, error) {
	return t.closePosition(symbol, quantity, "long")
}

// CloseShort closes a short position. quantity 0 closes the whole live
// position.
func (t *HyperliquidTrader) CloseShort(symbol string, quantity float64) (*OrderResult, error) {
	return t.closePosition(symbol, quantity, "short")
}

func (t *HyperliquidTrader) closePosition(symbol string, quantity float64, posSide string) (*OrderResult, error) {
	if quantity == 0 {
		t.invalidateCache()
		positions, err := t.GetPositions()
		if err != nil {
			return nil, err
		}
		found := false
		for _, pos := range positions {
			if pos.Symbol == symbol && pos.Side == posSide {
				quantity = pos.Quantity
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s %s", ErrNoPosition, symbol, posSide)
		}
	}

	coin := coinFromSymbol(symbol)
	mid, err := t.GetMarketPrice(symbol)
	if err != nil {
		return nil, err
	}

	// Closing a long sells, closing a short buys.
	isBuy := posSide == "short"
	limitPx := mid * (1 - iocSlippage)
	if isBuy {
		limitPx = mid * (1 + iocSlippage)
	}
	limitPx = RoundToSigFigs(limitPx, priceSigFigs)
	size := t.roundSize(coin, quantity)

	ctx, cancel := hyperliquidCtx()
	defer cancel()

	status, err := t.exchange.Order(ctx, hyperliquid.CreateOrderRequest{
		Coin:  coin,
		IsBuy: isBuy,
		Price: limitPx,
		Size:  size,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
		ReduceOnly: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("close %s %s sz=%.6f: %w", posSide, coin, size, err)
	}
	if status.Error != nil {
		return nil, fmt.Errorf("close %s %s sz=%.6f rejected: %s", posSide, coin, size, *status.Error)
	}

	if err := t.CancelAllOrders(symbol); err != nil {
		log.Printf("⚠️  %s: cancel resting orders after close failed: %v", symbol, err)
	}

	t.invalidateCache()
	return &OrderResult{
		OrderID:  orderID(status),
		Symbol:   symbol,
		Quantity: size,
		Price:    mid,
		Status:   "FILLED",
	}, nil
}

// CancelAllOrders cancels every resting order for the symbol's coin.
func (t *HyperliquidTrader) CancelAllOrders(symbol string) error {
	ctx, cancel := hyperliquidCtx()
	defer cancel()

	coin := coinFromSymbol(symbol)
	orders, err := t.info.OpenOrders(ctx, t.address)
	if err != nil {
		return fmt.Errorf("list open orders: %w", err)
	}
	for _, o := range orders {
		if o.Coin != coin {
			continue
		}
		if _, err := t.exchange.Cancel(ctx, coin, o.Oid); err != nil {
			return fmt.Errorf("cancel order %d on %s: %w", o.Oid, coin, err)
		}
	}
	return nil
}

// GetMarketPrice returns the current mid price for the symbol's coin.
func (t *HyperliquidTrader) GetMarketPrice(symbol string) (float64, error) {
	ctx, cancel := hyperliquidCtx()
	defer cancel()

	coin := coinFromSymbol(symbol)
	mids, err := t.info.AllMids(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch mids: %w", err)
	}
	mid, ok := mids[coin]
	if !ok {
		return 0, fmt.Errorf("no mid price for %s", coin)
	}
	return parseFloat(mid), nil
}

// CalculatePositionSize converts a risk budget to a coin quantity.
func (t *HyperliquidTrader) CalculatePositionSize(balance, riskPercent, price float64, leverage int) float64 {
	riskAmount := balance * (riskPercent / 100.0)
	positionValue := riskAmount * float64(leverage)
	return positionValue / price
}

// SetStopLoss places a reduce-only stop-market trigger.
func (t *HyperliquidTrader) SetStopLoss(symbol, positionSide string, quantity, stopPrice float64) error {
	return t.placeTrigger(symbol, positionSide, quantity, stopPrice, hyperliquid.StopLoss)
}

// SetTakeProfit places a reduce-only take-profit trigger.
func (t *HyperliquidTrader) SetTakeProfit(symbol, positionSide string, quantity, triggerPrice float64) error {
	return t.placeTrigger(symbol, positionSide, quantity, triggerPrice, hyperliquid.TakeProfit)
}

func (t *HyperliquidTrader) placeTrigger(symbol, positionSide string, quantity, triggerPrice float64, tpsl hyperliquid.Tpsl) error {
	coin := coinFromSymbol(symbol)
	isBuy := strings.EqualFold(positionSide, "SHORT")
	px := RoundToSigFigs(triggerPrice, priceSigFigs)
	size := t.roundSize(coin, quantity)

	ctx, cancel := hyperliquidCtx()
	defer cancel()

	status, err := t.exchange.Order(ctx, hyperliquid.CreateOrderRequest{
		Coin:  coin,
		IsBuy: isBuy,
		Price: px,
		Size:  size,
		OrderType: hyperliquid.OrderType{
			Trigger: &hyperliquid.TriggerOrderType{
				TriggerPx: px,
				IsMarket:  true,
				Tpsl:      tpsl,
			},
		},
		ReduceOnly: true,
	}, nil)
	if err != nil {
		return fmt.Errorf("place %s trigger on %s at %.4f: %w", tpsl, coin, px, err)
	}
	if status.Error != nil {
		return fmt.Errorf("place %s trigger on %s at %.4f: %s", tpsl, coin, px, *status.Error)
	}
	return nil
}

// roundSize floors a size to the coin's szDecimals.
func (t *HyperliquidTrader) roundSize(coin string, size float64) float64 {
	t.mu.RLock()
	decimals, ok := t.szDecimals[coin]
	t.mu.RUnlock()
	if !ok {
		decimals = fallbackQuantityPrecision
	}
	factor := math.Pow(10, float64(decimals))
	return math.Floor(size*factor) / factor
}

// RoundToSigFigs rounds a price to the given number of significant figures.
func RoundToSigFigs(v float64, figs int) float64 {
	if v == 0 {
		return 0
	}
	magnitude := math.Ceil(math.Log10(math.Abs(v)))
	power := float64(figs) - magnitude
	factor := math.Pow(10, power)
	rounded := math.Round(v*factor) / factor
	// Renormalize through decimal formatting to drop float drift.
	out, _ := strconv.ParseFloat(strconv.FormatFloat(rounded, 'g', figs, 64), 64)
	return out
}

func parseFloatPtr(s *string) float64 {
	if s == nil {
		return 0
	}
	return parseFloat(*s)
}

// orderID extracts the exchange order id from a placement status. Filled and
// resting carry it in different branches.
func orderID(status hyperliquid.OrderStatus) int64 {
	if status.Resting != nil {
		return status.Resting.Oid
	}
	if status.Filled != nil {
		return int64(status.Filled.Oid)
	}
	return 0
}
