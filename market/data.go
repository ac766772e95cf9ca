package market

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the Binance futures REST endpoint used when the provider
// is constructed without an explicit URL.
const DefaultBaseURL = "https://fapi.binance.com"

// Provider fetches klines, open interest and funding rates from a
// Binance-style futures REST API and turns them into multi-timeframe
// snapshots. One instance per agent; no process-wide state.
type Provider struct {
	baseURL string
	client  *http.Client
}

// NewProvider creates a market data provider. An empty baseURL selects the
// Binance futures endpoint.
func NewProvider(baseURL string) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// OIData open interest snapshot
type OIData struct {
	Latest  float64
	Average float64
}

// TimeframeSeries indicator series for one kline interval, oldest to latest.
type TimeframeSeries struct {
	Interval  string
	MidPrices []float64
	Volume    []float64
	EMA20     []float64
	MACD      []float64
	RSI7      []float64
	RSI14     []float64
	ATR3      float64
	ATR14     float64
}

// Data a full market snapshot for one symbol: spot indicator values for the
// short timeframe plus three derived timeframe series.
type Data struct {
	Symbol         string
	CurrentPrice   float64
	CurrentEMA20   float64
	CurrentMACD    float64
	CurrentRSI7    float64
	OpenInterest   *OIData
	FundingRate    float64
	ShortInterval  string
	MediumInterval string
	LongInterval   string
	Short          *TimeframeSeries
	Medium         *TimeframeSeries
	Long           *TimeframeSeries
}

// OIValueUSD is the open-interest notional used by the liquidity filter.
func (d *Data) OIValueUSD() float64 {
	if d.OpenInterest == nil {
		return 0
	}
	return d.OpenInterest.Latest * d.CurrentPrice
}

// Kline one candle
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

const seriesPoints = 10

// GetSnapshot builds the snapshot for a symbol. shortInterval drives the
// medium/long timeframes via the interval scaling rule. Open interest and
// funding rate failures degrade to zero values rather than failing the
// snapshot.
func (p *Provider) GetSnapshot(symbol, shortInterval string) (*Data, error) {
	symbol = Normalize(symbol)

	medium, long, err := DeriveTimeframes(shortInterval)
	if err != nil {
		return nil, err
	}

	shortKlines, err := p.getKlines(symbol, shortInterval, 120)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s klines: %w", symbol, shortInterval, err)
	}
	if len(shortKlines) == 0 {
		return nil, fmt.Errorf("empty %s kline response for %s", shortInterval, symbol)
	}

	data := &Data{
		Symbol:         symbol,
		CurrentPrice:   shortKlines[len(shortKlines)-1].Close,
		CurrentEMA20:   lastOrZero(emaSequence(closes(shortKlines), 20)),
		CurrentMACD:    lastOrZero(macdHistSequence(closes(shortKlines))),
		CurrentRSI7:    lastOrZero(rsiSequence(closes(shortKlines), 7)),
		ShortInterval:  shortInterval,
		MediumInterval: medium,
		LongInterval:   long,
		Short:          buildSeries(shortInterval, shortKlines),
	}

	if mk, err := p.getKlines(symbol, medium, 80); err != nil {
		log.Printf("⚠️  %s: %s klines unavailable: %v", symbol, medium, err)
	} else {
		data.Medium = buildSeries(medium, mk)
	}
	if lk, err := p.getKlines(symbol, long, 60); err != nil {
		log.Printf("⚠️  %s: %s klines unavailable: %v", symbol, long, err)
	} else {
		data.Long = buildSeries(long, lk)
	}

	oi, err := p.getOpenInterest(symbol)
	if err != nil {
		log.Printf("⚠️  %s: open interest unavailable: %v", symbol, err)
		oi = &OIData{}
	}
	data.OpenInterest = oi

	rate, err := p.getFundingRate(symbol)
	if err != nil {
		log.Printf("⚠️  %s: funding rate unavailable: %v", symbol, err)
		rate = 0
	}
	data.FundingRate = rate

	return data, nil
}

func buildSeries(interval string, klines []Kline) *TimeframeSeries {
	cs := closes(klines)
	s := &TimeframeSeries{
		Interval:  interval,
		MidPrices: lastN(cs, seriesPoints),
		Volume:    lastN(volumes(klines), seriesPoints),
		EMA20:     lastN(emaSequence(cs, 20), seriesPoints),
		MACD:      lastN(macdHistSequence(cs), seriesPoints),
		RSI7:      lastN(rsiSequence(cs, 7), seriesPoints),
		RSI14:     lastN(rsiSequence(cs, 14), seriesPoints),
		ATR3:      atr(klines, 3),
		ATR14:     atr(klines, 14),
	}
	return s
}

func (p *Provider) getKlines(symbol, interval string, limit int) ([]Kline, error) {
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d",
		p.baseURL, symbol, interval, limit)

	body, err := p.getJSON(url)
	if err != nil {
		return nil, err
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("exchange error code=%d msg=%s", apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty kline array (unknown symbol?)")
	}

	klines := make([]Kline, 0, len(raw))
	for i, item := range raw {
		if len(item) < 7 {
			return nil, fmt.Errorf("kline %d: want >=7 fields, got %d", i, len(item))
		}
		vals := make([]float64, 7)
		for j := 0; j < 7; j++ {
			v, err := toFloat(item[j])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j, err)
			}
			vals[j] = v
		}
		klines = append(klines, Kline{
			OpenTime:  int64(vals[0]),
			Open:      vals[1],
			High:      vals[2],
			Low:       vals[3],
			Close:     vals[4],
			Volume:    vals[5],
			CloseTime: int64(vals[6]),
		})
	}
	return klines, nil
}

func (p *Provider) getOpenInterest(symbol string) (*OIData, error) {
	body, err := p.getJSON(fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", p.baseURL, symbol))
	if err != nil {
		return nil, err
	}
	var result struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	oi, err := strconv.ParseFloat(result.OpenInterest, 64)
	if err != nil {
		return nil, fmt.Errorf("parse openInterest: %w", err)
	}
	// The endpoint reports a point value only; the average needs history we
	// do not keep, so it mirrors the latest value.
	return &OIData{Latest: oi, Average: oi}, nil
}

func (p *Provider) getFundingRate(symbol string) (float64, error) {
	body, err := p.getJSON(fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", p.baseURL, symbol))
	if err != nil {
		return 0, err
	}
	var result struct {
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, err
	}
	rate, err := strconv.ParseFloat(result.LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("parse lastFundingRate: %w", err)
	}
	return rate, nil
}

func (p *Provider) getJSON(url string) ([]byte, error) {
	resp, err := p.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Format renders a snapshot as the deterministic text block embedded in the
// user prompt.
func Format(d *Data) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("current_price = %.2f, current_ema20 = %.3f, current_macd = %.3f, current_rsi (7 period) = %.3f\n\n",
		d.CurrentPrice, d.CurrentEMA20, d.CurrentMACD, d.CurrentRSI7))

	if d.OpenInterest != nil {
		sb.WriteString(fmt.Sprintf("Open Interest: Latest: %.2f Average: %.2f\n", d.OpenInterest.Latest, d.OpenInterest.Average))
	}
	sb.WriteString(fmt.Sprintf("Funding Rate: %.2e\n\n", d.FundingRate))

	for _, s := range []*TimeframeSeries{d.Short, d.Medium, d.Long} {
		if s == nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s series (oldest → latest):\n", s.Interval))
		writeSeries(&sb, "Mid prices", s.MidPrices)
		writeSeries(&sb, "Volume", s.Volume)
		writeSeries(&sb, "EMA20", s.EMA20)
		writeSeries(&sb, "MACD", s.MACD)
		writeSeries(&sb, "RSI (7-Period)", s.RSI7)
		writeSeries(&sb, "RSI (14-Period)", s.RSI14)
		sb.WriteString(fmt.Sprintf("ATR: 3-period %.3f, 14-period %.3f\n\n", s.ATR3, s.ATR14))
	}

	return sb.String()
}

func writeSeries(sb *strings.Builder, name string, values []float64) {
	if len(values) == 0 {
		return
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprintf("%.3f", v)
	}
	sb.WriteString(fmt.Sprintf("%s: [%s]\n", name, strings.Join(out, ", ")))
}

// Normalize upper-cases a symbol and appends USDT when missing.
func Normalize(symbol string) string {
	symbol = strings.ToUpper(strings.ReplaceAll(symbol, " ", ""))
	if strings.HasSuffix(symbol, "USDT") {
		return symbol
	}
	return symbol + "USDT"
}

func toFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseFloat(val, 64)
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

func closes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

func volumes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Volume
	}
	return out
}

func lastN(seq []float64, n int) []float64 {
	if len(seq) <= n {
		return seq
	}
	return seq[len(seq)-n:]
}

func lastOrZero(seq []float64) float64 {
	if len(seq) == 0 {
		return 0
	}
	return seq[len(seq)-1]
}
