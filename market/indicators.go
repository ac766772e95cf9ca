package market

import "math"

// emaSequence computes an EMA series incrementally, seeded with the SMA of
// the first period values. Input must be ordered oldest to latest.
func emaSequence(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	seq := make([]float64, 0, len(values)-period+1)
	multiplier := 2.0 / float64(period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	seq = append(seq, ema)

	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		seq = append(seq, ema)
	}
	return seq
}

// macdHistSequence returns the MACD histogram series:
// DIF = EMA12 - EMA26, DEA = 9-period EMA of DIF, HIST = (DIF - DEA) * 2.
// The x2 follows the exchange chart convention.
func macdHistSequence(values []float64) []float64 {
	ema12 := emaSequence(values, 12)
	ema26 := emaSequence(values, 26)
	if len(ema12) == 0 || len(ema26) == 0 {
		return nil
	}

	dif := make([]float64, 0, len(ema26))
	offset := len(ema12) - len(ema26)
	for i := range ema26 {
		dif = append(dif, ema12[offset+i]-ema26[i])
	}

	dea := emaSequence(dif, 9)
	if len(dea) == 0 {
		return dif
	}

	hist := make([]float64, 0, len(dea))
	difOffset := len(dif) - len(dea)
	for i := range dea {
		hist = append(hist, (dif[difOffset+i]-dea[i])*2.0)
	}
	return hist
}

// rsiSequence computes an RSI series with Wilder smoothing.
func rsiSequence(values []float64, period int) []float64 {
	if len(values) <= period {
		return nil
	}

	seq := make([]float64, 0, len(values)-period)

	gains, losses := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	seq = append(seq, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain = (avgGain*float64(period-1) + change) / float64(period)
			avgLoss = (avgLoss * float64(period-1)) / float64(period)
		} else {
			avgGain = (avgGain * float64(period-1)) / float64(period)
			avgLoss = (avgLoss*float64(period-1) + (-change)) / float64(period)
		}
		seq = append(seq, rsiValue(avgGain, avgLoss))
	}
	return seq
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// atr computes the latest Average True Range with Wilder smoothing. Returns 0
// when there are not enough candles.
func atr(klines []Kline, period int) float64 {
	if len(klines) <= period {
		return 0
	}

	trs := make([]float64, len(klines))
	for i := 1; i < len(klines); i++ {
		high, low, prevClose := klines[i].High, klines[i].Low, klines[i-1].Close
		trs[i] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += trs[i]
	}
	value := sum / float64(period)

	for i := period + 1; i < len(klines); i++ {
		value = (value*float64(period-1) + trs[i]) / float64(period)
	}
	return value
}
