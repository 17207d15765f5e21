// Package indicator provides the streaming technical indicators used by the
// signal detectors. All functions are pure: they take a numeric series and
// return values, with no state and no I/O.
//
// Unavailable values (insufficient history) are reported as ok=false for
// scalar results and as NaN entries inside series results.
package indicator

import "math"

// minDenom guards divisions against a zero average loss in RSI.
const minDenom = 1e-12

func sum(series []float64) float64 {
	var s float64
	for _, v := range series {
		s += v
	}
	return s
}

// SMA returns the arithmetic mean of the last period elements.
func SMA(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}
	return sum(series[len(series)-period:]) / float64(period), true
}

// EMA returns the exponential moving average over the whole series, seeded
// with the SMA of the first period elements and smoothed with k = 2/(period+1).
func EMA(series []float64, period int) (float64, bool) {
	if period <= 0 || len(series) < period {
		return 0, false
	}
	k := 2 / float64(period+1)
	prev := sum(series[:period]) / float64(period)
	for i := period; i < len(series); i++ {
		prev = series[i]*k + prev*(1-k)
	}
	return prev, true
}

// RSI computes Wilder's smoothed RSI over closes and returns a series the
// same length as the input. The first period entries are NaN. Returns nil
// when the input is too short for even one value.
func RSI(closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	series := make([]float64, len(closes))
	for i := 0; i < period; i++ {
		series[i] = math.NaN()
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		d := closes[i] - closes[i-1]
		if d >= 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	series[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		var g, l float64
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		series[i] = rsiValue(avgGain, avgLoss)
	}
	return series
}

func rsiValue(avgGain, avgLoss float64) float64 {
	rs := avgGain / math.Max(avgLoss, minDenom)
	return 100 - 100/(1+rs)
}

// MACD computes the MACD line and its signal line over closes. Both EMAs are
// seeded with the SMA of the first slow closes, so the MACD line starts at
// index slow of the input. The signal line holds the simple average of the
// first signal MACD values until smoothing takes over. hist is the final
// MACD-minus-signal value. ok is false (and both slices nil) when the input
// is shorter than slow+signal.
func MACD(closes []float64, fast, slow, signal int) (macdLine, signalLine []float64, hist float64, ok bool) {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(closes) < slow+signal {
		return nil, nil, 0, false
	}

	kf := 2 / float64(fast+1)
	ks := 2 / float64(slow+1)
	seed := sum(closes[:slow]) / float64(slow)
	ef, es := seed, seed

	macdLine = make([]float64, 0, len(closes)-slow)
	for i := slow; i < len(closes); i++ {
		ef = closes[i]*kf + ef*(1-kf)
		es = closes[i]*ks + es*(1-ks)
		macdLine = append(macdLine, ef-es)
	}

	k := 2 / float64(signal+1)
	prev := sum(macdLine[:signal]) / float64(signal)
	signalLine = make([]float64, len(macdLine))
	for i := 0; i < signal; i++ {
		signalLine[i] = prev
	}
	for i := signal; i < len(macdLine); i++ {
		prev = macdLine[i]*k + prev*(1-k)
		signalLine[i] = prev
	}

	last := len(macdLine) - 1
	return macdLine, signalLine, macdLine[last] - signalLine[last], true
}
