// Package detector implements the three stateless signal evaluators: Smart
// Pump, Pump/Dump and RSI divergence. Every detector is a pure function of a
// closed-candle window, the current derived metrics and the user config, and
// returns at most one signal per invocation. Missing inputs (unavailable
// open interest, insufficient history) always mean "no signal", never zero.
package detector

import (
	"math"

	"sigscan/internal/indicator"
	"sigscan/internal/market"
	"sigscan/internal/metrics"
)

// rangeFloor guards the candle-range denominator in the body-ratio check.
const rangeFloor = 1e-9

// volSMAPeriod is the averaging window for the volume multiple.
const volSMAPeriod = 20

// minDivergenceCandles is the shortest closed window the divergence scan
// accepts.
const minDivergenceCandles = 25

// divergenceLookbacks are scanned in this order; the first match wins.
var divergenceLookbacks = []int{5, 8, 13, 21}

// Evaluate runs the named module against a closed-only candle window.
// window must already exclude any trailing open candle.
func Evaluate(mod Module, window []market.Candle, d metrics.Derived, cfg UserConfig) *market.Signal {
	switch mod {
	case ModuleSmartPump:
		return SmartPump(window, d, cfg.SmartPump)
	case ModulePumpDump:
		return PumpDump(window, d, cfg.PumpDump)
	case ModuleDivergence:
		return Divergence(window, d, cfg.Divergence)
	default:
		return nil
	}
}

// volumeMultiple relates the current candle's notional volume to the SMA of
// the preceding candles' notionals. Falls back to 1 while the average is not
// yet available.
func volumeMultiple(window []market.Candle) float64 {
	idx := len(window) - 1
	notionals := make([]float64, len(window))
	for i, c := range window {
		notionals[i] = c.Notional()
	}
	avg, ok := indicator.SMA(notionals[:idx], volSMAPeriod)
	if !ok || avg == 0 {
		return 1
	}
	return notionals[idx] / avg
}

func priceChangePct(c market.Candle) (float64, bool) {
	if c.Open == 0 {
		return 0, false
	}
	return (c.Close - c.Open) / c.Open * 100, true
}

// SmartPump flags fresh-position accumulation: open interest must be rising
// by at least MinOIPct while the current candle moves in either direction.
// Both sides require OI growth; a falling OI never signals.
func SmartPump(window []market.Candle, d metrics.Derived, cfg SmartPumpConfig) *market.Signal {
	if len(window) < 2 || d.OI == nil {
		return nil
	}
	cur := window[len(window)-1]
	change, ok := priceChangePct(cur)
	if !ok || change == 0 {
		return nil
	}
	if d.OI.PctChange < cfg.MinOIPct {
		return nil
	}

	side := market.SideLong
	if change < 0 {
		side = market.SideShort
	}

	abs := math.Abs(change)
	if abs < cfg.MinPricePct || abs > cfg.MaxPricePct {
		return nil
	}

	volMult := volumeMultiple(window)
	if volMult < cfg.MinVolX {
		return nil
	}

	if cfg.StrictCVD {
		if side == market.SideLong && d.CVDUsd <= 0 {
			return nil
		}
		if side == market.SideShort && d.CVDUsd >= 0 {
			return nil
		}
	}

	return &market.Signal{
		Side:  side,
		Kind:  market.KindSmartPump,
		Price: cur.Close,
		Detail: market.SignalDetail{
			VolMult:        volMult,
			PriceChangePct: change,
			OIPct:          d.OI.PctChange,
			TotalOIUsd:     d.OI.TotalUsd,
			CVDUsd:         d.CVDUsd,
		},
	}
}

// PumpDump flags one-candle pump or dump moves confirmed by open interest
// and volume delta agreeing on the same direction, a dominant candle body
// and an elevated volume multiple. The candle color must match the move:
// a pump on a red candle is rejected, and vice versa.
func PumpDump(window []market.Candle, d metrics.Derived, cfg PumpDumpConfig) *market.Signal {
	if len(window) < 2 || d.OI == nil {
		return nil
	}
	cur := window[len(window)-1]

	oiLong := d.OI.PctChange >= cfg.OIPct
	oiShort := d.OI.PctChange <= -cfg.OIPct
	if !oiLong && !oiShort {
		return nil
	}

	cvdLong := d.CVDUsd >= cfg.CVDUsdMin
	cvdShort := d.CVDUsd <= -cfg.CVDUsdMin

	isPump := oiLong && cvdLong
	isDump := oiShort && cvdShort
	if !isPump && !isDump {
		return nil
	}

	change, ok := priceChangePct(cur)
	if !ok {
		return nil
	}
	body := math.Abs(cur.Close - cur.Open)
	candleRange := math.Max(rangeFloor, cur.High-cur.Low)
	bodyPct := body / candleRange * 100
	if bodyPct < cfg.MinBodyPct {
		return nil
	}

	volMult := volumeMultiple(window)
	if volMult < cfg.MinVolX {
		return nil
	}

	if isPump && change <= 0 {
		return nil
	}
	if isDump && change >= 0 {
		return nil
	}

	side := market.SideLong
	if isDump {
		side = market.SideShort
	}
	return &market.Signal{
		Side:  side,
		Kind:  market.KindPumpDump,
		Price: cur.Close,
		Detail: market.SignalDetail{
			VolMult:        volMult,
			PriceChangePct: change,
			BodyPct:        bodyPct,
			OIPct:          d.OI.PctChange,
			TotalOIUsd:     d.OI.TotalUsd,
			CVDUsd:         d.CVDUsd,
		},
	}
}

// Divergence scans for price/RSI divergence against a fixed ladder of
// lookback offsets, returning on the first match. Strict mode additionally
// demands a same-direction MACD/signal crossover on the current candle,
// with the MACD value on the right side of zero.
func Divergence(window []market.Candle, d metrics.Derived, cfg DivergenceConfig) *market.Signal {
	if len(window) < minDivergenceCandles {
		return nil
	}

	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}
	rsiSeries := indicator.RSI(closes, cfg.RSIPeriod)
	if rsiSeries == nil {
		return nil
	}

	idx := len(window) - 1
	priceNow := closes[idx]
	rsiNow := rsiSeries[idx]
	if math.IsNaN(rsiNow) {
		return nil
	}

	var (
		side     market.Side
		lookback int
		rsiPrev  float64
		found    bool
	)
	for _, lb := range divergenceLookbacks {
		prevIdx := idx - lb
		if prevIdx < 0 {
			continue
		}
		pricePrev := closes[prevIdx]
		prev := rsiSeries[prevIdx]
		if math.IsNaN(prev) {
			continue
		}

		if priceNow < pricePrev && rsiNow > prev+cfg.MinDiff && prev <= cfg.Oversold {
			side, lookback, rsiPrev, found = market.SideLong, lb, prev, true
			break
		}
		if priceNow > pricePrev && rsiNow < prev-cfg.MinDiff && prev >= cfg.Overbought {
			side, lookback, rsiPrev, found = market.SideShort, lb, prev, true
			break
		}
	}
	if !found {
		return nil
	}

	if cfg.Strict && !macdConfirms(closes, side, cfg) {
		return nil
	}

	return &market.Signal{
		Side:  side,
		Kind:  market.KindDivergence,
		Price: priceNow,
		Detail: market.SignalDetail{
			VolMult:  volumeMultiple(window),
			RSINow:   rsiNow,
			RSIPrev:  rsiPrev,
			Lookback: lookback,
			Strict:   cfg.Strict,
			OIPct:    oiPctOrZero(d),
			CVDUsd:   d.CVDUsd,
		},
	}
}

func macdConfirms(closes []float64, side market.Side, cfg DivergenceConfig) bool {
	macdLine, signalLine, _, ok := indicator.MACD(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	if !ok {
		return false
	}
	// The MACD line starts where the slow EMA is seeded; translate the
	// current-candle index into MACD-line coordinates.
	offset := len(closes) - len(macdLine)
	macdIdx := len(closes) - 1 - offset
	if macdIdx < 1 {
		return false
	}

	crossLong := macdLine[macdIdx-1] < signalLine[macdIdx-1] && macdLine[macdIdx] >= signalLine[macdIdx]
	crossShort := macdLine[macdIdx-1] > signalLine[macdIdx-1] && macdLine[macdIdx] <= signalLine[macdIdx]
	macdNow := macdLine[macdIdx]

	if side == market.SideLong {
		return crossLong && macdNow <= 0
	}
	return crossShort && macdNow >= 0
}

// oiPctOrZero is for informational detail fields only; the divergence gates
// themselves never read open interest.
func oiPctOrZero(d metrics.Derived) float64 {
	if d.OI == nil {
		return 0
	}
	return d.OI.PctChange
}
