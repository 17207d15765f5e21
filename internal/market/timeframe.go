package market

import "strings"

// Timeframe is the canonical candle interval used throughout the scanner.
type Timeframe string

// TimeframeMeta holds the per-exchange wire encodings of a Timeframe.
type TimeframeMeta struct {
	Minutes         int
	BinanceInterval string // kline stream/REST interval, e.g. "5m", "1h"
	BybitInterval   string // kline stream/REST interval, e.g. "5", "60"
	BinanceOIPeriod string // openInterestHist period, e.g. "5m", "1h"
	BybitOIInterval string // open-interest intervalTime, e.g. "5min", "1h"
}

const (
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"

	// DefaultTimeframe is the documented fallback for unrecognized input.
	DefaultTimeframe = TF15m
)

var timeframes = map[Timeframe]TimeframeMeta{
	TF5m:  {Minutes: 5, BinanceInterval: "5m", BybitInterval: "5", BinanceOIPeriod: "5m", BybitOIInterval: "5min"},
	TF15m: {Minutes: 15, BinanceInterval: "15m", BybitInterval: "15", BinanceOIPeriod: "15m", BybitOIInterval: "15min"},
	TF1h:  {Minutes: 60, BinanceInterval: "1h", BybitInterval: "60", BinanceOIPeriod: "1h", BybitOIInterval: "1h"},
	TF4h:  {Minutes: 240, BinanceInterval: "4h", BybitInterval: "240", BinanceOIPeriod: "4h", BybitOIInterval: "4h"},
}

// IsValid reports whether tf is one of the supported timeframes.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframes[tf]
	return ok
}

// Meta returns the wire encodings for tf. Unrecognized timeframes resolve to
// the default so a bad setting degrades instead of breaking the pipeline.
func (tf Timeframe) Meta() TimeframeMeta {
	if meta, ok := timeframes[tf]; ok {
		return meta
	}
	return timeframes[DefaultTimeframe]
}

// Minutes returns the bucket length of tf in minutes.
func (tf Timeframe) Minutes() int { return tf.Meta().Minutes }

// ParseTimeframe normalizes canonical ("15m") and exchange-specific ("15",
// "60", "240") spellings. Anything unrecognized falls back to the default.
func ParseTimeframe(s string) Timeframe {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "5", "5m":
		return TF5m
	case "15", "15m":
		return TF15m
	case "60", "1h":
		return TF1h
	case "240", "4h":
		return TF4h
	default:
		return DefaultTimeframe
	}
}
