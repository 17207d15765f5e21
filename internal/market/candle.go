package market

import (
	"fmt"
	"strings"
)

// Exchange identifies a supported derivatives venue.
type Exchange string

const (
	Binance Exchange = "binance"
	Bybit   Exchange = "bybit"
)

// Exchanges lists every supported venue in a stable order.
var Exchanges = []Exchange{Binance, Bybit}

// IsValid reports whether ex is a supported exchange.
func (ex Exchange) IsValid() bool { return ex == Binance || ex == Bybit }

// Candle is one OHLCV bar for a fixed time bucket. OpenTime is in
// milliseconds since epoch. Closed marks the bar as finalized; a window
// holds at most one non-closed candle and it is always the last element.
type Candle struct {
	OpenTime int64   `json:"t"`
	Open     float64 `json:"o"`
	High     float64 `json:"h"`
	Low      float64 `json:"l"`
	Close    float64 `json:"c"`
	Volume   float64 `json:"v"`
	Closed   bool    `json:"x"`
}

// Notional returns the candle volume in quote currency, approximated at the
// close price.
func (c Candle) Notional() float64 { return c.Volume * c.Close }

// Key addresses one candle window: venue, symbol and interval.
type Key struct {
	Exchange  Exchange
	Symbol    string
	Timeframe Timeframe
}

// NewKey normalizes the symbol to upper case, matching the wire format of
// both venues.
func NewKey(ex Exchange, symbol string, tf Timeframe) Key {
	return Key{Exchange: ex, Symbol: strings.ToUpper(symbol), Timeframe: tf}
}

// String renders the key in the persisted form, e.g. "BINANCE:BTCUSDT:15m".
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", strings.ToUpper(string(k.Exchange)), k.Symbol, k.Timeframe)
}
