package stream

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"

	"sigscan/internal/market"
)

// DefaultBinanceWSURL is the Binance USDⓈ-M futures raw stream endpoint.
const DefaultBinanceWSURL = "wss://fstream.binance.com/ws"

// BinanceCodec speaks the Binance futures kline stream protocol: topics are
// subscribed with {"method":"SUBSCRIBE","params":[...],"id":n} and kline
// frames arrive as {"e":"kline","s":...,"k":{...}} with string-typed prices.
type BinanceCodec struct {
	url    string
	nextID uint64
}

// NewBinanceCodec builds a codec for the given stream URL; an empty url
// selects the production endpoint.
func NewBinanceCodec(url string) *BinanceCodec {
	if url == "" {
		url = DefaultBinanceWSURL
	}
	return &BinanceCodec{url: url}
}

func (c *BinanceCodec) Exchange() market.Exchange { return market.Binance }
func (c *BinanceCodec) URL() string               { return c.url }

func (c *BinanceCodec) Topic(key market.Key) string {
	return strings.ToLower(key.Symbol) + "@kline_" + key.Timeframe.Meta().BinanceInterval
}

type binanceControl struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

func (c *BinanceCodec) SubscribePayload(topics []string) interface{} {
	return binanceControl{Method: "SUBSCRIBE", Params: topics, ID: atomic.AddUint64(&c.nextID, 1)}
}

func (c *BinanceCodec) UnsubscribePayload(topics []string) interface{} {
	return binanceControl{Method: "UNSUBSCRIBE", Params: topics, ID: atomic.AddUint64(&c.nextID, 1)}
}

type binanceKlineFrame struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	K      struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		Close    string `json:"c"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

func (c *BinanceCodec) Decode(msg []byte) ([]Event, bool) {
	var frame binanceKlineFrame
	if err := json.Unmarshal(msg, &frame); err != nil || frame.Event != "kline" {
		return nil, false
	}
	tf, ok := timeframeFromBinanceInterval(frame.K.Interval)
	if !ok {
		return nil, false
	}

	o, err1 := strconv.ParseFloat(frame.K.Open, 64)
	h, err2 := strconv.ParseFloat(frame.K.High, 64)
	l, err3 := strconv.ParseFloat(frame.K.Low, 64)
	cl, err4 := strconv.ParseFloat(frame.K.Close, 64)
	v, err5 := strconv.ParseFloat(frame.K.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return nil, false
	}

	return []Event{{
		Key: market.NewKey(market.Binance, frame.Symbol, tf),
		Candle: market.Candle{
			OpenTime: frame.K.OpenTime,
			Open:     o,
			High:     h,
			Low:      l,
			Close:    cl,
			Volume:   v,
			Closed:   frame.K.Final,
		},
	}}, true
}

func timeframeFromBinanceInterval(interval string) (market.Timeframe, bool) {
	for _, tf := range []market.Timeframe{market.TF5m, market.TF15m, market.TF1h, market.TF4h} {
		if tf.Meta().BinanceInterval == interval {
			return tf, true
		}
	}
	return "", false
}
