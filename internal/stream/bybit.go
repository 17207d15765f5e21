package stream

import (
	"encoding/json"
	"strconv"
	"strings"

	"sigscan/internal/market"
)

// DefaultBybitWSURL is the Bybit v5 linear perpetual public stream endpoint.
const DefaultBybitWSURL = "wss://stream.bybit.com/v5/public/linear"

// BybitCodec speaks the Bybit v5 kline stream protocol: topics are subscribed
// with {"op":"subscribe","args":[...]} and kline frames carry a data array
// under a "kline.<interval>.<SYMBOL>" topic.
type BybitCodec struct {
	url string
}

// NewBybitCodec builds a codec for the given stream URL; an empty url selects
// the production endpoint.
func NewBybitCodec(url string) *BybitCodec {
	if url == "" {
		url = DefaultBybitWSURL
	}
	return &BybitCodec{url: url}
}

func (c *BybitCodec) Exchange() market.Exchange { return market.Bybit }
func (c *BybitCodec) URL() string               { return c.url }

func (c *BybitCodec) Topic(key market.Key) string {
	return "kline." + key.Timeframe.Meta().BybitInterval + "." + key.Symbol
}

type bybitControl struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (c *BybitCodec) SubscribePayload(topics []string) interface{} {
	return bybitControl{Op: "subscribe", Args: topics}
}

func (c *BybitCodec) UnsubscribePayload(topics []string) interface{} {
	return bybitControl{Op: "unsubscribe", Args: topics}
}

type bybitKlineFrame struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start   int64  `json:"start"`
		Open    string `json:"open"`
		Close   string `json:"close"`
		High    string `json:"high"`
		Low     string `json:"low"`
		Volume  string `json:"volume"`
		Confirm bool   `json:"confirm"`
	} `json:"data"`
}

func (c *BybitCodec) Decode(msg []byte) ([]Event, bool) {
	var frame bybitKlineFrame
	if err := json.Unmarshal(msg, &frame); err != nil || !strings.HasPrefix(frame.Topic, "kline.") {
		return nil, false
	}
	parts := strings.Split(frame.Topic, ".")
	if len(parts) != 3 {
		return nil, false
	}
	tf, ok := timeframeFromBybitInterval(parts[1])
	if !ok {
		return nil, false
	}
	key := market.NewKey(market.Bybit, parts[2], tf)

	events := make([]Event, 0, len(frame.Data))
	for _, d := range frame.Data {
		o, err1 := strconv.ParseFloat(d.Open, 64)
		h, err2 := strconv.ParseFloat(d.High, 64)
		l, err3 := strconv.ParseFloat(d.Low, 64)
		cl, err4 := strconv.ParseFloat(d.Close, 64)
		v, err5 := strconv.ParseFloat(d.Volume, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		events = append(events, Event{
			Key: key,
			Candle: market.Candle{
				OpenTime: d.Start,
				Open:     o,
				High:     h,
				Low:      l,
				Close:    cl,
				Volume:   v,
				Closed:   d.Confirm,
			},
		})
	}
	if len(events) == 0 {
		return nil, false
	}
	return events, true
}

func timeframeFromBybitInterval(interval string) (market.Timeframe, bool) {
	for _, tf := range []market.Timeframe{market.TF5m, market.TF15m, market.TF1h, market.TF4h} {
		if tf.Meta().BybitInterval == interval {
			return tf, true
		}
	}
	return "", false
}
