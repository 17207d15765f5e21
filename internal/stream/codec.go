// Package stream owns the WebSocket ingestion path: one connection holder
// per exchange, a per-exchange wire codec, batched topic subscription and an
// idle watchdog that forces a reconnect when the feed goes quiet.
package stream

import "sigscan/internal/market"

// Event is one decoded kline update, open or closed.
type Event struct {
	Key    market.Key
	Candle market.Candle
}

// Codec translates between window keys and one exchange's wire format.
// Decode must tolerate arbitrary frames: subscription acks, pings and
// malformed payloads all return (nil, false) without error.
type Codec interface {
	Exchange() market.Exchange
	URL() string

	// Topic renders the kline stream topic for key, e.g.
	// "btcusdt@kline_15m" or "kline.15.BTCUSDT".
	Topic(key market.Key) string

	// SubscribePayload and UnsubscribePayload build the JSON control
	// frames for one topic batch.
	SubscribePayload(topics []string) interface{}
	UnsubscribePayload(topics []string) interface{}

	Decode(msg []byte) ([]Event, bool)
}
