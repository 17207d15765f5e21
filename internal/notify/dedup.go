package notify

import (
	"sync"
	"time"

	"sigscan/internal/market"
	"sigscan/internal/subscription"
)

// DefaultDedupWindow suppresses repeat alerts from near-simultaneous candle
// updates on the same bar.
const DefaultDedupWindow = 2 * time.Second

type dedupKey struct {
	User      subscription.UserID
	Exchange  market.Exchange
	Symbol    string
	Kind      market.SignalKind
	Timeframe market.Timeframe
}

// Deduper suppresses duplicate (user, exchange, symbol, kind, timeframe)
// signals inside a fixed window. Safe for concurrent use.
type Deduper struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[dedupKey]time.Time
	now    func() time.Time
}

// NewDeduper builds a deduper; window <= 0 selects the default 2 seconds.
func NewDeduper(window time.Duration) *Deduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Deduper{
		window: window,
		seen:   make(map[dedupKey]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether the signal may be delivered, recording it if so.
func (d *Deduper) Allow(user subscription.UserID, sig *market.Signal) bool {
	key := dedupKey{
		User:      user,
		Exchange:  sig.Exchange,
		Symbol:    sig.Symbol,
		Kind:      sig.Kind,
		Timeframe: sig.Detail.Timeframe,
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[key] = now

	// Drop expired entries while we hold the lock; the map stays bounded by
	// the number of keys alerted on within one window.
	for k, at := range d.seen {
		if now.Sub(at) >= d.window {
			delete(d.seen, k)
		}
	}
	return true
}
