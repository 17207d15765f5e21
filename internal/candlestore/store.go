// Package candlestore keeps a bounded, ordered candle window per
// (exchange, symbol, timeframe) key. Closed candles are immutable once
// appended; at most one open candle exists per window and it is always the
// last element.
package candlestore

import (
	"sync"

	"sigscan/internal/market"
)

// MaxWindow caps every window; the oldest candle is evicted first.
const MaxWindow = 200

// Store holds all candle windows. A global RWMutex guards the key map while
// each window carries its own mutex, so updates for different keys do not
// contend.
type Store struct {
	globalMu sync.RWMutex
	data     map[market.Key]*window
	limit    int
}

type window struct {
	mu      sync.Mutex
	candles []market.Candle
}

// New creates an empty store with the default window cap.
func New() *Store {
	return &Store{
		data:  make(map[market.Key]*window),
		limit: MaxWindow,
	}
}

func (s *Store) windowFor(key market.Key) *window {
	s.globalMu.RLock()
	w, ok := s.data[key]
	s.globalMu.RUnlock()
	if ok {
		return w
	}

	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	if w, ok = s.data[key]; !ok {
		w = &window{}
		s.data[key] = w
	}
	return w
}

// Upsert applies one live update and reports whether it finalized a candle.
// An open tail is replaced in place by any update (a newer open merge or the
// closing update), and a re-sent update for the tail's bucket replaces it
// too; everything else appends. The window is trimmed to the cap after each
// append.
func (s *Store) Upsert(key market.Key, c market.Candle) (closed bool) {
	w := s.windowFor(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.candles)
	if n > 0 && (!w.candles[n-1].Closed || w.candles[n-1].OpenTime == c.OpenTime) {
		w.candles[n-1] = c
	} else {
		w.candles = append(w.candles, c)
	}
	if over := len(w.candles) - s.limit; over > 0 {
		w.candles = append(w.candles[:0:0], w.candles[over:]...)
	}
	return c.Closed
}

// Window returns a copy of the current sequence for key: closed candles plus
// possibly one trailing open candle. Callers computing aggregates must filter
// with Closed first.
func (s *Store) Window(key market.Key) []market.Candle {
	s.globalMu.RLock()
	w, ok := s.data[key]
	s.globalMu.RUnlock()
	if !ok {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]market.Candle, len(w.candles))
	copy(cp, w.candles)
	return cp
}

// Seed replaces the window for key outright, trimming to the cap. Used when
// loading persisted or REST-fetched history before the first live update.
func (s *Store) Seed(key market.Key, history []market.Candle) {
	if over := len(history) - s.limit; over > 0 {
		history = history[over:]
	}
	cp := make([]market.Candle, len(history))
	copy(cp, history)

	w := s.windowFor(key)
	w.mu.Lock()
	w.candles = cp
	w.mu.Unlock()
}

// Len returns the current window length for key.
func (s *Store) Len(key market.Key) int {
	s.globalMu.RLock()
	w, ok := s.data[key]
	s.globalMu.RUnlock()
	if !ok {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.candles)
}

// Closed returns only the finalized candles of the window for key.
func Closed(candles []market.Candle) []market.Candle {
	out := make([]market.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Closed {
			out = append(out, c)
		}
	}
	return out
}
