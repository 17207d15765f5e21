// Package subscription tracks which users rely on which exchange stream
// topics. Entries are reference counted by distinct user: an entry exists
// iff at least one user subscribes to it, and the refcount always equals
// the number of distinct subscribers.
package subscription

import (
	"sync"

	"sigscan/internal/market"
)

// StreamKind names the socket stream family a topic belongs to.
type StreamKind string

// KindKline is the only stream kind the scanner consumes today.
const KindKline StreamKind = "kline"

// UserID identifies one subscribing user (chat ID in the notifier).
type UserID int64

// TopicKey addresses one reference-counted subscription entry.
type TopicKey struct {
	Exchange  market.Exchange
	Stream    StreamKind
	Symbol    string
	Timeframe market.Timeframe
}

// MarketKey converts the topic to its candle-window key.
func (k TopicKey) MarketKey() market.Key {
	return market.NewKey(k.Exchange, k.Symbol, k.Timeframe)
}

// KlineTopic builds the kline topic key for a candle-window key.
func KlineTopic(key market.Key) TopicKey {
	return TopicKey{Exchange: key.Exchange, Stream: KindKline, Symbol: key.Symbol, Timeframe: key.Timeframe}
}

// Registry is the reference-counted topic table. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[TopicKey]map[UserID]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[TopicKey]map[UserID]struct{})}
}

// Subscribe adds user to the entry for key, creating it when absent.
// firstUser reports that the entry was just created (the topic became
// wanted); added reports that this user was not yet subscribed. Repeated
// calls for the same (key, user) pair are no-ops.
func (r *Registry) Subscribe(key TopicKey, user UserID) (firstUser, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.entries[key]
	if !ok {
		set = make(map[UserID]struct{})
		r.entries[key] = set
		firstUser = true
	}
	if _, ok := set[user]; !ok {
		set[user] = struct{}{}
		added = true
	}
	return firstUser, added
}

// Unsubscribe removes user from the entry for key. lastUser reports that the
// refcount reached zero and the entry was deleted. Unsubscribing an unknown
// key or user is a no-op.
func (r *Registry) Unsubscribe(key TopicKey, user UserID) (lastUser bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.entries[key]
	if !ok {
		return false
	}
	if _, ok := set[user]; !ok {
		return false
	}
	delete(set, user)
	if len(set) == 0 {
		delete(r.entries, key)
		return true
	}
	return false
}

// Refcount returns the number of distinct subscribers for key.
func (r *Registry) Refcount(key TopicKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[key])
}

// KeysForUser returns every topic the user currently subscribes to.
func (r *Registry) KeysForUser(user UserID) []TopicKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []TopicKey
	for key, set := range r.entries {
		if _, ok := set[user]; ok {
			out = append(out, key)
		}
	}
	return out
}

// UsersFor returns every subscriber of key, in no particular order.
func (r *Registry) UsersFor(key TopicKey) []UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.entries[key]
	out := make([]UserID, 0, len(set))
	for user := range set {
		out = append(out, user)
	}
	return out
}

// ActiveKlineKeys returns the candle-window key of every live kline entry.
// The derived-metric cache polls exactly this set.
func (r *Registry) ActiveKlineKeys() []market.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]market.Key, 0, len(r.entries))
	for key, set := range r.entries {
		if key.Stream == KindKline && len(set) > 0 {
			out = append(out, key.MarketKey())
		}
	}
	return out
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
