package engine

import (
	"context"
	"sync"
	"time"

	"sigscan/internal/market"
)

// defaultSymbolTTL is how long a discovered symbol list stays fresh.
const defaultSymbolTTL = 30 * time.Minute

type symbolEntry struct {
	symbols   []string
	minVolume float64
	fetchedAt time.Time
}

// symbolCache memoizes per-exchange symbol discovery. A failed refresh
// serves the previous list instead of an error when one exists.
type symbolCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[market.Exchange]symbolEntry
	now     func() time.Time
}

func newSymbolCache(ttl time.Duration) *symbolCache {
	if ttl <= 0 {
		ttl = defaultSymbolTTL
	}
	return &symbolCache{
		ttl:     ttl,
		entries: make(map[market.Exchange]symbolEntry),
		now:     time.Now,
	}
}

type symbolSource interface {
	GetActiveSymbols(ctx context.Context, minQuoteVolumeUsd float64) ([]string, error)
}

// Get returns the symbol universe for ex, refreshing through src when the
// cached list is stale or was filtered with a different volume floor.
func (c *symbolCache) Get(ctx context.Context, ex market.Exchange, src symbolSource, minQuoteVolumeUsd float64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ex]
	fresh := ok && entry.minVolume == minQuoteVolumeUsd && c.now().Sub(entry.fetchedAt) < c.ttl
	if fresh {
		return entry.symbols, nil
	}

	symbols, err := src.GetActiveSymbols(ctx, minQuoteVolumeUsd)
	if err != nil {
		if ok {
			return entry.symbols, nil
		}
		return nil, err
	}

	c.entries[ex] = symbolEntry{
		symbols:   symbols,
		minVolume: minQuoteVolumeUsd,
		fetchedAt: c.now(),
	}
	return symbols, nil
}
