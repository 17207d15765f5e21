// Package metrics maintains the derived-metric cache: per candle-window key,
// the open-interest percent change, total notional open interest and the
// cumulative volume delta, refreshed by bounded-concurrency polling of the
// exchange REST clients. The ingestion path only ever reads whatever is
// currently cached; it never waits on a refresh.
package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"sigscan/internal/market"

	"go.uber.org/zap"
)

// OpenInterest is one successful open-interest reading: the percent change
// between the last two history points and the latest total notional value.
type OpenInterest struct {
	PctChange float64
	TotalUsd  float64
}

// Derived is the cached metric set for one key. OI is nil while the metric
// is unavailable (never fetched, insufficient history, delisted symbol);
// detectors requiring it must treat nil as "no signal", not as zero.
type Derived struct {
	OI     *OpenInterest
	CVDUsd float64
}

// Fetcher is the slice of the exchange REST client the cache polls.
type Fetcher interface {
	FetchOpenInterest(ctx context.Context, symbol string, tf market.Timeframe) (*OpenInterest, error)
	FetchCVD(ctx context.Context, symbol string, tf market.Timeframe) (float64, error)
}

// ActiveKeySource yields the keys worth polling; in production this is the
// subscription registry.
type ActiveKeySource interface {
	ActiveKlineKeys() []market.Key
}

const (
	defaultInterval    = 5 * time.Minute
	defaultConcurrency = 6
)

// Cache is the refresh loop plus the entry table. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[market.Key]Derived

	keys        ActiveKeySource
	fetchers    map[market.Exchange]Fetcher
	interval    time.Duration
	concurrency int
	logger      *zap.Logger
}

// Option tweaks cache construction.
type Option func(*Cache)

// WithInterval overrides the refresh period (default 5 minutes).
func WithInterval(d time.Duration) Option {
	return func(c *Cache) { c.interval = d }
}

// WithConcurrency overrides the polling cap (default 6 in-flight requests).
func WithConcurrency(n int) Option {
	return func(c *Cache) { c.concurrency = n }
}

// NewCache builds a cache over the given key source and per-exchange fetchers.
func NewCache(keys ActiveKeySource, fetchers map[market.Exchange]Fetcher, logger *zap.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries:     make(map[market.Key]Derived),
		keys:        keys,
		fetchers:    fetchers,
		interval:    defaultInterval,
		concurrency: defaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached metrics for key. ok is false when nothing has ever
// been fetched for it.
func (c *Cache) Get(key market.Key) (Derived, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key]
	return d, ok
}

// Run refreshes once immediately, then on every interval tick until the
// context is cancelled.
func (c *Cache) Run(ctx context.Context) {
	c.Refresh(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

// Refresh performs one polling pass over the currently active keys, with at
// most c.concurrency requests in flight. Failed fetches leave the previous
// entry in place.
func (c *Cache) Refresh(ctx context.Context) {
	keys := c.keys.ActiveKlineKeys()
	if len(keys) == 0 {
		return
	}

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for _, key := range keys {
		key := key
		fetcher, ok := c.fetchers[key.Exchange]
		if !ok {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.refreshKey(ctx, fetcher, key)
		}()
	}
	wg.Wait()

	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	c.logger.Debug("derived-metric refresh complete",
		zap.Int("polled", len(keys)), zap.Int("cached", size))
}

func (c *Cache) refreshKey(ctx context.Context, fetcher Fetcher, key market.Key) {
	oi, oiErr := fetcher.FetchOpenInterest(ctx, key.Symbol, key.Timeframe)
	cvd, cvdErr := fetcher.FetchCVD(ctx, key.Symbol, key.Timeframe)

	c.mu.Lock()
	entry := c.entries[key]
	if oiErr == nil && oi != nil {
		entry.OI = oi
	}
	if cvdErr == nil {
		entry.CVDUsd = cvd
	}
	if oiErr == nil || cvdErr == nil || c.has(key) {
		c.entries[key] = entry
	}
	c.mu.Unlock()

	c.logFetchErr(key, "open interest", oiErr)
	c.logFetchErr(key, "cvd", cvdErr)
}

// has must be called with c.mu held.
func (c *Cache) has(key market.Key) bool {
	_, ok := c.entries[key]
	return ok
}

func (c *Cache) logFetchErr(key market.Key, what string, err error) {
	if err == nil || errors.Is(err, market.ErrNotFound) {
		return
	}
	c.logger.Warn("metric fetch failed",
		zap.String("metric", what),
		zap.String("key", key.String()),
		zap.Error(err))
}
