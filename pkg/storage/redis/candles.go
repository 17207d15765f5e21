// Package redis persists candle windows between restarts so reconnecting
// users do not re-seed every window over REST.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sigscan/config"
	"sigscan/internal/market"

	"github.com/go-redis/redis/v8"
)

// DefaultStaleAfter is how old a stored window may be before a load treats
// it as absent.
const DefaultStaleAfter = 48 * time.Hour

const keyPrefix = "candles:"

// CandleRepository stores one JSON-encoded window per key, stamped with the
// save time.
type CandleRepository struct {
	rdb        *redis.Client
	staleAfter time.Duration
}

// NewCandleRepository connects to Redis. staleAfter <= 0 selects the default
// 48 hour cutoff.
func NewCandleRepository(cfg config.RedisConfig, staleAfter time.Duration) *CandleRepository {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &CandleRepository{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		staleAfter: staleAfter,
	}
}

// Ping verifies the connection.
func (r *CandleRepository) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *CandleRepository) Close() error {
	return r.rdb.Close()
}

type storedWindow struct {
	SavedAt int64           `json:"savedAt"` // milliseconds since epoch
	Candles []market.Candle `json:"candles"`
}

// Save stores the window under the key's canonical name. The entry expires
// on its own once it could never be loaded again anyway.
func (r *CandleRepository) Save(ctx context.Context, key market.Key, candles []market.Candle) error {
	blob, err := json.Marshal(storedWindow{
		SavedAt: time.Now().UnixMilli(),
		Candles: candles,
	})
	if err != nil {
		return fmt.Errorf("encode window: %w", err)
	}
	return r.rdb.Set(ctx, keyPrefix+key.String(), blob, r.staleAfter).Err()
}

// Load returns the stored window for key. ok is false when nothing is stored
// or the stored window is older than the staleness cutoff.
func (r *CandleRepository) Load(ctx context.Context, key market.Key) ([]market.Candle, bool, error) {
	blob, err := r.rdb.Get(ctx, keyPrefix+key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load window: %w", err)
	}

	var stored storedWindow
	if err := json.Unmarshal(blob, &stored); err != nil {
		return nil, false, fmt.Errorf("decode window: %w", err)
	}
	if time.Since(time.UnixMilli(stored.SavedAt)) > r.staleAfter {
		return nil, false, nil
	}
	return stored.Candles, true, nil
}
