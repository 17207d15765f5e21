// Package scanner boots the full pipeline: storage, REST clients, stream
// holders, the engine, the HTTP endpoint, and recovery of known users.
package scanner

import (
	"context"
	"fmt"
	"time"

	"sigscan/config"
	"sigscan/internal/engine"
	"sigscan/internal/httpapi"
	"sigscan/internal/market"
	"sigscan/internal/metrics"
	"sigscan/internal/notify"
	"sigscan/internal/stream"
	"sigscan/pkg/binance"
	"sigscan/pkg/bybit"
	"sigscan/pkg/storage/postgres"
	redisstore "sigscan/pkg/storage/redis"

	"go.uber.org/zap"
)

// Start wires and launches the scanner. It returns once everything is
// running; the engine keeps working until ctx ends.
func Start(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine.Engine, error) {

	// Postgres: signal log and user settings.
	pg, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Environment, true)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}

	// Redis candle persistence is best-effort: an unreachable instance
	// degrades to REST-only seeding.
	var candleRepo engine.CandleRepository
	repo := redisstore.NewCandleRepository(cfg.Redis, cfg.Scanner.HistoryStaleAfter)
	if err := repo.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, candle persistence disabled", zap.Error(err))
	} else {
		candleRepo = repo
	}

	binanceClient := binance.NewClient(cfg.Binance.REST.BaseURL, cfg.Binance.REST.Timeout)
	bybitClient := bybit.NewClient(cfg.Bybit.REST.BaseURL, cfg.Bybit.REST.Timeout)

	notifier := notify.NewTelegram(
		cfg.Telegram.BaseURL,
		cfg.Telegram.ResolveToken(cfg.Environment),
		10*time.Second,
	)

	// The holders feed the engine; the engine drives the holders' topic
	// sets. Break the cycle by routing events through a closure over the
	// engine variable assigned below. Holders are opened lazily, one per
	// (exchange, timeframe), on the first subscription that needs them.
	var eng *engine.Engine
	handle := func(ev stream.Event) { eng.HandleCandle(ev) }

	openSocket := func(codec stream.Codec) engine.SocketFactory {
		return func(market.Timeframe) engine.Socket {
			h := stream.NewHolder(codec, stream.GorillaDialer{}, handle, logger)
			go h.Run(ctx)
			return h
		}
	}

	binanceCodec := stream.NewBinanceCodec(cfg.Binance.WS.URL)
	bybitCodec := stream.NewBybitCodec(cfg.Bybit.WS.URL)
	venues := map[market.Exchange]engine.Venue{
		market.Binance: {
			Client:     binanceClient,
			Codec:      binanceCodec,
			OpenSocket: openSocket(binanceCodec),
		},
		market.Bybit: {
			Client:     bybitClient,
			Codec:      bybitCodec,
			OpenSocket: openSocket(bybitCodec),
		},
	}

	eng = engine.New(venues, candleRepo, notifier, pg, pg, logger,
		engine.Options{
			SeedLimit:      cfg.Scanner.KlineSeedLimit,
			DedupWindow:    cfg.Scanner.DedupWindow,
			SymbolCacheTTL: cfg.Scanner.SymbolCacheTTL,
		},
		metrics.WithInterval(cfg.Scanner.MetricRefreshInterval),
		metrics.WithConcurrency(cfg.Scanner.MetricConcurrency),
	)

	go eng.Run(ctx)
	go httpapi.Serve(cfg.HTTP.Addr, httpapi.NewRouter(eng, logger), logger)

	// Bring known users back online after a restart.
	users, err := pg.AllUserIDs(ctx)
	if err != nil {
		logger.Warn("failed to list stored users", zap.Error(err))
		users = nil
	}
	for _, user := range users {
		user := user
		go func() {
			if _, err := eng.RegisterUser(ctx, user); err != nil {
				logger.Warn("user registration failed", zap.Int64("user", int64(user)), zap.Error(err))
				return
			}
			if err := eng.StartUser(ctx, user); err != nil {
				logger.Warn("user start failed", zap.Int64("user", int64(user)), zap.Error(err))
			}
		}()
	}
	logger.Info("scanner started", zap.Int("users", len(users)))

	return eng, nil
}
