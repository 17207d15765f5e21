// Package engine wires the scanner pipeline together: per-user subscription
// management, candle-history seeding, the candle hot path from the sockets
// through the detectors, and signal delivery.
package engine

import (
	"context"
	"sync"
	"time"

	"sigscan/internal/candlestore"
	"sigscan/internal/detector"
	"sigscan/internal/market"
	"sigscan/internal/metrics"
	"sigscan/internal/notify"
	"sigscan/internal/stream"
	"sigscan/internal/subscription"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExchangeClient is the REST surface the engine needs per venue.
type ExchangeClient interface {
	metrics.Fetcher
	GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error)
	GetActiveSymbols(ctx context.Context, minQuoteVolumeUsd float64) ([]string, error)
}

// Socket is the slice of the stream holder the engine drives.
type Socket interface {
	Subscribe(topics ...string)
	Unsubscribe(topics ...string)
}

// SocketFactory opens the stream holder for one timeframe, already running.
// The engine calls it at most once per (exchange, timeframe).
type SocketFactory func(tf market.Timeframe) Socket

// Venue bundles one exchange's collaborators. Sockets are opened lazily on
// the first subscription that needs them, one per timeframe, and stay alive
// for the life of the engine.
type Venue struct {
	Client     ExchangeClient
	Codec      stream.Codec
	OpenSocket SocketFactory
}

// CandleRepository persists windows between restarts. Loads report a miss
// for absent or stale entries.
type CandleRepository interface {
	Load(ctx context.Context, key market.Key) ([]market.Candle, bool, error)
	Save(ctx context.Context, key market.Key, candles []market.Candle) error
}

// SignalLog records every delivered signal.
type SignalLog interface {
	InsertSignal(ctx context.Context, user subscription.UserID, sig *market.Signal) error
}

// SettingsStore loads and saves per-user configuration.
type SettingsStore interface {
	LoadOrCreateSettings(ctx context.Context, user subscription.UserID) (detector.UserConfig, error)
	SaveSettings(ctx context.Context, user subscription.UserID, cfg detector.UserConfig) error
}

const (
	defaultSeedLimit       = 200
	defaultSeedConcurrency = 5
)

// Options are the engine tuning knobs; zero values select the defaults.
type Options struct {
	SeedLimit       int           // candles fetched per REST history seed
	SeedConcurrency int           // concurrent seeds during StartUser
	DedupWindow     time.Duration // notify suppression window
	SymbolCacheTTL  time.Duration // symbol universe refresh interval
}

// Engine owns the scanner runtime state. All exported methods are safe for
// concurrent use.
type Engine struct {
	logger *zap.Logger

	store    *candlestore.Store
	registry *subscription.Registry
	cache    *metrics.Cache
	deduper  *notify.Deduper

	venues   map[market.Exchange]Venue
	candles  CandleRepository // optional
	notifier notify.Notifier
	signals  SignalLog     // optional
	settings SettingsStore // optional

	symbols *symbolCache

	sockMu  sync.Mutex
	sockets map[socketKey]Socket

	seedLimit       int
	seedConcurrency int

	userMu sync.RWMutex
	users  map[subscription.UserID]detector.UserConfig

	bg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles an engine. The metric cache is created over the registry and
// the venue clients; call Run to start its refresh loop.
func New(venues map[market.Exchange]Venue, candles CandleRepository, notifier notify.Notifier,
	signals SignalLog, settings SettingsStore, logger *zap.Logger, opts Options, cacheOpts ...metrics.Option) *Engine {

	if opts.SeedLimit <= 0 {
		opts.SeedLimit = defaultSeedLimit
	}
	if opts.SeedConcurrency <= 0 {
		opts.SeedConcurrency = defaultSeedConcurrency
	}

	registry := subscription.NewRegistry()
	fetchers := make(map[market.Exchange]metrics.Fetcher, len(venues))
	for ex, v := range venues {
		fetchers[ex] = v.Client
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		logger:          logger,
		store:           candlestore.New(),
		registry:        registry,
		cache:           metrics.NewCache(registry, fetchers, logger, cacheOpts...),
		deduper:         notify.NewDeduper(opts.DedupWindow),
		venues:          venues,
		candles:         candles,
		notifier:        notifier,
		signals:         signals,
		settings:        settings,
		symbols:         newSymbolCache(opts.SymbolCacheTTL),
		sockets:         make(map[socketKey]Socket),
		seedLimit:       opts.SeedLimit,
		seedConcurrency: opts.SeedConcurrency,
		users:           make(map[subscription.UserID]detector.UserConfig),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Run starts the metric refresh loop and blocks until ctx or Close ends it.
func (e *Engine) Run(ctx context.Context) {
	merged, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.ctx.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	e.cache.Run(merged)
}

// RefreshMetrics forces one derived-metric polling pass outside the regular
// interval.
func (e *Engine) RefreshMetrics(ctx context.Context) {
	e.cache.Refresh(ctx)
}

// Registry exposes the subscription table (health endpoint, tests).
func (e *Engine) Registry() *subscription.Registry { return e.registry }

// Store exposes the candle windows (health endpoint, tests).
func (e *Engine) Store() *candlestore.Store { return e.store }

// RegisterUser loads (or creates) the user's settings and adds the user to
// the runtime table. Re-registering reloads the settings.
func (e *Engine) RegisterUser(ctx context.Context, user subscription.UserID) (detector.UserConfig, error) {
	cfg := detector.DefaultUserConfig()
	if e.settings != nil {
		loaded, err := e.settings.LoadOrCreateSettings(ctx, user)
		if err != nil {
			return detector.UserConfig{}, err
		}
		cfg = loaded
	}
	cfg = cfg.Normalized()

	e.userMu.Lock()
	e.users[user] = cfg
	e.userMu.Unlock()
	return cfg, nil
}

// UpdateUserConfig replaces the user's runtime settings and persists them.
func (e *Engine) UpdateUserConfig(ctx context.Context, user subscription.UserID, cfg detector.UserConfig) error {
	cfg = cfg.Normalized()
	e.userMu.Lock()
	e.users[user] = cfg
	e.userMu.Unlock()

	if e.settings == nil {
		return nil
	}
	return e.settings.SaveSettings(ctx, user, cfg)
}

// UnregisterUser releases every subscription the user holds and removes the
// user from the runtime table.
func (e *Engine) UnregisterUser(user subscription.UserID) {
	e.UnsubscribeAllForUser(user)

	e.userMu.Lock()
	delete(e.users, user)
	e.userMu.Unlock()
}

func (e *Engine) userConfig(user subscription.UserID) (detector.UserConfig, bool) {
	e.userMu.RLock()
	defer e.userMu.RUnlock()
	cfg, ok := e.users[user]
	return cfg, ok
}

// StartUser subscribes the user to the full symbol universe of every enabled
// exchange, on the timeframe of each enabled module. History seeding runs
// with bounded concurrency, mirroring the initial backfill of a collector.
func (e *Engine) StartUser(ctx context.Context, user subscription.UserID) error {
	cfg, ok := e.userConfig(user)
	if !ok {
		var err error
		cfg, err = e.RegisterUser(ctx, user)
		if err != nil {
			return err
		}
	}

	keys := make([]market.Key, 0, 256)
	for ex, venue := range e.venues {
		if !cfg.ExchangeEnabled(ex) {
			continue
		}
		symbols, err := e.symbols.Get(ctx, ex, venue.Client, cfg.MinQuoteVolumeUsd)
		if err != nil {
			e.logger.Warn("symbol discovery failed",
				zap.String("exchange", string(ex)), zap.Error(err))
			continue
		}

		tfs := make(map[market.Timeframe]struct{})
		for _, mod := range cfg.Modules {
			tfs[cfg.Timeframes[mod]] = struct{}{}
		}
		for _, symbol := range symbols {
			for tf := range tfs {
				keys = append(keys, market.NewKey(ex, symbol, tf))
			}
		}
	}

	sem := make(chan struct{}, e.seedConcurrency)
	var wg sync.WaitGroup
	for _, key := range keys {
		key := key
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.subscribeKey(ctx, user, key)
		}()
	}
	wg.Wait()

	e.logger.Info("user started",
		zap.Int64("user", int64(user)), zap.Int("keys", len(keys)))
	return nil
}

// ManageSubscription adds or removes one (user, key) subscription, driving
// the socket topic set when the refcount crosses zero.
func (e *Engine) ManageSubscription(ctx context.Context, user subscription.UserID, key market.Key, subscribe bool) {
	if subscribe {
		e.subscribeKey(ctx, user, key)
		return
	}
	e.unsubscribeKey(user, key)
}

// socketKey addresses one lazily opened stream holder.
type socketKey struct {
	exchange  market.Exchange
	timeframe market.Timeframe
}

// socketFor returns the holder for the key's (exchange, timeframe), opening
// it on first use. Holders are never torn down, even when their last topic
// goes away: a later resubscribe reuses the same connection.
func (e *Engine) socketFor(venue Venue, key market.Key) Socket {
	sk := socketKey{exchange: key.Exchange, timeframe: key.Timeframe}

	e.sockMu.Lock()
	defer e.sockMu.Unlock()
	if sock, ok := e.sockets[sk]; ok {
		return sock
	}
	sock := venue.OpenSocket(key.Timeframe)
	e.sockets[sk] = sock
	e.logger.Info("stream holder opened",
		zap.String("exchange", string(key.Exchange)),
		zap.String("timeframe", string(key.Timeframe)))
	return sock
}

func (e *Engine) socketAt(key market.Key) (Socket, bool) {
	e.sockMu.Lock()
	defer e.sockMu.Unlock()
	sock, ok := e.sockets[socketKey{exchange: key.Exchange, timeframe: key.Timeframe}]
	return sock, ok
}

func (e *Engine) subscribeKey(ctx context.Context, user subscription.UserID, key market.Key) {
	venue, ok := e.venues[key.Exchange]
	if !ok {
		return
	}

	firstUser, _ := e.registry.Subscribe(subscription.KlineTopic(key), user)
	if !firstUser {
		return
	}

	// The window is seeded before the live topic starts feeding it, so the
	// detectors never evaluate a half-empty window.
	e.seedHistory(ctx, venue, key)
	e.socketFor(venue, key).Subscribe(venue.Codec.Topic(key))
}

func (e *Engine) unsubscribeKey(user subscription.UserID, key market.Key) {
	venue, ok := e.venues[key.Exchange]
	if !ok {
		return
	}
	if lastUser := e.registry.Unsubscribe(subscription.KlineTopic(key), user); lastUser {
		if sock, ok := e.socketAt(key); ok {
			sock.Unsubscribe(venue.Codec.Topic(key))
		}
	}
}

// UnsubscribeAllForUser releases every topic the user holds.
func (e *Engine) UnsubscribeAllForUser(user subscription.UserID) {
	for _, topicKey := range e.registry.KeysForUser(user) {
		e.unsubscribeKey(user, topicKey.MarketKey())
	}
}

// seedHistory fills the window from the candle repository when a fresh copy
// exists, falling back to REST. A REST seed is written back in the
// background.
func (e *Engine) seedHistory(ctx context.Context, venue Venue, key market.Key) {
	if e.candles != nil {
		history, ok, err := e.candles.Load(ctx, key)
		if err != nil {
			e.logger.Warn("history load failed", zap.String("key", key.String()), zap.Error(err))
		} else if ok && len(history) > 0 {
			e.store.Seed(key, history)
			return
		}
	}

	history, err := venue.Client.GetKlines(ctx, key.Symbol, key.Timeframe, e.seedLimit)
	if err != nil {
		e.logger.Warn("history seed failed", zap.String("key", key.String()), zap.Error(err))
		return
	}
	e.store.Seed(key, history)
	e.persistWindow(key)
}

// persistWindow saves the current window as a fire-and-forget background task.
func (e *Engine) persistWindow(key market.Key) {
	if e.candles == nil {
		return
	}
	window := e.store.Window(key)
	if len(window) == 0 {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, 5*time.Second)
		defer cancel()
		if err := e.candles.Save(ctx, key, window); err != nil {
			e.logger.Warn("history save failed", zap.String("key", key.String()), zap.Error(err))
		}
	}()
}

// HandleCandle is the hot path, called by the stream holders for every
// decoded kline event. Open candles only update the window; a closing
// candle additionally persists the window and runs the detector fan-out
// synchronously.
func (e *Engine) HandleCandle(ev stream.Event) {
	e.store.Upsert(ev.Key, ev.Candle)
	if !ev.Candle.Closed {
		return
	}

	e.persistWindow(ev.Key)

	window := candlestore.Closed(e.store.Window(ev.Key))
	if len(window) == 0 {
		return
	}
	derived, _ := e.cache.Get(ev.Key)

	for _, user := range e.registry.UsersFor(subscription.KlineTopic(ev.Key)) {
		cfg, ok := e.userConfig(user)
		if !ok || !cfg.ExchangeEnabled(ev.Key.Exchange) {
			continue
		}
		for _, mod := range cfg.Modules {
			if cfg.Timeframes[mod] != ev.Key.Timeframe {
				continue
			}
			sig := detector.Evaluate(mod, window, derived, cfg)
			if sig == nil {
				continue
			}
			e.deliver(user, ev.Key, sig)
		}
	}
}

// deliver stamps, dedups, logs and sends one signal.
func (e *Engine) deliver(user subscription.UserID, key market.Key, sig *market.Signal) {
	sig.ID = uuid.NewString()
	sig.Exchange = key.Exchange
	sig.Symbol = key.Symbol
	sig.Time = time.Now()
	sig.Detail.Timeframe = key.Timeframe

	if !e.deduper.Allow(user, sig) {
		return
	}

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
		defer cancel()

		if err := e.notifier.Notify(ctx, user, sig); err != nil {
			e.logger.Warn("signal delivery failed",
				zap.Int64("user", int64(user)),
				zap.String("signal", sig.ID),
				zap.Error(err))
			return
		}
		if e.signals != nil {
			if err := e.signals.InsertSignal(ctx, user, sig); err != nil {
				e.logger.Warn("signal log failed", zap.String("signal", sig.ID), zap.Error(err))
			}
		}
	}()
}

// Close stops background work and waits for in-flight deliveries.
func (e *Engine) Close() {
	e.cancel()
	e.bg.Wait()
}
