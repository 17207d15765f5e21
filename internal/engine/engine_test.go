package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"sigscan/internal/market"
	"sigscan/internal/metrics"
	"sigscan/internal/stream"
	"sigscan/internal/subscription"

	"go.uber.org/zap"
)

type fakeClient struct {
	mu          sync.Mutex
	klines      []market.Candle
	klineCalls  int
	symbols     []string
	symbolCalls int
	oi          *metrics.OpenInterest
	cvd         float64
}

func (f *fakeClient) GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klineCalls++
	out := make([]market.Candle, len(f.klines))
	copy(out, f.klines)
	return out, nil
}

func (f *fakeClient) GetActiveSymbols(ctx context.Context, minQuoteVolumeUsd float64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbolCalls++
	return f.symbols, nil
}

func (f *fakeClient) FetchOpenInterest(ctx context.Context, symbol string, tf market.Timeframe) (*metrics.OpenInterest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.oi, nil
}

func (f *fakeClient) FetchCVD(ctx context.Context, symbol string, tf market.Timeframe) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cvd, nil
}

type fakeSocket struct {
	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
}

func (s *fakeSocket) Subscribe(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = append(s.subscribed, topics...)
}

func (s *fakeSocket) Unsubscribe(topics ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = append(s.unsubscribed, topics...)
}

func (s *fakeSocket) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribed), len(s.unsubscribed)
}

// fakeSockets records every holder the engine opens, keyed by timeframe.
type fakeSockets struct {
	mu   sync.Mutex
	byTF map[market.Timeframe]*fakeSocket
}

func newFakeSockets() *fakeSockets {
	return &fakeSockets{byTF: make(map[market.Timeframe]*fakeSocket)}
}

func (f *fakeSockets) open(tf market.Timeframe) Socket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.byTF[tf]; dup {
		panic("socket opened twice for the same timeframe")
	}
	s := &fakeSocket{}
	f.byTF[tf] = s
	return s
}

func (f *fakeSockets) at(tf market.Timeframe) *fakeSocket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byTF[tf]
}

func (f *fakeSockets) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byTF)
}

func (f *fakeSockets) totals() (subs, unsubs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byTF {
		a, b := s.counts()
		subs += a
		unsubs += b
	}
	return subs, unsubs
}

type delivery struct {
	user subscription.UserID
	sig  *market.Signal
}

type fakeNotifier struct {
	got chan delivery
}

func (n *fakeNotifier) Notify(ctx context.Context, user subscription.UserID, sig *market.Signal) error {
	n.got <- delivery{user: user, sig: sig}
	return nil
}

type fakeRepo struct {
	mu     sync.Mutex
	stored map[string][]market.Candle
	saves  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{stored: make(map[string][]market.Candle)}
}

func (r *fakeRepo) Load(ctx context.Context, key market.Key) ([]market.Candle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	window, ok := r.stored[key.String()]
	return window, ok, nil
}

func (r *fakeRepo) Save(ctx context.Context, key market.Key, candles []market.Candle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[key.String()] = candles
	r.saves++
	return nil
}

// flatHistory builds n closed candles at close 100 with notional 1000 each.
func flatHistory(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		out[i] = market.Candle{
			OpenTime: int64(i) * 900_000,
			Open:     100, High: 100, Low: 100, Close: 100,
			Volume: 10,
			Closed: true,
		}
	}
	return out
}

// pumpCandle closes the next bar with a 90% body and a 3x volume multiple.
func pumpCandle(openTime int64) market.Candle {
	return market.Candle{
		OpenTime: openTime,
		Open:     100,
		Close:    101,
		High:     101.0 + 0.1/1.8,
		Low:      100.0 - 0.1/1.8,
		Volume:   3000.0 / 101,
		Closed:   true,
	}
}

func newTestEngine(t *testing.T, client *fakeClient, repo CandleRepository) (*Engine, *fakeSockets, *fakeNotifier) {
	t.Helper()
	sockets := newFakeSockets()
	notifier := &fakeNotifier{got: make(chan delivery, 16)}
	venues := map[market.Exchange]Venue{
		market.Binance: {Client: client, Codec: stream.NewBinanceCodec(""), OpenSocket: sockets.open},
	}
	e := New(venues, repo, notifier, nil, nil, zap.NewNop(), Options{})
	t.Cleanup(e.Close)
	return e, sockets, notifier
}

// go test -v --run TestSubscribeSeedsOncePerKey
func TestSubscribeSeedsOncePerKey(t *testing.T) {
	client := &fakeClient{klines: flatHistory(21)}
	e, sockets, _ := newTestEngine(t, client, nil)
	ctx := context.Background()
	key := market.NewKey(market.Binance, "BTCUSDT", market.TF15m)

	if _, err := e.RegisterUser(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := e.RegisterUser(ctx, 2); err != nil {
		t.Fatal(err)
	}

	e.ManageSubscription(ctx, 1, key, true)
	e.ManageSubscription(ctx, 2, key, true)

	socket := sockets.at(market.TF15m)
	if socket == nil {
		t.Fatal("no holder opened for the subscribed timeframe")
	}
	if subs, _ := socket.counts(); subs != 1 {
		t.Fatalf("socket subscribes = %d, want 1 (refcounted)", subs)
	}
	client.mu.Lock()
	calls := client.klineCalls
	client.mu.Unlock()
	if calls != 1 {
		t.Fatalf("history seeds = %d, want 1", calls)
	}
	if got := e.Store().Len(key); got != 21 {
		t.Fatalf("window length = %d, want 21", got)
	}

	// First leaver keeps the topic alive, last leaver releases it.
	e.ManageSubscription(ctx, 1, key, false)
	if _, unsubs := socket.counts(); unsubs != 0 {
		t.Fatal("topic released while a subscriber remains")
	}
	e.ManageSubscription(ctx, 2, key, false)
	if _, unsubs := socket.counts(); unsubs != 1 {
		t.Fatal("topic not released after the last subscriber left")
	}
}

// go test -v --run TestSeedPrefersRepository
func TestSeedPrefersRepository(t *testing.T) {
	client := &fakeClient{klines: flatHistory(21)}
	repo := newFakeRepo()
	key := market.NewKey(market.Binance, "ETHUSDT", market.TF15m)
	repo.stored[key.String()] = flatHistory(30)

	e, _, _ := newTestEngine(t, client, repo)
	ctx := context.Background()
	e.RegisterUser(ctx, 1)
	e.ManageSubscription(ctx, 1, key, true)

	client.mu.Lock()
	calls := client.klineCalls
	client.mu.Unlock()
	if calls != 0 {
		t.Fatalf("REST seeds = %d, want 0 when the repository has a fresh window", calls)
	}
	if got := e.Store().Len(key); got != 30 {
		t.Fatalf("window length = %d, want 30", got)
	}
}

// go test -v --run TestHandleCandleFanOut
func TestHandleCandleFanOut(t *testing.T) {
	client := &fakeClient{
		klines: flatHistory(21),
		oi:     &metrics.OpenInterest{PctChange: 3, TotalUsd: 5e7},
		cvd:    150_000,
	}
	e, _, notifier := newTestEngine(t, client, nil)
	ctx := context.Background()
	key := market.NewKey(market.Binance, "BTCUSDT", market.TF15m)

	e.RegisterUser(ctx, 7)
	e.ManageSubscription(ctx, 7, key, true)
	e.RefreshMetrics(ctx)

	// An open candle only updates the window.
	open := pumpCandle(21 * 900_000)
	open.Closed = false
	e.HandleCandle(stream.Event{Key: key, Candle: open})
	select {
	case d := <-notifier.got:
		t.Fatalf("open candle produced a delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}

	// The closing update triggers the detector fan-out.
	e.HandleCandle(stream.Event{Key: key, Candle: pumpCandle(21 * 900_000)})
	select {
	case d := <-notifier.got:
		if d.user != 7 {
			t.Fatalf("delivered to user %d, want 7", d.user)
		}
		if d.sig.Kind != market.KindPumpDump || d.sig.Side != market.SideLong {
			t.Fatalf("signal = %+v, want long pump_dump", d.sig)
		}
		if d.sig.ID == "" || d.sig.Detail.Timeframe != market.TF15m || d.sig.Symbol != "BTCUSDT" {
			t.Fatalf("signal not stamped: %+v", d.sig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery for the closing pump candle")
	}

	// A duplicate closing update inside the dedup window stays silent.
	e.HandleCandle(stream.Event{Key: key, Candle: pumpCandle(21 * 900_000)})
	select {
	case d := <-notifier.got:
		t.Fatalf("duplicate delivered: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

// go test -v --run TestHandleCandlePersistsOnClose
func TestHandleCandlePersistsOnClose(t *testing.T) {
	client := &fakeClient{klines: nil}
	repo := newFakeRepo()
	e, _, _ := newTestEngine(t, client, repo)
	ctx := context.Background()
	key := market.NewKey(market.Binance, "SOLUSDT", market.TF5m)

	e.RegisterUser(ctx, 1)
	e.ManageSubscription(ctx, 1, key, true)

	e.HandleCandle(stream.Event{Key: key, Candle: market.Candle{
		OpenTime: 0, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 3, Closed: true,
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		repo.mu.Lock()
		window, ok := repo.stored[key.String()]
		repo.mu.Unlock()
		if ok && len(window) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("closed candle was not persisted")
}

// go test -v --run TestStartUserSubscribesUniverse
func TestStartUserSubscribesUniverse(t *testing.T) {
	client := &fakeClient{
		klines:  flatHistory(5),
		symbols: []string{"BTCUSDT", "ETHUSDT"},
	}
	e, sockets, _ := newTestEngine(t, client, nil)
	ctx := context.Background()

	// Defaults: sp on 5m, pd and div on 15m -> two timeframes per symbol.
	if err := e.StartUser(ctx, 3); err != nil {
		t.Fatal(err)
	}

	if got := e.Registry().Len(); got != 4 {
		t.Fatalf("registry entries = %d, want 4 (2 symbols x 2 timeframes)", got)
	}
	if got := sockets.opened(); got != 2 {
		t.Fatalf("holders opened = %d, want one per timeframe", got)
	}
	for _, tf := range []market.Timeframe{market.TF5m, market.TF15m} {
		socket := sockets.at(tf)
		if socket == nil {
			t.Fatalf("no holder for %s", tf)
		}
		if subs, _ := socket.counts(); subs != 2 {
			t.Fatalf("%s topics = %d, want 2", tf, subs)
		}
	}
}

// go test -v --run TestSocketsOpenLazilyPerTimeframe
func TestSocketsOpenLazilyPerTimeframe(t *testing.T) {
	client := &fakeClient{klines: flatHistory(5)}
	e, sockets, _ := newTestEngine(t, client, nil)
	ctx := context.Background()
	e.RegisterUser(ctx, 1)

	if got := sockets.opened(); got != 0 {
		t.Fatalf("holders opened before any subscription = %d, want 0", got)
	}

	e.ManageSubscription(ctx, 1, market.NewKey(market.Binance, "BTCUSDT", market.TF15m), true)
	if got := sockets.opened(); got != 1 {
		t.Fatalf("holders after first 15m topic = %d, want 1", got)
	}

	// A second 15m topic reuses the holder; a 5m topic opens a new one.
	e.ManageSubscription(ctx, 1, market.NewKey(market.Binance, "ETHUSDT", market.TF15m), true)
	if got := sockets.opened(); got != 1 {
		t.Fatalf("holders after second 15m topic = %d, want 1", got)
	}
	e.ManageSubscription(ctx, 1, market.NewKey(market.Binance, "BTCUSDT", market.TF5m), true)
	if got := sockets.opened(); got != 2 {
		t.Fatalf("holders after first 5m topic = %d, want 2", got)
	}
}

// go test -v --run TestUnregisterUserReleasesEverything
func TestUnregisterUserReleasesEverything(t *testing.T) {
	client := &fakeClient{klines: flatHistory(5), symbols: []string{"BTCUSDT"}}
	e, sockets, _ := newTestEngine(t, client, nil)
	ctx := context.Background()

	e.StartUser(ctx, 3)
	e.UnregisterUser(3)

	if got := e.Registry().Len(); got != 0 {
		t.Fatalf("registry entries = %d after unregister, want 0", got)
	}
	subs, unsubs := sockets.totals()
	if unsubs != subs {
		t.Fatalf("unsubscribes = %d, want %d", unsubs, subs)
	}
}
