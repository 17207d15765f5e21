package bybit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sigscan/internal/market"
)

func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range handlers {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func envelope(result string) string {
	return fmt.Sprintf(`{"retCode":0,"retMsg":"OK","result":%s}`, result)
}

// go test -v --run TestGetKlinesReversesToAscending
func TestGetKlinesReversesToAscending(t *testing.T) {
	// Bybit lists candles newest first; old open times so every row is closed.
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v5/market/kline": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("interval"); got != "15" {
				t.Errorf("interval = %q, want 15", got)
			}
			fmt.Fprint(w, envelope(`{"list":[
				["1700000900000","101","102","100","101.5","20","2030"],
				["1700000000000","100","101","99","101","10","1010"]]}`))
		},
	})

	c := NewClient(srv.URL, time.Second)
	candles, err := c.GetKlines(context.Background(), "BTCUSDT", market.TF15m, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if candles[0].OpenTime != 1700000000000 || candles[1].OpenTime != 1700000900000 {
		t.Fatalf("candles not ascending: %v, %v", candles[0].OpenTime, candles[1].OpenTime)
	}
	if !candles[0].Closed || !candles[1].Closed {
		t.Fatal("historical candles must be marked closed")
	}
	if candles[1].Close != 101.5 || candles[1].Volume != 20 {
		t.Fatalf("candle = %+v", candles[1])
	}
}

// go test -v --run TestGetKlinesFlagsFormingCandle
func TestGetKlinesFlagsFormingCandle(t *testing.T) {
	cur := time.Now().Add(-time.Minute).UnixMilli()
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v5/market/kline": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, envelope(`{"list":[["%d","100","101","99","100.5","5","502"]]}`), cur)
		},
	})

	c := NewClient(srv.URL, time.Second)
	candles, err := c.GetKlines(context.Background(), "BTCUSDT", market.TF15m, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 1 || candles[0].Closed {
		t.Fatalf("forming candle flagged closed: %+v", candles)
	}
}

// go test -v --run TestFetchOpenInterest
func TestFetchOpenInterest(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v5/market/open-interest": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("intervalTime"); got != "15min" {
				t.Errorf("intervalTime = %q, want 15min", got)
			}
			if got := r.URL.Query().Get("limit"); got != "30" {
				t.Errorf("limit = %q, want 30", got)
			}
			fmt.Fprint(w, envelope(`{"list":[
				{"openInterest":"103","timestamp":"1700000900000"},
				{"openInterest":"100","timestamp":"1700000000000"}]}`))
		},
		"/v5/market/tickers": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, envelope(`{"list":[{"symbol":"BTCUSDT","openInterestValue":"4300000"}]}`))
		},
	})

	c := NewClient(srv.URL, time.Second)
	oi, err := c.FetchOpenInterest(context.Background(), "BTCUSDT", market.TF15m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oi == nil {
		t.Fatal("expected a reading")
	}
	if oi.PctChange < 2.99 || oi.PctChange > 3.01 {
		t.Fatalf("pctChange = %v, want ~3", oi.PctChange)
	}
	if oi.TotalUsd != 4_300_000 {
		t.Fatalf("totalUsd = %v, want 4300000", oi.TotalUsd)
	}
}

// go test -v --run TestFetchOpenInterestInsufficientHistory
func TestFetchOpenInterestInsufficientHistory(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v5/market/open-interest": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, envelope(`{"list":[{"openInterest":"100","timestamp":"1"}]}`))
		},
	})

	c := NewClient(srv.URL, time.Second)
	oi, err := c.FetchOpenInterest(context.Background(), "NEWUSDT", market.TF5m)
	if err != nil || oi != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil)", oi, err)
	}
}

// go test -v --run TestInvalidSymbolMapsToNotFound
func TestInvalidSymbolMapsToNotFound(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v5/market/kline": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"retCode":10001,"retMsg":"params error: Symbol Is Invalid","result":{}}`)
		},
	})

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetKlines(context.Background(), "GONEUSDT", market.TF15m, 10)
	if !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// go test -v --run TestFetchCVDUsesLatestCandle
func TestFetchCVDUsesLatestCandle(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v5/market/kline": func(w http.ResponseWriter, r *http.Request) {
			// Newest first: current candle open 100 close 102 volume 50.
			fmt.Fprint(w, envelope(`{"list":[
				["1700000900000","100","103","99","102","50","5050"],
				["1700000000000","99","101","98","100","10","1000"]]}`))
		},
	})

	c := NewClient(srv.URL, time.Second)
	cvd, err := c.FetchCVD(context.Background(), "BTCUSDT", market.TF15m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// (102-100)/100 * 50 * (100+102)/2 = 0.02 * 50 * 101 = 101
	if cvd < 100.99 || cvd > 101.01 {
		t.Fatalf("cvd = %v, want ~101", cvd)
	}
}

// go test -v --run TestGetActiveSymbolsFiltersUSDTAndVolume
func TestGetActiveSymbolsFiltersUSDTAndVolume(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/v5/market/tickers": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, envelope(`{"list":[
				{"symbol":"BTCUSDT","turnover24h":"900000000"},
				{"symbol":"LOWUSDT","turnover24h":"1000"},
				{"symbol":"BTCPERP","turnover24h":"900000000"},
				{"symbol":"ETHUSDT","turnover24h":"60000000"}]}`))
		},
	})

	c := NewClient(srv.URL, time.Second)
	symbols, err := c.GetActiveSymbols(context.Background(), 50_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "ETHUSDT" {
		t.Fatalf("symbols = %v, want [BTCUSDT ETHUSDT]", symbols)
	}
}
