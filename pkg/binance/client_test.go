package binance

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

// go test -v --run TestGetKlinesParsesMixedRows
func TestGetKlinesParsesMixedRows(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/fapi/v1/klines": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("interval"); got != "1h" {
				t.Errorf("interval = %q, want 1h", got)
			}
			fmt.Fprint(w, `[
				[1700000000000,"100","101","99","100.5","10",1700003599999,"1005",120,"5","502","0"],
				[1700003600000,"100.5","103","100","102","25",1700007199999,"2550",300,"12","1224","0"]]`)
		},
	})

	c := NewClient(srv.URL, time.Second)
	candles, err := c.GetKlines(context.Background(), "BTCUSDT", market.TF1h, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if candles[0].OpenTime != 1700000000000 || candles[1].OpenTime != 1700003600000 {
		t.Fatalf("candles not ascending: %+v", candles)
	}
	if candles[1].High != 103 || candles[1].Volume != 25 || !candles[1].Closed {
		t.Fatalf("candle = %+v", candles[1])
	}
}

// go test -v --run TestFetchOpenInterestPctChange
func TestFetchOpenInterestPctChange(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/futures/data/openInterestHist": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("period"); got != "15m" {
				t.Errorf("period = %q, want 15m", got)
			}
			// Oldest first on the wire.
			fmt.Fprint(w, `[
				{"sumOpenInterest":"100","sumOpenInterestValue":"4000000","timestamp":1700000000000},
				{"sumOpenInterest":"98","sumOpenInterestValue":"3950000","timestamp":1700000900000},
				{"sumOpenInterest":"100.94","sumOpenInterestValue":"4100000","timestamp":1700001800000}]`)
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
	if oi.TotalUsd != 4_100_000 {
		t.Fatalf("totalUsd = %v, want 4100000", oi.TotalUsd)
	}
}

// go test -v --run TestFetchOpenInterestValueFallback
func TestFetchOpenInterestValueFallback(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/futures/data/openInterestHist": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[
				{"sumOpenInterest":"100","sumOpenInterestValue":"0","timestamp":1},
				{"sumOpenInterest":"110","sumOpenInterestValue":"0","timestamp":2}]`)
		},
		"/fapi/v1/klines": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[[1700000000000,"42000","42100","41900","42000","1",1700000899999,"42000",10,"0.5","21000","0"]]`)
		},
	})

	c := NewClient(srv.URL, time.Second)
	oi, err := c.FetchOpenInterest(context.Background(), "BTCUSDT", market.TF15m)
	if err != nil || oi == nil {
		t.Fatalf("got (%+v, %v)", oi, err)
	}
	// 110 contracts x 42000 last close
	if oi.TotalUsd != 110*42000 {
		t.Fatalf("totalUsd = %v, want %v", oi.TotalUsd, 110*42000)
	}
}

// go test -v --run TestFetchOpenInterestEmptyHistory
func TestFetchOpenInterestEmptyHistory(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/futures/data/openInterestHist": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[]`)
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
		"/fapi/v1/klines": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
		},
	})

	c := NewClient(srv.URL, time.Second)
	_, err := c.GetKlines(context.Background(), "GONEUSDT", market.TF15m, 10)
	if !errors.Is(err, market.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// go test -v --run TestGetActiveSymbolsFilters
func TestGetActiveSymbolsFilters(t *testing.T) {
	srv := newTestServer(t, map[string]http.HandlerFunc{
		"/fapi/v1/ticker/24hr": func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `[
				{"symbol":"BTCUSDT","quoteVolume":"900000000"},
				{"symbol":"ETHBTC","quoteVolume":"900000000"},
				{"symbol":"DUSTUSDT","quoteVolume":"12000"},
				{"symbol":"SOLUSDT","quoteVolume":"75000000"}]`)
		},
	})

	c := NewClient(srv.URL, time.Second)
	symbols, err := c.GetActiveSymbols(context.Background(), 50_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "BTCUSDT" || symbols[1] != "SOLUSDT" {
		t.Fatalf("symbols = %v, want [BTCUSDT SOLUSDT]", symbols)
	}
}
