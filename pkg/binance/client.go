// Package binance is the Binance USDⓈ-M futures REST client used for
// history seeding, derived-metric polling and symbol discovery.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sigscan/internal/market"
	"sigscan/internal/metrics"
)

// DefaultBaseURL is the Binance futures production REST endpoint.
const DefaultBaseURL = "https://fapi.binance.com"

// Client talks to the Binance futures market-data endpoints. Safe for
// concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a REST client; an empty baseURL selects production.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, market.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		// -1121 is "Invalid symbol", returned with status 400 for delisted pairs.
		if strings.Contains(string(body), `"code":-1121`) {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("binance error: status %d: %s", resp.StatusCode, body)
	}
	return body, nil
}

// GetKlines fetches up to limit candles for symbol, oldest first (the wire
// order). The newest candle may still be forming and is flagged accordingly.
func (c *Client) GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", tf.Meta().BinanceInterval)
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/fapi/v1/klines", q)
	if err != nil {
		return nil, err
	}

	// Rows are mixed-type arrays: [openTime, "open", "high", "low", "close",
	// "volume", closeTime, ...].
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	now := time.Now().UnixMilli()
	bucket := int64(tf.Minutes()) * 60_000
	out := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		var start int64
		if err := json.Unmarshal(row[0], &start); err != nil {
			continue
		}
		open, err1 := parseQuoted(row[1])
		high, err2 := parseQuoted(row[2])
		low, err3 := parseQuoted(row[3])
		closeVal, err4 := parseQuoted(row[4])
		volume, err5 := parseQuoted(row[5])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime: start,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeVal,
			Volume:   volume,
			Closed:   start+bucket <= now,
		})
	}
	return out, nil
}

func parseQuoted(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// FetchOpenInterest reads the open-interest history (limit 30, oldest first
// on the wire) and computes the percent change between the two most recent
// points. The notional total comes from sumOpenInterestValue, falling back
// to oi x lastClose when the exchange reports a zero value. Returns
// (nil, nil) while history is insufficient.
func (c *Client) FetchOpenInterest(ctx context.Context, symbol string, tf market.Timeframe) (*metrics.OpenInterest, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("period", tf.Meta().BinanceOIPeriod)
	q.Set("limit", "30")

	body, err := c.get(ctx, "/futures/data/openInterestHist", q)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		SumOpenInterest      string `json:"sumOpenInterest"`
		SumOpenInterestValue string `json:"sumOpenInterestValue"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode open interest: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	last, err1 := strconv.ParseFloat(rows[len(rows)-1].SumOpenInterest, 64)
	prev, err2 := strconv.ParseFloat(rows[len(rows)-2].SumOpenInterest, 64)
	if err1 != nil || err2 != nil || prev == 0 {
		return nil, nil
	}
	oi := &metrics.OpenInterest{PctChange: (last - prev) / prev * 100}

	if value, err := strconv.ParseFloat(rows[len(rows)-1].SumOpenInterestValue, 64); err == nil && value > 0 {
		oi.TotalUsd = value
		return oi, nil
	}
	candles, err := c.GetKlines(ctx, symbol, tf, 1)
	if err != nil || len(candles) == 0 {
		return oi, nil
	}
	oi.TotalUsd = last * candles[len(candles)-1].Close
	return oi, nil
}

// FetchCVD approximates the cumulative volume delta of the latest candle:
// ((close-open)/open) * volume * (open+close)/2, in quote currency.
func (c *Client) FetchCVD(ctx context.Context, symbol string, tf market.Timeframe) (float64, error) {
	candles, err := c.GetKlines(ctx, symbol, tf, 2)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	cur := candles[len(candles)-1]
	if cur.Open == 0 {
		return 0, nil
	}
	return (cur.Close - cur.Open) / cur.Open * cur.Volume * (cur.Open + cur.Close) / 2, nil
}

// GetActiveSymbols lists USDT-quoted futures whose 24h quote volume is at
// least minQuoteVolumeUsd.
func (c *Client) GetActiveSymbols(ctx context.Context, minQuoteVolumeUsd float64) ([]string, error) {
	body, err := c.get(ctx, "/fapi/v1/ticker/24hr", url.Values{})
	if err != nil {
		return nil, err
	}

	var tickers []struct {
		Symbol      string `json:"symbol"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}

	var symbols []string
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, "USDT") {
			continue
		}
		volume, err := strconv.ParseFloat(t.QuoteVolume, 64)
		if err != nil || volume < minQuoteVolumeUsd {
			continue
		}
		symbols = append(symbols, t.Symbol)
	}
	return symbols, nil
}
