// Package bybit is the Bybit v5 linear-perpetual REST client used for
// history seeding, derived-metric polling and symbol discovery.
package bybit

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

// DefaultBaseURL is the Bybit production REST endpoint.
const DefaultBaseURL = "https://api.bybit.com"

// Client talks to the Bybit v5 market-data endpoints. Safe for concurrent use.
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

// response is the v5 envelope shared by every endpoint.
type response struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// get performs one GET request and unwraps the v5 envelope.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
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

	if resp.StatusCode == http.StatusNotFound {
		return nil, market.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bybit error: status %d: %s", resp.StatusCode, body)
	}

	var raw response
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if raw.RetCode != 0 {
		// 10001 covers "params error: Symbol Is Invalid" for delisted pairs.
		if raw.RetCode == 10001 && strings.Contains(strings.ToLower(raw.RetMsg), "symbol") {
			return nil, market.ErrNotFound
		}
		return nil, fmt.Errorf("bybit error: retCode %d: %s", raw.RetCode, raw.RetMsg)
	}
	return raw.Result, nil
}

// GetKlines fetches up to limit candles for symbol, oldest first. Bybit
// returns the list newest-first, so the rows are reversed before parsing.
// The newest candle may still be forming and is flagged accordingly.
func (c *Client) GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("interval", tf.Meta().BybitInterval)
	q.Set("limit", strconv.Itoa(limit))

	raw, err := c.get(ctx, "/v5/market/kline", q)
	if err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	now := time.Now().UnixMilli()
	bucket := int64(tf.Minutes()) * 60_000
	out := make([]market.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		open, err1 := strconv.ParseFloat(row[1], 64)
		high, err2 := strconv.ParseFloat(row[2], 64)
		low, err3 := strconv.ParseFloat(row[3], 64)
		closeVal, err4 := strconv.ParseFloat(row[4], 64)
		volume, err5 := strconv.ParseFloat(row[5], 64)
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

// FetchOpenInterest reads the open-interest history (limit 30) and computes
// the percent change between the two most recent points; the notional total
// comes from the ticker. Returns (nil, nil) while history is insufficient.
func (c *Client) FetchOpenInterest(ctx context.Context, symbol string, tf market.Timeframe) (*metrics.OpenInterest, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("intervalTime", tf.Meta().BybitOIInterval)
	q.Set("limit", "30")

	raw, err := c.get(ctx, "/v5/market/open-interest", q)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			OpenInterest string `json:"openInterest"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if len(result.List) < 2 {
		return nil, nil
	}

	// Newest first on the wire.
	last, err1 := strconv.ParseFloat(result.List[0].OpenInterest, 64)
	prev, err2 := strconv.ParseFloat(result.List[1].OpenInterest, 64)
	if err1 != nil || err2 != nil || prev == 0 {
		return nil, nil
	}
	oi := &metrics.OpenInterest{PctChange: (last - prev) / prev * 100}

	totalUsd, err := c.openInterestValue(ctx, symbol)
	if err != nil {
		return nil, err
	}
	oi.TotalUsd = totalUsd
	return oi, nil
}

// openInterestValue reads the notional open interest from the ticker.
func (c *Client) openInterestValue(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)

	raw, err := c.get(ctx, "/v5/market/tickers", q)
	if err != nil {
		return 0, err
	}
	var result struct {
		List []struct {
			OpenInterestValue string `json:"openInterestValue"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode result: %w", err)
	}
	if len(result.List) == 0 {
		return 0, market.ErrNotFound
	}
	value, err := strconv.ParseFloat(result.List[0].OpenInterestValue, 64)
	if err != nil {
		return 0, nil
	}
	return value, nil
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

// GetActiveSymbols lists USDT-margined linear perpetuals whose 24h turnover
// is at least minQuoteVolumeUsd.
func (c *Client) GetActiveSymbols(ctx context.Context, minQuoteVolumeUsd float64) ([]string, error) {
	q := url.Values{}
	q.Set("category", "linear")

	raw, err := c.get(ctx, "/v5/market/tickers", q)
	if err != nil {
		return nil, err
	}
	var result struct {
		List []struct {
			Symbol     string `json:"symbol"`
			Turnover24 string `json:"turnover24h"`
		} `json:"list"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	var symbols []string
	for _, t := range result.List {
		if !strings.HasSuffix(t.Symbol, "USDT") {
			continue
		}
		turnover, err := strconv.ParseFloat(t.Turnover24, 64)
		if err != nil || turnover < minQuoteVolumeUsd {
			continue
		}
		symbols = append(symbols, t.Symbol)
	}
	return symbols, nil
}
