package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/exchange"
)

// Client is the REST client for the Bybit v5 market API, used for candle
// backfill and the liveness probe.
type Client struct {
	baseURL    string
	category   string
	httpClient *http.Client
}

var _ exchange.RestClient = (*Client)(nil)

// NewClient creates a REST client. baseURL is the API root, e.g.
// "https://api.bybit.com"; category is the product type ("spot" or "linear").
func NewClient(baseURL, category string) *Client {
	if category == "" {
		category = "spot"
	}
	return &Client{
		baseURL:  baseURL,
		category: category,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Klines returns up to limit historical candles for the symbol and timeframe,
// oldest first. Bybit delivers rows newest-first; they are reversed here. The
// final bar may still be forming and is marked unconfirmed.
func (c *Client) Klines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	interval, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("bybit: klines: unsupported timeframe %q", tf)
	}

	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/v5/market/kline?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("bybit: klines %s %s: %w", symbol, tf, err)
	}

	var resp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List [][]string `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bybit: decode klines: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit: klines: retCode %d: %s", resp.RetCode, resp.RetMsg)
	}

	now := time.Now()
	dur := tf.Duration()
	rows := resp.Result.List
	candles := make([]domain.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		open := time.UnixMilli(startMs)
		candles = append(candles, domain.Candle{
			OpenTime:  open,
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			Confirmed: open.Add(dur).Before(now),
		})
	}
	return candles, nil
}

// Ping performs the liveness probe by requesting the server time.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ServerTime(ctx)
	return err
}

// ServerTime fetches the venue clock from /v5/market/time.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.get(ctx, "/v5/market/time")
	if err != nil {
		return time.Time{}, fmt.Errorf("bybit: server time: %w", err)
	}

	var resp struct {
		RetCode int `json:"retCode"`
		Result  struct {
			TimeSecond string `json:"timeSecond"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("bybit: decode server time: %w", err)
	}

	sec, err := strconv.ParseInt(resp.Result.TimeSecond, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("bybit: parse server time: %w", err)
	}
	return time.Unix(sec, 0), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
