package binance

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

// Client is the REST client for the Binance spot API, used for candle
// backfill and the liveness probe.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ exchange.RestClient = (*Client)(nil)

// NewClient creates a REST client. baseURL is the API root,
// e.g. "https://api.binance.com".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Klines returns up to limit historical candles for the symbol and timeframe,
// oldest first. The final bar may still be forming and is marked unconfirmed.
func (c *Client) Klines(ctx context.Context, symbol string, tf domain.Timeframe, limit int) ([]domain.Candle, error) {
	interval, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("binance: klines: unsupported timeframe %q", tf)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/api/v3/klines?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, tf, err)
	}

	// Each row is a mixed array: [openTime, "o", "h", "l", "c", "v", closeTime, ...].
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	now := time.Now()
	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		var openMs, closeMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			continue
		}
		_ = json.Unmarshal(row[6], &closeMs)

		cd := domain.Candle{
			OpenTime:  time.UnixMilli(openMs),
			Open:      rawFloat(row[1]),
			High:      rawFloat(row[2]),
			Low:       rawFloat(row[3]),
			Close:     rawFloat(row[4]),
			Volume:    rawFloat(row[5]),
			Confirmed: time.UnixMilli(closeMs).Before(now),
		}
		candles = append(candles, cd)
	}
	return candles, nil
}

// Ping performs the liveness probe against /api/v3/ping.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.get(ctx, "/api/v3/ping"); err != nil {
		return fmt.Errorf("binance: ping: %w", err)
	}
	return nil
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
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code == codeInvalidSymbol {
			return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUnknownSymbol)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// codeInvalidSymbol is Binance's API error code for an unknown symbol.
const codeInvalidSymbol = -1121

// rawFloat decodes a JSON string cell ("123.45") into a float.
func rawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
