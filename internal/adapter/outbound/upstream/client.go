// Package upstream is the outbound HTTP client for the exchange API that
// backs the market data and portfolio tools. Per-user API credentials
// arrive with each call and are used for request signing only; they are
// never stored or logged.
package upstream

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultBaseURL = "https://api.coinbase.com"
	defaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20 // 1MB
)

// ErrUnavailable signals that the exchange could not be reached or
// answered with a server error.
var ErrUnavailable = errors.New("upstream unavailable")

// ErrTimeout signals that the exchange did not answer within the
// request deadline.
var ErrTimeout = errors.New("upstream timeout")

// ErrRejected signals that the exchange rejected the request, usually
// bad credentials or an unknown symbol.
var ErrRejected = errors.New("upstream rejected request")

// Quote is one spot price observation.
type Quote struct {
	Symbol   string    `json:"symbol"`
	Price    string    `json:"price"`
	Currency string    `json:"currency"`
	Time     time.Time `json:"time"`
}

// Account is one exchange account balance.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
}

// Client talks to the exchange REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the exchange endpoint, for tests.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithClock overrides the time source used for request signing.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client with the default endpoint and timeout.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.With("component", "upstream_client"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SpotPrice fetches the current spot price for a currency pair such as
// "BTC-USD". The endpoint is public; no credentials are needed.
func (c *Client) SpotPrice(ctx context.Context, symbol string) (*Quote, error) {
	path := fmt.Sprintf("/v2/prices/%s/spot", symbol)
	body, err := c.do(ctx, http.MethodGet, path, "", "")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed price response", ErrUnavailable)
	}
	return &Quote{
		Symbol:   symbol,
		Price:    payload.Data.Amount,
		Currency: payload.Data.Currency,
		Time:     c.now().UTC(),
	}, nil
}

// Accounts fetches the caller's account balances using their own API
// credentials.
func (c *Client) Accounts(ctx context.Context, apiKey, apiSecret string) ([]Account, error) {
	body, err := c.do(ctx, http.MethodGet, "/v2/accounts", apiKey, apiSecret)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Balance struct {
				Amount   string `json:"amount"`
				Currency string `json:"currency"`
			} `json:"balance"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed accounts response", ErrUnavailable)
	}

	accounts := make([]Account, 0, len(payload.Data))
	for _, a := range payload.Data {
		accounts = append(accounts, Account{
			ID:       a.ID,
			Name:     a.Name,
			Currency: a.Balance.Currency,
			Balance:  a.Balance.Amount,
		})
	}
	return accounts, nil
}

// do issues one request. When apiKey is set the request is signed with
// the exchange's HMAC scheme. Error messages carry status codes and
// paths, never credentials.
func (c *Client) do(ctx context.Context, method, path, apiKey, apiSecret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if apiKey != "" {
		ts := strconv.FormatInt(c.now().Unix(), 10)
		mac := hmac.New(sha256.New, []byte(apiSecret))
		mac.Write([]byte(ts + method + path))
		req.Header.Set("CB-ACCESS-KEY", apiKey)
		req.Header.Set("CB-ACCESS-SIGN", hex.EncodeToString(mac.Sum(nil)))
		req.Header.Set("CB-ACCESS-TIMESTAMP", ts)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, path)
		}
		return nil, fmt.Errorf("%w: %s %s", ErrUnavailable, method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response for %s", ErrUnavailable, path)
	}

	c.logger.Debug("upstream request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s returned %d", ErrRejected, path, resp.StatusCode)
	}
	return body, nil
}
