// Package httpvenue implements the venue collaborators over the exchange
// gateway's JSON HTTP API.
package httpvenue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndthang/copyflow/internal/core/domain"
	"github.com/ndthang/copyflow/internal/venue"
)

// Config holds venue gateway settings.
type Config struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to the exchange gateway. Implements venue.Executor,
// venue.PositionReader and venue.Treasury.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new venue gateway client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type submitResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature"`
	FillPrice string `json:"fill_price"`
	Fee       string `json:"fee"`
	Route     string `json:"route"`
	Error     string `json:"error"`
}

// Submit implements venue.Executor.
func (c *Client) Submit(ctx context.Context, intent domain.OrderIntent) (*venue.ExecutionResult, error) {
	var resp submitResponse
	if err := c.post(ctx, "/v1/orders", intent, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("order rejected: %s", resp.Error)
	}

	fill, err := decimal.NewFromString(resp.FillPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid fill price %q: %w", resp.FillPrice, err)
	}
	fee, err := decimal.NewFromString(resp.Fee)
	if err != nil {
		return nil, fmt.Errorf("invalid fee %q: %w", resp.Fee, err)
	}

	return &venue.ExecutionResult{
		Signature: resp.Signature,
		FillPrice: fill,
		Fee:       fee,
		Route:     resp.Route,
	}, nil
}

// GetPositions implements venue.PositionReader.
func (c *Client) GetPositions(ctx context.Context, accountID string, subAccount int) ([]domain.Position, error) {
	url := fmt.Sprintf("%s/v1/positions?account=%s&sub_account=%d", c.baseURL, accountID, subAccount)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Positions []domain.Position `json:"positions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return out.Positions, nil
}

// SettlePnL implements venue.Treasury.
func (c *Client) SettlePnL(ctx context.Context, accountID string, subAccount int, market string) error {
	body := map[string]any{
		"account":     accountID,
		"sub_account": subAccount,
		"market":      market,
	}
	return c.post(ctx, "/v1/settle", body, nil)
}

// Withdraw implements venue.Treasury.
func (c *Client) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal) error {
	body := map[string]any{
		"account": accountID,
		"amount":  amount.String(),
	}
	return c.post(ctx, "/v1/withdraw", body, nil)
}

// Transfer implements venue.Treasury.
func (c *Client) Transfer(ctx context.Context, fromWallet, toWallet string, amount decimal.Decimal) error {
	body := map[string]any{
		"from":   fromWallet,
		"to":     toWallet,
		"amount": amount.String(),
	}
	return c.post(ctx, "/v1/transfer", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("venue call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// checkStatus surfaces gateway errors with the response text preserved so the
// classifier can match the venue's phrasing.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("venue rate limit (429), retry after %s", resp.Header.Get("Retry-After"))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("venue returned %d: %s", resp.StatusCode, string(body))
}

// Health pings the gateway.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}
