package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client talks to the token ledger over its HTTP API. Amounts travel as
// base-10 strings to avoid JSON number precision loss.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

// ClientOption customises a Client instance.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// WithBearerToken attaches a bearer token to every request.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// NewClient constructs a ledger client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: base URL required")
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("ledger: parse base URL: %w", err)
	}
	client := &Client{
		baseURL: trimmed,
		httpc: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type transferRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

type transferResponse struct {
	Reference string `json:"reference"`
}

// BalanceOf implements Adapter.
func (c *Client) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	var out amountResponse
	path := "/v1/balances/" + url.PathEscape(strings.TrimSpace(address))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Amount)
}

// Claimable implements Adapter.
func (c *Client) Claimable(ctx context.Context, chapterID, author string) (*big.Int, error) {
	var out amountResponse
	path := "/v1/royalties/" + url.PathEscape(strings.TrimSpace(chapterID)) +
		"/" + url.PathEscape(strings.TrimSpace(author))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Amount)
}

// Transfer implements Adapter.
func (c *Client) Transfer(ctx context.Context, destination string, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("ledger: transfer amount must be positive")
	}
	req := transferRequest{Destination: strings.TrimSpace(destination), Amount: amount.String()}
	var out transferResponse
	if err := c.call(ctx, http.MethodPost, "/v1/transfers", req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Reference) == "" {
		return "", fmt.Errorf("ledger: transfer accepted without reference")
	}
	return out.Reference, nil
}

// Allowance implements Adapter.
func (c *Client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	var out amountResponse
	path := "/v1/allowances/" + url.PathEscape(strings.TrimSpace(owner)) +
		"/" + url.PathEscape(strings.TrimSpace(spender))
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return parseAmount(out.Amount)
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("ledger: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: ledger returned %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ledger: %s %s returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ledger: decode response: %w", err)
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("ledger: invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("ledger: negative amount %q", raw)
	}
	return value, nil
}
