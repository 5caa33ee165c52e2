package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body, keyed by
// the shared secret, so receivers can authenticate the payload.
const SignatureHeader = "X-Royaltyd-Signature"

// Deliverer pushes a rendered notification through one external channel.
// Each call is independent; a failure on one channel never affects another.
type Deliverer interface {
	Channel() Channel
	Deliver(ctx context.Context, n *Notification) error
}

// FuncDeliverer adapts a callback to the Deliverer interface.
type FuncDeliverer struct {
	Name Channel
	Fn   func(ctx context.Context, n *Notification) error
}

// Channel implements Deliverer.
func (f FuncDeliverer) Channel() Channel { return f.Name }

// Deliver implements Deliverer.
func (f FuncDeliverer) Deliver(ctx context.Context, n *Notification) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, n)
}

// InAppDeliverer reports success for notifications already appended to the
// author's in-app queue by the dispatcher.
type InAppDeliverer struct{}

// Channel implements Deliverer.
func (InAppDeliverer) Channel() Channel { return ChannelInApp }

// Deliver implements Deliverer.
func (InAppDeliverer) Deliver(context.Context, *Notification) error { return nil }

// WebhookDeliverer posts notifications as JSON to a configured endpoint.
type WebhookDeliverer struct {
	endpoint string
	secret   string
	httpc    *http.Client
}

// NewWebhookDeliverer constructs a webhook deliverer for the endpoint.
func NewWebhookDeliverer(endpoint, secret string) (*WebhookDeliverer, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("notify: webhook endpoint required")
	}
	return &WebhookDeliverer{
		endpoint: trimmed,
		secret:   strings.TrimSpace(secret),
		httpc: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Channel implements Deliverer.
func (w *WebhookDeliverer) Channel() Channel { return ChannelWebhook }

type webhookEnvelope struct {
	ID        string            `json:"id"`
	Author    string            `json:"authorAddress"`
	Type      Type              `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Amount    string            `json:"amount,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Deliver implements Deliverer.
func (w *WebhookDeliverer) Deliver(ctx context.Context, n *Notification) error {
	envelope := webhookEnvelope{
		ID:        n.ID,
		Author:    n.Author,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Metadata:  n.Metadata,
		Timestamp: n.CreatedAt,
	}
	if n.Amount != nil {
		envelope.Amount = n.Amount.String()
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("notify: encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(raw)
		req.Header.Set(SignatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := w.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode)
	}
	return nil
}
