package gateways

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
	"time"
)

const (
	lemonSqueezyName    = "lemon_squeezy"
	lemonSqueezyBaseURL = "https://api.lemonsqueezy.com/v1"

	requestTimeout = 15 * time.Second
)

// LemonSqueezyConfig holds provider credentials.
type LemonSqueezyConfig struct {
	APIKey        string
	StoreID       string
	SigningSecret string
	TestMode      bool
	BaseURL       string // overridable for tests
}

// LemonSqueezy implements Gateway against the Lemon Squeezy JSON:API.
type LemonSqueezy struct {
	cfg    LemonSqueezyConfig
	client *http.Client
}

func NewLemonSqueezy(cfg LemonSqueezyConfig) *LemonSqueezy {
	if cfg.BaseURL == "" {
		cfg.BaseURL = lemonSqueezyBaseURL
	}
	return &LemonSqueezy{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (g *LemonSqueezy) Name() string {
	return lemonSqueezyName
}

// Charge creates an order against the configured store and returns the
// provider order id as the gateway reference.
func (g *LemonSqueezy) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	attrs := map[string]interface{}{
		"amount":         req.AmountMinor,
		"currency":       req.Currency,
		"payment_method": req.PaymentMethodRef,
		"test_mode":      g.cfg.TestMode,
	}
	if len(req.Metadata) > 0 {
		attrs["custom"] = req.Metadata
	}

	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type":       "orders",
			"attributes": attrs,
			"relationships": map[string]interface{}{
				"store": map[string]interface{}{
					"data": map[string]string{"type": "stores", "id": g.cfg.StoreID},
				},
			},
		},
	}

	respBody, err := g.makeRequest(ctx, http.MethodPost, "/orders", body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Data.ID == "" {
		return nil, &GatewayError{Kind: ErrorInvalidRequest, Message: "invalid charge response", Err: err}
	}

	return &ChargeResult{GatewayRef: parsed.Data.ID}, nil
}

func (g *LemonSqueezy) Refund(ctx context.Context, gatewayRef string) error {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type": "order-refunds",
			"relationships": map[string]interface{}{
				"order": map[string]interface{}{
					"data": map[string]string{"type": "orders", "id": gatewayRef},
				},
			},
		},
	}

	_, err := g.makeRequest(ctx, http.MethodPost, "/order-refunds", body)
	return err
}

func (g *LemonSqueezy) CancelSubscription(ctx context.Context, gatewaySubRef string) error {
	body := map[string]interface{}{
		"data": map[string]interface{}{
			"type":       "subscriptions",
			"id":         gatewaySubRef,
			"attributes": map[string]bool{"cancelled": true},
		},
	}

	_, err := g.makeRequest(ctx, http.MethodPatch, "/subscriptions/"+gatewaySubRef, body)
	return err
}

// VerifyWebhookSignature checks the hex HMAC-SHA256 of the raw body against
// the X-Signature header value. Malformed input yields false.
func (g *LemonSqueezy) VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool {
	if secret == "" || signatureHeader == "" {
		return false
	}

	provided, err := hex.DecodeString(signatureHeader)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	return hmac.Equal(expected, provided)
}

// ParseEvent decodes the {event, id, data, timestamp} envelope. The event,
// id and data fields are required.
func (g *LemonSqueezy) ParseEvent(rawBody []byte) (*Event, error) {
	var envelope struct {
		Event     string          `json:"event"`
		ID        string          `json:"id"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}

	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return nil, &ParseError{Reason: "not well-formed JSON"}
	}

	var missing []string
	if envelope.Event == "" {
		missing = append(missing, "event")
	}
	if envelope.ID == "" {
		missing = append(missing, "id")
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		// Keep the event id in the error so callers can record malformed
		// deliveries that at least identified themselves.
		return &Event{ID: envelope.ID, Type: envelope.Event}, &ParseError{Reason: "missing required fields", Missing: missing}
	}

	ts := time.Unix(envelope.Timestamp, 0)
	if envelope.Timestamp == 0 {
		ts = time.Now()
	}

	return &Event{
		ID:        envelope.ID,
		Type:      envelope.Event,
		Data:      envelope.Data,
		Timestamp: ts,
	}, nil
}

func (g *LemonSqueezy) makeRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &GatewayError{Kind: ErrorInvalidRequest, Message: "encode request", Err: err}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, &GatewayError{Kind: ErrorInvalidRequest, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Content-Type", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		// Timeouts and transport failures are transient.
		return nil, &GatewayError{Kind: ErrorNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Kind: ErrorNetwork, Message: "read response", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, &GatewayError{Kind: ErrorDeclined, Message: fmt.Sprintf("declined (%d)", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &GatewayError{Kind: ErrorNetwork, Message: fmt.Sprintf("provider error (%d)", resp.StatusCode)}
	default:
		return nil, &GatewayError{Kind: ErrorInvalidRequest, Message: fmt.Sprintf("rejected (%d)", resp.StatusCode)}
	}
}
