package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ErrorKind classifies a gateway failure for retry decisions upstream.
type ErrorKind string

const (
	ErrorDeclined       ErrorKind = "declined"
	ErrorNetwork        ErrorKind = "network"
	ErrorInvalidRequest ErrorKind = "invalid_request"
)

// GatewayError is any failure returned by a payment provider call.
type GatewayError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ParseError reports a webhook payload that is not a well-formed event
// envelope. Missing lists the absent required fields, if any.
type ParseError struct {
	Reason  string
	Missing []string
}

func (e *ParseError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("parse event: %s (missing: %v)", e.Reason, e.Missing)
	}
	return "parse event: " + e.Reason
}

// Event is the normalized webhook envelope: {event, id, data, timestamp}.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ChargeRequest describes one charge attempt. AmountMinor is in minor units.
type ChargeRequest struct {
	AmountMinor      int64
	Currency         string
	PaymentMethodRef string
	Metadata         map[string]string
}

// ChargeResult carries the provider-assigned reference for a successful
// charge.
type ChargeResult struct {
	GatewayRef string
}

// Gateway is the uniform capability set over a payment provider. Network
// calls honor ctx deadlines; a timeout surfaces as a network GatewayError,
// never as silent success.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, gatewayRef string) error
	CancelSubscription(ctx context.Context, gatewaySubRef string) error

	// VerifyWebhookSignature must use a constant-time comparison and must
	// return false, never panic, on malformed input.
	VerifyWebhookSignature(rawBody []byte, signatureHeader, secret string) bool

	ParseEvent(rawBody []byte) (*Event, error)
}
