package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
)

const (
	PaymentsSource = "payments"

	paymentsHeaderSignature = "X-Payment-Signature"
	paymentsHeaderEventID   = "X-Payment-Event-Id"
	paymentsHeaderSentAt    = "X-Payment-Sent-At"
	paymentsHeaderAccount   = "X-Payment-Account"
)

const defaultPaymentsReplayWindow = 5 * time.Minute

type PaymentsConfig struct {
	Secret       string
	ReplayWindow time.Duration
	Now          func() time.Time
}

// PaymentsAdapter verifies deliveries from the payment processor: an
// HMAC-SHA256 signature over the raw body, base64 encoded, plus a bounded
// replay window on the provider's sent-at header.
type PaymentsAdapter struct {
	secret       string
	replayWindow time.Duration
	now          func() time.Time
}

func NewPaymentsAdapter(cfg PaymentsConfig) *PaymentsAdapter {
	window := cfg.ReplayWindow
	if window <= 0 {
		window = defaultPaymentsReplayWindow
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &PaymentsAdapter{
		secret:       strings.TrimSpace(cfg.Secret),
		replayWindow: window,
		now:          now,
	}
}

func (a *PaymentsAdapter) Source() string { return PaymentsSource }

func (a *PaymentsAdapter) Verify(_ context.Context, req core.RawInboundRequest) (core.VerificationResult, error) {
	verifier := HeaderHMACVerifier{
		Header:   paymentsHeaderSignature,
		Secret:   a.secret,
		Encoding: "base64",
	}
	if err := verifier.Verify(req); err != nil {
		return core.VerificationResult{Valid: false, Reason: err.Error()}, nil
	}

	if sentAt := strings.TrimSpace(headerValue(req.Headers, paymentsHeaderSentAt)); sentAt != "" {
		at, err := time.Parse(time.RFC3339Nano, sentAt)
		if err != nil {
			return core.VerificationResult{
				Valid:  false,
				Reason: fmt.Sprintf("sources: parse %s: %v", paymentsHeaderSentAt, err),
			}, nil
		}
		delta := a.now().UTC().Sub(at.UTC())
		if delta < 0 {
			delta = -delta
		}
		if delta > a.replayWindow {
			return core.VerificationResult{
				Valid:  false,
				Reason: "sources: delivery timestamp outside replay window",
			}, nil
		}
	}

	var body struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return core.VerificationResult{}, fmt.Errorf("sources: decode payments body: %w", err)
	}
	eventType := strings.TrimSpace(body.Type)
	if eventType == "" {
		return core.VerificationResult{}, fmt.Errorf("sources: payments event type is required")
	}
	payload := body.Data
	if payload == nil {
		payload = map[string]any{}
	}

	return core.VerificationResult{
		Valid: true,
		Event: core.NormalizedEvent{
			ExternalEventID: strings.TrimSpace(headerValue(req.Headers, paymentsHeaderEventID)),
			EventType:       eventType,
			Payload:         payload,
			TenantID:        strings.TrimSpace(headerValue(req.Headers, paymentsHeaderAccount)),
		},
	}, nil
}

var _ core.SourceAdapter = (*PaymentsAdapter)(nil)
