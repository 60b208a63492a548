package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	MapsSource = "maps"

	mapsHeaderSignature  = "X-Geo-Signature"
	mapsHeaderDeliveryID = "X-Geo-Delivery-Id"
)

// MapsAdapter verifies callbacks from the mapping provider: hex HMAC-SHA256
// with a "sha256=" prefix, the pattern shared by most geocoding webhook
// APIs.
type MapsAdapter struct {
	secret string
}

func NewMapsAdapter(secret string) *MapsAdapter {
	return &MapsAdapter{secret: strings.TrimSpace(secret)}
}

func (a *MapsAdapter) Source() string { return MapsSource }

func (a *MapsAdapter) Verify(_ context.Context, req core.RawInboundRequest) (core.VerificationResult, error) {
	verifier := HeaderHMACVerifier{
		Header:   mapsHeaderSignature,
		Prefix:   "sha256=",
		Secret:   a.secret,
		Encoding: "hex",
	}
	if err := verifier.Verify(req); err != nil {
		return core.VerificationResult{Valid: false, Reason: err.Error()}, nil
	}

	var body struct {
		Kind     string         `json:"kind"`
		TenantID string         `json:"tenant_id"`
		Update   map[string]any `json:"update"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return core.VerificationResult{}, fmt.Errorf("sources: decode maps body: %w", err)
	}
	kind := strings.TrimSpace(body.Kind)
	if kind == "" {
		return core.VerificationResult{}, fmt.Errorf("sources: maps update kind is required")
	}
	payload := body.Update
	if payload == nil {
		payload = map[string]any{}
	}

	return core.VerificationResult{
		Valid: true,
		Event: core.NormalizedEvent{
			// The mapping provider does not number deliveries; the empty id
			// falls back to content-hash dedup upstream.
			ExternalEventID: strings.TrimSpace(headerValue(req.Headers, mapsHeaderDeliveryID)),
			EventType:       "geo." + kind,
			Payload:         payload,
			TenantID:        strings.TrimSpace(body.TenantID),
		},
	}, nil
}

var _ core.SourceAdapter = (*MapsAdapter)(nil)
