package sources

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/goliatone/go-ingest/core"
)

func signHex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(NewSheetsAdapter("token")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(NewSheetsAdapter("token")); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, ok := registry.Resolve(SheetsSource); !ok {
		t.Fatalf("expected sheets adapter resolved")
	}
	if _, ok := registry.Resolve("unknown"); ok {
		t.Fatalf("expected unknown source to miss")
	}
	if got := len(registry.List()); got != 1 {
		t.Fatalf("expected one adapter listed, got %d", got)
	}
}

func TestSheetsAdapter_VerifiesChannelToken(t *testing.T) {
	adapter := NewSheetsAdapter("channel_token")

	result, err := adapter.Verify(context.Background(), core.RawInboundRequest{
		Source: SheetsSource,
		Body:   []byte(`{"sheet_id":"s1","range":"A1:B2"}`),
		Headers: map[string]string{
			sheetsHeaderChannelToken:  "channel_token",
			sheetsHeaderMessageNumber: "17",
			sheetsHeaderResourceState: "update",
			sheetsHeaderWorkspace:     "ws_9",
		},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got reason %q", result.Reason)
	}
	if result.Event.ExternalEventID != "msg-17" {
		t.Fatalf("expected message number as external id, got %q", result.Event.ExternalEventID)
	}
	if result.Event.EventType != "sheet.update" {
		t.Fatalf("unexpected event type %q", result.Event.EventType)
	}
	if result.Event.TenantID != "ws_9" {
		t.Fatalf("expected workspace tenant, got %q", result.Event.TenantID)
	}
}

func TestSheetsAdapter_RejectsWrongToken(t *testing.T) {
	adapter := NewSheetsAdapter("channel_token")

	result, err := adapter.Verify(context.Background(), core.RawInboundRequest{
		Source: SheetsSource,
		Headers: map[string]string{
			sheetsHeaderChannelToken:  "other_token",
			sheetsHeaderResourceState: "update",
		},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected token mismatch to be invalid")
	}
}

func TestMapsAdapter_VerifiesPrefixedHexSignature(t *testing.T) {
	adapter := NewMapsAdapter("maps_secret")
	body := []byte(`{"kind":"poi.updated","tenant_id":"t3","update":{"place_id":"p1"}}`)

	result, err := adapter.Verify(context.Background(), core.RawInboundRequest{
		Source: MapsSource,
		Body:   body,
		Headers: map[string]string{
			mapsHeaderSignature: "sha256=" + signHex("maps_secret", body),
		},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got reason %q", result.Reason)
	}
	if result.Event.EventType != "geo.poi.updated" {
		t.Fatalf("unexpected event type %q", result.Event.EventType)
	}
	if result.Event.ExternalEventID != "" {
		t.Fatalf("expected no external id without delivery header")
	}
	if result.Event.TenantID != "t3" {
		t.Fatalf("expected tenant from body, got %q", result.Event.TenantID)
	}
}

func TestMapsAdapter_RejectsUnprefixedGarbage(t *testing.T) {
	adapter := NewMapsAdapter("maps_secret")
	body := []byte(`{"kind":"poi.updated"}`)

	result, err := adapter.Verify(context.Background(), core.RawInboundRequest{
		Source: MapsSource,
		Body:   body,
		Headers: map[string]string{
			mapsHeaderSignature: "sha256=zzzz",
		},
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected undecodable signature to be invalid")
	}
}

func TestHeaderHMACVerifier_ConstantTimeCompareMismatch(t *testing.T) {
	body := []byte(`{"a":1}`)
	verifier := HeaderHMACVerifier{Header: "X-Sig", Secret: "secret", Encoding: "hex"}

	err := verifier.Verify(core.RawInboundRequest{
		Body: body,
		Headers: map[string]string{
			"X-Sig": signHex("another", body),
		},
	})
	if err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

type namedAdapter struct {
	name string
}

func (a namedAdapter) Source() string { return a.name }

func (a namedAdapter) Verify(context.Context, core.RawInboundRequest) (core.VerificationResult, error) {
	return core.VerificationResult{Valid: true}, nil
}

func TestRegistry_SourceTagsAreCaseInsensitive(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(namedAdapter{name: "Maps"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(namedAdapter{name: "maps"}); err == nil {
		t.Fatalf("expected recased duplicate to fail")
	}
	if _, ok := registry.Resolve("maps"); !ok {
		t.Fatalf("expected lowercase lookup to resolve")
	}
	if _, ok := registry.Resolve("MAPS"); !ok {
		t.Fatalf("expected uppercase lookup to resolve")
	}
}
