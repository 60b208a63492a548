package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	SheetsSource = "sheets"

	sheetsHeaderChannelToken  = "X-Sheet-Channel-Token"
	sheetsHeaderMessageNumber = "X-Sheet-Message-Number"
	sheetsHeaderResourceState = "X-Sheet-Resource-State"
	sheetsHeaderWorkspace     = "X-Sheet-Workspace"
)

// SheetsAdapter verifies spreadsheet sync notifications. The sync provider
// signs with a pre-shared channel token rather than an HMAC, and numbers
// each push channel message monotonically, which doubles as the external
// event id.
type SheetsAdapter struct {
	token string
}

func NewSheetsAdapter(channelToken string) *SheetsAdapter {
	return &SheetsAdapter{token: strings.TrimSpace(channelToken)}
}

func (a *SheetsAdapter) Source() string { return SheetsSource }

func (a *SheetsAdapter) Verify(_ context.Context, req core.RawInboundRequest) (core.VerificationResult, error) {
	verifier := HeaderTokenVerifier{
		Header: sheetsHeaderChannelToken,
		Token:  a.token,
	}
	if err := verifier.Verify(req); err != nil {
		return core.VerificationResult{Valid: false, Reason: err.Error()}, nil
	}

	state := strings.TrimSpace(headerValue(req.Headers, sheetsHeaderResourceState))
	if state == "" {
		return core.VerificationResult{}, fmt.Errorf("sources: %s header is required", sheetsHeaderResourceState)
	}

	payload := map[string]any{}
	if len(req.Body) > 0 {
		if err := json.Unmarshal(req.Body, &payload); err != nil {
			return core.VerificationResult{}, fmt.Errorf("sources: decode sheets body: %w", err)
		}
	}

	messageNumber := strings.TrimSpace(headerValue(req.Headers, sheetsHeaderMessageNumber))
	externalID := ""
	if messageNumber != "" {
		externalID = "msg-" + messageNumber
	}

	return core.VerificationResult{
		Valid: true,
		Event: core.NormalizedEvent{
			ExternalEventID: externalID,
			EventType:       "sheet." + state,
			Payload:         payload,
			TenantID:        strings.TrimSpace(headerValue(req.Headers, sheetsHeaderWorkspace)),
		},
	}, nil
}

var _ core.SourceAdapter = (*SheetsAdapter)(nil)
