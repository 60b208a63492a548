package ingest

import (
	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/sources"
)

// PaymentsSource builds the HMAC-verified payments adapter.
func PaymentsSource(cfg sources.PaymentsConfig) core.SourceAdapter {
	return sources.NewPaymentsAdapter(cfg)
}

// SheetsSource builds the channel-token-verified spreadsheet adapter.
func SheetsSource(channelToken string) core.SourceAdapter {
	return sources.NewSheetsAdapter(channelToken)
}

// MapsSource builds the prefixed-signature geo adapter.
func MapsSource(secret string) core.SourceAdapter {
	return sources.NewMapsAdapter(secret)
}

// BuiltinSourcePack groups the bundled adapters for ExtensionHooks
// registration.
func BuiltinSourcePack(payments sources.PaymentsConfig, sheetsToken, mapsSecret string) SourcePack {
	return SourcePack{
		Name: "builtin",
		Adapters: []core.SourceAdapter{
			PaymentsSource(payments),
			SheetsSource(sheetsToken),
			MapsSource(mapsSecret),
		},
	}
}
