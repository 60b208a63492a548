package command

import (
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	TypeIngestEvent  = "ingest.command.event.ingest"
	TypeReplayEvent  = "ingest.command.event.replay"
	TypeSweepRetries = "ingest.command.retry.sweep"
)

// IngestEventMessage carries a raw provider delivery through the command bus
// into the ingestion pipeline.
type IngestEventMessage struct {
	Request core.RawInboundRequest
}

func (IngestEventMessage) Type() string { return TypeIngestEvent }

func (m IngestEventMessage) Validate() error {
	if strings.TrimSpace(m.Request.Source) == "" {
		return commandValidationError("source", "source is required")
	}
	if len(m.Request.Body) == 0 {
		return commandValidationError("body", "request body is required")
	}
	return nil
}

// ReplayEventMessage requeues a terminally failed event with a fresh attempt
// budget. Rejected deliveries are not replayable.
type ReplayEventMessage struct {
	EventID string
}

func (ReplayEventMessage) Type() string { return TypeReplayEvent }

func (m ReplayEventMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

// SweepRetriesMessage triggers a single retry sweep outside the scheduler's
// own ticker, typically from a job runner or an operator CLI.
type SweepRetriesMessage struct{}

func (SweepRetriesMessage) Type() string { return TypeSweepRetries }

func (SweepRetriesMessage) Validate() error { return nil }
