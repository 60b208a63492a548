package ingest

import "github.com/goliatone/go-ingest/core"

type Config = core.Config

type RetryConfig = core.RetryConfig

type DedupConfig = core.DedupConfig

type Event = core.Event
type EventStatus = core.EventStatus
type IngestResult = core.IngestResult
type RawInboundRequest = core.RawInboundRequest
type NormalizedEvent = core.NormalizedEvent
type VerificationResult = core.VerificationResult
type Notification = core.Notification
type Outcome = core.Outcome
type OutcomeKind = core.OutcomeKind

type SourceAdapter = core.SourceAdapter
type Consumer = core.Consumer
type ConsumerFunc = core.ConsumerFunc
type ConsumerInvocation = core.ConsumerInvocation
type EventStore = core.EventStore
type IdempotencyStore = core.IdempotencyStore
type Notifier = core.Notifier
type MetricsRecorder = core.MetricsRecorder

const (
	StatusPending    = core.StatusPending
	StatusProcessing = core.StatusProcessing
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
	StatusRetrying   = core.StatusRetrying
)

const (
	OutcomeSuccess          = core.OutcomeSuccess
	OutcomeRetryableFailure = core.OutcomeRetryableFailure
	OutcomeFatalFailure     = core.OutcomeFatalFailure
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}
