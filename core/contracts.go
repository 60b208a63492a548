package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// EventStore is the single source of truth for Event rows and their
// lifecycle state. Every mutation is a row-scoped conditional write; no
// implementation may take cross-row locks.
type EventStore interface {
	Create(ctx context.Context, event Event) (Event, error)
	Get(ctx context.Context, eventID string) (Event, error)

	// ClaimProcessing is the exclusive gate into the processing state. It
	// performs a conditional transition from `from` (pending or retrying) to
	// processing and reports whether this caller won the claim. Losing is
	// not an error.
	ClaimProcessing(ctx context.Context, eventID string, from EventStatus) (bool, error)

	// RecordOutcome moves a processing event to its post-attempt state:
	// completed, retrying (with nextRetryAt) or failed. It increments
	// attempt_count and sets or clears last_error.
	RecordOutcome(ctx context.Context, eventID string, status EventStatus, attemptCount int, lastError string, nextRetryAt *time.Time) error

	// ListRetryable returns events in retrying state whose next_retry_at has
	// elapsed, ordered by next_retry_at ascending, bounded by limit.
	ListRetryable(ctx context.Context, now time.Time, limit int) ([]Event, error)

	// Requeue resets a failed event with a valid signature back to retrying
	// with a fresh attempt budget. Rejected and non-failed events are errors.
	Requeue(ctx context.Context, eventID string, nextRetryAt time.Time) (Event, error)
}

// IdempotencyStore maps (source, dedupKey) to an event id with a single
// conditional-insert primitive. PutIfAbsent returns the stored event id and
// whether this call inserted it; on conflict the existing id comes back with
// inserted=false. The check-and-insert must be atomic under concurrent
// duplicate deliveries. Expired claims may only be discarded once the
// referenced event is terminal (or no longer exists).
type IdempotencyStore interface {
	PutIfAbsent(ctx context.Context, source string, dedupKey string, eventID string, ttl time.Duration) (string, bool, error)

	// Release drops a claim that still points at eventID. It compensates a
	// failed event insert after a won claim so the provider's next delivery
	// starts clean. Releasing a missing or re-pointed claim is a no-op.
	Release(ctx context.Context, source string, dedupKey string, eventID string) error
}

// ClaimAndCreator claims the dedup key and persists the event in one storage
// transaction, so a claim can never outlive a failed event insert. Backends
// that span both tables implement it; the orchestrator falls back to
// claim-then-create with a compensating Release when it is absent. When
// inserted is false the returned event is the existing winner's row.
type ClaimAndCreator interface {
	ClaimAndCreate(ctx context.Context, source string, dedupKey string, ttl time.Duration, event Event) (Event, bool, error)
}

// Consumer is an internal collaborator that performs the business action for
// a dispatched event. The returned Outcome classifies the attempt; returning
// a plain error is treated as retryable.
type Consumer interface {
	Consume(ctx context.Context, invocation ConsumerInvocation) (Outcome, error)
}

// ConsumerFunc adapts a function to the Consumer contract.
type ConsumerFunc func(ctx context.Context, invocation ConsumerInvocation) (Outcome, error)

func (f ConsumerFunc) Consume(ctx context.Context, invocation ConsumerInvocation) (Outcome, error) {
	return f(ctx, invocation)
}

// Dispatcher routes an event to its registered consumer and classifies the
// result. Implementations must not retry internally; bounded re-attempts
// belong to the retry scheduler.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) Outcome
}

// Notifier publishes transition notifications. Publish failures must never
// fail the transition that triggered them.
type Notifier interface {
	Publish(ctx context.Context, subject string, notification Notification) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// JobExecutionMessage is the queue-neutral shape handed to a job runtime when
// pipeline work (retry sweeps, replays) runs out of process.
type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
