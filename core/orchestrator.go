package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SourceResolver yields the adapter registered for a source tag. The
// sources package provides the production registry; the indirection keeps
// core free of a dependency on adapter construction.
type SourceResolver interface {
	Resolve(source string) (SourceAdapter, bool)
}

// SourceAdapter is the single capability a provider integration implements.
// Adapters compute a verdict and a normalized event; they never touch the
// repository.
type SourceAdapter interface {
	Source() string
	Verify(ctx context.Context, req RawInboundRequest) (VerificationResult, error)
}

// Orchestrator wires verification, deduplication, persistence and dispatch
// together for every inbound call. All state lives in the injected stores,
// so any number of orchestrator instances may run concurrently.
type Orchestrator struct {
	Sources  SourceResolver
	Events   EventStore
	Keys     IdempotencyStore
	Dispatch Dispatcher
	Notifier Notifier
	Logger   Logger
	Metrics  MetricsRecorder
	Config   Config
	Now      func() time.Time
	NewID    func() string
	Rand     func() float64
}

func NewOrchestrator(
	sources SourceResolver,
	events EventStore,
	keys IdempotencyStore,
	dispatcher Dispatcher,
) *Orchestrator {
	return &Orchestrator{
		Sources:  sources,
		Events:   events,
		Keys:     keys,
		Dispatch: dispatcher,
		Metrics:  NopMetricsRecorder{},
		Config:   DefaultConfig(),
		Now: func() time.Time {
			return time.Now().UTC()
		},
		NewID: uuid.NewString,
		Rand:  rand.Float64,
	}
}

// Ingest runs the full pipeline for one inbound call: verify, deduplicate,
// persist, dispatch, record. Errors raised here occurred before an Event was
// durably accepted; once an event id exists, failures are recorded on the
// row instead.
func (o *Orchestrator) Ingest(ctx context.Context, req RawInboundRequest) (IngestResult, error) {
	if o == nil || o.Events == nil || o.Keys == nil || o.Dispatch == nil {
		return IngestResult{}, newIngestError(
			"core: orchestrator requires event store, idempotency store and dispatcher",
			goerrors.CategoryInternal,
			IngestErrorInternal,
		)
	}

	// Source tags are case-insensitive everywhere; normalize once so dedup
	// keys, event rows and dispatch routes all agree.
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if source == "" {
		return IngestResult{}, newIngestError(
			"core: source is required", goerrors.CategoryBadInput, IngestErrorBadInput,
		)
	}
	req.Source = source

	adapter, ok := o.resolveSource(source)
	if !ok {
		return IngestResult{}, newIngestError(
			fmt.Sprintf("core: source %q is not registered", source),
			goerrors.CategoryNotFound,
			IngestErrorSourceNotFound,
		)
	}

	verdict, err := adapter.Verify(ctx, req)
	if err != nil {
		return IngestResult{}, MapError(err)
	}
	if !verdict.Valid {
		return o.recordRejected(ctx, source, verdict)
	}

	now := o.now()
	dedupKey := DedupKey(verdict.Event, now, o.Config.Dedup.HashBucket)
	eventID := o.newID()

	event := Event{
		ID:              eventID,
		ExternalEventID: strings.TrimSpace(verdict.Event.ExternalEventID),
		Source:          source,
		EventType:       strings.TrimSpace(verdict.Event.EventType),
		RawPayload:      verdict.Event.Payload,
		SignatureValid:  true,
		Status:          StatusPending,
		MaxAttempts:     o.Config.MaxAttempts,
		TenantID:        strings.TrimSpace(verdict.Event.TenantID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, deduped, err := o.claimAndPersist(ctx, source, dedupKey, event)
	if err != nil {
		return IngestResult{}, err
	}
	if deduped {
		o.count(ctx, "ingest.deduped", map[string]string{"source": created.Source})
		return IngestResult{EventID: created.ID, Status: created.Status, Deduped: true}, nil
	}

	status, _, err := o.RunAttempt(ctx, created, StatusPending)
	if err != nil {
		// The event is durably accepted; a claim failure here is recorded
		// and the caller still gets the accepted id.
		o.logError("initial dispatch attempt failed", created.ID, err)
		status = created.Status
	}
	return IngestResult{EventID: created.ID, Status: status}, nil
}

// RunAttempt claims the exclusive pending/retrying -> processing transition
// for an event and, on winning, invokes the dispatcher and records the
// classified outcome. The returned status is the event's post-attempt state;
// claimed reports whether this caller won the gate.
func (o *Orchestrator) RunAttempt(ctx context.Context, event Event, from EventStatus) (EventStatus, bool, error) {
	if o == nil || o.Events == nil || o.Dispatch == nil {
		return "", false, newIngestError(
			"core: orchestrator is not configured",
			goerrors.CategoryInternal,
			IngestErrorInternal,
		)
	}
	won, err := o.Events.ClaimProcessing(ctx, event.ID, from)
	if err != nil {
		return "", false, MapError(err)
	}
	if !won {
		return event.Status, false, nil
	}
	return o.dispatchAndRecord(ctx, event), true, nil
}

func (o *Orchestrator) dispatchAndRecord(ctx context.Context, event Event) EventStatus {
	outcome := o.Dispatch.Dispatch(ctx, event)
	attempt := event.AttemptCount + 1

	var status EventStatus
	var lastError string
	var nextRetryAt *time.Time

	switch outcome.Kind {
	case OutcomeSuccess:
		status = StatusCompleted
	case OutcomeFatalFailure:
		status = StatusFailed
		lastError = outcome.Detail
	default:
		lastError = outcome.Detail
		if attempt < event.MaxAttempts {
			status = StatusRetrying
			at := o.nextRetryAt(attempt)
			nextRetryAt = &at
		} else {
			status = StatusFailed
		}
	}

	if err := o.Events.RecordOutcome(ctx, event.ID, status, attempt, lastError, nextRetryAt); err != nil {
		o.logError("record dispatch outcome", event.ID, err)
		return event.Status
	}
	o.countOutcome(ctx, event.Source, outcome.Kind)
	o.notify(ctx, event, status, attempt)
	return status
}

// nextRetryAt computes bounded exponential backoff: base doubled per
// attempt, capped, plus a bounded random jitter so herds of retrying
// events spread out. Tests pin Rand to zero for determinism.
func (o *Orchestrator) nextRetryAt(attempt int) time.Time {
	base := o.Config.Retry.InitialBackoff
	if base <= 0 {
		base = DefaultConfig().Retry.InitialBackoff
	}
	maximum := o.Config.Retry.MaxBackoff
	if maximum <= 0 {
		maximum = DefaultConfig().Retry.MaxBackoff
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			delay = maximum
			break
		}
	}
	if delay > maximum {
		delay = maximum
	}
	return o.now().Add(delay + o.jitter(delay))
}

func (o *Orchestrator) jitter(delay time.Duration) time.Duration {
	fraction := o.Config.Retry.JitterFraction
	if fraction <= 0 || o.Rand == nil {
		return 0
	}
	return time.Duration(float64(delay) * fraction * o.Rand())
}

// Replay puts a terminal failed event back in the retry queue with a
// fresh attempt budget, due immediately. Events rejected at
// verification stay failed.
func (o *Orchestrator) Replay(ctx context.Context, eventID string) (Event, error) {
	if o == nil || o.Events == nil {
		return Event{}, newIngestError(
			"core: orchestrator requires an event store",
			goerrors.CategoryInternal,
			IngestErrorInternal,
		)
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return Event{}, newIngestError(
			"core: event id is required", goerrors.CategoryBadInput, IngestErrorBadInput,
		)
	}
	event, err := o.Events.Requeue(ctx, eventID, o.now())
	if err != nil {
		return Event{}, MapError(err)
	}
	o.count(ctx, "ingest.replayed", map[string]string{"source": event.Source})
	o.notify(ctx, event, StatusRetrying, 0)
	return event, nil
}

func (o *Orchestrator) recordRejected(ctx context.Context, source string, verdict VerificationResult) (IngestResult, error) {
	now := o.now()
	event := Event{
		ID:              o.newID(),
		ExternalEventID: strings.TrimSpace(verdict.Event.ExternalEventID),
		Source:          source,
		EventType:       strings.TrimSpace(verdict.Event.EventType),
		RawPayload:      verdict.Event.Payload,
		SignatureValid:  false,
		Status:          StatusFailed,
		MaxAttempts:     o.Config.MaxAttempts,
		LastError:       strings.TrimSpace(verdict.Reason),
		TenantID:        strings.TrimSpace(verdict.Event.TenantID),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	created, err := o.Events.Create(ctx, event)
	if err != nil {
		return IngestResult{}, newIngestError(
			fmt.Sprintf("core: persist rejected event: %v", err),
			goerrors.CategoryExternal,
			IngestErrorStoreUnavailable,
		)
	}
	o.notify(ctx, created, StatusFailed, 0)
	return IngestResult{EventID: created.ID, Status: StatusFailed, Rejected: true},
		newIngestError(
			fmt.Sprintf("core: verification failed for source %q: %s", source, strings.TrimSpace(verdict.Reason)),
			goerrors.CategoryAuth,
			IngestErrorSignatureInvalid,
		)
}

// claimAndPersist makes the dedup claim and the event row come into being
// together. Backends that can run both writes in one transaction take the
// atomic path; otherwise a failed insert releases the claim so the
// provider's next delivery is not poisoned by an orphan key.
func (o *Orchestrator) claimAndPersist(ctx context.Context, source, dedupKey string, event Event) (Event, bool, error) {
	if combined, ok := o.Keys.(ClaimAndCreator); ok {
		stored, inserted, err := combined.ClaimAndCreate(ctx, source, dedupKey, o.Config.Dedup.KeyTTL, event)
		if err != nil {
			return Event{}, false, newIngestError(
				fmt.Sprintf("core: claim and persist event: %v", err),
				goerrors.CategoryExternal,
				IngestErrorStoreUnavailable,
			)
		}
		return stored, !inserted, nil
	}

	storedID, inserted, err := o.Keys.PutIfAbsent(ctx, source, dedupKey, event.ID, o.Config.Dedup.KeyTTL)
	if err != nil {
		return Event{}, false, newIngestError(
			fmt.Sprintf("core: idempotency claim failed: %v", err),
			goerrors.CategoryExternal,
			IngestErrorStoreUnavailable,
		)
	}
	if !inserted {
		existing, err := o.lookupDeduped(ctx, storedID)
		if err != nil {
			return Event{}, false, err
		}
		return existing, true, nil
	}

	created, err := o.Events.Create(ctx, event)
	if err != nil {
		if releaseErr := o.Keys.Release(ctx, source, dedupKey, event.ID); releaseErr != nil {
			o.logError("release idempotency claim after failed insert", event.ID, releaseErr)
		}
		return Event{}, false, newIngestError(
			fmt.Sprintf("core: persist event: %v", err),
			goerrors.CategoryExternal,
			IngestErrorStoreUnavailable,
		)
	}
	return created, false, nil
}

// lookupDeduped resolves the winner's row for a lost claim. The row can
// trail the claim by an instant on non-transactional backends, so absence
// means the original delivery is still in flight: report it as a transient
// condition the provider may retry, never as a terminal failure.
func (o *Orchestrator) lookupDeduped(ctx context.Context, eventID string) (Event, error) {
	existing, err := o.Events.Get(ctx, eventID)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			return Event{}, newIngestError(
				fmt.Sprintf("core: duplicate delivery raced the original for event %q; retry shortly", eventID),
				goerrors.CategoryExternal,
				IngestErrorStoreUnavailable,
			)
		}
		return Event{}, newIngestError(
			fmt.Sprintf("core: load deduped event %q: %v", eventID, err),
			goerrors.CategoryExternal,
			IngestErrorStoreUnavailable,
		)
	}
	return existing, nil
}

func (o *Orchestrator) resolveSource(source string) (SourceAdapter, bool) {
	if o.Sources == nil {
		return nil, false
	}
	return o.Sources.Resolve(source)
}

func (o *Orchestrator) notify(ctx context.Context, event Event, status EventStatus, attempt int) {
	if o.Notifier == nil {
		return
	}
	if status != StatusCompleted && status != StatusFailed && status != StatusRetrying {
		return
	}
	subject := NotificationSubject(event.Source, event.EventType, status)
	notification := Notification{
		EventID:      event.ID,
		Status:       status,
		AttemptCount: attempt,
		TenantID:     event.TenantID,
	}
	if err := o.Notifier.Publish(ctx, subject, notification); err != nil {
		o.logError("publish transition notification", event.ID, err)
	}
}

func (o *Orchestrator) countOutcome(ctx context.Context, source string, kind OutcomeKind) {
	o.count(ctx, "ingest.dispatch", map[string]string{
		"source":  source,
		"outcome": string(kind),
	})
}

func (o *Orchestrator) count(ctx context.Context, name string, tags map[string]string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.IncCounter(ctx, name, 1, tags)
}

func (o *Orchestrator) logError(message string, eventID string, err error) {
	if o.Logger == nil {
		return
	}
	o.Logger.Error(message, "event_id", eventID, "error", err)
}

func (o *Orchestrator) now() time.Time {
	if o != nil && o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) newID() string {
	if o != nil && o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}
