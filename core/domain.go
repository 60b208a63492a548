package core

import (
	"errors"
	"strings"
	"time"
)

// ErrEventNotFound marks a lookup for an event id with no row. Stores wrap
// it so callers can tell absence apart from storage failure.
var ErrEventNotFound = errors.New("event not found")

// EventStatus is the authoritative lifecycle state of an ingested event.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
	StatusRetrying   EventStatus = "retrying"
)

func (s EventStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s EventStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event is the canonical unit of work: one inbound occurrence from an
// external source, normalized and retained for audit. Events are never
// deleted; archival is a separate housekeeping concern.
type Event struct {
	ID              string
	ExternalEventID string
	Source          string
	EventType       string
	RawPayload      map[string]any
	SignatureValid  bool
	Status          EventStatus
	AttemptCount    int
	MaxAttempts     int
	NextRetryAt     *time.Time
	LastError       string
	TenantID        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RawInboundRequest is the boundary shape handed to a source adapter by the
// excluded HTTP layer. Body is the raw, unparsed request body the signature
// was computed over.
type RawInboundRequest struct {
	Source      string
	Headers     map[string]string
	Body        []byte
	QueryParams map[string]string
}

// NormalizedEvent is the adapter output before the pipeline assigns an id
// and lifecycle bookkeeping.
type NormalizedEvent struct {
	ExternalEventID string
	EventType       string
	Payload         map[string]any
	TenantID        string
}

// VerificationResult carries the adapter's verdict. Reason is only
// meaningful when Valid is false.
type VerificationResult struct {
	Valid  bool
	Event  NormalizedEvent
	Reason string
}

// OutcomeKind classifies a single dispatch attempt.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeRetryableFailure OutcomeKind = "retryable_failure"
	OutcomeFatalFailure     OutcomeKind = "fatal_failure"
)

// Outcome is the classified result of invoking a consumer once.
type Outcome struct {
	Kind   OutcomeKind
	Detail string
}

// ConsumerInvocation is the outbound boundary shape a consumer receives per
// attempt. Consumers are expected to be idempotent; delivery is
// at-least-once.
type ConsumerInvocation struct {
	EventID   string
	Source    string
	EventType string
	Payload   map[string]any
	TenantID  string
}

// IngestResult is returned to the transport layer for every accepted call,
// including idempotent replays.
type IngestResult struct {
	EventID  string
	Status   EventStatus
	Deduped  bool
	Rejected bool
}

// Notification is published on every terminal or retrying transition so
// collaborating services can react without polling the repository.
type Notification struct {
	EventID      string      `json:"event_id"`
	Status       EventStatus `json:"status"`
	AttemptCount int         `json:"attempt_count"`
	TenantID     string      `json:"tenant_id,omitempty"`
}

// NotificationSubject names the channel for a transition by convention:
// events.<source>.<eventType>.<status>.
func NotificationSubject(source string, eventType string, status EventStatus) string {
	return "events." + subjectToken(source) + "." + subjectToken(eventType) + "." + string(status)
}

func subjectToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	value = strings.ReplaceAll(value, ".", "_")
	return strings.ReplaceAll(value, " ", "_")
}
