package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingest/core"
)

type ingestEventRecord struct {
	bun.BaseModel `bun:"table:ingest_events,alias:ie"`

	ID              string         `bun:"id,pk"`
	ExternalEventID string         `bun:"external_event_id"`
	Source          string         `bun:"source,notnull"`
	EventType       string         `bun:"event_type"`
	RawPayload      map[string]any `bun:"raw_payload,type:jsonb"`
	SignatureValid  bool           `bun:"signature_valid,notnull"`
	Status          string         `bun:"status,notnull"`
	AttemptCount    int            `bun:"attempt_count,notnull"`
	MaxAttempts     int            `bun:"max_attempts,notnull"`
	NextRetryAt     *time.Time     `bun:"next_retry_at,nullzero"`
	LastError       string         `bun:"last_error"`
	TenantID        string         `bun:"tenant_id"`
	CreatedAt       time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt       time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type idempotencyKeyRecord struct {
	bun.BaseModel `bun:"table:ingest_idempotency_keys,alias:iik"`

	ID        string    `bun:"id,pk"`
	Source    string    `bun:"source,notnull"`
	DedupKey  string    `bun:"dedup_key,notnull"`
	EventID   string    `bun:"event_id,notnull"`
	ExpiresAt time.Time `bun:"expires_at,nullzero,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func eventToRecord(event core.Event) *ingestEventRecord {
	return &ingestEventRecord{
		ID:              event.ID,
		ExternalEventID: event.ExternalEventID,
		Source:          event.Source,
		EventType:       event.EventType,
		RawPayload:      copyAnyMap(event.RawPayload),
		SignatureValid:  event.SignatureValid,
		Status:          string(event.Status),
		AttemptCount:    event.AttemptCount,
		MaxAttempts:     event.MaxAttempts,
		NextRetryAt:     copyTime(event.NextRetryAt),
		LastError:       event.LastError,
		TenantID:        event.TenantID,
		CreatedAt:       event.CreatedAt,
		UpdatedAt:       event.UpdatedAt,
	}
}

func eventToDomain(record *ingestEventRecord) core.Event {
	if record == nil {
		return core.Event{}
	}
	return core.Event{
		ID:              record.ID,
		ExternalEventID: record.ExternalEventID,
		Source:          record.Source,
		EventType:       record.EventType,
		RawPayload:      copyAnyMap(record.RawPayload),
		SignatureValid:  record.SignatureValid,
		Status:          core.EventStatus(record.Status),
		AttemptCount:    record.AttemptCount,
		MaxAttempts:     record.MaxAttempts,
		NextRetryAt:     copyTime(record.NextRetryAt),
		LastError:       record.LastError,
		TenantID:        record.TenantID,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func copyAnyMap(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}
	out := make(map[string]any, len(source))
	for key, value := range source {
		out[key] = value
	}
	return out
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
