package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingest/core"
)

// EventStore persists events in ingest_events. Every lifecycle
// transition is a guarded UPDATE whose WHERE clause names the expected
// current status, so concurrent writers cannot double-apply one.
type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*ingestEventRecord]
	now  func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*ingestEventRecord](db, eventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid event repository wiring: %w", err)
		}
	}
	return &EventStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *EventStore) Create(ctx context.Context, event core.Event) (core.Event, error) {
	if s == nil || s.repo == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return core.Event{}, fmt.Errorf("sqlstore: event id is required")
	}
	if !event.Status.Valid() {
		return core.Event{}, fmt.Errorf("sqlstore: invalid event status %q", event.Status)
	}
	now := s.now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = now
	}
	record := eventToRecord(event)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.Event{}, fmt.Errorf("sqlstore: event %q already exists", event.ID)
		}
		return core.Event{}, err
	}
	return eventToDomain(record), nil
}

func (s *EventStore) Get(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.Event{}, fmt.Errorf("sqlstore: event id is required")
	}
	record := &ingestEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Event{}, fmt.Errorf("sqlstore: event %q: %w", id, core.ErrEventNotFound)
		}
		return core.Event{}, err
	}
	return eventToDomain(record), nil
}

// ClaimProcessing attempts the exclusive from -> processing transition.
// A false return means another worker won the row.
func (s *EventStore) ClaimProcessing(ctx context.Context, eventID string, from core.EventStatus) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return false, fmt.Errorf("sqlstore: event id is required")
	}
	if from != core.StatusPending && from != core.StatusRetrying {
		return false, fmt.Errorf("sqlstore: cannot claim processing from %q", from)
	}
	res, err := s.db.NewUpdate().
		Model((*ingestEventRecord)(nil)).
		Set("status = ?", string(core.StatusProcessing)).
		Set("updated_at = ?", s.now()).
		Where("id = ?", eventID).
		Where("status = ?", string(from)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// RecordOutcome moves a processing event to its post-attempt state.
// The guard on status = processing rejects stale writers.
func (s *EventStore) RecordOutcome(
	ctx context.Context,
	eventID string,
	status core.EventStatus,
	attemptCount int,
	lastError string,
	nextRetryAt *time.Time,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	switch status {
	case core.StatusCompleted, core.StatusFailed, core.StatusRetrying:
	default:
		return fmt.Errorf("sqlstore: invalid post-attempt status %q", status)
	}
	if status == core.StatusCompleted {
		lastError = ""
	}
	if status != core.StatusRetrying {
		nextRetryAt = nil
	}
	query := s.db.NewUpdate().
		Model((*ingestEventRecord)(nil)).
		Set("status = ?", string(status)).
		Set("attempt_count = ?", attemptCount).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("id = ?", eventID).
		Where("status = ?", string(core.StatusProcessing))
	if nextRetryAt != nil {
		query = query.Set("next_retry_at = ?", nextRetryAt.UTC())
	} else {
		query = query.Set("next_retry_at = NULL")
	}
	res, err := query.Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return fmt.Errorf("sqlstore: event %q is not processing", eventID)
	}
	return nil
}

// ListRetryable returns due retrying events ordered by next_retry_at.
func (s *EventStore) ListRetryable(ctx context.Context, now time.Time, limit int) ([]core.Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	var records []ingestEventRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(core.StatusRetrying)).
		Where("?TableAlias.next_retry_at IS NOT NULL").
		Where("?TableAlias.next_retry_at <= ?", now.UTC()).
		OrderExpr("?TableAlias.next_retry_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]core.Event, 0, len(records))
	for i := range records {
		events = append(events, eventToDomain(&records[i]))
	}
	return events, nil
}

// Requeue resets a failed, signature-valid event to retrying with a
// fresh attempt budget. The guard rejects rejected rows and any status
// other than failed.
func (s *EventStore) Requeue(ctx context.Context, eventID string, nextRetryAt time.Time) (core.Event, error) {
	if s == nil || s.db == nil {
		return core.Event{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.Event{}, fmt.Errorf("sqlstore: event id is required")
	}
	res, err := s.db.NewUpdate().
		Model((*ingestEventRecord)(nil)).
		Set("status = ?", string(core.StatusRetrying)).
		Set("attempt_count = 0").
		Set("last_error = ''").
		Set("next_retry_at = ?", nextRetryAt.UTC()).
		Set("updated_at = ?", s.now()).
		Where("id = ?", eventID).
		Where("status = ?", string(core.StatusFailed)).
		Where("signature_valid = ?", true).
		Exec(ctx)
	if err != nil {
		return core.Event{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.Event{}, err
	}
	if affected != 1 {
		return core.Event{}, fmt.Errorf("sqlstore: event %q is not a replayable failed event", eventID)
	}
	return s.Get(ctx, eventID)
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
