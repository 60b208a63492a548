package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryEventStore implements EventStore with the same row-scoped
// conditional-write semantics as the SQL store. It backs tests and
// single-process embedders.
type InMemoryEventStore struct {
	mu     sync.Mutex
	events map[string]Event
	Now    func() time.Time
}

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: map[string]Event{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryEventStore) Create(_ context.Context, event Event) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is nil")
	}
	id := strings.TrimSpace(event.ID)
	if id == "" {
		return Event{}, fmt.Errorf("core: event id is required")
	}
	if !event.Status.Valid() {
		return Event{}, fmt.Errorf("core: invalid event status %q", event.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[id]; exists {
		return Event{}, fmt.Errorf("core: event %q already exists", id)
	}
	now := s.now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	s.events[id] = event
	return event, nil
}

func (s *InMemoryEventStore) Get(_ context.Context, eventID string) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return Event{}, fmt.Errorf("core: event %q: %w", eventID, ErrEventNotFound)
	}
	return event, nil
}

func (s *InMemoryEventStore) ClaimProcessing(_ context.Context, eventID string, from EventStatus) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("core: event store is nil")
	}
	if from != StatusPending && from != StatusRetrying {
		return false, fmt.Errorf("core: cannot claim processing from %q", from)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return false, fmt.Errorf("core: event %q not found", eventID)
	}
	if event.Status != from {
		return false, nil
	}
	event.Status = StatusProcessing
	event.UpdatedAt = s.now()
	s.events[event.ID] = event
	return true, nil
}

func (s *InMemoryEventStore) RecordOutcome(
	_ context.Context,
	eventID string,
	status EventStatus,
	attemptCount int,
	lastError string,
	nextRetryAt *time.Time,
) error {
	if s == nil {
		return fmt.Errorf("core: event store is nil")
	}
	if status != StatusCompleted && status != StatusFailed && status != StatusRetrying {
		return fmt.Errorf("core: invalid post-attempt status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("core: event %q not found", eventID)
	}
	if event.Status != StatusProcessing {
		return fmt.Errorf("core: event %q is not processing", eventID)
	}
	event.Status = status
	event.AttemptCount = attemptCount
	event.LastError = strings.TrimSpace(lastError)
	if status == StatusCompleted {
		event.LastError = ""
	}
	event.NextRetryAt = nil
	if status == StatusRetrying && nextRetryAt != nil {
		at := nextRetryAt.UTC()
		event.NextRetryAt = &at
	}
	event.UpdatedAt = s.now()
	s.events[event.ID] = event
	return nil
}

func (s *InMemoryEventStore) ListRetryable(_ context.Context, now time.Time, limit int) ([]Event, error) {
	if s == nil {
		return nil, fmt.Errorf("core: event store is nil")
	}
	if limit <= 0 {
		limit = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	eligible := make([]Event, 0)
	for _, event := range s.events {
		if event.Status != StatusRetrying || event.NextRetryAt == nil {
			continue
		}
		if event.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, event)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].NextRetryAt.Before(*eligible[j].NextRetryAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (s *InMemoryEventStore) Requeue(_ context.Context, eventID string, nextRetryAt time.Time) (Event, error) {
	if s == nil {
		return Event{}, fmt.Errorf("core: event store is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[strings.TrimSpace(eventID)]
	if !ok {
		return Event{}, fmt.Errorf("core: event %q not found", eventID)
	}
	if event.Status != StatusFailed {
		return Event{}, fmt.Errorf("core: event %q is not failed", eventID)
	}
	if !event.SignatureValid {
		return Event{}, fmt.Errorf("core: event %q was rejected at verification and cannot be replayed", eventID)
	}
	event.Status = StatusRetrying
	event.AttemptCount = 0
	event.LastError = ""
	at := nextRetryAt.UTC()
	event.NextRetryAt = &at
	event.UpdatedAt = s.now()
	s.events[event.ID] = event
	return event, nil
}

func (s *InMemoryEventStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type idempotencyEntry struct {
	EventID   string
	ExpiresAt time.Time
}

// InMemoryIdempotencyStore implements the conditional-insert primitive with
// first-writer-wins semantics under a single mutex.
type InMemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]idempotencyEntry
	Now     func() time.Time

	// StatusOf resolves the current status of the event a claim points at.
	// When set, an expired claim survives until the event is terminal or
	// gone; when nil expiry falls back to time alone.
	StatusOf func(eventID string) (EventStatus, bool)
}

func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		entries: map[string]idempotencyEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryIdempotencyStore) PutIfAbsent(
	_ context.Context,
	source string,
	dedupKey string,
	eventID string,
	ttl time.Duration,
) (string, bool, error) {
	if s == nil {
		return "", false, fmt.Errorf("core: idempotency store is nil")
	}
	source = strings.TrimSpace(source)
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if source == "" || dedupKey == "" || eventID == "" {
		return "", false, fmt.Errorf("core: source, dedup key and event id are required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	key := source + "::" + dedupKey
	now := s.nowTime()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	if existing, ok := s.entries[key]; ok {
		return existing.EventID, false, nil
	}
	s.entries[key] = idempotencyEntry{
		EventID:   eventID,
		ExpiresAt: now.Add(ttl),
	}
	return eventID, true, nil
}

func (s *InMemoryIdempotencyStore) Release(_ context.Context, source string, dedupKey string, eventID string) error {
	if s == nil {
		return fmt.Errorf("core: idempotency store is nil")
	}
	source = strings.TrimSpace(source)
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if source == "" || dedupKey == "" || eventID == "" {
		return fmt.Errorf("core: source, dedup key and event id are required")
	}
	key := source + "::" + dedupKey

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[key]; ok && entry.EventID == eventID {
		delete(s.entries, key)
	}
	return nil
}

func (s *InMemoryIdempotencyStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.ExpiresAt.IsZero() || now.Before(entry.ExpiresAt) {
			continue
		}
		if s.StatusOf != nil {
			if status, ok := s.StatusOf(entry.EventID); ok && !status.Terminal() {
				continue
			}
		}
		delete(s.entries, key)
	}
}

func (s *InMemoryIdempotencyStore) nowTime() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// InMemoryIngestStore pairs the dedup claim with the event insert under the
// claim lock: the event row is created before the claim becomes visible, so
// a lost claim always resolves to an existing row and a failed insert
// leaves no claim behind.
type InMemoryIngestStore struct {
	keys   *InMemoryIdempotencyStore
	events EventStore
}

func NewInMemoryIngestStore(events EventStore, keys *InMemoryIdempotencyStore) *InMemoryIngestStore {
	if keys == nil {
		keys = NewInMemoryIdempotencyStore()
	}
	return &InMemoryIngestStore{keys: keys, events: events}
}

func (s *InMemoryIngestStore) PutIfAbsent(
	ctx context.Context,
	source string,
	dedupKey string,
	eventID string,
	ttl time.Duration,
) (string, bool, error) {
	if s == nil {
		return "", false, fmt.Errorf("core: ingest store is nil")
	}
	return s.keys.PutIfAbsent(ctx, source, dedupKey, eventID, ttl)
}

func (s *InMemoryIngestStore) Release(ctx context.Context, source string, dedupKey string, eventID string) error {
	if s == nil {
		return fmt.Errorf("core: ingest store is nil")
	}
	return s.keys.Release(ctx, source, dedupKey, eventID)
}

func (s *InMemoryIngestStore) ClaimAndCreate(
	ctx context.Context,
	source string,
	dedupKey string,
	ttl time.Duration,
	event Event,
) (Event, bool, error) {
	if s == nil || s.keys == nil || s.events == nil {
		return Event{}, false, fmt.Errorf("core: ingest store is not configured")
	}
	source = strings.TrimSpace(source)
	dedupKey = strings.TrimSpace(dedupKey)
	if source == "" || dedupKey == "" || strings.TrimSpace(event.ID) == "" {
		return Event{}, false, fmt.Errorf("core: source, dedup key and event id are required")
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	key := source + "::" + dedupKey
	now := s.keys.nowTime()

	s.keys.mu.Lock()
	defer s.keys.mu.Unlock()
	s.keys.evictExpiredLocked(now)
	if existing, ok := s.keys.entries[key]; ok {
		stored, err := s.events.Get(ctx, existing.EventID)
		if err != nil {
			return Event{}, false, err
		}
		return stored, false, nil
	}
	created, err := s.events.Create(ctx, event)
	if err != nil {
		return Event{}, false, err
	}
	s.keys.entries[key] = idempotencyEntry{
		EventID:   event.ID,
		ExpiresAt: now.Add(ttl),
	}
	return created, true, nil
}

var (
	_ EventStore       = (*InMemoryEventStore)(nil)
	_ IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
	_ IdempotencyStore = (*InMemoryIngestStore)(nil)
	_ ClaimAndCreator  = (*InMemoryIngestStore)(nil)
)
