package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-ingest/core"
)

const eventCacheKeyPrefix = "go-ingest::event::v1"

// CachedEventStore layers a read-through cache over event lookups.
// Idempotent replays hit Get for an id that rarely changes again, so
// terminal events are served from cache; non-terminal reads always go
// to the base store. Writes pass through and invalidate.
type CachedEventStore struct {
	base  *EventStore
	cache repositorycache.CacheService
}

func NewCachedEventStore(base *EventStore, cacheService repositorycache.CacheService) (*CachedEventStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base event store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: event cache service is required")
	}
	return &CachedEventStore{base: base, cache: cacheService}, nil
}

// EventCacheKey returns the deterministic cache key for an event id:
// go-ingest::event::v1::<id> with the id URL-path escaped.
func EventCacheKey(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: event id is required")
	}
	return eventCacheKeyPrefix + "::" + url.PathEscape(id), nil
}

func (s *CachedEventStore) Create(ctx context.Context, event core.Event) (core.Event, error) {
	if s == nil || s.base == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return s.base.Create(ctx, event)
}

func (s *CachedEventStore) Get(ctx context.Context, id string) (core.Event, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	cacheKey, err := EventCacheKey(id)
	if err != nil {
		return core.Event{}, err
	}
	event, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Event, error) {
		return s.base.Get(ctx, id)
	})
	if err != nil {
		return core.Event{}, err
	}
	if !event.Status.Terminal() {
		// A cached in-flight row may be stale; re-read and refresh.
		fresh, freshErr := s.base.Get(ctx, id)
		if freshErr != nil {
			return core.Event{}, freshErr
		}
		s.invalidate(ctx, id)
		return fresh, nil
	}
	return event, nil
}

func (s *CachedEventStore) ClaimProcessing(ctx context.Context, eventID string, from core.EventStatus) (bool, error) {
	if s == nil || s.base == nil {
		return false, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	won, err := s.base.ClaimProcessing(ctx, eventID, from)
	if won {
		s.invalidate(ctx, eventID)
	}
	return won, err
}

func (s *CachedEventStore) RecordOutcome(
	ctx context.Context,
	eventID string,
	status core.EventStatus,
	attemptCount int,
	lastError string,
	nextRetryAt *time.Time,
) error {
	if s == nil || s.base == nil {
		return fmt.Errorf("sqlstore: cached event store is not configured")
	}
	err := s.base.RecordOutcome(ctx, eventID, status, attemptCount, lastError, nextRetryAt)
	if err == nil {
		s.invalidate(ctx, eventID)
	}
	return err
}

func (s *CachedEventStore) ListRetryable(ctx context.Context, now time.Time, limit int) ([]core.Event, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	return s.base.ListRetryable(ctx, now, limit)
}

func (s *CachedEventStore) Requeue(ctx context.Context, eventID string, nextRetryAt time.Time) (core.Event, error) {
	if s == nil || s.base == nil {
		return core.Event{}, fmt.Errorf("sqlstore: cached event store is not configured")
	}
	event, err := s.base.Requeue(ctx, eventID, nextRetryAt)
	if err == nil {
		s.invalidate(ctx, eventID)
	}
	return event, err
}

func (s *CachedEventStore) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	cacheKey, err := EventCacheKey(id)
	if err != nil {
		return
	}
	_ = s.cache.Delete(ctx, cacheKey)
}
