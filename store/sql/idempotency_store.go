package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-ingest/core"
)

// IdempotencyStore claims (source, dedup_key) pairs with a single
// conditional insert. The unique index on the pair makes the first
// writer win; losers read back the winner's event id.
type IdempotencyStore struct {
	db   *bun.DB
	repo repository.Repository[*idempotencyKeyRecord]
	now  func() time.Time
}

func NewIdempotencyStore(db *bun.DB) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*idempotencyKeyRecord](db, idempotencyKeyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid idempotency repository wiring: %w", err)
		}
	}
	return &IdempotencyStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *IdempotencyStore) PutIfAbsent(
	ctx context.Context,
	source string,
	dedupKey string,
	eventID string,
	ttl time.Duration,
) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	source = strings.TrimSpace(source)
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if source == "" || dedupKey == "" || eventID == "" {
		return "", false, fmt.Errorf("sqlstore: source, dedup key and event id are required")
	}
	if ttl <= 0 {
		ttl = core.DefaultConfig().Dedup.KeyTTL
	}

	now := s.now()
	if err := s.dropExpiredClaim(ctx, s.db, source, dedupKey, now); err != nil {
		return "", false, err
	}

	record := newClaimRecord(source, dedupKey, eventID, now, ttl)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			existingID, getErr := s.lookup(ctx, source, dedupKey)
			if getErr != nil {
				return "", false, getErr
			}
			return existingID, false, nil
		}
		return "", false, err
	}
	return eventID, true, nil
}

// ClaimAndCreate runs the dedup claim and the event insert in one
// transaction: a rollback leaves neither row, so a claim can never point at
// an event that was not durably created. On a lost claim the winner's event
// row is read back inside the same transaction.
func (s *IdempotencyStore) ClaimAndCreate(
	ctx context.Context,
	source string,
	dedupKey string,
	ttl time.Duration,
	event core.Event,
) (core.Event, bool, error) {
	if s == nil || s.db == nil {
		return core.Event{}, false, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	source = strings.TrimSpace(source)
	dedupKey = strings.TrimSpace(dedupKey)
	if source == "" || dedupKey == "" || strings.TrimSpace(event.ID) == "" {
		return core.Event{}, false, fmt.Errorf("sqlstore: source, dedup key and event id are required")
	}
	if !event.Status.Valid() {
		return core.Event{}, false, fmt.Errorf("sqlstore: invalid event status %q", event.Status)
	}
	if ttl <= 0 {
		ttl = core.DefaultConfig().Dedup.KeyTTL
	}

	now := s.now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = now
	}

	var stored core.Event
	var inserted bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.dropExpiredClaim(ctx, tx, source, dedupKey, now); err != nil {
			return err
		}

		claim := newClaimRecord(source, dedupKey, event.ID, now, ttl)
		// ON CONFLICT keeps a lost claim from aborting the transaction;
		// postgres would otherwise refuse the reads that follow.
		res, err := tx.NewInsert().
			Model(claim).
			On("CONFLICT (source, dedup_key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			existing := &idempotencyKeyRecord{}
			if scanErr := tx.NewSelect().
				Model(existing).
				Where("?TableAlias.source = ?", source).
				Where("?TableAlias.dedup_key = ?", dedupKey).
				Limit(1).
				Scan(ctx); scanErr != nil {
				return scanErr
			}
			record := &ingestEventRecord{}
			if scanErr := tx.NewSelect().
				Model(record).
				Where("?TableAlias.id = ?", existing.EventID).
				Limit(1).
				Scan(ctx); scanErr != nil {
				if scanErr == sql.ErrNoRows {
					return fmt.Errorf("sqlstore: claim for %s/%s: %w", source, dedupKey, core.ErrEventNotFound)
				}
				return scanErr
			}
			stored = eventToDomain(record)
			return nil
		}

		record := eventToRecord(event)
		if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
			return err
		}
		stored = eventToDomain(record)
		inserted = true
		return nil
	})
	if err != nil {
		return core.Event{}, false, err
	}
	return stored, inserted, nil
}

func (s *IdempotencyStore) Release(ctx context.Context, source string, dedupKey string, eventID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	source = strings.TrimSpace(source)
	dedupKey = strings.TrimSpace(dedupKey)
	eventID = strings.TrimSpace(eventID)
	if source == "" || dedupKey == "" || eventID == "" {
		return fmt.Errorf("sqlstore: source, dedup key and event id are required")
	}
	_, err := s.db.NewDelete().
		Model((*idempotencyKeyRecord)(nil)).
		Where("source = ?", source).
		Where("dedup_key = ?", dedupKey).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

// dropExpiredClaim removes a lapsed claim so a redelivery after the
// retention window registers as fresh. Expiry is gated on the referenced
// event being terminal (or gone): a claim whose event is still pending,
// processing or retrying survives its TTL, otherwise a replayed event could
// gain a second row for the same delivery.
func (s *IdempotencyStore) dropExpiredClaim(ctx context.Context, db bun.IDB, source, dedupKey string, now time.Time) error {
	_, err := db.NewDelete().
		Model((*idempotencyKeyRecord)(nil)).
		Where("source = ?", source).
		Where("dedup_key = ?", dedupKey).
		Where("expires_at <= ?", now).
		Where("event_id NOT IN (SELECT id FROM ingest_events WHERE status NOT IN (?, ?))",
			string(core.StatusCompleted), string(core.StatusFailed)).
		Exec(ctx)
	return err
}

func newClaimRecord(source, dedupKey, eventID string, now time.Time, ttl time.Duration) *idempotencyKeyRecord {
	return &idempotencyKeyRecord{
		ID:        uuid.NewString(),
		Source:    source,
		DedupKey:  dedupKey,
		EventID:   eventID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
}

func (s *IdempotencyStore) lookup(ctx context.Context, source, dedupKey string) (string, error) {
	record := &idempotencyKeyRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.source = ?", source).
		Where("?TableAlias.dedup_key = ?", dedupKey).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("sqlstore: idempotency claim vanished for %s/%s", source, dedupKey)
		}
		return "", err
	}
	return record.EventID, nil
}
