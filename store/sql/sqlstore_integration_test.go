package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-ingest/core"
	ingestmigrations "github.com/goliatone/go-ingest/migrations"
	sqlstore "github.com/goliatone/go-ingest/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-ingest-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:ingest-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = ingestmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != ingestmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, ingestmigrations.WithValidationTargets(ingestmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func newFactory(t *testing.T) (*sqlstore.RepositoryFactory, func()) {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		cleanup()
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, cleanup
}

func pendingEvent(id string) core.Event {
	return core.Event{
		ID:              id,
		ExternalEventID: "ext-" + id,
		Source:          "payments",
		EventType:       "charge_succeeded",
		RawPayload:      map[string]any{"amount": float64(125)},
		SignatureValid:  true,
		Status:          core.StatusPending,
		MaxAttempts:     5,
		TenantID:        "acct_9",
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"ingest_events", "ingest_idempotency_keys"} {
		var name string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &name); err != nil {
			t.Fatalf("query sqlite master for %s: %v", table, err)
		}
		if name != table {
			t.Fatalf("expected %s table, got %q", table, name)
		}
	}
}

func TestEventStore_CreateGetAndDuplicate(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()

	created, err := events.Create(ctx, pendingEvent("00000000-0000-0000-0000-000000000001"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
		t.Fatalf("expected audit timestamps to be filled")
	}

	loaded, err := events.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != core.StatusPending || loaded.Source != "payments" {
		t.Fatalf("unexpected event %+v", loaded)
	}
	if loaded.RawPayload["amount"] != float64(125) {
		t.Fatalf("payload not round-tripped: %+v", loaded.RawPayload)
	}

	if _, err := events.Create(ctx, pendingEvent(created.ID)); err == nil {
		t.Fatalf("expected duplicate id to fail")
	}

	if _, err := events.Get(ctx, "00000000-0000-0000-0000-00000000dead"); err == nil {
		t.Fatalf("expected missing event error")
	}
}

func TestEventStore_ClaimProcessingIsExclusive(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()

	created, err := events.Create(ctx, pendingEvent("00000000-0000-0000-0000-000000000002"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	won, err := events.ClaimProcessing(ctx, created.ID, core.StatusPending)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !won {
		t.Fatalf("expected first claim to win")
	}

	won, err = events.ClaimProcessing(ctx, created.ID, core.StatusPending)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatalf("expected second claim to lose")
	}

	if _, err := events.ClaimProcessing(ctx, created.ID, core.StatusCompleted); err == nil {
		t.Fatalf("expected claim from completed to be rejected")
	}
}

func TestEventStore_RecordOutcomeTransitions(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()

	created, err := events.Create(ctx, pendingEvent("00000000-0000-0000-0000-000000000003"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Recording without the processing claim must fail.
	if err := events.RecordOutcome(ctx, created.ID, core.StatusCompleted, 1, "", nil); err == nil {
		t.Fatalf("expected record on pending event to fail")
	}

	if _, err := events.ClaimProcessing(ctx, created.ID, core.StatusPending); err != nil {
		t.Fatalf("claim: %v", err)
	}
	retryAt := time.Now().UTC().Add(2 * time.Second)
	if err := events.RecordOutcome(ctx, created.ID, core.StatusRetrying, 1, "consumer timeout", &retryAt); err != nil {
		t.Fatalf("record retrying: %v", err)
	}

	loaded, err := events.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != core.StatusRetrying || loaded.AttemptCount != 1 {
		t.Fatalf("unexpected state %+v", loaded)
	}
	if loaded.NextRetryAt == nil {
		t.Fatalf("expected retry timestamp persisted")
	}
	if drift := loaded.NextRetryAt.Sub(retryAt); drift > time.Second || drift < -time.Second {
		t.Fatalf("retry timestamp drifted by %v", drift)
	}
	if loaded.LastError != "consumer timeout" {
		t.Fatalf("expected last error persisted, got %q", loaded.LastError)
	}

	if _, err := events.ClaimProcessing(ctx, created.ID, core.StatusRetrying); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if err := events.RecordOutcome(ctx, created.ID, core.StatusCompleted, 2, "stale error", nil); err != nil {
		t.Fatalf("record completed: %v", err)
	}

	loaded, err = events.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != core.StatusCompleted || loaded.AttemptCount != 2 {
		t.Fatalf("unexpected final state %+v", loaded)
	}
	if loaded.LastError != "" {
		t.Fatalf("expected last error cleared on success, got %q", loaded.LastError)
	}
	if loaded.NextRetryAt != nil {
		t.Fatalf("expected retry timestamp cleared, got %v", loaded.NextRetryAt)
	}
}

func TestEventStore_ListRetryableOrderAndBound(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()

	now := time.Now().UTC()
	due := []struct {
		id    string
		delay time.Duration
	}{
		{"00000000-0000-0000-0000-00000000000a", -3 * time.Minute},
		{"00000000-0000-0000-0000-00000000000b", -time.Minute},
		{"00000000-0000-0000-0000-00000000000c", -2 * time.Minute},
		{"00000000-0000-0000-0000-00000000000d", time.Hour},
	}
	for _, item := range due {
		created, err := events.Create(ctx, pendingEvent(item.id))
		if err != nil {
			t.Fatalf("create %s: %v", item.id, err)
		}
		if _, err := events.ClaimProcessing(ctx, created.ID, core.StatusPending); err != nil {
			t.Fatalf("claim %s: %v", item.id, err)
		}
		retryAt := now.Add(item.delay)
		if err := events.RecordOutcome(ctx, created.ID, core.StatusRetrying, 1, "flaky", &retryAt); err != nil {
			t.Fatalf("record %s: %v", item.id, err)
		}
	}

	listed, err := events.ListRetryable(ctx, now, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(listed))
	}
	if !strings.HasSuffix(listed[0].ID, "a") || !strings.HasSuffix(listed[1].ID, "c") {
		t.Fatalf("expected oldest-first order, got %s then %s", listed[0].ID, listed[1].ID)
	}
}

func TestIdempotencyStore_FirstWriterWins(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	keys := factory.IdempotencyStore()

	winner, inserted, err := keys.PutIfAbsent(ctx, "payments", "ext-1", "event-1", time.Hour)
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if !inserted || winner != "event-1" {
		t.Fatalf("expected first writer to win, got %q inserted=%v", winner, inserted)
	}

	winner, inserted, err = keys.PutIfAbsent(ctx, "payments", "ext-1", "event-2", time.Hour)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if inserted {
		t.Fatalf("expected second writer to lose")
	}
	if winner != "event-1" {
		t.Fatalf("expected winner's event id, got %q", winner)
	}

	// A different source owns its own keyspace.
	_, inserted, err = keys.PutIfAbsent(ctx, "sheets", "ext-1", "event-3", time.Hour)
	if err != nil {
		t.Fatalf("cross-source put: %v", err)
	}
	if !inserted {
		t.Fatalf("expected distinct source to insert")
	}
}

func TestIdempotencyStore_ConcurrentDuplicatesPickOneWinner(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	keys := factory.IdempotencyStore()

	const writers = 8
	winners := make([]string, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			winner, _, err := keys.PutIfAbsent(ctx, "payments", "ext-race", fmt.Sprintf("event-%d", n), time.Hour)
			if err != nil {
				t.Errorf("put %d: %v", n, err)
				return
			}
			winners[n] = winner
		}(i)
	}
	wg.Wait()

	first := winners[0]
	for n, winner := range winners {
		if winner != first {
			t.Fatalf("writer %d observed %q, writer 0 observed %q", n, winner, first)
		}
	}
}

func TestIdempotencyStore_ExpiredClaimIsReplaced(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	keys := factory.IdempotencyStore()

	if _, _, err := keys.PutIfAbsent(ctx, "payments", "ext-ttl", "event-old", time.Millisecond); err != nil {
		t.Fatalf("first put: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	winner, inserted, err := keys.PutIfAbsent(ctx, "payments", "ext-ttl", "event-new", time.Hour)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if !inserted || winner != "event-new" {
		t.Fatalf("expected expired claim to be replaced, got %q inserted=%v", winner, inserted)
	}
}

func TestCachedEventStore_ServesTerminalReadsFromCache(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()

	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	if err := factory.EnableEventCache(cacheService); err != nil {
		t.Fatalf("enable cache: %v", err)
	}
	cached := factory.CachedEventStore()

	created, err := cached.Create(ctx, pendingEvent("00000000-0000-0000-0000-000000000004"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := cached.ClaimProcessing(ctx, created.ID, core.StatusPending); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := cached.RecordOutcome(ctx, created.ID, core.StatusCompleted, 1, "", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	loaded, err := cached.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Status != core.StatusCompleted {
		t.Fatalf("expected completed, got %s", loaded.Status)
	}

	// Second read comes from cache and matches.
	again, err := cached.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if again.Status != core.StatusCompleted || again.ID != created.ID {
		t.Fatalf("unexpected cached read %+v", again)
	}
}

func TestEventStore_RequeueResetsFailedEvent(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()

	created, err := events.Create(ctx, pendingEvent("00000000-0000-0000-0000-000000000009"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := events.ClaimProcessing(ctx, created.ID, core.StatusPending); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := events.RecordOutcome(ctx, created.ID, core.StatusFailed, 5, "consumer rejected payload", nil); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	retryAt := time.Now().UTC().Truncate(time.Second)
	requeued, err := events.Requeue(ctx, created.ID, retryAt)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if requeued.Status != core.StatusRetrying || requeued.AttemptCount != 0 {
		t.Fatalf("unexpected requeued state %+v", requeued)
	}
	if requeued.LastError != "" {
		t.Fatalf("expected prior error cleared, got %q", requeued.LastError)
	}
	if requeued.NextRetryAt == nil || !requeued.NextRetryAt.Equal(retryAt) {
		t.Fatalf("expected retry timestamp %v, got %v", retryAt, requeued.NextRetryAt)
	}

	// Still counts as retryable inventory once the scheduler looks.
	due, err := events.ListRetryable(ctx, retryAt.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list retryable: %v", err)
	}
	if len(due) != 1 || due[0].ID != created.ID {
		t.Fatalf("expected requeued event listed, got %+v", due)
	}

	// Already retrying: a second requeue has nothing to reset.
	if _, err := events.Requeue(ctx, created.ID, retryAt); err == nil {
		t.Fatalf("expected requeue of non-failed event to error")
	}
}

func TestEventStore_RequeueRefusesRejectedSignature(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()

	rejected := pendingEvent("00000000-0000-0000-0000-00000000000a")
	rejected.SignatureValid = false
	rejected.Status = core.StatusFailed
	if _, err := events.Create(ctx, rejected); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := events.Requeue(ctx, rejected.ID, time.Now().UTC()); err == nil {
		t.Fatalf("expected requeue of signature-rejected event to error")
	}
}

func TestNewRepositoryFactoryFromPostgresDSN_RequiresDSN(t *testing.T) {
	if _, err := sqlstore.NewRepositoryFactoryFromPostgresDSN(""); err == nil {
		t.Fatalf("expected empty dsn to be rejected")
	}
}

func TestIdempotencyStore_ExpiryWaitsForTerminalEvent(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()
	keys := factory.IdempotencyStore()

	created, err := events.Create(ctx, pendingEvent("00000000-0000-0000-0000-00000000000b"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := keys.PutIfAbsent(ctx, "payments", "ext-ttl-gate", created.ID, time.Nanosecond); err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	// TTL elapsed but the event is still pending: the claim must hold so a
	// late duplicate cannot fork a second event for the same delivery.
	winner, inserted, err := keys.PutIfAbsent(ctx, "payments", "ext-ttl-gate", "event-late", time.Hour)
	if err != nil {
		t.Fatalf("put during pending: %v", err)
	}
	if inserted || winner != created.ID {
		t.Fatalf("expected claim to outlive TTL while non-terminal, got %q inserted=%v", winner, inserted)
	}

	if _, err := events.ClaimProcessing(ctx, created.ID, core.StatusPending); err != nil {
		t.Fatalf("claim processing: %v", err)
	}
	if err := events.RecordOutcome(ctx, created.ID, core.StatusCompleted, 1, "", nil); err != nil {
		t.Fatalf("record completed: %v", err)
	}

	winner, inserted, err = keys.PutIfAbsent(ctx, "payments", "ext-ttl-gate", "event-late", time.Hour)
	if err != nil {
		t.Fatalf("put after terminal: %v", err)
	}
	if !inserted || winner != "event-late" {
		t.Fatalf("expected expired claim of a terminal event to be reclaimable, got %q inserted=%v", winner, inserted)
	}
}

func TestIdempotencyStore_ReleaseDropsOwnClaimOnly(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	keys := factory.IdempotencyStore()

	if _, _, err := keys.PutIfAbsent(ctx, "payments", "ext-rel", "event-a", time.Hour); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := keys.Release(ctx, "payments", "ext-rel", "event-b"); err != nil {
		t.Fatalf("release foreign: %v", err)
	}
	winner, inserted, err := keys.PutIfAbsent(ctx, "payments", "ext-rel", "event-c", time.Hour)
	if err != nil {
		t.Fatalf("put after foreign release: %v", err)
	}
	if inserted || winner != "event-a" {
		t.Fatalf("expected claim to survive a foreign release, got %q inserted=%v", winner, inserted)
	}

	if err := keys.Release(ctx, "payments", "ext-rel", "event-a"); err != nil {
		t.Fatalf("release own: %v", err)
	}
	winner, inserted, err = keys.PutIfAbsent(ctx, "payments", "ext-rel", "event-d", time.Hour)
	if err != nil {
		t.Fatalf("put after release: %v", err)
	}
	if !inserted || winner != "event-d" {
		t.Fatalf("expected released key to be claimable, got %q inserted=%v", winner, inserted)
	}
}

func TestIdempotencyStore_ClaimAndCreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	factory, cleanup := newFactory(t)
	defer cleanup()
	events := factory.EventStore()
	keys := factory.IdempotencyStore()

	// Occupying the event id makes the event insert fail after the claim
	// insert succeeded; the transaction must roll both back.
	occupant, err := events.Create(ctx, pendingEvent("00000000-0000-0000-0000-00000000000c"))
	if err != nil {
		t.Fatalf("create occupant: %v", err)
	}
	colliding := pendingEvent(occupant.ID)
	if _, _, err := keys.ClaimAndCreate(ctx, "payments", "ext-atomic", time.Hour, colliding); err == nil {
		t.Fatalf("expected claim and create to fail on the colliding event id")
	}

	fresh := pendingEvent("00000000-0000-0000-0000-00000000000d")
	created, inserted, err := keys.ClaimAndCreate(ctx, "payments", "ext-atomic", time.Hour, fresh)
	if err != nil {
		t.Fatalf("claim and create: %v", err)
	}
	if !inserted || created.ID != fresh.ID {
		t.Fatalf("expected the rolled-back claim to be free, got %+v inserted=%v", created, inserted)
	}
	if _, err := events.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("load created event: %v", err)
	}

	duplicate := pendingEvent("00000000-0000-0000-0000-00000000000e")
	stored, inserted, err := keys.ClaimAndCreate(ctx, "payments", "ext-atomic", time.Hour, duplicate)
	if err != nil {
		t.Fatalf("duplicate claim: %v", err)
	}
	if inserted || stored.ID != fresh.ID {
		t.Fatalf("expected winner's row back, got %+v inserted=%v", stored, inserted)
	}
	if _, err := events.Get(ctx, duplicate.ID); err == nil {
		t.Fatalf("expected no row for the losing duplicate")
	}
}
