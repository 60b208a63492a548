package sqlstore

import (
	"database/sql"
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// RepositoryFactory builds the bun-backed stores from a persistence
// client or a raw *bun.DB. Stores are built once and reused.
type RepositoryFactory struct {
	db *bun.DB

	eventStore       *EventStore
	idempotencyStore *IdempotencyStore
	cachedEvents     *CachedEventStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

// NewRepositoryFactoryFromPostgresDSN opens a lib/pq connection for the
// given DSN and builds the stores on a postgres-dialect bun.DB. The caller
// owns the connection lifecycle through DB().Close().
func NewRepositoryFactoryFromPostgresDSN(dsn string) (*RepositoryFactory, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: postgres dsn is required")
	}
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	factory, err := NewRepositoryFactoryFromDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.eventStore != nil && f.idempotencyStore != nil {
		return nil
	}
	return f.initStores()
}

// EnableEventCache wraps event lookups in a read-through cache. Call
// after BuildStores.
func (f *RepositoryFactory) EnableEventCache(cacheService repositorycache.CacheService) error {
	if f == nil || f.eventStore == nil {
		return fmt.Errorf("sqlstore: build stores before enabling the event cache")
	}
	cached, err := NewCachedEventStore(f.eventStore, cacheService)
	if err != nil {
		return err
	}
	f.cachedEvents = cached
	return nil
}

func (f *RepositoryFactory) EventStore() *EventStore {
	if f == nil {
		return nil
	}
	return f.eventStore
}

func (f *RepositoryFactory) CachedEventStore() *CachedEventStore {
	if f == nil {
		return nil
	}
	return f.cachedEvents
}

func (f *RepositoryFactory) IdempotencyStore() *IdempotencyStore {
	if f == nil {
		return nil
	}
	return f.idempotencyStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	eventStore, err := NewEventStore(f.db)
	if err != nil {
		return err
	}
	f.eventStore = eventStore
	idempotencyStore, err := NewIdempotencyStore(f.db)
	if err != nil {
		return err
	}
	f.idempotencyStore = idempotencyStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
