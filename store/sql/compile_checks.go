package sqlstore

import "github.com/goliatone/go-ingest/core"

var (
	_ core.EventStore       = (*EventStore)(nil)
	_ core.EventStore       = (*CachedEventStore)(nil)
	_ core.IdempotencyStore = (*IdempotencyStore)(nil)
	_ core.ClaimAndCreator  = (*IdempotencyStore)(nil)
)
