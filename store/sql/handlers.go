package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func eventHandlers() repository.ModelHandlers[*ingestEventRecord] {
	return repository.ModelHandlers[*ingestEventRecord]{
		NewRecord: func() *ingestEventRecord {
			return &ingestEventRecord{}
		},
		GetID: func(record *ingestEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *ingestEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *ingestEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func idempotencyKeyHandlers() repository.ModelHandlers[*idempotencyKeyRecord] {
	return repository.ModelHandlers[*idempotencyKeyRecord]{
		NewRecord: func() *idempotencyKeyRecord {
			return &idempotencyKeyRecord{}
		},
		GetID: func(record *idempotencyKeyRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *idempotencyKeyRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *idempotencyKeyRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
