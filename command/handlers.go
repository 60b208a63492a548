package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/retry"
)

type IngestService interface {
	Ingest(ctx context.Context, req core.RawInboundRequest) (core.IngestResult, error)
	Replay(ctx context.Context, eventID string) (core.Event, error)
}

type RetrySweeper interface {
	Sweep(ctx context.Context) (retry.SweepStats, error)
}

type IngestEventCommand struct {
	service IngestService
}

func NewIngestEventCommand(service IngestService) *IngestEventCommand {
	return &IngestEventCommand{service: service}
}

func (c *IngestEventCommand) Execute(ctx context.Context, msg IngestEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ingest service is required")
	}
	out, err := c.service.Ingest(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ReplayEventCommand struct {
	service IngestService
}

func NewReplayEventCommand(service IngestService) *ReplayEventCommand {
	return &ReplayEventCommand{service: service}
}

func (c *ReplayEventCommand) Execute(ctx context.Context, msg ReplayEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: replay service is required")
	}
	out, err := c.service.Replay(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SweepRetriesCommand struct {
	sweeper RetrySweeper
}

func NewSweepRetriesCommand(sweeper RetrySweeper) *SweepRetriesCommand {
	return &SweepRetriesCommand{sweeper: sweeper}
}

func (c *SweepRetriesCommand) Execute(ctx context.Context, _ SweepRetriesMessage) error {
	if c == nil || c.sweeper == nil {
		return commandDependencyError("command: retry sweeper is required")
	}
	out, err := c.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
