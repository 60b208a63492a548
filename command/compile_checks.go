package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[IngestEventMessage]  = (*IngestEventCommand)(nil)
	_ gocmd.Commander[ReplayEventMessage]  = (*ReplayEventCommand)(nil)
	_ gocmd.Commander[SweepRetriesMessage] = (*SweepRetriesCommand)(nil)
)
