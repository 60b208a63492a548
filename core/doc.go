// Package core contains the canonical ingestion domain: the Event entity and
// its lifecycle state machine, the capability contracts for stores, dispatch
// and notification, and the orchestrator that drives an inbound delivery
// through verify -> dedupe -> persist -> dispatch -> record.
//
// Every lifecycle transition is a row-scoped conditional write on the event
// row, so orchestrators and retry sweepers scale horizontally without a
// coordination service. Lower-level adapters depend on this package; core
// must not depend on source-specific or transport-specific code.
package core
