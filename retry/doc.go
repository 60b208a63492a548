// Package retry re-drives events parked in the retrying state. A
// Scheduler periodically sweeps for rows whose next_retry_at has
// elapsed and resubmits each one through the orchestrator's exclusive
// claim, so any number of scheduler replicas can race safely.
package retry
