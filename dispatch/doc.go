// Package dispatch routes persisted events to registered consumers and
// classifies each delivery attempt as success, retryable failure, or
// fatal failure. Consumers are keyed by (source, event type) and every
// attempt runs under the configured per-attempt timeout.
package dispatch
