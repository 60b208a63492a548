// Package sources contains the source adapter framework: signature
// verification primitives with constant-time comparison, the adapter
// registry, and the concrete adapters for the providers this pipeline
// ingests from.
//
// Adapters are pure: they verify and normalize, and never perform
// repository I/O. New providers register an adapter; the orchestrator does
// not change.
package sources
