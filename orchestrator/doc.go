// Package orchestrator drives one ingestion run per uploaded document.
//
// Submit hashes the upload, rejects duplicates of indexed or in-flight
// content and schedules the run on a bounded task pool. A run moves through
// parse, normalize, classify and then extract, entities and write per batch
// of chunks. Progress is published to the in-memory registry, optionally
// mirrored to Redis, and never decreases.
//
// Cancellation is cooperative: Cancel sets a CancelToken that is checked
// before each batch. In-flight model calls always finish; then every vector,
// graph fact and chunk written for the document is removed. Fatal errors
// (a document that cannot be parsed, a failed store write) run the same
// cleanup before the task is marked ERROR.
package orchestrator
