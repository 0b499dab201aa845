// Package event contains the Domain Event types, the contracts of the
// Event Storage Engine (append, per-stream reads and global tracking reads)
// and an in-memory implementation of the engine.
//
// Every Domain Event belongs to exactly one tenant: Event Streams are
// identified by the pair (tenant, stream name), and reads on a stream
// never return events owned by another tenant.
package event
