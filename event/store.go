package event

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/get-eventually/eventledger/version"
)

// DefaultTrackingLimit is the batch size used by tracking reads when none is specified.
const DefaultTrackingLimit = 256

// Stream represents a stream of persisted Domain Events coming from some
// stream-able source of data, like an Event Store.
type Stream = chan Persisted

// StreamWrite provides write-only access to an event.Stream object.
type StreamWrite chan<- Persisted

// StreamRead provides read-only access to an event.Stream object.
type StreamRead <-chan Persisted

// SliceToStream converts a slice of event.Persisted domain events to an event.Stream type.
//
// The channel returned by the function contains all the original slice elements
// and is already closed.
func SliceToStream(events []Persisted) Stream {
	ch := make(chan Persisted, len(events))
	defer close(ch)

	for _, event := range events {
		ch <- event
	}

	return ch
}

// StreamToSlice synchronously exhausts an EventStream to an event.Persisted slice,
// and returns an error if the EventStream origin, passed here as a closure,
// fails with an error.
func StreamToSlice(ctx context.Context, f func(ctx context.Context, stream StreamWrite) error) ([]Persisted, error) {
	ch := make(chan Persisted, 1)
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error { return f(ctx, ch) })

	var events []Persisted
	for event := range ch {
		events = append(events, event)
	}

	return events, group.Wait()
}

// TrackingSelector selects a finite batch of the ledger in global order.
type TrackingSelector struct {
	// After is the exclusive lower bound on the global sequence id.
	After int64

	// TenantID scopes the read to a single tenant. Empty reads every tenant,
	// system events included.
	TenantID string

	// Limit caps the batch size; DefaultTrackingLimit is used when not positive.
	Limit int
}

// Matches reports whether the event falls in the selection, regardless of Limit.
func (s TrackingSelector) Matches(p Persisted) bool {
	if p.GlobalSequenceID <= s.After {
		return false
	}

	return s.TenantID == "" || p.TenantID == s.TenantID
}

// BatchSize returns the effective Limit.
func (s TrackingSelector) BatchSize() int {
	if s.Limit <= 0 {
		return DefaultTrackingLimit
	}

	return s.Limit
}

// Streamer is an event.Store trait used to open a specific Event Stream and stream it back
// in the application.
//
// Implementations close the stream channel when they return.
type Streamer interface {
	Stream(ctx context.Context, stream StreamWrite, id StreamID, selector version.Selector) error
}

// Appender is an event.Store trait used to append new Domain Events in the Event Stream.
//
// All the events are committed atomically: either all of them are assigned
// consecutive sequence numbers and global sequence ids, or none is.
type Appender interface {
	Append(ctx context.Context, id StreamID, expected version.Check, events ...Envelope) (Commit, error)
}

// VersionReader is an event.Store trait returning the current version of an
// Event Stream without loading its events.
type VersionReader interface {
	CurrentVersion(ctx context.Context, id StreamID) (version.Version, bool, error)
}

// Tracker is the event.Store trait used by consumers following the whole ledger
// in global order, like the outbox relay.
type Tracker interface {
	// StreamAll streams a finite batch of events in ascending global sequence
	// order, then closes the stream.
	StreamAll(ctx context.Context, stream StreamWrite, selector TrackingSelector) error

	// LatestGlobalSequenceID returns the highest global sequence id assigned so far.
	LatestGlobalSequenceID(ctx context.Context) (int64, error)
}

// Store represents an Event Store, a stateful data source where Domain Events
// can be safely stored, and easily replayed.
type Store interface {
	Appender
	Streamer
	VersionReader
}

// TrackingStore is an Event Store that can also be followed in global order.
type TrackingStore interface {
	Store
	Tracker
}

// FusedStore is a convenience type to fuse
// multiple Event Store interfaces where you might need to extend
// the functionality of the Store only partially.
//
// E.g. You might want to extend the functionality of the Append() method,
// but keep the Streamer methods the same.
type FusedStore struct {
	Appender
	Streamer
	VersionReader
}
