package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/get-eventually/eventledger/version"
)

// Interface implementation assertion.
var _ TrackingStore = new(InMemoryStore)

// InMemoryStore is a thread-safe, in-memory event.TrackingStore implementation.
//
// The global sequence counter is the length of the ledger, advanced under
// the store mutex together with the stream append.
type InMemoryStore struct {
	mx      sync.RWMutex
	ledger  []Persisted
	streams map[StreamID][]int
	now     func() time.Time
}

// NewInMemoryStore creates a new event.InMemoryStore instance.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[StreamID][]int),
		now:     time.Now,
	}
}

func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("event.InMemoryStore: context error, %w", err)
	}

	return nil
}

func send(ctx context.Context, stream StreamWrite, events []Persisted) error {
	for _, evt := range events {
		select {
		case stream <- evt:
		case <-ctx.Done():
			return contextErr(ctx)
		}
	}

	return nil
}

// Stream streams the events of the tenant's Event Stream onto the provided stream,
// in ascending sequence number, starting from selector.From.
//
// Events are copied before being sent, so that the store is not locked
// while the consumer is processing them.
func (es *InMemoryStore) Stream(ctx context.Context, stream StreamWrite, id StreamID, selector version.Selector) error {
	defer close(stream)

	es.mx.RLock()
	positions := es.streams[id]
	events := make([]Persisted, 0, len(positions))

	for _, pos := range positions {
		if evt := es.ledger[pos]; version.Version(evt.SequenceNumber) >= selector.From {
			events = append(events, evt)
		}
	}
	es.mx.RUnlock()

	return send(ctx, stream, events)
}

// StreamAll streams a batch of the ledger in global order.
func (es *InMemoryStore) StreamAll(ctx context.Context, stream StreamWrite, selector TrackingSelector) error {
	defer close(stream)

	limit := selector.BatchSize()
	events := make([]Persisted, 0, limit)

	es.mx.RLock()
	// Global sequence ids start from 1 and are the ledger index plus one.
	for i := max(selector.After, 0); i < int64(len(es.ledger)) && len(events) < limit; i++ {
		if evt := es.ledger[i]; selector.Matches(evt) {
			events = append(events, evt)
		}
	}
	es.mx.RUnlock()

	return send(ctx, stream, events)
}

// CurrentVersion returns the current version of the Event Stream and
// whether the stream exists.
func (es *InMemoryStore) CurrentVersion(_ context.Context, id StreamID) (version.Version, bool, error) {
	es.mx.RLock()
	defer es.mx.RUnlock()

	positions, ok := es.streams[id]

	return version.Version(len(positions)), ok, nil
}

// LatestGlobalSequenceID returns the id of the last committed event, or 0.
func (es *InMemoryStore) LatestGlobalSequenceID(context.Context) (int64, error) {
	es.mx.RLock()
	defer es.mx.RUnlock()

	return int64(len(es.ledger)), nil
}

// Append inserts the specified Domain Events into the Event Stream specified
// by the current instance, returning the new version of the Event Stream.
//
// `version.CheckExact` can be specified to enable an Optimistic Concurrency check
// on append, by using the expected version of the Event Stream prior
// to appending the new Events.
//
// Alternatively, `version.Any` can be used if no Optimistic Concurrency check
// should be carried out.
//
// An instance of `version.ConflictError` will be returned if the optimistic locking
// version check fails against the current version of the Event Stream.
func (es *InMemoryStore) Append(
	ctx context.Context,
	id StreamID,
	expected version.Check,
	events ...Envelope,
) (Commit, error) {
	if err := ValidateAppend(id, events); err != nil {
		return Commit{}, fmt.Errorf("event.InMemoryStore: failed to append events, %w", err)
	}

	if err := contextErr(ctx); err != nil {
		return Commit{}, err
	}

	es.mx.Lock()
	defer es.mx.Unlock()

	current := version.Version(len(es.streams[id]))
	if !version.Matches(expected, current) {
		return Commit{}, fmt.Errorf("event.InMemoryStore: failed to append events, %w", version.ConflictError{
			Expected: version.Version(expected.(version.CheckExact)),
			Actual:   current,
		})
	}

	recordedAt := es.now().UTC()
	commit := Commit{GlobalSequenceIDs: make([]int64, 0, len(events))}

	for i, evt := range events {
		persisted := Persisted{
			StreamID:         id,
			SequenceNumber:   int64(current) + int64(i),
			GlobalSequenceID: int64(len(es.ledger)) + 1,
			RecordedAt:       recordedAt,
			Envelope:         Envelope{Message: evt.Message, Metadata: evt.Metadata.Clone()},
		}

		es.streams[id] = append(es.streams[id], len(es.ledger))
		es.ledger = append(es.ledger, persisted)
		commit.GlobalSequenceIDs = append(commit.GlobalSequenceIDs, persisted.GlobalSequenceID)
	}

	commit.Version = current + version.Version(len(events))

	return commit, nil
}
