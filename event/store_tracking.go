package event

import (
	"context"
	"sync"

	"github.com/get-eventually/eventledger/version"
)

// TrackingEventStore is an Event Store wrapper to track the Events
// committed to the inner Event Store.
//
// Useful for tests assertion.
type TrackingEventStore struct {
	Appender

	mx       sync.RWMutex
	recorded []Persisted
}

// NewTrackingEventStore wraps an Event Store to capture events that get
// appended to it.
func NewTrackingEventStore(appender Appender) *TrackingEventStore {
	return &TrackingEventStore{Appender: appender}
}

// Recorded returns the list of Events that have been appended
// to the Event Store, in commit order.
func (es *TrackingEventStore) Recorded() []Persisted {
	es.mx.RLock()
	defer es.mx.RUnlock()

	recorded := make([]Persisted, len(es.recorded))
	copy(recorded, es.recorded)

	return recorded
}

// Append forwards the call to the wrapped Event Store instance and,
// if the operation concludes successfully, records these events internally.
func (es *TrackingEventStore) Append(
	ctx context.Context,
	id StreamID,
	expected version.Check,
	events ...Envelope,
) (Commit, error) {
	es.mx.Lock()
	defer es.mx.Unlock()

	commit, err := es.Appender.Append(ctx, id, expected, events...)
	if err != nil {
		return commit, err
	}

	previousVersion := int64(commit.Version) - int64(len(events))

	for i, evt := range events {
		recorded := Persisted{
			StreamID:       id,
			SequenceNumber: previousVersion + int64(i),
			Envelope:       evt,
		}

		if i < len(commit.GlobalSequenceIDs) {
			recorded.GlobalSequenceID = commit.GlobalSequenceIDs[i]
		}

		es.recorded = append(es.recorded, recorded)
	}

	return commit, nil
}
