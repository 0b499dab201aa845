// Package aggregate contains the Aggregate Root contracts and the
// event-sourced Repository that loads and saves them from the event ledger.
package aggregate

import (
	"fmt"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/version"
)

// ID represents an Aggregate ID type.
//
// Aggregate IDs should be able to be marshaled into a string format,
// in order to be saved onto a named Event Stream.
type ID interface {
	fmt.Stringer
}

// Aggregate is the segregated interface, part of the Aggregate Root interface,
// that describes the left-folding behavior of Domain Events to update the
// Aggregate Root state.
type Aggregate interface {
	// Apply applies the specified Event to the Aggregate Root,
	// by causing a state change in the Aggregate Root instance.
	//
	// Since this method cause a state change, implementors should make sure
	// to use pointer semantics on their Aggregate Root method receivers.
	//
	// Apply must be free of side effects other than the state mutation,
	// so that replaying the same events always yields the same state.
	Apply(event.Event) error
}

// Internal contains aggregate.Root methods used by the Repositories.
type Internal interface {
	FlushRecordedEvents() []event.Envelope
}

// Root is the interface describing an Aggregate Root instance.
//
// This interface should be implemented by your Aggregate Root types.
// Make sure your Aggregate Root types embed the aggregate.BaseRoot type
// to complete the implementation of this interface.
type Root[I ID] interface {
	Aggregate
	Internal

	// AggregateID returns the Aggregate Root identifier.
	AggregateID() I

	// Version returns the current Aggregate Root version.
	// The version gets updated each time a new event is recorded
	// through the aggregate.RecordThat function.
	Version() version.Version

	setVersion(version.Version)
	recordThat(Aggregate, ...event.Envelope) error
}

// Type represents the type of an Aggregate, which will expose the
// name of the Aggregate (used as Event Stream prefix).
//
// If your Aggregate implementation uses pointers, use the factory to
// return a non-nil instance of the type.
type Type[I ID, T Root[I]] struct {
	Name    string
	Factory func() T
}

// StreamName returns the name of the Event Stream of the Aggregate Root with the given id.
func (t Type[I, T]) StreamName(id I) string {
	return t.Name + "-" + id.String()
}

// RecordThat records the Domain Event for the specified Aggregate Root.
//
// An error is typically returned if applying the Domain Event on the Aggregate
// Root instance fails with an error.
func RecordThat[I ID](root Root[I], events ...event.Envelope) error {
	return root.recordThat(root, events...)
}

// BaseRoot segregates and completes the aggregate.Root interface implementation
// when embedded to a user-defined Aggregate Root type.
type BaseRoot struct {
	version        version.Version
	recordedEvents []event.Envelope
}

// Version returns the current version of the Aggregate Root instance.
func (br BaseRoot) Version() version.Version { return br.version }

// FlushRecordedEvents returns the events recorded and not yet committed,
// clearing them from the Aggregate Root.
func (br *BaseRoot) FlushRecordedEvents() []event.Envelope {
	flushed := br.recordedEvents
	br.recordedEvents = nil

	return flushed
}

func (br *BaseRoot) setVersion(v version.Version) {
	br.version = v
}

func (br *BaseRoot) recordThat(aggregate Aggregate, events ...event.Envelope) error {
	for _, evt := range events {
		if err := aggregate.Apply(evt.Message); err != nil {
			return fmt.Errorf("aggregate.RecordThat: failed to apply event %s, %w", evt.Message.Name(), err)
		}

		br.recordedEvents = append(br.recordedEvents, evt)
		br.version++
	}

	return nil
}
