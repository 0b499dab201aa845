package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/version"
)

// ScenarioInit is the entrypoint of the Aggregate Root scenario API.
//
// An Aggregate Root scenario can either set the current evaluation context
// by using Given(), or test a "clean-slate" scenario by using When() directly.
type ScenarioInit[I ID, T Root[I]] struct {
	typ Type[I, T]
}

// Scenario is a scenario type to test the result of methods called
// on an Aggregate Root and their effects.
func Scenario[I ID, T Root[I]](typ Type[I, T]) ScenarioInit[I, T] {
	return ScenarioInit[I, T]{typ: typ}
}

// Given sets the events already recorded by the Aggregate Root, in order.
func (sc ScenarioInit[I, T]) Given(events ...event.Envelope) ScenarioGiven[I, T] {
	given := make([]event.Persisted, 0, len(events))

	for i, evt := range events {
		given = append(given, event.Persisted{SequenceNumber: int64(i), Envelope: evt})
	}

	return ScenarioGiven[I, T]{typ: sc.typ, given: given}
}

// When calls a function creating a new Aggregate Root instance.
func (sc ScenarioInit[I, T]) When(fn func() (T, error)) ScenarioWhen[I, T] {
	return ScenarioWhen[I, T]{fn: fn}
}

// ScenarioGiven is the state of the scenario once the Aggregate Root
// preconditions have been set through the Scenario().Given() method.
type ScenarioGiven[I ID, T Root[I]] struct {
	typ   Type[I, T]
	given []event.Persisted
}

// When calls the aggregate method under test on the Aggregate Root
// rehydrated from the Given events.
func (sc ScenarioGiven[I, T]) When(fn func(T) error) ScenarioWhen[I, T] {
	return ScenarioWhen[I, T]{
		fn: func() (T, error) {
			var zeroValue T

			root := sc.typ.Factory()
			if err := RehydrateFromEvents[I](root, event.SliceToStream(sc.given)); err != nil {
				return zeroValue, err
			}

			if err := fn(root); err != nil {
				return zeroValue, err
			}

			return root, nil
		},
	}
}

// ScenarioWhen is the state of the scenario once the aggregate method
// to test has been provided.
type ScenarioWhen[I ID, T Root[I]] struct {
	fn func() (T, error)
}

// Then expects the Aggregate Root to end at the specified version,
// having recorded the specified events.
func (sc ScenarioWhen[I, T]) Then(v version.Version, events ...event.Envelope) ScenarioThen[I, T] {
	return ScenarioThen[I, T]{fn: sc.fn, version: v, expected: events}
}

// ThenError expects the aggregate method to fail with the specified error.
func (sc ScenarioWhen[I, T]) ThenError(err error) ScenarioThen[I, T] {
	return ScenarioThen[I, T]{fn: sc.fn, err: err, wantErr: true}
}

// ThenFails expects the aggregate method to fail with any error.
func (sc ScenarioWhen[I, T]) ThenFails() ScenarioThen[I, T] {
	return ScenarioThen[I, T]{fn: sc.fn, wantErr: true}
}

// ScenarioThen is the state of the scenario where all parameters have
// been set and it's ready to be executed using a testing.T instance.
type ScenarioThen[I ID, T Root[I]] struct {
	fn       func() (T, error)
	version  version.Version
	expected []event.Envelope
	err      error
	wantErr  bool
}

// AssertOn runs the test scenario using the specified testing.T instance.
func (sc ScenarioThen[I, T]) AssertOn(t *testing.T) {
	t.Helper()

	root, err := sc.fn()

	if sc.wantErr {
		assert.Error(t, err)

		if sc.err != nil {
			assert.ErrorIs(t, err, sc.err)
		}

		return
	}

	if !assert.NoError(t, err) {
		return
	}

	assert.Equal(t, sc.expected, root.FlushRecordedEvents())
	assert.Equal(t, sc.version, root.Version())
}
