package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/message"
	"github.com/get-eventually/eventledger/tenant"
	"github.com/get-eventually/eventledger/version"
)

// ScenarioInit is the entrypoint of the Command Handler scenario API.
//
// A Command Handler scenario can either set the current evaluation context
// by using Given(), or test a "clean-slate" scenario by using When() directly.
type ScenarioInit[Cmd Command, T Handler[Cmd]] struct {
	info *tenant.Info
}

// Scenario is a scenario type to test the result of Commands
// being handled by a Command Handler.
//
// Command Handlers in Event-sourced systems produce side effects by means
// of Domain Events. This scenario API helps you with testing the Domain Events
// produced by a Command Handler when handling a specific Command.
func Scenario[Cmd Command, T Handler[Cmd]]() ScenarioInit[Cmd, T] {
	return ScenarioInit[Cmd, T]{}
}

// ForTenant runs the Command in the context of the specified tenant.
// Without it, the Command runs as a system operation.
func (sc ScenarioInit[Cmd, T]) ForTenant(info tenant.Info) ScenarioInit[Cmd, T] {
	sc.info = &info
	return sc
}

// Given sets the Command Handler scenario preconditions, as the Domain Events
// committed before the Command is evaluated.
//
// Only the StreamID and the Envelope of the events are used.
func (sc ScenarioInit[Cmd, T]) Given(events ...event.Persisted) ScenarioGiven[Cmd, T] {
	return ScenarioGiven[Cmd, T]{info: sc.info, given: events}
}

// When provides the Command to evaluate.
func (sc ScenarioInit[Cmd, T]) When(cmd Envelope[Cmd]) ScenarioWhen[Cmd, T] {
	return ScenarioGiven[Cmd, T]{info: sc.info}.When(cmd)
}

// ScenarioGiven is the state of the scenario once
// a set of Domain Events have been provided using Given(), to represent
// the state of the system at the time of evaluating a Command.
type ScenarioGiven[Cmd Command, T Handler[Cmd]] struct {
	info  *tenant.Info
	given []event.Persisted
}

// When provides the Command to evaluate.
func (sc ScenarioGiven[Cmd, T]) When(cmd Envelope[Cmd]) ScenarioWhen[Cmd, T] {
	return ScenarioWhen[Cmd, T]{
		ScenarioGiven: sc,
		when:          cmd,
	}
}

// ScenarioWhen is the state of the scenario once the state of the
// system and the Command to evaluate have been provided.
type ScenarioWhen[Cmd Command, T Handler[Cmd]] struct {
	ScenarioGiven[Cmd, T]

	when Envelope[Cmd]
}

// Then sets a positive expectation on the scenario outcome, to produce
// the Domain Events provided in input, in order of recording.
//
// Events are compared by StreamID, SequenceNumber and Message.
func (sc ScenarioWhen[Cmd, T]) Then(events ...event.Persisted) ScenarioThen[Cmd, T] {
	return ScenarioThen[Cmd, T]{ScenarioWhen: sc, then: events}
}

// ThenError sets a negative expectation on the scenario outcome,
// to produce an error value that is similar to the one provided in input.
//
// Error assertion happens using errors.Is().
func (sc ScenarioWhen[Cmd, T]) ThenError(err error) ScenarioThen[Cmd, T] {
	return ScenarioThen[Cmd, T]{ScenarioWhen: sc, thenError: err, wantError: true}
}

// ThenFails sets a negative expectation on the scenario outcome,
// to fail the Command execution with no particular assertion on the error returned.
func (sc ScenarioWhen[Cmd, T]) ThenFails() ScenarioThen[Cmd, T] {
	return ScenarioThen[Cmd, T]{ScenarioWhen: sc, wantError: true}
}

// ScenarioThen is the state of the scenario once the preconditions
// and expectations have been fully specified.
type ScenarioThen[Cmd Command, T Handler[Cmd]] struct {
	ScenarioWhen[Cmd, T]

	then      []event.Persisted
	thenError error
	wantError bool
}

type recorded struct {
	StreamID       event.StreamID
	SequenceNumber int64
	Message        message.Message
}

func project(events []event.Persisted) []recorded {
	result := make([]recorded, 0, len(events))
	for _, evt := range events {
		result = append(result, recorded{
			StreamID:       evt.StreamID,
			SequenceNumber: evt.SequenceNumber,
			Message:        evt.Message,
		})
	}

	return result
}

// AssertOn performs the specified expectations of the scenario, using the Command Handler
// instance produced by the provided factory function.
func (sc ScenarioThen[Cmd, T]) AssertOn( //nolint:gocritic
	t *testing.T,
	handlerFactory func(event.Store) T,
) {
	t.Helper()

	ctx := context.Background()
	store := event.NewInMemoryStore()

	for _, evt := range sc.given {
		_, err := store.Append(ctx, evt.StreamID, version.Any, evt.Envelope)
		if !assert.NoError(t, err) {
			return
		}
	}

	if sc.info != nil {
		ctx = tenant.WithInfo(ctx, *sc.info)
	}

	trackingStore := event.NewTrackingEventStore(store)
	handler := handlerFactory(event.FusedStore{
		Appender:      trackingStore,
		Streamer:      store,
		VersionReader: store,
	})

	err := handler.Handle(ctx, sc.when)

	if !sc.wantError {
		assert.NoError(t, err)
		assert.Equal(t, project(sc.then), project(trackingStore.Recorded()))

		return
	}

	if !assert.Error(t, err) {
		return
	}

	if sc.thenError != nil {
		assert.ErrorIs(t, err, sc.thenError)
	}
}
