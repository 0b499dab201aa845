package command

import (
	"context"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/message"
)

// Command is a Message representing an action being performed by something
// or somebody.
//
// In order to enforce this concept, it is suggested to name Command types
// using "present tense".
type Command message.Message

// Envelope carries both a Command and some metadata attached to it.
type Envelope[T Command] message.Envelope[T]

// ToEnvelope is a convenience function that wraps the provided Command type
// into an Envelope, with no metadata attached to it.
func ToEnvelope[T Command](cmd T) Envelope[T] {
	return Envelope[T]{
		Message:  cmd,
		Metadata: nil,
	}
}

// ToGenericEnvelope maps the Envelope instance into a message.GenericEnvelope one.
func (e Envelope[T]) ToGenericEnvelope() message.GenericEnvelope {
	return message.Envelope[T](e).ToGenericEnvelope()
}

// Handler is the interface that defines a Command Handler,
// a component that receives a specific kind of Command
// and executes the business logic related to that particular Command.
type Handler[T Command] interface {
	Handle(ctx context.Context, cmd Envelope[T]) error
}

// Executor is a Handler reporting the event.Commit produced by the Command,
// so that callers can learn the new version of the Event Stream.
type Executor[T Command] interface {
	Handler[T]
	Execute(ctx context.Context, cmd Envelope[T]) (event.Commit, error)
}

// Execute runs the Command through the Handler, returning the event.Commit
// when the Handler is an Executor, and an empty one otherwise.
func Execute[T Command](ctx context.Context, handler Handler[T], cmd Envelope[T]) (event.Commit, error) {
	if executor, ok := handler.(Executor[T]); ok {
		return executor.Execute(ctx, cmd)
	}

	return event.Commit{}, handler.Handle(ctx, cmd)
}

// HandlerFunc is a functional type that implements the Handler interface.
// Useful for testing and stateless Handlers.
type HandlerFunc[T Command] func(context.Context, Envelope[T]) error

// Handle handles the provided Command through the functional Handler.
func (fn HandlerFunc[T]) Handle(ctx context.Context, cmd Envelope[T]) error {
	return fn(ctx, cmd)
}
