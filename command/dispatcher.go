package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/get-eventually/eventledger/message"
)

// ErrHandlerNotFound is returned by a Dispatcher when no Handler was
// registered for the Command being dispatched.
var ErrHandlerNotFound = errors.New("command: no handler registered for command")

// Dispatcher represents a component that routes Domain Commands into
// their appropriate Command Handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd message.GenericEnvelope) error
}

var _ Dispatcher = new(InMemoryDispatcher)

type dispatchFunc func(ctx context.Context, cmd message.GenericEnvelope) error

// InMemoryDispatcher is a synchronous Dispatcher routing Commands by name
// to the Handlers registered through Register.
//
// Use NewInMemoryDispatcher to create a new InMemoryDispatcher instance.
type InMemoryDispatcher struct {
	mx       sync.RWMutex
	handlers map[string]dispatchFunc
}

// NewInMemoryDispatcher returns a new instance of InMemoryDispatcher.
func NewInMemoryDispatcher() *InMemoryDispatcher {
	return &InMemoryDispatcher{handlers: make(map[string]dispatchFunc)}
}

// Register adds the Handler into the InMemoryDispatcher routing table,
// under the name of the Command type T.
//
// The name is taken from the zero value of T, so T must be able to
// return its name from a zero value.
//
// Registering a second Handler for the same Command replaces the first one.
func Register[T Command](d *InMemoryDispatcher, handler Handler[T]) {
	var zeroValue T

	name := zeroValue.Name()

	d.mx.Lock()
	defer d.mx.Unlock()

	d.handlers[name] = func(ctx context.Context, cmd message.GenericEnvelope) error {
		msg, ok := cmd.Message.(T)
		if !ok {
			return fmt.Errorf("command.InMemoryDispatcher: unexpected type %T for command %s", cmd.Message, name)
		}

		return handler.Handle(ctx, Envelope[T]{Message: msg, Metadata: cmd.Metadata})
	}
}

// Dispatch routes the Command to its Handler and waits for the Handler
// to return.
//
// ErrHandlerNotFound is returned if no Handler has been registered
// for the Command submitted.
func (d *InMemoryDispatcher) Dispatch(ctx context.Context, cmd message.GenericEnvelope) error {
	if cmd.Message == nil {
		return fmt.Errorf("command.InMemoryDispatcher: command is missing, %w", ErrHandlerNotFound)
	}

	d.mx.RLock()
	handle, ok := d.handlers[cmd.Message.Name()]
	d.mx.RUnlock()

	if !ok {
		return fmt.Errorf("command.InMemoryDispatcher: %s, %w", cmd.Message.Name(), ErrHandlerNotFound)
	}

	if err := handle(ctx, cmd); err != nil {
		return fmt.Errorf("command.InMemoryDispatcher: failed to execute command, %w", err)
	}

	return nil
}
