package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/get-eventually/eventledger/aggregate"
	"github.com/get-eventually/eventledger/event"
)

// ErrMissingDecision is returned by an AggregateHandler with neither
// a Create nor a Decide function.
var ErrMissingDecision = errors.New("command: aggregate handler has no decision function")

// AggregateHandler is a Handler that runs a Command against a single
// Aggregate Root: the Root is loaded from the Repository, the Command
// decides on it by recording new Domain Events, and the Root is saved back.
//
// All the events recorded while handling the Command are committed
// atomically, or not at all.
type AggregateHandler[T Command, I aggregate.ID, R aggregate.Root[I]] struct {
	Repository aggregate.Repository[I, R]

	// Target returns the id of the Aggregate Root addressed by the Command.
	Target func(cmd T) I

	// Create creates a new Aggregate Root from the Command.
	//
	// Handlers with only Create never load the Root: saving a Root that
	// already exists fails with a version.ConflictError.
	Create func(ctx context.Context, cmd Envelope[T]) (R, error)

	// Decide applies the Command on the loaded Aggregate Root.
	//
	// If the Root does not exist, Create is used when specified, otherwise
	// aggregate.ErrRootNotFound is returned.
	Decide func(ctx context.Context, root R, cmd Envelope[T]) error

	// Timeout bounds the whole load-decide-save cycle, when positive.
	Timeout time.Duration
}

// Handle implements the Handler interface.
func (h AggregateHandler[T, I, R]) Handle(ctx context.Context, cmd Envelope[T]) error {
	_, err := h.Execute(ctx, cmd)
	return err
}

// Execute implements the Executor interface: the returned event.Commit
// carries the version of the Aggregate Root after the Command.
func (h AggregateHandler[T, I, R]) Execute(ctx context.Context, cmd Envelope[T]) (event.Commit, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	root, err := h.decide(ctx, cmd)
	if err != nil {
		return event.Commit{}, err
	}

	commit, err := aggregate.Commit(ctx, h.Repository, root)
	if err != nil {
		return event.Commit{}, fmt.Errorf("command.AggregateHandler: failed to save aggregate root, %w", err)
	}

	return commit, nil
}

func (h AggregateHandler[T, I, R]) create(ctx context.Context, cmd Envelope[T]) (R, error) {
	root, err := h.Create(ctx, cmd)
	if err != nil {
		return root, fmt.Errorf("command.AggregateHandler: failed to create aggregate root, %w", err)
	}

	return root, nil
}

func (h AggregateHandler[T, I, R]) decide(ctx context.Context, cmd Envelope[T]) (R, error) {
	var zeroValue R

	switch {
	case h.Decide == nil && h.Create == nil:
		return zeroValue, ErrMissingDecision
	case h.Decide == nil:
		return h.create(ctx, cmd)
	}

	root, err := h.Repository.Get(ctx, h.Target(cmd.Message))

	switch {
	case errors.Is(err, aggregate.ErrRootNotFound) && h.Create != nil:
		return h.create(ctx, cmd)
	case err != nil:
		return zeroValue, fmt.Errorf("command.AggregateHandler: failed to load aggregate root, %w", err)
	}

	if err := h.Decide(ctx, root, cmd); err != nil {
		return zeroValue, fmt.Errorf("command.AggregateHandler: command rejected, %w", err)
	}

	return root, nil
}
