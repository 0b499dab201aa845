package event

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/get-eventually/eventledger/logger"
)

// DefaultRunnerBufferSize is the default size for the buffered channels
// opened by a ProcessorRunner instance, if not specified.
const DefaultRunnerBufferSize = 32

// Processor represents a component that can process persisted Domain Events.
type Processor interface {
	Process(ctx context.Context, event Persisted) error
}

// ProcessorFunc is a functional implementation of the Processor interface.
type ProcessorFunc func(ctx context.Context, event Persisted) error

// Process implements the event.Processor interface.
func (pf ProcessorFunc) Process(ctx context.Context, event Persisted) error {
	return pf(ctx, event)
}

// Subscription is used to open an Event Stream from a remote source.
//
// Usually, these are stateful components, and their state can be updated using
// the Checkpoint method.
type Subscription interface {
	Name() string
	Start(ctx context.Context, eventStream StreamWrite) error
	Checkpoint(ctx context.Context, event Persisted) error
}

// ProcessorRunner is an infrastructural component that orchestrates the
// processing of a Domain Event using the provided Event Processor and Subscription,
// to subscribe to incoming events from the Event Store.
type ProcessorRunner struct {
	Processor
	Subscription

	BufferSize int
	Logger     logger.Logger
}

// Run starts listening to Events from the provided Subscription
// and passing them to the Processor instance for event processing.
//
// Run is a blocking call, that will exit when either the Processor returns an error,
// or the Subscription stops. Events are checkpointed only after they have been processed.
//
// To stop the Runner, cancel the provided context.
// If the error returned upon exit is context.Canceled, that usually represent
// a case of normal operation, so it could be treated as a non-error.
func (r ProcessorRunner) Run(ctx context.Context) error {
	if r.BufferSize == 0 {
		r.BufferSize = DefaultRunnerBufferSize
	}

	log := logger.Named(r.Logger, logger.With("subscription", r.Subscription.Name()))
	eventStream := make(chan Persisted, r.BufferSize)
	toCheckpoint := make(chan Persisted, r.BufferSize)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info(log, "ProcessorRunner started subscription")

		if err := r.Subscription.Start(ctx, eventStream); err != nil {
			return fmt.Errorf("event.ProcessorRunner: subscription exited with error, %w", err)
		}

		return nil
	})

	group.Go(func() error {
		defer close(toCheckpoint)

		for event := range eventStream {
			if err := r.Processor.Process(ctx, event); err != nil {
				return fmt.Errorf("event.ProcessorRunner: failed to process event, %w", err)
			}

			select {
			case toCheckpoint <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return nil
	})

	group.Go(func() error {
		for event := range toCheckpoint {
			logger.Debug(log, "Checkpointing processed event",
				logger.With("stream", event.StreamID.String()),
				logger.With("globalSequenceId", event.GlobalSequenceID),
			)

			if err := r.Subscription.Checkpoint(ctx, event); err != nil {
				return fmt.Errorf("event.ProcessorRunner: failed to checkpoint processed event, %w", err)
			}
		}

		return nil
	})

	return group.Wait()
}
