package command

import (
	"context"
	"fmt"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/version"
)

// ErrorRecorderOptions configures an ErrorRecorder.
type ErrorRecorderOptions[T Command] struct {
	// Appender is the Event Store instance used for appending domain events.
	Appender event.Appender

	// ShouldCaptureError is a function that should specify
	// whether an error reported from the command.Handler should be captured (or "silenced")
	// by this component and avoid returning it to the command caller.
	//
	// Default behavior is to return all errors from the command.Handler
	// to the caller.
	ShouldCaptureError func(err error) bool

	// EventStreamIDMapper maps to an event.StreamID value based on the command that failed.
	EventStreamIDMapper func(ctx context.Context, cmd Envelope[T]) event.StreamID

	// EventMapper should return the Domain Event type you defined for these commands.
	EventMapper func(err error, cmd Envelope[T]) event.Envelope

	Logger logger.Logger
}

// ErrorRecorder is a command.Handler extension that records command handling
// failures on a Domain Event.
//
// This is useful for always logging command results on the Event Store,
// which would normally not be done in case of command failures,
// and to potentially build Saga Process Managers on top of these errors for
// retries and other domain-specific logic.
type ErrorRecorder[T Command] struct {
	handler Handler[T]
	options ErrorRecorderOptions[T]
}

// NewErrorRecorder returns an ErrorRecorder wrapping the provided Handler.
func NewErrorRecorder[T Command](handler Handler[T], options ErrorRecorderOptions[T]) (ErrorRecorder[T], error) {
	switch {
	case handler == nil:
		return ErrorRecorder[T]{}, fmt.Errorf("command.NewErrorRecorder: handler is nil")
	case options.Appender == nil:
		return ErrorRecorder[T]{}, fmt.Errorf("command.NewErrorRecorder: appender is nil")
	case options.EventStreamIDMapper == nil:
		return ErrorRecorder[T]{}, fmt.Errorf("command.NewErrorRecorder: event stream mapper func is required")
	case options.EventMapper == nil:
		return ErrorRecorder[T]{}, fmt.Errorf("command.NewErrorRecorder: event mapper func is required")
	}

	return ErrorRecorder[T]{
		handler: handler,
		options: options,
	}, nil
}

// Handle delegates command handling to the internal Command Handler and,
// in case of failure, appends the error and command to the Event Store
// using the user-provided EventMapper.
//
// If ShouldCaptureError has been set and returns "true", the error from the command.Handler is silenced
// but an error can still be returned if the append operation on the Event Store fails.
func (er ErrorRecorder[T]) Handle(ctx context.Context, cmd Envelope[T]) error {
	err := er.handler.Handle(ctx, cmd)
	if err == nil {
		return nil
	}

	shouldCaptureError := false
	if checkErr := er.options.ShouldCaptureError; checkErr != nil {
		shouldCaptureError = checkErr(err)
	}

	evt := er.options.EventMapper(err, cmd)
	streamID := er.options.EventStreamIDMapper(ctx, cmd)

	if _, serr := er.options.Appender.Append(ctx, streamID, version.Any, evt); serr != nil {
		logger.Error(er.options.Logger, "Failed to append command error to event store",
			logger.With("command", cmd.Message.Name()),
			logger.With("stream", streamID.String()),
			logger.Err(serr),
		)

		if shouldCaptureError {
			// Append error only returned if silencing command.Handler errors.
			return fmt.Errorf(
				"command.ErrorRecorder: failed to append command error to event store, %w [original: %s]",
				serr, err,
			)
		}
	}

	if !shouldCaptureError {
		return fmt.Errorf("command.ErrorRecorder: command handler failed, %w", err)
	}

	return nil
}
