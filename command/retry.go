package command

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/version"
)

// Default values used by RetryOnConflict.
const (
	DefaultMaxConflictRetries   = 3
	DefaultConflictRetryBackoff = 10 * time.Millisecond
)

// RetryOnConflict is a Handler extension re-running the wrapped Handler
// when it fails with a version.ConflictError, i.e. when a concurrent writer
// committed to the same Event Stream first.
//
// Since every attempt reloads the Aggregate Root, the Command is evaluated
// against the latest state. Any other error is returned immediately.
type RetryOnConflict[T Command] struct {
	Handler Handler[T]

	// MaxRetries defaults to DefaultMaxConflictRetries when zero.
	MaxRetries uint64

	// InitialInterval defaults to DefaultConflictRetryBackoff when not positive.
	InitialInterval time.Duration

	Logger logger.Logger
}

func (r RetryOnConflict[T]) backOff(ctx context.Context) backoff.BackOff {
	maxRetries := r.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxConflictRetries
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultConflictRetryBackoff
	b.MaxElapsedTime = 0

	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}

	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// Handle implements the Handler interface.
func (r RetryOnConflict[T]) Handle(ctx context.Context, cmd Envelope[T]) error {
	_, err := r.Execute(ctx, cmd)
	return err
}

// Execute implements the Executor interface, returning the event.Commit
// of the successful attempt.
func (r RetryOnConflict[T]) Execute(ctx context.Context, cmd Envelope[T]) (event.Commit, error) {
	var (
		commit  event.Commit
		attempt int
	)

	err := backoff.Retry(func() error {
		attempt++

		var err error

		commit, err = Execute(ctx, r.Handler, cmd)
		if err == nil || !version.IsConflict(err) {
			return backoff.Permanent(err)
		}

		logger.Debug(r.Logger, "Command conflicted with a concurrent commit, retrying",
			logger.With("command", cmd.Message.Name()),
			logger.With("attempt", attempt),
		)

		return err
	}, r.backOff(ctx))
	if err != nil {
		return event.Commit{}, fmt.Errorf("command.RetryOnConflict: failed after %d attempts, %w", attempt, err)
	}

	return commit, nil
}
