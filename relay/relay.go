package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/get-eventually/eventledger/cursor"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/subscription"
)

// Option customizes a Relay.
type Option func(*Relay)

// WithDeadLetterStore sets the store DeadLetters are recorded to.
// Defaults to an InMemoryDeadLetters.
func WithDeadLetterStore(store DeadLetterStore) Option {
	return func(r *Relay) { r.deadLetters = store }
}

// WithLogger sets the Relay Logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithClock overrides the time source used for DeadLetters.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// Status is the operator view of a Relay.
type Status struct {
	Name         string
	Segment      cursor.Segment
	Cursor       cursor.Cursor
	Head         int64
	Lag          int64
	Published    int64
	DeadLettered int64
	Running      bool
}

// Relay republishes the events of the ledger to a Publisher, in global order.
//
// A Relay is sequential: it publishes one event at a time, and moves its
// cursor only after the Publisher acknowledged it. Run a Relay per Segment
// to parallelize across streams.
type Relay struct {
	tracker     event.Tracker
	cursors     cursor.Store
	publisher   Publisher
	encoder     Encoder
	deadLetters DeadLetterStore
	options     Options
	logger      logger.Logger
	now         func() time.Time
	throttle    *rate.Limiter

	subscription *subscription.PullCatchUp

	published    atomic.Int64
	deadLettered atomic.Int64
	running      atomic.Bool
}

// New returns a new Relay.
func New(
	tracker event.Tracker,
	cursors cursor.Store,
	publisher Publisher,
	encoder Encoder,
	options Options,
	opts ...Option,
) (*Relay, error) {
	switch {
	case tracker == nil:
		return nil, fmt.Errorf("relay.New: tracker is required")
	case cursors == nil:
		return nil, fmt.Errorf("relay.New: cursor store is required")
	case publisher == nil:
		return nil, fmt.Errorf("relay.New: publisher is required")
	case encoder == nil:
		return nil, fmt.Errorf("relay.New: encoder is required")
	}

	if err := options.Segment.Validate(); err != nil {
		return nil, fmt.Errorf("relay.New: %w", err)
	}

	r := &Relay{
		tracker:     tracker,
		cursors:     cursors,
		publisher:   publisher,
		encoder:     encoder,
		deadLetters: new(InMemoryDeadLetters),
		options:     options.withDefaults(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.options.PublishRate > 0 {
		r.throttle = rate.NewLimiter(rate.Limit(r.options.PublishRate), r.options.PublishBurst)
	}

	r.logger = logger.Named(r.logger,
		logger.With("relay", r.options.ConsumerName()),
	)

	r.subscription = &subscription.PullCatchUp{
		SubscriptionName: r.options.ConsumerName(),
		Tracker:          tracker,
		Cursors:          cursors,
		Segment:          r.options.Segment,
		StartFromLatest:  r.options.StartFromLatest,
		PullEvery:        r.options.PullEvery,
		MaxInterval:      r.options.MaxPullInterval,
		BatchSize:        r.options.BatchSize,
		Logger:           r.logger,
	}

	return r, nil
}

// Run relays events until the context is canceled, returning nil,
// or until an event cannot be relayed under GapPolicyHalt.
//
// Run is meant to be supervised: restarting it resumes from the persisted cursor.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("relay.Relay.Run: relay %s is already running", r.options.ConsumerName())
	}
	defer r.running.Store(false)

	runner := event.ProcessorRunner{
		Processor:    event.ProcessorFunc(r.relay),
		Subscription: r.subscription,
		BufferSize:   1,
		Logger:       r.logger,
	}

	err := runner.Run(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		logger.Info(r.logger, "Relay stopped")
		return nil
	}

	if err != nil {
		logger.Error(r.logger, "Relay halted", logger.Err(err))
		return fmt.Errorf("relay.Relay.Run: %w", err)
	}

	return nil
}

func (r *Relay) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.options.InitialBackoff
	b.MaxInterval = r.options.MaxBackoff
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.options.MaxAttempts-1)), ctx)
}

func (r *Relay) publish(ctx context.Context, subject string, evt event.Persisted, payload []byte) (int, error) {
	attempts := 0

	err := backoff.Retry(func() error {
		attempts++

		err := r.publisher.Publish(ctx, subject, evt.TenantID, payload)
		if err != nil {
			logger.Warn(r.logger, "Failed to publish event",
				logger.With("globalSequenceId", evt.GlobalSequenceID),
				logger.With("subject", subject),
				logger.With("attempt", attempts),
				logger.Err(err),
			)
		}

		return err
	}, r.backOff(ctx))

	return attempts, err
}

// relay publishes a single event, applying the GapPolicy when it cannot.
func (r *Relay) relay(ctx context.Context, evt event.Persisted) error {
	if r.throttle != nil {
		if err := r.throttle.Wait(ctx); err != nil {
			// The next token lands past the context deadline.
			<-ctx.Done()
			return ctx.Err()
		}
	}

	subject := Subject(evt.PayloadType())

	payload, err := r.encoder.Encode(evt)

	attempts := 0
	if err == nil {
		attempts, err = r.publish(ctx, subject, evt, payload)
	}

	if err == nil {
		r.published.Add(1)
		logger.Debug(r.logger, "Event published",
			logger.With("globalSequenceId", evt.GlobalSequenceID),
			logger.With("subject", subject),
		)

		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	publishErr := &PublishError{
		GlobalSequenceID: evt.GlobalSequenceID,
		Subject:          subject,
		Attempts:         attempts,
		Err:              err,
	}

	if r.options.GapPolicy == GapPolicyHalt {
		return publishErr
	}

	if err := r.deadLetters.Record(ctx, DeadLetter{
		Consumer:         r.options.ConsumerName(),
		GlobalSequenceID: evt.GlobalSequenceID,
		TenantID:         evt.TenantID,
		StreamName:       evt.Name,
		SequenceNumber:   evt.SequenceNumber,
		PayloadType:      evt.PayloadType(),
		Subject:          subject,
		Attempts:         attempts,
		Reason:           err.Error(),
		FailedAt:         r.now().UTC(),
	}); err != nil {
		// Without a dead letter the event would be lost silently.
		return fmt.Errorf("relay.Relay: failed to record dead letter, %w (original: %w)", err, publishErr)
	}

	r.deadLettered.Add(1)
	logger.Error(r.logger, "Event dead-lettered",
		logger.With("globalSequenceId", evt.GlobalSequenceID),
		logger.With("subject", subject),
		logger.Err(publishErr),
	)

	return nil
}

// Status returns the operator view of the Relay.
func (r *Relay) Status(ctx context.Context) (Status, error) {
	c, err := cursor.ReadOrHead(ctx, r.cursors, r.options.ConsumerName(), cursor.Head.In(r.options.Segment))
	if err != nil {
		return Status{}, fmt.Errorf("relay.Relay.Status: failed to read cursor, %w", err)
	}

	head, err := r.tracker.LatestGlobalSequenceID(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("relay.Relay.Status: failed to read ledger head, %w", err)
	}

	lag := head - c.GlobalSequenceID
	if lag < 0 {
		lag = 0
	}

	return Status{
		Name:         r.options.ConsumerName(),
		Segment:      r.options.Segment,
		Cursor:       c,
		Head:         head,
		Lag:          lag,
		Published:    r.published.Load(),
		DeadLettered: r.deadLettered.Load(),
		Running:      r.running.Load(),
	}, nil
}
