package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/get-eventually/eventledger/cursor"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
)

// Default values used by a PullCatchUp subscription.
const (
	DefaultPullCatchUpBufferSize = 48
	DefaultPullInterval          = 100 * time.Millisecond
	DefaultMaxPullInterval       = 1 * time.Second
)

var _ event.Subscription = new(PullCatchUp)

// PullCatchUp is a catch-up Subscription "pulling" batches of new Events
// from a Tracker, in global order.
//
// When the Subscription is bound to a Segment, events of streams owned by
// other segments are skipped, but still move the Subscription forward.
type PullCatchUp struct {
	SubscriptionName string
	Tracker          event.Tracker
	Cursors          cursor.Store

	// Segment restricts the Subscription to the streams it owns.
	// The zero value owns every stream.
	Segment cursor.Segment

	// TenantID restricts the Subscription to a single tenant.
	// Empty follows every tenant, system events included.
	TenantID string

	// StartFromLatest starts a Subscription with no checkpoint from the
	// latest committed event, instead of the head of the ledger.
	StartFromLatest bool

	// PullEvery is the minimum interval between each streaming call to the Event Store.
	//
	// Defaults to DefaultPullInterval if unspecified or negative value
	// has been provided.
	PullEvery time.Duration

	// MaxInterval is the maximum interval between each streaming call to the Event Store.
	// Use this value to ensure a specific eventual consistency window.
	//
	// Defaults to DefaultMaxPullInterval if unspecified or negative value
	// has been provided.
	MaxInterval time.Duration

	// BatchSize is the number of events requested on each pull.
	// Defaults to event.DefaultTrackingLimit.
	BatchSize int

	// BufferSize is the size of buffered channels used as EventStreams
	// by the Subscription when receiving Events from the Event Store.
	//
	// Defaults to DefaultPullCatchUpBufferSize if unspecified or a negative
	// value has been provided.
	BufferSize int

	Logger logger.Logger

	mx       sync.RWMutex
	position cursor.Cursor
}

// Name is the name of the subscription.
func (s *PullCatchUp) Name() string { return s.SubscriptionName }

// Position returns the position of the last event pulled by the Subscription,
// which might be ahead of its last checkpoint.
func (s *PullCatchUp) Position() cursor.Cursor {
	s.mx.RLock()
	defer s.mx.RUnlock()

	return s.position
}

func (s *PullCatchUp) moveTo(c cursor.Cursor) {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.position = s.position.Advance(c.GlobalSequenceID)
	s.position.Segment = s.Segment
}

func (s *PullCatchUp) start(ctx context.Context) (cursor.Cursor, error) {
	head := cursor.Head

	if s.StartFromLatest {
		latest, err := s.Tracker.LatestGlobalSequenceID(ctx)
		if err != nil {
			return head, fmt.Errorf("subscription.PullCatchUp: failed to read latest global sequence id, %w", err)
		}

		head = cursor.At(latest)
	}

	start, err := cursor.ReadOrHead(ctx, s.Cursors, s.Name(), head.In(s.Segment))
	if err != nil {
		return start, fmt.Errorf("subscription.PullCatchUp: failed to read checkpoint, %w", err)
	}

	if start.Segment != s.Segment {
		return start, fmt.Errorf("subscription.PullCatchUp: checkpoint %s was taken with a different segment than %s",
			start, s.Segment)
	}

	return start, nil
}

// Start starts sending messages on the provided EventStream channel
// by calling the Event Store from where it last left off.
func (s *PullCatchUp) Start(ctx context.Context, stream event.StreamWrite) error {
	defer close(stream)

	if err := s.Segment.Validate(); err != nil {
		return fmt.Errorf("subscription.PullCatchUp: %w", err)
	}

	start, err := s.start(ctx)
	if err != nil {
		return err
	}

	s.moveTo(start)
	logger.Info(s.Logger, "Subscription started", logger.With("subscription", s.Name()), logger.With("cursor", start.String()))

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.pullEvery()
	b.MaxInterval = s.maxInterval()
	b.MaxElapsedTime = 0 // Don't stop the backoff!

	next := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-time.After(next):
			last := s.Position().GlobalSequenceID

			pulled, err := s.catchUp(ctx, stream, last)
			if err != nil {
				return fmt.Errorf("subscription.PullCatchUp: failed while streaming, %w", err)
			}

			// A full batch means the Subscription is behind: pull again right away.
			if pulled >= s.batchSize() {
				b.Reset()
				next = 0

				continue
			}

			if pulled > 0 {
				b.Reset()
			}

			next = b.NextBackOff()
		}
	}
}

func (s *PullCatchUp) catchUp(ctx context.Context, stream event.StreamWrite, after int64) (int, error) {
	es := make(chan event.Persisted, s.bufferSize())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.Tracker.StreamAll(ctx, es, event.TrackingSelector{
			After:    after,
			TenantID: s.TenantID,
			Limit:    s.batchSize(),
		})
	})

	pulled := 0

	for evt := range es {
		pulled++

		if s.Segment.Owns(evt.TenantID, evt.Name) {
			select {
			case stream <- evt:
			case <-ctx.Done():
				// Drain the producer, then report the cancellation.
				for range es { //nolint:revive // Draining.
				}

				return pulled, group.Wait()
			}
		}

		s.moveTo(cursor.At(evt.GlobalSequenceID))
	}

	return pulled, group.Wait()
}

func (s *PullCatchUp) pullEvery() time.Duration {
	if s.PullEvery <= 0 {
		return DefaultPullInterval
	}

	return s.PullEvery
}

func (s *PullCatchUp) maxInterval() time.Duration {
	if s.MaxInterval <= 0 {
		return DefaultMaxPullInterval
	}

	return s.MaxInterval
}

func (s *PullCatchUp) batchSize() int {
	return event.TrackingSelector{Limit: s.BatchSize}.BatchSize()
}

func (s *PullCatchUp) bufferSize() int {
	if s.BufferSize <= 0 {
		return DefaultPullCatchUpBufferSize
	}

	return s.BufferSize
}

// Checkpoint saves the Cursor of the processed Event in the Cursor Store.
func (s *PullCatchUp) Checkpoint(ctx context.Context, evt event.Persisted) error {
	c := cursor.At(evt.GlobalSequenceID).In(s.Segment)

	if err := s.Cursors.Write(ctx, s.Name(), c); err != nil {
		return fmt.Errorf("subscription.PullCatchUp: failed to checkpoint subscription, %w", err)
	}

	return nil
}
