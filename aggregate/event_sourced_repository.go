package aggregate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/get-eventually/eventledger/aggregate/snapshot"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/serde"
	"github.com/get-eventually/eventledger/tenant"
	"github.com/get-eventually/eventledger/version"
)

// RehydrateFromEvents rehydrates an Aggregate Root from a read-only Event Stream.
func RehydrateFromEvents[I ID](root Root[I], eventStream event.StreamRead) error {
	for evt := range eventStream {
		if err := root.Apply(evt.Message); err != nil {
			return fmt.Errorf("aggregate.RehydrateFromEvents: failed to apply event %d, %w", evt.SequenceNumber, err)
		}

		root.setVersion(evt.Version())
	}

	return nil
}

// RehydrateFromState rehydrates an aggregate.Root instance
// using a state type, typically coming from a snapshot.
func RehydrateFromState[I ID, Src Root[I], Dst any](
	v version.Version,
	dst Dst,
	deserializer serde.Deserializer[Src, Dst],
) (Src, error) {
	var zeroValue Src

	src, err := deserializer.Deserialize(dst)
	if err != nil {
		return zeroValue, fmt.Errorf("aggregate.RehydrateFromState: failed to deserialize src into dst root, %w", err)
	}

	src.setVersion(v)

	return src, nil
}

// RepositoryOption customizes an EventSourcedRepository.
type RepositoryOption[I ID, T Root[I]] func(*EventSourcedRepository[I, T])

// WithSnapshots enables snapshots: the latest snapshot is loaded before the
// events recorded after it, and a new snapshot is recorded on Save whenever
// the policy says so.
func WithSnapshots[I ID, T Root[I]](
	store snapshot.Store,
	policy snapshot.Policy,
	state serde.Serde[T, []byte],
) RepositoryOption[I, T] {
	return func(repo *EventSourcedRepository[I, T]) {
		repo.snapshots, repo.policy, repo.state = store, policy, state
	}
}

// WithLogger sets the Logger used to report snapshot failures.
func WithLogger[I ID, T Root[I]](l logger.Logger) RepositoryOption[I, T] {
	return func(repo *EventSourcedRepository[I, T]) { repo.logger = l }
}

// EventSourcedRepository provides an aggregate.Repository interface implementation
// that uses an event.Store to store and load the state of the Aggregate Root.
//
// Aggregate Roots are stored in the Event Streams of the tenant found in the
// context; without a tenant context, in the system tenant.
type EventSourcedRepository[I ID, T Root[I]] struct {
	eventStore event.Store
	typ        Type[I, T]

	snapshots snapshot.Store
	policy    snapshot.Policy
	state     serde.Serde[T, []byte]
	logger    logger.Logger
}

// NewEventSourcedRepository returns a new EventSourcedRepository implementation
// to store and load Aggregate Roots, specified by the aggregate.Type,
// using the provided event.Store implementation.
func NewEventSourcedRepository[I ID, T Root[I]](
	eventStore event.Store,
	typ Type[I, T],
	options ...RepositoryOption[I, T],
) EventSourcedRepository[I, T] {
	repo := EventSourcedRepository[I, T]{
		eventStore: eventStore,
		typ:        typ,
		policy:     snapshot.NeverPolicy{},
	}

	for _, opt := range options {
		opt(&repo)
	}

	return repo
}

// StreamID returns the id of the Event Stream of the Aggregate Root, in the tenant of ctx.
func (repo EventSourcedRepository[I, T]) StreamID(ctx context.Context, id I) event.StreamID {
	tenantID := tenant.IDFromContext(ctx)
	if tenantID == "" {
		tenantID = event.SystemTenantID
	}

	return event.StreamID{TenantID: tenantID, Name: repo.typ.StreamName(id)}
}

func (repo EventSourcedRepository[I, T]) fromSnapshot(ctx context.Context, streamID event.StreamID) (T, error) {
	if repo.snapshots == nil {
		return repo.typ.Factory(), nil
	}

	snap, err := repo.snapshots.Get(ctx, streamID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return repo.typ.Factory(), nil
	}

	if err != nil {
		return repo.typ.Factory(), fmt.Errorf("aggregate.EventSourcedRepository: failed to load snapshot, %w", err)
	}

	return RehydrateFromState[I](snap.Version, snap.State, serde.Deserializer[T, []byte](repo.state))
}

// Get returns the Aggregate Root with the specified id.
//
// aggregate.ErrRootNotFound is returned if no Aggregate Root was found with that id.
//
// An error is returned if the underlying Event Store fails, or if an error
// occurs while trying to rehydrate the Aggregate Root state from its Event Stream.
func (repo EventSourcedRepository[I, T]) Get(ctx context.Context, id I) (T, error) {
	var zeroValue T

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	streamID := repo.StreamID(ctx, id)

	root, err := repo.fromSnapshot(ctx, streamID)
	if err != nil {
		return zeroValue, err
	}

	eventStream := make(event.Stream, 1)
	selector := version.Selector{From: root.Version()}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := repo.eventStore.Stream(ctx, eventStream, streamID, selector); err != nil {
			return fmt.Errorf("aggregate.EventSourcedRepository: failed while reading event from stream, %w", err)
		}

		return nil
	})

	if err := RehydrateFromEvents(root, eventStream); err != nil {
		cancel()
		_ = group.Wait()

		return zeroValue, fmt.Errorf("aggregate.EventSourcedRepository: failed to rehydrate aggregate root, %w", err)
	}

	if err := group.Wait(); err != nil {
		return zeroValue, err
	}

	if root.Version() == 0 {
		return zeroValue, ErrRootNotFound
	}

	return root, nil
}

// Save stores the Aggregate Root to the Event Store, by adding the
// new, uncommitted Domain Events recorded through the Root, if any.
//
// An error is returned if the underlying Event Store fails; snapshot
// failures are only logged, as the events are already committed.
func (repo EventSourcedRepository[I, T]) Save(ctx context.Context, root T) error {
	_, err := repo.Commit(ctx, root)
	return err
}

// Commit is Save returning the event.Commit of the recorded Domain Events.
// With nothing recorded, the Commit only carries the current Root version.
func (repo EventSourcedRepository[I, T]) Commit(ctx context.Context, root T) (event.Commit, error) {
	events := root.FlushRecordedEvents()
	if len(events) == 0 {
		return event.Commit{Version: root.Version()}, nil
	}

	streamID := repo.StreamID(ctx, root.AggregateID())
	previousVersion := root.Version() - version.Version(len(events))

	commit, err := repo.eventStore.Append(ctx, streamID, version.CheckExact(previousVersion), events...)
	if err != nil {
		return event.Commit{}, fmt.Errorf("aggregate.EventSourcedRepository: failed to commit recorded events, %w", err)
	}

	if repo.snapshots != nil && repo.policy.ShouldRecord(previousVersion, commit.Version) {
		repo.recordSnapshot(ctx, streamID, root, commit.Version)
	}

	return commit, nil
}

func (repo EventSourcedRepository[I, T]) recordSnapshot(
	ctx context.Context,
	streamID event.StreamID,
	root T,
	v version.Version,
) {
	state, err := repo.state.Serialize(root)
	if err != nil {
		logger.Error(repo.logger, "Failed to serialize aggregate snapshot",
			logger.With("stream", streamID.String()), logger.Err(err))

		return
	}

	if err := repo.snapshots.Record(ctx, streamID, snapshot.Snapshot{Version: v, State: state}); err != nil {
		logger.Error(repo.logger, "Failed to record aggregate snapshot",
			logger.With("stream", streamID.String()), logger.Err(err))
	}
}
