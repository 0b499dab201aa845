package aggregate_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/aggregate"
	"github.com/get-eventually/eventledger/aggregate/snapshot"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/version"
)

func TestEventSourcedRepository(t *testing.T) {
	repository := aggregate.NewEventSourcedRepository(event.NewInMemoryStore(), account.Type)
	account.AggregateRepositorySuite(repository)(t)
}

func TestEventSourcedRepositoryWithSnapshots(t *testing.T) {
	eventStore := event.NewInMemoryStore()
	snapshots := snapshot.NewInMemoryStore()
	repository := aggregate.NewEventSourcedRepository(eventStore, account.Type,
		aggregate.WithSnapshots[uuid.UUID, *account.Account](
			snapshots, snapshot.EveryVersionIncrementPolicy(3), account.StateSerde,
		),
		aggregate.WithLogger[uuid.UUID, *account.Account](logger.NewTest(t)),
	)

	t.Run("suite", account.AggregateRepositorySuite(repository))

	t.Run("snapshots are recorded by policy and used on load", func(t *testing.T) {
		ctx := account.NewTenantContext()
		id := uuid.New()

		acc, err := account.Open(id, "John Doe", account.OpenedAt)
		require.NoError(t, err)
		require.NoError(t, repository.Save(ctx, acc))

		streamID := repository.StreamID(ctx, id)

		_, err = snapshots.Get(ctx, streamID)
		require.ErrorIs(t, err, snapshot.ErrNotFound)

		require.NoError(t, acc.Deposit(10))
		require.NoError(t, acc.Deposit(20))
		require.NoError(t, repository.Save(ctx, acc))

		snap, err := snapshots.Get(ctx, streamID)
		require.NoError(t, err)
		assert.Equal(t, version.Version(3), snap.Version)

		// Events after the snapshot are still folded on load.
		require.NoError(t, acc.Withdraw(5))
		require.NoError(t, repository.Save(ctx, acc))

		got, err := repository.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, version.Version(4), got.Version())
		assert.Equal(t, int64(25), got.Balance())
		assert.Equal(t, acc, got)
	})
}

type saverOnly struct {
	aggregate.Repository[uuid.UUID, *account.Account]
}

func TestCommit(t *testing.T) {
	repository := aggregate.NewEventSourcedRepository(event.NewInMemoryStore(), account.Type)
	ctx := account.NewTenantContext()

	acc, err := account.Open(uuid.New(), "John Doe", account.OpenedAt)
	require.NoError(t, err)
	require.NoError(t, acc.Deposit(10))

	commit, err := aggregate.Commit[uuid.UUID, *account.Account](ctx, repository, acc)
	require.NoError(t, err)
	assert.Equal(t, version.Version(2), commit.Version)
	assert.Len(t, commit.GlobalSequenceIDs, 2)

	// Nothing recorded, nothing appended.
	commit, err = repository.Commit(ctx, acc)
	require.NoError(t, err)
	assert.Equal(t, version.Version(2), commit.Version)
	assert.Empty(t, commit.GlobalSequenceIDs)

	require.NoError(t, acc.Withdraw(5))

	commit, err = aggregate.Commit[uuid.UUID, *account.Account](ctx, saverOnly{repository}, acc)
	require.NoError(t, err)
	assert.Equal(t, version.Version(3), commit.Version)
}

func TestEventSourcedRepositoryStreamID(t *testing.T) {
	repository := aggregate.NewEventSourcedRepository(event.NewInMemoryStore(), account.Type)
	id := uuid.New()

	ctx := account.NewTenantContext()
	streamID := repository.StreamID(ctx, id)
	assert.NotEqual(t, event.SystemTenantID, streamID.TenantID)
	assert.Equal(t, "Account-"+id.String(), streamID.Name)

	systemID := repository.StreamID(context.Background(), id)
	assert.True(t, systemID.IsSystem())
}
