package account

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/aggregate"
	"github.com/get-eventually/eventledger/tenant"
	"github.com/get-eventually/eventledger/version"
)

// OpenedAt is the opening time used by the testing suites.
var OpenedAt = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// NewTenantContext returns a context carrying a fresh, random tenant.
func NewTenantContext() context.Context {
	return tenant.WithInfo(context.Background(), tenant.Info{
		TenantID:      "tenant-" + uuid.NewString(),
		UserID:        "user-" + uuid.NewString(),
		CorrelationID: uuid.NewString(),
	})
}

// AggregateRepositorySuite returns an executable testing suite running on the
// aggregate.Repository value provided in input.
func AggregateRepositorySuite(repository aggregate.Repository[uuid.UUID, *Account]) func(t *testing.T) { //nolint:funlen // It's a test suite.
	return func(t *testing.T) {
		t.Run("it can load and save aggregates", func(t *testing.T) {
			ctx := NewTenantContext()
			id := uuid.New()

			_, err := repository.Get(ctx, id)
			require.ErrorIs(t, err, aggregate.ErrRootNotFound)

			acc, err := Open(id, "John Doe", OpenedAt)
			require.NoError(t, err)
			require.NoError(t, acc.Deposit(100))
			require.NoError(t, acc.Withdraw(30))
			require.NoError(t, repository.Save(ctx, acc))

			got, err := repository.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, acc, got)
			assert.Equal(t, int64(70), got.Balance())
			assert.Equal(t, version.Version(3), got.Version())
		})

		t.Run("replaying the same stream always folds into the same state", func(t *testing.T) {
			ctx := NewTenantContext()
			id := uuid.New()

			acc, err := Open(id, "Jane Doe", OpenedAt)
			require.NoError(t, err)

			for i := int64(1); i <= 5; i++ {
				require.NoError(t, acc.Deposit(i*10))
				require.NoError(t, repository.Save(ctx, acc))
			}

			require.NoError(t, acc.Close("moving abroad"))
			require.NoError(t, repository.Save(ctx, acc))

			first, err := repository.Get(ctx, id)
			require.NoError(t, err)

			second, err := repository.Get(ctx, id)
			require.NoError(t, err)

			assert.Equal(t, first, second)
			assert.Equal(t, acc, first)
			assert.True(t, first.IsClosed())
			assert.Equal(t, int64(150), first.Balance())
		})

		t.Run("aggregates of one tenant are invisible to other tenants", func(t *testing.T) {
			ctx, otherCtx := NewTenantContext(), NewTenantContext()
			id := uuid.New()

			acc, err := Open(id, "John Doe", OpenedAt)
			require.NoError(t, err)
			require.NoError(t, repository.Save(ctx, acc))

			_, err = repository.Get(otherCtx, id)
			assert.ErrorIs(t, err, aggregate.ErrRootNotFound)

			// The same aggregate id can be reused by another tenant.
			other, err := Open(id, "Someone Else", OpenedAt)
			require.NoError(t, err)
			require.NoError(t, repository.Save(otherCtx, other))

			got, err := repository.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "John Doe", got.Owner())
		})

		t.Run("optimistic locking of aggregates is also working fine", func(t *testing.T) {
			ctx := NewTenantContext()
			id := uuid.New()

			acc, err := Open(id, "John Doe", OpenedAt)
			require.NoError(t, err)
			require.NoError(t, acc.Deposit(10))
			require.NoError(t, repository.Save(ctx, acc))

			// Try to open the same Account again, but stop at Open.
			outdated, err := Open(id, "John Doe", OpenedAt)
			require.NoError(t, err)

			err = repository.Save(ctx, outdated)

			var conflict version.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, version.Version(0), conflict.Expected)
			assert.Equal(t, version.Version(2), conflict.Actual)
		})
	}
}
