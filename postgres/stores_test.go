package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/cursor"
	"github.com/get-eventually/eventledger/idempotency"
	"github.com/get-eventually/eventledger/postgres"
	"github.com/get-eventually/eventledger/relay"
)

func TestCursorStore(t *testing.T) {
	conn := setup(t)
	ctx := context.Background()
	store := postgres.CursorStore{Conn: conn}
	consumer := "relay-" + uuid.NewString()

	_, err := store.Read(ctx, consumer)
	require.ErrorIs(t, err, cursor.ErrNotFound)

	segment := cursor.Segment{Index: 1, Count: 3}

	require.NoError(t, store.Write(ctx, consumer, cursor.At(10).In(segment)))

	c, err := store.Read(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, cursor.At(10).In(segment), c)

	require.NoError(t, store.Write(ctx, consumer, cursor.At(4).In(segment)))

	c, err = store.Read(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.GlobalSequenceID, "cursors never move backwards")

	require.NoError(t, store.Write(ctx, consumer, cursor.At(12).In(segment)))

	c, err = store.Read(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, int64(12), c.GlobalSequenceID)
}

func TestProcessedEvents(t *testing.T) {
	conn := setup(t)
	ctx := context.Background()
	ledger := postgres.NewProcessedEvents(conn)
	consumer := "balances-" + uuid.NewString()

	processed, err := ledger.HasProcessed(ctx, consumer, "event-1", "acme")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, ledger.MarkProcessed(ctx, consumer, "event-1", "acme"))
	require.NoError(t, ledger.MarkProcessed(ctx, consumer, "event-1", "acme"), "a duplicate mark is a no-op")

	processed, err = ledger.HasProcessed(ctx, consumer, "event-1", "acme")
	require.NoError(t, err)
	assert.True(t, processed)

	processed, err = ledger.HasProcessed(ctx, consumer, "event-1", "globex")
	require.NoError(t, err)
	assert.False(t, processed)

	assert.ErrorIs(t, ledger.MarkProcessed(ctx, consumer, "", "acme"), idempotency.ErrMissingKey)
}

func TestProcessedEventsRunOnce(t *testing.T) {
	conn := setup(t)
	ctx := context.Background()
	ledger := postgres.NewProcessedEvents(conn)

	_, err := conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS test_balances (tenant_id TEXT PRIMARY KEY, balance BIGINT NOT NULL)`)
	require.NoError(t, err)

	tenantID := uuid.NewString()
	key := idempotency.Key{Consumer: "balances", EventID: uuid.NewString(), TenantID: tenantID}

	deposit := func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO test_balances (tenant_id, balance) VALUES ($1, 10)
			ON CONFLICT (tenant_id) DO UPDATE SET balance = test_balances.balance + 10`,
			tenantID)

		return err
	}

	balance := func() int64 {
		var b int64
		require.NoError(t, conn.QueryRow(ctx, `SELECT balance FROM test_balances WHERE tenant_id = $1`, tenantID).Scan(&b))

		return b
	}

	t.Run("failed side effects roll back the claim", func(t *testing.T) {
		errBoom := errors.New("boom")

		applied, err := ledger.RunOnce(ctx, key, func(ctx context.Context, tx pgx.Tx) error {
			if err := deposit(ctx, tx); err != nil {
				return err
			}

			return errBoom
		})
		require.ErrorIs(t, err, errBoom)
		assert.False(t, applied)

		processed, err := ledger.HasProcessed(ctx, key.Consumer, key.EventID, key.TenantID)
		require.NoError(t, err)
		assert.False(t, processed)
	})

	t.Run("concurrent deliveries apply the side effect once", func(t *testing.T) {
		var (
			wg      sync.WaitGroup
			applied atomic.Int64
		)

		for i := 0; i < 8; i++ {
			wg.Add(1)

			go func() {
				defer wg.Done()

				ok, err := ledger.RunOnce(ctx, key, deposit)
				assert.NoError(t, err)

				if ok {
					applied.Add(1)
				}
			}()
		}

		wg.Wait()

		assert.Equal(t, int64(1), applied.Load())
		assert.Equal(t, int64(10), balance())
	})
}

func TestProcessedEventsPrune(t *testing.T) {
	conn := setup(t)
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	consumer := "audit-" + uuid.NewString()

	old := postgres.NewProcessedEvents(conn,
		postgres.WithClock[*postgres.ProcessedEvents](func() time.Time { return past }))
	ledger := postgres.NewProcessedEvents(conn)

	require.NoError(t, old.MarkProcessed(ctx, consumer, "event-1", "acme"))
	require.NoError(t, ledger.MarkProcessed(ctx, consumer, "event-2", "acme"))

	pruned, err := ledger.Prune(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pruned, int64(1))

	processed, err := ledger.HasProcessed(ctx, consumer, "event-1", "acme")
	require.NoError(t, err)
	assert.False(t, processed)

	processed, err = ledger.HasProcessed(ctx, consumer, "event-2", "acme")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestDeadLetterStore(t *testing.T) {
	conn := setup(t)
	ctx := context.Background()
	store := postgres.DeadLetterStore{Conn: conn}
	consumer := "relay-" + uuid.NewString()
	failedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	dl := relay.DeadLetter{
		Consumer:         consumer,
		GlobalSequenceID: 7,
		TenantID:         "acme",
		StreamName:       "account-1",
		SequenceNumber:   2,
		PayloadType:      "AccountMoneyWasDeposited",
		Subject:          "events.AccountMoneyWasDeposited",
		Attempts:         5,
		Reason:           "broker is down",
		FailedAt:         failedAt,
	}

	require.NoError(t, store.Record(ctx, dl))
	require.NoError(t, store.Record(ctx, dl))

	letters, err := store.List(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, []relay.DeadLetter{dl}, letters)

	letters, err = store.List(ctx, "someone-else-"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, letters)
}
