package gormledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/idempotency"
	"github.com/get-eventually/eventledger/idempotency/gormledger"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/internal/pgtest"
	"github.com/get-eventually/eventledger/message"
)

type balance struct {
	TenantID string `gorm:"primaryKey"`
	Amount   int64
}

func (balance) TableName() string { return "gormledger_test_balances" }

func setup(t *testing.T) *gormledger.Ledger {
	t.Helper()

	ctx := context.Background()

	ledger, err := gormledger.Open(ctx, pgtest.Database(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = ledger.Close() })

	require.NoError(t, ledger.Migrate(ctx))

	return ledger
}

func TestLedger(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()
	consumer := "balances-" + uuid.NewString()

	processed, err := ledger.HasProcessed(ctx, consumer, "event-1", "acme")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, ledger.MarkProcessed(ctx, consumer, "event-1", "acme"))
	require.NoError(t, ledger.MarkProcessed(ctx, consumer, "event-1", "acme"))

	processed, err = ledger.HasProcessed(ctx, consumer, "event-1", "acme")
	require.NoError(t, err)
	assert.True(t, processed)

	assert.ErrorIs(t, ledger.MarkProcessed(ctx, consumer, "", "acme"), idempotency.ErrMissingKey)
}

func TestLedgerWithProcessor(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	var applied int

	processor := idempotency.Processor{
		Consumer: "audit-" + uuid.NewString(),
		Ledger:   ledger,
		Processor: event.ProcessorFunc(func(context.Context, event.Persisted) error {
			applied++
			return nil
		}),
	}

	evt := event.Persisted{
		StreamID: event.StreamID{TenantID: "acme", Name: "account-1"},
		Envelope: event.Envelope{
			Message:  &account.MoneyWasDeposited{Amount: 1},
			Metadata: message.Metadata{event.MetadataKeyEventID: uuid.NewString()},
		},
	}

	require.NoError(t, processor.Process(ctx, evt))
	require.NoError(t, processor.Process(ctx, evt))
	assert.Equal(t, 1, applied)
}

func TestLedgerRunOnce(t *testing.T) {
	ledger := setup(t)
	ctx := context.Background()

	// The projection table lives next to the ledger.
	require.NoError(t, ledger.DB().WithContext(ctx).AutoMigrate(&balance{}))

	tenantID := uuid.NewString()
	key := idempotency.Key{Consumer: "balances", EventID: uuid.NewString(), TenantID: tenantID}

	deposit := func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			DoUpdates: clause.Assignments(map[string]any{"amount": gorm.Expr("gormledger_test_balances.amount + 10")}),
		}).Create(&balance{TenantID: tenantID, Amount: 10}).Error
	}

	errBoom := errors.New("boom")

	applied, err := ledger.RunOnce(ctx, key, func(tx *gorm.DB) error {
		require.NoError(t, deposit(tx))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.False(t, applied)

	var (
		wg    sync.WaitGroup
		count atomic.Int64
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := ledger.RunOnce(ctx, key, deposit)
			assert.NoError(t, err)

			if ok {
				count.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int64(1), count.Load())

	var b balance

	require.NoError(t, ledger.DB().WithContext(ctx).First(&b, "tenant_id = ?", tenantID).Error)
	assert.Equal(t, int64(10), b.Amount)
}
