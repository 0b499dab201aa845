package account_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/internal/account"
)

func TestRegistryUpcastsOldDeposits(t *testing.T) {
	registry := account.NewRegistry()

	msg, err := registry.Decode("AccountMoneyWasDeposited", "1.0", []byte(`{"value":42}`))
	require.NoError(t, err)
	assert.Equal(t, &account.MoneyWasDeposited{Amount: 42}, msg)

	msg, err = registry.Decode("AccountMoneyWasDeposited", "2.0", []byte(`{"amount":7}`))
	require.NoError(t, err)
	assert.Equal(t, &account.MoneyWasDeposited{Amount: 7}, msg)
}

func TestStateSerde(t *testing.T) {
	acc, err := account.Open(uuid.New(), "John Doe", account.OpenedAt)
	require.NoError(t, err)
	require.NoError(t, acc.Deposit(10))
	acc.FlushRecordedEvents()

	state, err := account.StateSerde.Serialize(acc)
	require.NoError(t, err)

	got, err := account.StateSerde.Deserialize(state)
	require.NoError(t, err)
	assert.Equal(t, acc.AggregateID(), got.AggregateID())
	assert.Equal(t, acc.Owner(), got.Owner())
	assert.Equal(t, acc.Balance(), got.Balance())
}
