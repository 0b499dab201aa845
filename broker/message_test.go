package broker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/broker"
	"github.com/get-eventually/eventledger/correlation"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/message"
	"github.com/get-eventually/eventledger/tenant"
)

func persisted(tenantID string) event.Persisted {
	return event.Persisted{
		StreamID:         event.StreamID{TenantID: tenantID, Name: "account-1"},
		SequenceNumber:   3,
		GlobalSequenceID: 42,
		RecordedAt:       time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Envelope: event.Envelope{
			Message: &account.MoneyWasDeposited{Amount: 100},
			Metadata: message.Metadata{
				event.MetadataKeyEventID:       "event-42",
				event.MetadataKeyTenantID:      tenantID,
				event.MetadataKeyUserID:        "user-1",
				event.MetadataKeyCorrelationID: "corr-1",
			},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	codec := account.NewRegistry()
	encoder := broker.Encoder{Codec: codec}

	data, err := encoder.Encode(persisted("acme"))
	require.NoError(t, err)

	msg, err := broker.Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "event-42", msg.ID)
	assert.Equal(t, "acme", msg.TenantID)
	assert.Equal(t, "account-1", msg.Stream)
	assert.Equal(t, int64(3), msg.SequenceNumber)
	assert.Equal(t, int64(42), msg.GlobalSequenceID)
	assert.Equal(t, "AccountMoneyWasDeposited", msg.Type)
	assert.Equal(t, "2.0", msg.Revision)
	assert.Equal(t, "events.AccountMoneyWasDeposited", msg.Subject())

	evt, err := msg.Event(codec)
	require.NoError(t, err)

	expected := persisted("acme")
	assert.Equal(t, expected.StreamID, evt.StreamID)
	assert.Equal(t, expected.SequenceNumber, evt.SequenceNumber)
	assert.Equal(t, expected.GlobalSequenceID, evt.GlobalSequenceID)
	assert.True(t, expected.RecordedAt.Equal(evt.RecordedAt))
	assert.Equal(t, expected.Message, evt.Message)
	assert.Equal(t, expected.Metadata, evt.Metadata)
}

func TestDecodeUpcastsOlderRevisions(t *testing.T) {
	data, err := json.Marshal(broker.Message{
		ID:       "event-1",
		TenantID: "acme",
		Stream:   "account-1",
		Type:     "AccountMoneyWasDeposited",
		Revision: "1.0",
		Payload:  []byte(`{"value":250}`),
	})
	require.NoError(t, err)

	msg, err := broker.Decode(data)
	require.NoError(t, err)

	evt, err := msg.Event(account.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, &account.MoneyWasDeposited{Amount: 250}, evt.Message)
}

func TestDecodeRejectsIncompleteMessages(t *testing.T) {
	_, err := broker.Decode([]byte(`{"type":"AccountWasOpened"}`))
	assert.Error(t, err)

	_, err = broker.Decode([]byte(`{"tenantId":"acme"}`))
	assert.Error(t, err)

	_, err = broker.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestMessageContext(t *testing.T) {
	encoder := broker.Encoder{Codec: account.NewRegistry()}

	t.Run("tenant events restore the tenant context", func(t *testing.T) {
		data, err := encoder.Encode(persisted("acme"))
		require.NoError(t, err)

		msg, err := broker.Decode(data)
		require.NoError(t, err)

		ctx := msg.Context(context.Background())

		info, ok := tenant.FromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "acme", info.TenantID)
		assert.Equal(t, "user-1", info.UserID)

		correlationID, ok := correlation.CorrelationID(ctx)
		require.True(t, ok)
		assert.Equal(t, "corr-1", correlationID)

		causationID, ok := correlation.CausationID(ctx)
		require.True(t, ok)
		assert.Equal(t, "event-42", causationID)
	})

	t.Run("system events leave the tenant context unset", func(t *testing.T) {
		data, err := encoder.Encode(persisted(event.SystemTenantID))
		require.NoError(t, err)

		msg, err := broker.Decode(data)
		require.NoError(t, err)

		parent := tenant.WithInfo(context.Background(), tenant.Info{TenantID: "other"})
		ctx := msg.Context(parent)

		_, ok := tenant.FromContext(ctx)
		assert.False(t, ok)
	})
}

func TestInMemoryWaitFor(t *testing.T) {
	b := broker.NewInMemory()

	go func() {
		for i := 0; i < 3; i++ {
			_ = b.Publish(context.Background(), "events.Test", "acme", []byte{byte(i)})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	published, err := b.WaitFor(ctx, 3)
	require.NoError(t, err)
	require.Len(t, published, 3)

	for i, p := range published {
		assert.Equal(t, []byte{byte(i)}, p.Payload)
	}

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()

	assert.ErrorIs(t, b.Publish(canceled, "events.Test", "acme", nil), context.Canceled)
}
