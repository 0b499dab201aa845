package event_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/version"
)

func TestInMemoryStore(t *testing.T) {
	account.EventStoreSuite(event.NewInMemoryStore())(t)
}

func TestInMemoryStoreCanceledAppendCommitsNothing(t *testing.T) {
	store := event.NewInMemoryStore()
	id := event.StreamID{TenantID: "acme", Name: "Account-1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Append(ctx, id, version.Any, event.ToEnvelope(&account.MoneyWasDeposited{Amount: 1}))
	require.ErrorIs(t, err, context.Canceled)

	current, exists, err := store.CurrentVersion(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, version.Version(0), current)

	latest, err := store.LatestGlobalSequenceID(context.Background())
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestInMemoryStoreDoesNotAliasMetadata(t *testing.T) {
	store := event.NewInMemoryStore()
	id := event.StreamID{TenantID: "acme", Name: "Account-1"}
	evt := event.Envelope{
		Message:  &account.MoneyWasDeposited{Amount: 1},
		Metadata: map[string]string{"Correlation-Id": "c-1"},
	}

	_, err := store.Append(context.Background(), id, version.Any, evt)
	require.NoError(t, err)

	evt.Metadata["Correlation-Id"] = "changed"

	events, err := account.ReadStream(context.Background(), store, id, version.SelectFromBeginning)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "c-1", events[0].Metadata.Get("Correlation-Id"))
}

func TestTrackingEventStore(t *testing.T) {
	store := event.NewTrackingEventStore(event.NewInMemoryStore())
	id := event.StreamID{TenantID: "acme", Name: "Account-1"}

	_, err := store.Append(context.Background(), id, version.Any,
		event.ToEnvelopes(&account.MoneyWasDeposited{Amount: 1}, &account.MoneyWasDeposited{Amount: 2})...)
	require.NoError(t, err)

	_, err = store.Append(context.Background(), id, version.CheckExact(0),
		event.ToEnvelope(&account.MoneyWasDeposited{Amount: 3}))
	require.True(t, version.IsConflict(err))

	recorded := store.Recorded()
	require.Len(t, recorded, 2)
	assert.Equal(t, int64(0), recorded[0].SequenceNumber)
	assert.Equal(t, int64(1), recorded[0].GlobalSequenceID)
	assert.Equal(t, int64(1), recorded[1].SequenceNumber)
	assert.Equal(t, int64(2), recorded[1].GlobalSequenceID)
}

func TestTrackingSelector(t *testing.T) {
	evt := event.Persisted{
		StreamID:         event.StreamID{TenantID: "acme", Name: "Account-1"},
		GlobalSequenceID: 10,
	}

	assert.True(t, event.TrackingSelector{}.Matches(evt))
	assert.True(t, event.TrackingSelector{After: 9, TenantID: "acme"}.Matches(evt))
	assert.False(t, event.TrackingSelector{After: 10}.Matches(evt))
	assert.False(t, event.TrackingSelector{TenantID: "globex"}.Matches(evt))

	assert.Equal(t, event.DefaultTrackingLimit, event.TrackingSelector{}.BatchSize())
	assert.Equal(t, 5, event.TrackingSelector{Limit: 5}.BatchSize())
}

func TestPersisted(t *testing.T) {
	evt := event.Persisted{
		SequenceNumber:   2,
		GlobalSequenceID: 42,
		Envelope:         event.ToEnvelope(&account.MoneyWasDeposited{Amount: 1}),
	}

	assert.Equal(t, version.Version(3), evt.Version())
	assert.Equal(t, "AccountMoneyWasDeposited", evt.PayloadType())
	assert.Equal(t, "2.0", evt.PayloadRevision())
	assert.Equal(t, "42", evt.ID())

	evt.Metadata = evt.Metadata.With(event.MetadataKeyEventID, "evt-1")
	assert.Equal(t, "evt-1", evt.ID())
}
