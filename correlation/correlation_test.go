package correlation_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/correlation"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/tenant"
	"github.com/get-eventually/eventledger/version"
)

type noteWasTaken struct{ Text string }

func (noteWasTaken) Name() string { return "NoteWasTaken" }

func sequentialGenerator() correlation.Generator {
	i := 0

	return func() string {
		i++
		return "id-" + strconv.Itoa(i)
	}
}

func stream(t *testing.T, store event.Streamer, id event.StreamID) []event.Persisted {
	t.Helper()

	events, err := event.StreamToSlice(context.Background(), func(ctx context.Context, s event.StreamWrite) error {
		return store.Stream(ctx, s, id, version.SelectFromBeginning)
	})
	require.NoError(t, err)

	return events
}

func TestEventStoreWrapperStampsTenantContext(t *testing.T) {
	store := event.NewInMemoryStore()
	wrapper := correlation.EventStoreWrapper{Appender: store, Generator: sequentialGenerator()}

	ctx := tenant.WithInfo(context.Background(), tenant.Info{
		TenantID:      "acme",
		UserID:        "alice",
		CorrelationID: "req-1",
	})

	// The stream tenant defaults to the one of the context.
	_, err := wrapper.Append(ctx, event.StreamID{Name: "notes"}, version.Any,
		event.ToEnvelope(noteWasTaken{Text: "hello"}))
	require.NoError(t, err)

	events := stream(t, store, event.StreamID{TenantID: "acme", Name: "notes"})
	require.Len(t, events, 1)

	md := events[0].Metadata
	assert.Equal(t, "acme", md.Get(correlation.TenantIDKey))
	assert.Equal(t, "alice", md.Get(correlation.UserIDKey))
	assert.Equal(t, "req-1", md.Get(correlation.CorrelationIDKey))
	assert.Equal(t, "id-1", md.Get(correlation.CausationIDKey))
	assert.Equal(t, "id-2", md.Get(correlation.EventIDKey))
	assert.Empty(t, md.Get(correlation.OriginKey))
	assert.Equal(t, "id-2", events[0].ID())
}

func TestEventStoreWrapperRejectsOtherTenantStreams(t *testing.T) {
	wrapper := correlation.EventStoreWrapper{Appender: event.NewInMemoryStore()}
	ctx := tenant.WithInfo(context.Background(), tenant.Info{TenantID: "acme"})

	_, err := wrapper.Append(ctx, event.StreamID{TenantID: "globex", Name: "notes"}, version.Any,
		event.ToEnvelope(noteWasTaken{}))
	assert.ErrorIs(t, err, tenant.ErrTenantContextMismatch)
}

func TestEventStoreWrapperSystemOperations(t *testing.T) {
	store := event.NewInMemoryStore()
	wrapper := correlation.EventStoreWrapper{Appender: store}
	ctx := context.Background()

	_, err := wrapper.Append(ctx, event.StreamID{TenantID: "acme", Name: "notes"}, version.Any,
		event.ToEnvelope(noteWasTaken{}))
	assert.True(t, event.IsValidation(err), "system operations must not write tenant streams")

	_, err = wrapper.Append(ctx, event.StreamID{Name: "maintenance"}, version.Any,
		event.ToEnvelope(noteWasTaken{Text: "vacuum"}))
	require.NoError(t, err)

	events := stream(t, store, event.StreamID{TenantID: event.SystemTenantID, Name: "maintenance"})
	require.Len(t, events, 1)
	assert.Equal(t, event.OriginSystem, events[0].Metadata.Get(correlation.OriginKey))
	assert.Empty(t, events[0].Metadata.Get(correlation.TenantIDKey))

	// System events are invisible to tenant-scoped tracking reads.
	scoped, err := event.StreamToSlice(ctx, func(ctx context.Context, s event.StreamWrite) error {
		return store.StreamAll(ctx, s, event.TrackingSelector{TenantID: "acme"})
	})
	require.NoError(t, err)
	assert.Empty(t, scoped)
}

func TestEventStoreWrapperDoesNotMutateInput(t *testing.T) {
	wrapper := correlation.EventStoreWrapper{Appender: event.NewInMemoryStore()}
	ctx := tenant.WithInfo(context.Background(), tenant.Info{TenantID: "acme"})

	envelope := event.Envelope{Message: noteWasTaken{}, Metadata: map[string]string{"Custom": "value"}}

	_, err := wrapper.Append(ctx, event.StreamID{Name: "notes"}, version.Any, envelope)
	require.NoError(t, err)
	assert.Len(t, envelope.Metadata, 1)
}

func TestProcessorWrapperRestoresContext(t *testing.T) {
	var (
		observed      tenant.Info
		hasTenant     bool
		causationID   string
		correlationID string
	)

	wrapper := correlation.ProcessorWrapper{
		Processor: event.ProcessorFunc(func(ctx context.Context, _ event.Persisted) error {
			observed, hasTenant = tenant.FromContext(ctx)
			causationID, _ = correlation.CausationID(ctx)
			correlationID, _ = correlation.CorrelationID(ctx)

			return nil
		}),
	}

	evt := event.Persisted{
		StreamID: event.StreamID{TenantID: "acme", Name: "notes"},
		Envelope: event.Envelope{
			Message: noteWasTaken{},
			Metadata: map[string]string{
				correlation.TenantIDKey:      "acme",
				correlation.UserIDKey:        "alice",
				correlation.CorrelationIDKey: "req-1",
				correlation.EventIDKey:       "evt-1",
			},
		},
	}

	// The consumer context belongs to a different tenant, which must not leak.
	ctx := tenant.WithInfo(context.Background(), tenant.Info{TenantID: "globex"})
	require.NoError(t, wrapper.Process(ctx, evt))

	assert.True(t, hasTenant)
	assert.Equal(t, tenant.Info{TenantID: "acme", UserID: "alice", CorrelationID: "req-1"}, observed)
	assert.Equal(t, "evt-1", causationID)
	assert.Equal(t, "req-1", correlationID)

	evt.Metadata = map[string]string{correlation.OriginKey: event.OriginSystem}
	require.NoError(t, wrapper.Process(ctx, evt))
	assert.False(t, hasTenant)
}
