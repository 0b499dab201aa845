package account

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/aggregate"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/message"
	"github.com/get-eventually/eventledger/tenant"
	"github.com/get-eventually/eventledger/version"
)

// ReadAll follows the whole ledger from the selector, batch after batch,
// until the tracker returns an empty batch.
func ReadAll(ctx context.Context, tracker event.Tracker, selector event.TrackingSelector) ([]event.Persisted, error) {
	var all []event.Persisted

	for {
		batch, err := event.StreamToSlice(ctx, func(ctx context.Context, stream event.StreamWrite) error {
			return tracker.StreamAll(ctx, stream, selector)
		})
		if err != nil {
			return nil, err
		}

		if len(batch) == 0 {
			return all, nil
		}

		all = append(all, batch...)
		selector.After = batch[len(batch)-1].GlobalSequenceID
	}
}

// ReadStream reads the whole Event Stream from the selector.
func ReadStream(
	ctx context.Context,
	streamer event.Streamer,
	id event.StreamID,
	selector version.Selector,
) ([]event.Persisted, error) {
	return event.StreamToSlice(ctx, func(ctx context.Context, stream event.StreamWrite) error {
		return streamer.Stream(ctx, stream, id, selector)
	})
}

func messagesOf(events []event.Persisted) []message.Message {
	msgs := make([]message.Message, 0, len(events))
	for _, evt := range events {
		msgs = append(msgs, evt.Message)
	}

	return msgs
}

func deposits(amounts ...int64) []event.Envelope {
	envelopes := make([]event.Envelope, 0, len(amounts))
	for _, amount := range amounts {
		envelopes = append(envelopes, event.ToEnvelope(&MoneyWasDeposited{Amount: amount}))
	}

	return envelopes
}

// EventStoreSuite returns an executable testing suite running on the
// event.TrackingStore value provided in input.
//
// The store must be able to persist the Account domain events, e.g. by
// using the serde.Registry returned by NewRegistry.
func EventStoreSuite(eventStore event.TrackingStore) func(t *testing.T) { //nolint:funlen,gocognit // It's a test suite.
	return func(t *testing.T) {
		// Testing the Event-sourced repository implementation, which indirectly
		// tests the Event Store instance.
		t.Run("aggregate repository", AggregateRepositorySuite(
			aggregate.NewEventSourcedRepository(eventStore, Type),
		))

		t.Run("append validates its input", func(t *testing.T) {
			ctx := context.Background()

			for name, id := range map[string]event.StreamID{
				"blank tenant": {TenantID: " ", Name: "Account-1"},
				"blank stream": {TenantID: "acme", Name: ""},
			} {
				_, err := eventStore.Append(ctx, id, version.Any, deposits(1)...)
				assert.True(t, event.IsValidation(err), name)
			}

			_, err := eventStore.Append(ctx, event.StreamID{TenantID: "acme", Name: "Account-1"}, version.Any)
			assert.True(t, event.IsValidation(err))
		})

		t.Run("append works when used with version.Any", func(t *testing.T) {
			ctx := context.Background()
			id := event.StreamID{TenantID: "tenant-" + uuid.NewString(), Name: "Account-" + uuid.NewString()}

			commit, err := eventStore.Append(ctx, id, version.Any, deposits(1, 2)...)
			require.NoError(t, err)
			assert.Equal(t, version.Version(2), commit.Version)
			require.Len(t, commit.GlobalSequenceIDs, 2)
			assert.Equal(t, commit.GlobalSequenceIDs[0]+1, commit.GlobalSequenceIDs[1])

			commit, err = eventStore.Append(ctx, id, version.Any, deposits(3)...)
			require.NoError(t, err)
			assert.Equal(t, version.Version(3), commit.Version)

			current, exists, err := eventStore.CurrentVersion(ctx, id)
			require.NoError(t, err)
			assert.True(t, exists)
			assert.Equal(t, version.Version(3), current)
		})

		t.Run("current version of a missing stream is zero", func(t *testing.T) {
			current, exists, err := eventStore.CurrentVersion(context.Background(), event.StreamID{
				TenantID: "tenant-" + uuid.NewString(),
				Name:     "Account-" + uuid.NewString(),
			})

			require.NoError(t, err)
			assert.False(t, exists)
			assert.Equal(t, version.Version(0), current)
		})

		t.Run("streams can be read from a specific version", func(t *testing.T) {
			ctx := context.Background()
			id := event.StreamID{TenantID: "tenant-" + uuid.NewString(), Name: "Account-" + uuid.NewString()}

			_, err := eventStore.Append(ctx, id, version.CheckExact(0), deposits(1, 2, 3, 4)...)
			require.NoError(t, err)

			events, err := ReadStream(ctx, eventStore, id, version.Selector{From: 2})
			require.NoError(t, err)
			require.Len(t, events, 2)

			assert.Equal(t, int64(2), events[0].SequenceNumber)
			assert.Equal(t, int64(3), events[1].SequenceNumber)
			assert.Equal(t, []message.Message{
				&MoneyWasDeposited{Amount: 3},
				&MoneyWasDeposited{Amount: 4},
			}, messagesOf(events))

			for _, evt := range events {
				assert.Equal(t, id, evt.StreamID)
				assert.False(t, evt.RecordedAt.IsZero())
			}
		})

		t.Run("streams with the same name are isolated by tenant", func(t *testing.T) {
			ctx := context.Background()
			name := "Account-" + uuid.NewString()
			first := event.StreamID{TenantID: "tenant-" + uuid.NewString(), Name: name}
			second := event.StreamID{TenantID: "tenant-" + uuid.NewString(), Name: name}

			_, err := eventStore.Append(ctx, first, version.CheckExact(0), deposits(1)...)
			require.NoError(t, err)

			_, err = eventStore.Append(ctx, second, version.CheckExact(0), deposits(2, 3)...)
			require.NoError(t, err)

			events, err := ReadStream(ctx, eventStore, first, version.SelectFromBeginning)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, first.TenantID, events[0].TenantID)
			assert.Equal(t, &MoneyWasDeposited{Amount: 1}, events[0].Message)

			tracked, err := ReadAll(ctx, eventStore, event.TrackingSelector{TenantID: second.TenantID, Limit: 1})
			require.NoError(t, err)
			require.Len(t, tracked, 2)

			for _, evt := range tracked {
				assert.Equal(t, second, evt.StreamID)
			}
		})

		t.Run("concurrent appends at the same expected version conflict", func(t *testing.T) {
			ctx := context.Background()
			id := event.StreamID{TenantID: "tenant-" + uuid.NewString(), Name: "Account-" + uuid.NewString()}

			_, err := eventStore.Append(ctx, id, version.CheckExact(0), deposits(1)...)
			require.NoError(t, err)

			const writers = 4

			var (
				wg        sync.WaitGroup
				mx        sync.Mutex
				succeeded int
				conflicts int
			)

			for i := 0; i < writers; i++ {
				wg.Add(1)

				go func(amount int64) {
					defer wg.Done()

					_, err := eventStore.Append(ctx, id, version.CheckExact(1), deposits(amount)...)

					mx.Lock()
					defer mx.Unlock()

					switch {
					case err == nil:
						succeeded++
					case version.IsConflict(err):
						conflicts++
					default:
						t.Errorf("unexpected append error: %v", err)
					}
				}(int64(i + 10))
			}

			wg.Wait()

			assert.Equal(t, 1, succeeded)
			assert.Equal(t, writers-1, conflicts)

			current, _, err := eventStore.CurrentVersion(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, version.Version(2), current)

			// A retry with the refreshed version goes through.
			commit, err := eventStore.Append(ctx, id, version.CheckExact(current), deposits(99)...)
			require.NoError(t, err)
			assert.Equal(t, version.Version(3), commit.Version)
		})

		t.Run("global sequence ids are gapless and increasing under concurrent appends", func(t *testing.T) {
			ctx := context.Background()

			before, err := eventStore.LatestGlobalSequenceID(ctx)
			require.NoError(t, err)

			const writers, appends = 6, 5

			var (
				wg        sync.WaitGroup
				mx        sync.Mutex
				committed = make(map[int64]struct{})
			)

			for i := 0; i < writers; i++ {
				wg.Add(1)

				go func() {
					defer wg.Done()

					id := event.StreamID{TenantID: "tenant-" + uuid.NewString(), Name: "Account-" + uuid.NewString()}

					for j := 0; j < appends; j++ {
						commit, err := eventStore.Append(ctx, id, version.CheckExact(version.Version(j*2)), deposits(1, 2)...)
						if err != nil {
							t.Errorf("unexpected append error: %v", err)
							return
						}

						mx.Lock()
						for _, gsid := range commit.GlobalSequenceIDs {
							committed[gsid] = struct{}{}
						}
						mx.Unlock()
					}
				}()
			}

			wg.Wait()
			require.Len(t, committed, writers*appends*2)

			events, err := ReadAll(ctx, eventStore, event.TrackingSelector{After: before, Limit: 7})
			require.NoError(t, err)
			require.Len(t, events, writers*appends*2)

			lastByStream := make(map[event.StreamID]int64)

			for i, evt := range events {
				assert.Equal(t, before+int64(i)+1, evt.GlobalSequenceID)
				assert.Contains(t, committed, evt.GlobalSequenceID)

				// Within a stream, the global order follows the stream order.
				if last, ok := lastByStream[evt.StreamID]; ok {
					assert.Equal(t, last+1, evt.SequenceNumber)
				}

				lastByStream[evt.StreamID] = evt.SequenceNumber
			}

			latest, err := eventStore.LatestGlobalSequenceID(ctx)
			require.NoError(t, err)
			assert.Equal(t, before+int64(writers*appends*2), latest)
		})

		t.Run("system streams are excluded from tenant-scoped reads", func(t *testing.T) {
			ctx := tenant.WithoutInfo(context.Background())
			tenantID := "tenant-" + uuid.NewString()
			name := "Account-" + uuid.NewString()

			_, err := eventStore.Append(ctx, event.StreamID{TenantID: event.SystemTenantID, Name: name}, version.Any, deposits(1)...)
			require.NoError(t, err)

			_, err = eventStore.Append(ctx, event.StreamID{TenantID: tenantID, Name: name}, version.Any, deposits(2)...)
			require.NoError(t, err)

			events, err := ReadAll(ctx, eventStore, event.TrackingSelector{TenantID: tenantID})
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, tenantID, events[0].TenantID)
		})
	}
}
