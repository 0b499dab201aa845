package mongodb_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmongodb "github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/get-eventually/eventledger/cursor"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/mongodb"
)

// newClient connects to MONGODB_URI when set, or to a single-node replica
// set started with testcontainers otherwise.
func newClient(t *testing.T) *mongo.Client {
	t.Helper()

	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()

	uri, ok := os.LookupEnv("MONGODB_URI")
	if !ok {
		testcontainers.SkipIfProviderIsNotHealthy(t)

		container, err := tcmongodb.Run(ctx, "mongo:7", tcmongodb.WithReplicaSet("rs0"))
		if err != nil {
			t.Skipf("mongodb unavailable: %v", err)
		}

		t.Cleanup(func() { _ = container.Terminate(ctx) })

		uri, err = container.ConnectionString(ctx)
		require.NoError(t, err)
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetDirect(true))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Disconnect(ctx) })

	return client
}

func TestEventStore(t *testing.T) {
	client := newClient(t)

	eventStore := mongodb.EventStore{
		Client:       client,
		DatabaseName: "ledger_" + uuid.NewString()[:8],
		Codec:        account.NewRegistry(),
	}

	require.NoError(t, eventStore.EnsureIndexes(context.Background()))

	account.EventStoreSuite(eventStore)(t)
}

func TestCursorStore(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	store := mongodb.CursorStore{Client: client, DatabaseName: "ledger_cursors"}
	consumer := "outbox-relay@1/2/" + uuid.NewString()

	_, err := store.Read(ctx, consumer)
	require.ErrorIs(t, err, cursor.ErrNotFound)

	segment := cursor.Segment{Index: 1, Count: 2}

	require.NoError(t, store.Write(ctx, consumer, cursor.At(7).In(segment)))
	require.NoError(t, store.Write(ctx, consumer, cursor.At(3).In(segment)))

	c, err := store.Read(ctx, consumer)
	require.NoError(t, err)
	assert.Equal(t, cursor.At(7).In(segment), c)

	require.NoError(t, store.Write(ctx, consumer, cursor.At(9).In(segment)))

	c, err = store.Read(ctx, consumer)
	require.NoError(t, err)
	assert.EqualValues(t, 9, c.GlobalSequenceID)
}
