package security_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/get-eventually/eventledger/security"
)

func TestLocalLimiter(t *testing.T) {
	ctx := context.Background()
	limiter := security.NewLocalLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "client")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := limiter.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLimiter(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })

	limiter := security.NewRedisLimiter(client, 100, time.Minute)

	for i := 0; i < 100; i++ {
		ok, err := limiter.Allow(ctx, "client")
		require.NoError(t, err)
		require.True(t, ok, "validation #%d", i+1)
	}

	ok, err := limiter.Allow(ctx, "client")
	require.NoError(t, err)
	assert.False(t, ok)

	// Rejected attempts do not extend the window.
	count, err := client.ZCard(ctx, limiter.Prefix+"client").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
}
