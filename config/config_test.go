package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/aggregate/snapshot"
	"github.com/get-eventually/eventledger/config"
	"github.com/get-eventually/eventledger/cursor"
	"github.com/get-eventually/eventledger/relay"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse()
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.TenantMaxLength)
	assert.Equal(t, []string{"X-Tenant-Id", "X-Tenant"}, cfg.TenantHeaders)
	assert.Equal(t, config.RateLimitLocal, cfg.RateLimitBackend)
	assert.Equal(t, config.BrokerKafka, cfg.Broker)
	assert.Equal(t, ":8080", cfg.HTTPAddress)
	assert.Zero(t, cfg.Security().HeaderRatioThreshold, "header ratio scoring is opt-in")

	opts, err := cfg.Relay("outbox")
	require.NoError(t, err)
	assert.Equal(t, relay.GapPolicyHalt, opts.GapPolicy)
	assert.Equal(t, cursor.All, opts.Segment)
	assert.Equal(t, "outbox", opts.ConsumerName())

	assert.Equal(t, snapshot.NeverPolicy{}, cfg.SnapshotPolicy())
}

func TestParseFromEnv(t *testing.T) {
	t.Setenv("LEDGER_TENANT_MAX_LENGTH", "32")
	t.Setenv("LEDGER_TENANT_HEADERS", "X-Org,X-Tenant-Id")
	t.Setenv("LEDGER_RATE_LIMIT", "10")
	t.Setenv("LEDGER_RATE_WINDOW", "30s")
	t.Setenv("LEDGER_RATE_LIMIT_BACKEND", "redis")
	t.Setenv("LEDGER_REDIS_ADDR", "localhost:6379")
	t.Setenv("LEDGER_RELAY_MAX_ATTEMPTS", "3")
	t.Setenv("LEDGER_RELAY_GAP_POLICY", "skip")
	t.Setenv("LEDGER_RELAY_SHARD_INDEX", "1")
	t.Setenv("LEDGER_RELAY_SHARD_COUNT", "4")
	t.Setenv("LEDGER_SNAPSHOT_INTERVAL", "50")
	t.Setenv("LEDGER_BROKER", "rabbitmq")
	t.Setenv("LEDGER_HEADER_RATIO_THRESHOLD", "0.8")
	t.Setenv("LEDGER_RELAY_PUBLISH_RATE", "250")

	cfg, err := config.Parse()
	require.NoError(t, err)

	sec := cfg.Security()
	assert.Equal(t, 32, sec.MaxLength)
	assert.Equal(t, []string{"X-Org", "X-Tenant-Id"}, sec.Headers)
	assert.Equal(t, 10, sec.RateLimit)
	assert.Equal(t, 30*time.Second, sec.RateWindow)
	assert.Positive(t, sec.SuspicionLimit)
	assert.Equal(t, 0.8, sec.HeaderRatioThreshold)

	opts, err := cfg.Relay("outbox")
	require.NoError(t, err)
	assert.Equal(t, relay.GapPolicySkip, opts.GapPolicy)
	assert.Equal(t, 3, opts.MaxAttempts)
	assert.Equal(t, cursor.Segment{Index: 1, Count: 4}, opts.Segment)
	assert.Equal(t, 250.0, opts.PublishRate)

	assert.Equal(t, snapshot.EveryVersionIncrementPolicy(50), cfg.SnapshotPolicy())
}

func TestParseRejectsInvalidOptions(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"unknown broker", map[string]string{"LEDGER_BROKER": "nats"}},
		{"unknown rate limit backend", map[string]string{"LEDGER_RATE_LIMIT_BACKEND": "memcached"}},
		{"redis without address", map[string]string{"LEDGER_RATE_LIMIT_BACKEND": "redis"}},
		{"unknown gap policy", map[string]string{"LEDGER_RELAY_GAP_POLICY": "ignore"}},
		{"shard out of range", map[string]string{"LEDGER_RELAY_SHARD_INDEX": "4", "LEDGER_RELAY_SHARD_COUNT": "4"}},
		{"negative snapshot interval", map[string]string{"LEDGER_SNAPSHOT_INTERVAL": "-1"}},
		{"malformed duration", map[string]string{"LEDGER_RATE_WINDOW": "soon"}},
		{"negative publish rate", map[string]string{"LEDGER_RELAY_PUBLISH_RATE": "-1"}},
		{"header ratio above one", map[string]string{"LEDGER_HEADER_RATIO_THRESHOLD": "1.5"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := config.Parse()
			assert.Error(t, err)
		})
	}
}
