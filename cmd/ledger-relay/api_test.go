package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/broker"
	"github.com/get-eventually/eventledger/cursor"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/logger"
	"github.com/get-eventually/eventledger/relay"
	"github.com/get-eventually/eventledger/security"
	"github.com/get-eventually/eventledger/serde"
	"github.com/get-eventually/eventledger/tenant"
	"github.com/get-eventually/eventledger/version"
)

type pingerFunc func(ctx context.Context) error

func (fn pingerFunc) Ping(ctx context.Context) error { return fn(ctx) }

func newTestAPI(t *testing.T, ready Pinger) http.Handler {
	t.Helper()

	store := event.NewInMemoryStore()
	ctx := context.Background()

	for _, id := range []event.StreamID{
		{TenantID: "acme", Name: "account-1"},
		{TenantID: "globex", Name: "account-2"},
		{TenantID: "acme", Name: "account-1"},
	} {
		_, err := store.Append(ctx, id, version.Any, event.ToEnvelope(&account.MoneyWasDeposited{Amount: 10}))
		require.NoError(t, err)
	}

	deadLetters := new(relay.InMemoryDeadLetters)
	log := logger.NewTest(t)

	outbox, err := relay.New(store, cursor.NewInMemoryStore(), broker.NewInMemory(),
		broker.Encoder{Codec: serde.OpaqueCodec{}}, relay.Options{Name: relayName},
		relay.WithDeadLetterStore(deadLetters),
		relay.WithLogger(log),
	)
	require.NoError(t, err)

	return api{
		relay:       outbox,
		deadLetters: deadLetters,
		tracker:     store,
		ready:       ready,
		logger:      log,
		tenants: security.Middleware{
			Validator: security.NewValidator(security.DefaultConfig()),
			Bridge:    tenant.Bridge{},
			Required:  true,
		},
	}.router()
}

func get(t *testing.T, h http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	h := newTestAPI(t, pingerFunc(func(context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, get(t, h, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/ready", nil).Code)

	h = newTestAPI(t, pingerFunc(func(context.Context) error { return errors.New("connection refused") }))
	assert.Equal(t, http.StatusOK, get(t, h, "/health", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ready", nil).Code)
}

func TestRelayStatus(t *testing.T) {
	h := newTestAPI(t, nil)

	rec := get(t, h, "/relay/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Name    string `json:"name"`
		Head    int64  `json:"head"`
		Lag     int64  `json:"lag"`
		Running bool   `json:"running"`
	}

	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, relayName, status.Name)
	assert.EqualValues(t, 3, status.Head)
	assert.EqualValues(t, 3, status.Lag)
	assert.False(t, status.Running)

	rec = get(t, h, "/relay/dead-letters", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())
}

func TestLedgerEventsAreTenantScoped(t *testing.T) {
	h := newTestAPI(t, nil)

	rec := get(t, h, "/ledger/events", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a tenant is required")

	rec = get(t, h, "/ledger/events", map[string]string{"X-Tenant-Id": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", rec.Header().Get(security.TenantHeader))

	var page []ledgerEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page, 2)
	assert.EqualValues(t, 1, page[0].GlobalSequenceID)
	assert.EqualValues(t, 3, page[1].GlobalSequenceID)
	assert.EqualValues(t, 1, page[1].SequenceNumber)
	assert.Equal(t, "account-1", page[1].Stream)

	rec = get(t, h, "/ledger/events?after=1", map[string]string{"X-Tenant-Id": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)

	page = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page, 1)
	assert.EqualValues(t, 3, page[0].GlobalSequenceID)

	rec = get(t, h, "/ledger/events?after=-1", map[string]string{"X-Tenant-Id": "acme"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
