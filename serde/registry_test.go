package serde_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/serde"
)

type moneyWasDeposited struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (*moneyWasDeposited) Name() string     { return "MoneyWasDeposited" }
func (*moneyWasDeposited) Revision() string { return "3.0" }

func newRegistry(t *testing.T) *serde.Registry {
	t.Helper()

	registry := serde.NewRegistry()
	serde.RegisterJSON(registry, func() *moneyWasDeposited { return new(moneyWasDeposited) })

	// 1.0 stored the amount as "value".
	require.NoError(t, registry.Upcast("MoneyWasDeposited", "1.0", "2.0", func(data []byte) ([]byte, error) {
		var v1 struct {
			Value int64 `json:"value"`
		}

		if err := json.Unmarshal(data, &v1); err != nil {
			return nil, err
		}

		return json.Marshal(map[string]any{"amount": v1.Value})
	}))

	// 2.0 had no currency.
	require.NoError(t, registry.Upcast("MoneyWasDeposited", "2.0", "3.0", func(data []byte) ([]byte, error) {
		var v2 map[string]any
		if err := json.Unmarshal(data, &v2); err != nil {
			return nil, err
		}

		v2["currency"] = "EUR"

		return json.Marshal(v2)
	}))

	return registry
}

func TestRegistryRoundTrip(t *testing.T) {
	registry := newRegistry(t)

	data, err := registry.Encode(&moneyWasDeposited{Amount: 10, Currency: "USD"})
	require.NoError(t, err)

	msg, err := registry.Decode("MoneyWasDeposited", "3.0", data)
	require.NoError(t, err)
	assert.Equal(t, &moneyWasDeposited{Amount: 10, Currency: "USD"}, msg)
}

func TestRegistryUpcastsOlderRevisions(t *testing.T) {
	registry := newRegistry(t)

	msg, err := registry.Decode("MoneyWasDeposited", "1.0", []byte(`{"value":42}`))
	require.NoError(t, err)
	assert.Equal(t, &moneyWasDeposited{Amount: 42, Currency: "EUR"}, msg)

	// An empty revision is the default one.
	msg, err = registry.Decode("MoneyWasDeposited", "", []byte(`{"value":1}`))
	require.NoError(t, err)
	assert.Equal(t, &moneyWasDeposited{Amount: 1, Currency: "EUR"}, msg)
}

func TestRegistryErrors(t *testing.T) {
	registry := newRegistry(t)

	_, err := registry.Decode("Unknown", "1.0", nil)
	assert.ErrorIs(t, err, serde.ErrUnknownPayloadType)

	_, err = registry.Decode("MoneyWasDeposited", "0.9", []byte(`{}`))
	assert.ErrorContains(t, err, "no upcast path")

	assert.ErrorIs(t, registry.Upcast("Unknown", "1.0", "2.0", nil), serde.ErrUnknownPayloadType)
}

func TestOpaqueCodec(t *testing.T) {
	codec := serde.OpaqueCodec{}
	data := []byte(`{"value":250}`)

	msg, err := codec.Decode("MoneyWasDeposited", "", data)
	require.NoError(t, err)
	assert.Equal(t, "MoneyWasDeposited", msg.Name())
	assert.Equal(t, serde.Opaque{Type: "MoneyWasDeposited", Rev: "1.0", Payload: data}, msg)

	encoded, err := codec.Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, data, encoded)

	_, err = codec.Encode(new(moneyWasDeposited))
	assert.Error(t, err)
}
