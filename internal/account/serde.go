package account

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/get-eventually/eventledger/serde"
)

// NewRegistry returns the serde.Registry of the Account domain events.
func NewRegistry() *serde.Registry {
	registry := serde.NewRegistry()

	serde.RegisterJSON(registry, func() *WasOpened { return new(WasOpened) })
	serde.RegisterJSON(registry, func() *MoneyWasDeposited { return new(MoneyWasDeposited) })
	serde.RegisterJSON(registry, func() *MoneyWasWithdrawn { return new(MoneyWasWithdrawn) })
	serde.RegisterJSON(registry, func() *WasClosed { return new(WasClosed) })

	_ = registry.Upcast("AccountMoneyWasDeposited", "1.0", "2.0", upcastDepositV1)

	return registry
}

func upcastDepositV1(data []byte) ([]byte, error) {
	var v1 struct {
		Value int64 `json:"value"`
	}

	if err := json.Unmarshal(data, &v1); err != nil {
		return nil, fmt.Errorf("account.upcastDepositV1: %w", err)
	}

	return json.Marshal(MoneyWasDeposited{Amount: v1.Value})
}

type state struct {
	ID      uuid.UUID `json:"id"`
	Owner   string    `json:"owner"`
	Balance int64     `json:"balance"`
	Closed  bool      `json:"closed"`
}

// StateSerde maps an Account to its JSON snapshot state.
var StateSerde = serde.Fuse[*Account, []byte](
	serde.SerializerFunc[*Account, []byte](func(a *Account) ([]byte, error) {
		return json.Marshal(state{ID: a.id, Owner: a.owner, Balance: a.balance, Closed: a.closed})
	}),
	serde.DeserializerFunc[*Account, []byte](func(data []byte) (*Account, error) {
		var s state
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("account.StateSerde: failed to deserialize state, %w", err)
		}

		return &Account{id: s.ID, owner: s.Owner, balance: s.Balance, closed: s.Closed}, nil
	}),
)
