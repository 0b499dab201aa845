package account

import (
	"time"

	"github.com/google/uuid"

	"github.com/get-eventually/eventledger/event"
)

var (
	_ event.Event = new(WasOpened)
	_ event.Event = new(MoneyWasDeposited)
	_ event.Event = new(MoneyWasWithdrawn)
	_ event.Event = new(WasClosed)
)

// WasOpened is the domain event fired after an Account is opened.
type WasOpened struct {
	ID       uuid.UUID `json:"id"`
	Owner    string    `json:"owner"`
	OpenedAt time.Time `json:"openedAt"`
}

// Name implements message.Message.
func (*WasOpened) Name() string { return "AccountWasOpened" }

// MoneyWasDeposited is the domain event fired after money is deposited.
//
// Revision 1.0 carried the amount in a "value" field.
type MoneyWasDeposited struct {
	Amount int64 `json:"amount"`
}

// Name implements message.Message.
func (*MoneyWasDeposited) Name() string { return "AccountMoneyWasDeposited" }

// Revision implements message.Revisioned.
func (*MoneyWasDeposited) Revision() string { return "2.0" }

// MoneyWasWithdrawn is the domain event fired after money is withdrawn.
type MoneyWasWithdrawn struct {
	Amount int64 `json:"amount"`
}

// Name implements message.Message.
func (*MoneyWasWithdrawn) Name() string { return "AccountMoneyWasWithdrawn" }

// WasClosed is the domain event fired after an Account is closed.
type WasClosed struct {
	Reason string `json:"reason"`
}

// Name implements message.Message.
func (*WasClosed) Name() string { return "AccountWasClosed" }
