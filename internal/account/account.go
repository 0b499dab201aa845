// Package account serves as a small domain example of how to model
// an Aggregate on top of the event ledger.
//
// This package is used for integration tests in the parent module.
package account

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/get-eventually/eventledger/aggregate"
	"github.com/get-eventually/eventledger/event"
)

// Type is the Account aggregate type.
var Type = aggregate.Type[uuid.UUID, *Account]{
	Name:    "Account",
	Factory: func() *Account { return new(Account) },
}

// All the errors returned by Account methods.
var (
	ErrInvalidOwner      = errors.New("account: invalid owner, is empty")
	ErrInvalidAmount     = errors.New("account: invalid amount, must be positive")
	ErrInsufficientFunds = errors.New("account: insufficient funds")
	ErrClosed            = errors.New("account: account is closed")
)

// Account is a naive bank account, modeled as an Aggregate.
type Account struct {
	aggregate.BaseRoot

	id      uuid.UUID
	owner   string
	balance int64
	closed  bool
}

// Apply implements aggregate.Aggregate.
func (a *Account) Apply(evt event.Event) error {
	switch evt := evt.(type) {
	case *WasOpened:
		a.id = evt.ID
		a.owner = evt.Owner
	case *MoneyWasDeposited:
		a.balance += evt.Amount
	case *MoneyWasWithdrawn:
		a.balance -= evt.Amount
	case *WasClosed:
		a.closed = true
	default:
		return fmt.Errorf("account.Apply: unexpected event type, %T", evt)
	}

	return nil
}

// AggregateID implements aggregate.Root.
func (a *Account) AggregateID() uuid.UUID { return a.id }

// Owner returns the Account owner.
func (a *Account) Owner() string { return a.owner }

// Balance returns the Account balance.
func (a *Account) Balance() int64 { return a.balance }

// IsClosed reports whether the Account was closed.
func (a *Account) IsClosed() bool { return a.closed }

// Open opens a new Account.
func Open(id uuid.UUID, owner string, now time.Time) (*Account, error) {
	if owner == "" {
		return nil, ErrInvalidOwner
	}

	a := new(Account)

	if err := aggregate.RecordThat[uuid.UUID](a, event.ToEnvelope(&WasOpened{
		ID:       id,
		Owner:    owner,
		OpenedAt: now,
	})); err != nil {
		return nil, fmt.Errorf("account.Open: failed to record domain event, %w", err)
	}

	return a, nil
}

// Deposit deposits money on the Account.
func (a *Account) Deposit(amount int64) error {
	switch {
	case a.closed:
		return ErrClosed
	case amount <= 0:
		return ErrInvalidAmount
	}

	return aggregate.RecordThat[uuid.UUID](a, event.ToEnvelope(&MoneyWasDeposited{Amount: amount}))
}

// Withdraw withdraws money from the Account.
func (a *Account) Withdraw(amount int64) error {
	switch {
	case a.closed:
		return ErrClosed
	case amount <= 0:
		return ErrInvalidAmount
	case amount > a.balance:
		return ErrInsufficientFunds
	}

	return aggregate.RecordThat[uuid.UUID](a, event.ToEnvelope(&MoneyWasWithdrawn{Amount: amount}))
}

// Close closes the Account.
func (a *Account) Close(reason string) error {
	if a.closed {
		return ErrClosed
	}

	return aggregate.RecordThat[uuid.UUID](a, event.ToEnvelope(&WasClosed{Reason: reason}))
}
