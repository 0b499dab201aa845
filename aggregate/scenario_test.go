package aggregate_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/get-eventually/eventledger/aggregate"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/internal/account"
)

func TestScenario(t *testing.T) {
	id := uuid.New()
	opened := event.ToEnvelope(&account.WasOpened{ID: id, Owner: "John Ross", OpenedAt: account.OpenedAt})

	t.Run("test an aggregate function with one factory", func(t *testing.T) {
		aggregate.
			Scenario(account.Type).
			When(func() (*account.Account, error) {
				return account.Open(id, "John Ross", account.OpenedAt)
			}).
			Then(1, opened).
			AssertOn(t)
	})

	t.Run("test an aggregate function with one factory call that returns a specific error", func(t *testing.T) {
		aggregate.
			Scenario(account.Type).
			When(func() (*account.Account, error) {
				return account.Open(id, "", account.OpenedAt)
			}).
			ThenError(account.ErrInvalidOwner).
			AssertOn(t)
	})

	t.Run("test an aggregate function with an already-existing AggregateRoot instance", func(t *testing.T) {
		aggregate.
			Scenario(account.Type).
			Given(opened, event.ToEnvelope(&account.MoneyWasDeposited{Amount: 50})).
			When(func(a *account.Account) error {
				return a.Withdraw(20)
			}).
			Then(3, event.ToEnvelope(&account.MoneyWasWithdrawn{Amount: 20})).
			AssertOn(t)
	})

	t.Run("test an aggregate function on an existing instance that fails", func(t *testing.T) {
		aggregate.
			Scenario(account.Type).
			Given(opened).
			When(func(a *account.Account) error {
				return a.Withdraw(20)
			}).
			ThenError(account.ErrInsufficientFunds).
			AssertOn(t)
	})

	t.Run("closed accounts refuse deposits", func(t *testing.T) {
		aggregate.
			Scenario(account.Type).
			Given(opened, event.ToEnvelope(&account.WasClosed{Reason: "done"})).
			When(func(a *account.Account) error {
				return a.Deposit(1)
			}).
			ThenError(account.ErrClosed).
			AssertOn(t)
	})
}
