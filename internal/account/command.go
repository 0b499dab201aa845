package account

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/get-eventually/eventledger/aggregate"
	"github.com/get-eventually/eventledger/command"
)

var (
	_ command.Command = OpenCommand{}
	_ command.Command = DepositCommand{}
	_ command.Command = WithdrawCommand{}
)

// OpenCommand is a domain command that can be used to open a new Account.
type OpenCommand struct {
	ID    uuid.UUID
	Owner string
}

// Name implements command.Command.
func (OpenCommand) Name() string { return "OpenAccount" }

// DepositCommand is a domain command that deposits money on an Account.
type DepositCommand struct {
	ID     uuid.UUID
	Amount int64
}

// Name implements command.Command.
func (DepositCommand) Name() string { return "DepositMoney" }

// WithdrawCommand is a domain command that withdraws money from an Account.
type WithdrawCommand struct {
	ID     uuid.UUID
	Amount int64
}

// Name implements command.Command.
func (WithdrawCommand) Name() string { return "WithdrawMoney" }

// OpenHandler is the command handler for OpenCommand domain commands.
type OpenHandler = command.AggregateHandler[OpenCommand, uuid.UUID, *Account]

// DepositHandler is the command handler for DepositCommand domain commands.
type DepositHandler = command.AggregateHandler[DepositCommand, uuid.UUID, *Account]

// WithdrawHandler is the command handler for WithdrawCommand domain commands.
type WithdrawHandler = command.AggregateHandler[WithdrawCommand, uuid.UUID, *Account]

// NewOpenHandler returns the handler opening Accounts at the time given by the clock.
func NewOpenHandler(repository aggregate.Repository[uuid.UUID, *Account], clock func() time.Time) OpenHandler {
	return OpenHandler{
		Repository: repository,
		Create: func(_ context.Context, cmd command.Envelope[OpenCommand]) (*Account, error) {
			return Open(cmd.Message.ID, cmd.Message.Owner, clock())
		},
	}
}

// NewDepositHandler returns the handler depositing money on existing Accounts.
func NewDepositHandler(repository aggregate.Repository[uuid.UUID, *Account]) DepositHandler {
	return DepositHandler{
		Repository: repository,
		Target:     func(cmd DepositCommand) uuid.UUID { return cmd.ID },
		Decide: func(_ context.Context, a *Account, cmd command.Envelope[DepositCommand]) error {
			return a.Deposit(cmd.Message.Amount)
		},
	}
}

// NewWithdrawHandler returns the handler withdrawing money from existing Accounts.
func NewWithdrawHandler(repository aggregate.Repository[uuid.UUID, *Account]) WithdrawHandler {
	return WithdrawHandler{
		Repository: repository,
		Target:     func(cmd WithdrawCommand) uuid.UUID { return cmd.ID },
		Decide: func(_ context.Context, a *Account, cmd command.Envelope[WithdrawCommand]) error {
			return a.Withdraw(cmd.Message.Amount)
		},
	}
}
