package command_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/get-eventually/eventledger/command"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/internal/account"
	"github.com/get-eventually/eventledger/logger"
)

type depositFailed struct {
	Reason string
}

func (depositFailed) Name() string { return "DepositFailed" }

func newErrorRecorder(
	t *testing.T,
	appender event.Appender,
	handlerErr error,
	capture bool,
) command.ErrorRecorder[account.DepositCommand] {
	recorder, err := command.NewErrorRecorder[account.DepositCommand](
		command.HandlerFunc[account.DepositCommand](
			func(context.Context, command.Envelope[account.DepositCommand]) error { return handlerErr },
		),
		command.ErrorRecorderOptions[account.DepositCommand]{
			Appender:           appender,
			ShouldCaptureError: func(error) bool { return capture },
			EventStreamIDMapper: func(_ context.Context, cmd command.Envelope[account.DepositCommand]) event.StreamID {
				return event.StreamID{TenantID: "acme", Name: "deposit-errors-" + cmd.Message.ID.String()}
			},
			EventMapper: func(err error, _ command.Envelope[account.DepositCommand]) event.Envelope {
				return event.ToEnvelope(depositFailed{Reason: err.Error()})
			},
			Logger: logger.NewTest(t),
		},
	)
	require.NoError(t, err)

	return recorder
}

func TestErrorRecorder(t *testing.T) {
	ctx := context.Background()
	cmd := command.ToEnvelope(account.DepositCommand{Amount: 10})
	handlerErr := errors.New("error returned for testing")

	t.Run("no error recorded when the command handler doesn't fail", func(t *testing.T) {
		store := event.NewTrackingEventStore(event.NewInMemoryStore())

		require.NoError(t, newErrorRecorder(t, store, nil, false).Handle(ctx, cmd))
		assert.Empty(t, store.Recorded())
	})

	t.Run("error recorded and returned when not capturing errors", func(t *testing.T) {
		store := event.NewTrackingEventStore(event.NewInMemoryStore())

		err := newErrorRecorder(t, store, handlerErr, false).Handle(ctx, cmd)
		assert.ErrorIs(t, err, handlerErr)

		recorded := store.Recorded()
		require.Len(t, recorded, 1)
		assert.Equal(t, depositFailed{Reason: handlerErr.Error()}, recorded[0].Message)
	})

	t.Run("error recorded and silenced when capturing errors", func(t *testing.T) {
		store := event.NewTrackingEventStore(event.NewInMemoryStore())

		require.NoError(t, newErrorRecorder(t, store, handlerErr, true).Handle(ctx, cmd))
		assert.Len(t, store.Recorded(), 1)
	})

	t.Run("options are validated", func(t *testing.T) {
		_, err := command.NewErrorRecorder[account.DepositCommand](nil, command.ErrorRecorderOptions[account.DepositCommand]{})
		assert.Error(t, err)
	})
}
