package relay

import (
	"context"
	"fmt"

	"github.com/get-eventually/eventledger/event"
)

// SubjectPrefix is the prefix of the subjects events are published to.
const SubjectPrefix = "events."

// Subject returns the subject events of the payload type are published to.
func Subject(payloadType string) string { return SubjectPrefix + payloadType }

// Publisher publishes a payload to the external broker.
//
// Publish returns only once the broker acknowledged the payload.
type Publisher interface {
	Publish(ctx context.Context, subject, tenantID string, payload []byte) error
}

// PublisherFunc is a functional implementation of the Publisher interface.
type PublisherFunc func(ctx context.Context, subject, tenantID string, payload []byte) error

// Publish implements the Publisher interface.
func (fn PublisherFunc) Publish(ctx context.Context, subject, tenantID string, payload []byte) error {
	return fn(ctx, subject, tenantID, payload)
}

// Encoder produces the broker payload of a committed event.
type Encoder interface {
	Encode(evt event.Persisted) ([]byte, error)
}

// PublishError is returned when an event could not be published after
// exhausting all the attempts, or could not be encoded at all.
type PublishError struct {
	GlobalSequenceID int64
	Subject          string
	Attempts         int
	Err              error
}

func (err *PublishError) Error() string {
	return fmt.Sprintf("relay: failed to publish event %d to %s after %d attempts, %v",
		err.GlobalSequenceID, err.Subject, err.Attempts, err.Err)
}

func (err *PublishError) Unwrap() error { return err.Err }
