// Package broker contains the wire format of the events relayed to the
// external broker, shared by the publishers and the subscribers of the
// broker sub-packages.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/get-eventually/eventledger/correlation"
	"github.com/get-eventually/eventledger/event"
	"github.com/get-eventually/eventledger/message"
	"github.com/get-eventually/eventledger/relay"
	"github.com/get-eventually/eventledger/serde"
)

// Message is the broker envelope of a relayed event.
type Message struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenantId"`
	Stream           string           `json:"stream"`
	SequenceNumber   int64            `json:"sequenceNumber"`
	GlobalSequenceID int64            `json:"globalSequenceId"`
	Type             string           `json:"type"`
	Revision         string           `json:"revision"`
	RecordedAt       time.Time        `json:"recordedAt"`
	Payload          []byte           `json:"payload"`
	Metadata         message.Metadata `json:"metadata,omitempty"`
}

var _ relay.Encoder = Encoder{}

// Encoder encodes committed events into JSON Messages, using the Codec
// for the event payload.
type Encoder struct {
	Codec serde.MessageCodec
}

// Encode implements relay.Encoder.
func (e Encoder) Encode(evt event.Persisted) ([]byte, error) {
	payload, err := e.Codec.Encode(evt.Message)
	if err != nil {
		return nil, fmt.Errorf("broker.Encoder: failed to encode payload, %w", err)
	}

	data, err := json.Marshal(Message{
		ID:               evt.ID(),
		TenantID:         evt.TenantID,
		Stream:           evt.Name,
		SequenceNumber:   evt.SequenceNumber,
		GlobalSequenceID: evt.GlobalSequenceID,
		Type:             evt.PayloadType(),
		Revision:         evt.PayloadRevision(),
		RecordedAt:       evt.RecordedAt,
		Payload:          payload,
		Metadata:         evt.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("broker.Encoder: failed to encode message, %w", err)
	}

	return data, nil
}

// Decode decodes a Message from its JSON form.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("broker.Decode: failed to decode message, %w", err)
	}

	if msg.TenantID == "" || msg.Type == "" {
		return Message{}, fmt.Errorf("broker.Decode: message is missing tenant or type")
	}

	return msg, nil
}

// Subject returns the subject the Message is published to.
func (m Message) Subject() string { return relay.Subject(m.Type) }

// Event decodes the Message back into the committed event, upcasting
// the payload to its current revision.
func (m Message) Event(codec serde.MessageCodec) (event.Persisted, error) {
	payload, err := codec.Decode(m.Type, m.Revision, m.Payload)
	if err != nil {
		return event.Persisted{}, fmt.Errorf("broker.Message: failed to decode payload, %w", err)
	}

	return event.Persisted{
		StreamID:         event.StreamID{TenantID: m.TenantID, Name: m.Stream},
		SequenceNumber:   m.SequenceNumber,
		GlobalSequenceID: m.GlobalSequenceID,
		RecordedAt:       m.RecordedAt,
		Envelope:         event.Envelope{Message: payload, Metadata: m.Metadata},
	}, nil
}

// Context restores on ctx the tenant context the event was committed with.
// System events restore an explicitly unset tenant context.
func (m Message) Context(ctx context.Context) context.Context {
	md := m.Metadata.Clone()

	if m.TenantID != event.SystemTenantID {
		md = md.With(event.MetadataKeyTenantID, m.TenantID)
	} else {
		delete(md, event.MetadataKeyTenantID)
	}

	return correlation.ContextFromMetadata(ctx, md.With(event.MetadataKeyEventID, m.ID))
}
