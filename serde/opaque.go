package serde

import (
	"fmt"

	"github.com/get-eventually/eventledger/message"
)

// Opaque is a Message whose payload is kept in its stored form.
type Opaque struct {
	Type    string
	Rev     string
	Payload []byte
}

// Name implements message.Message.
func (o Opaque) Name() string { return o.Type }

// Revision implements message.Revisioned.
func (o Opaque) Revision() string { return o.Rev }

var _ MessageCodec = OpaqueCodec{}

// OpaqueCodec is a MessageCodec for processes that move events around
// without interpreting them, such as a standalone relay. Payloads decode
// into Opaque messages and encode back byte for byte.
type OpaqueCodec struct{}

// Encode implements MessageCodec. Only Opaque messages are supported.
func (OpaqueCodec) Encode(msg message.Message) ([]byte, error) {
	o, ok := msg.(Opaque)
	if !ok {
		return nil, fmt.Errorf("serde.OpaqueCodec: unexpected type %T for payload type %q", msg, msg.Name())
	}

	return o.Payload, nil
}

// Decode implements MessageCodec.
func (OpaqueCodec) Decode(payloadType, revision string, data []byte) (message.Message, error) {
	if revision == "" {
		revision = message.DefaultRevision
	}

	return Opaque{Type: payloadType, Rev: revision, Payload: data}, nil
}
