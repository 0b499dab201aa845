package serde

import (
	"errors"
	"fmt"
	"sync"

	"github.com/get-eventually/eventledger/message"
)

// ErrUnknownPayloadType is returned by a Registry for payload types never registered.
var ErrUnknownPayloadType = errors.New("serde: unknown payload type")

// MessageCodec turns Messages into payload bytes, and payload bytes back
// into Messages given their payload type and revision.
type MessageCodec interface {
	Encode(msg message.Message) ([]byte, error)
	Decode(payloadType, revision string, data []byte) (message.Message, error)
}

// Upcaster rewrites a payload from one revision into the next one.
type Upcaster func(data []byte) ([]byte, error)

type upcast struct {
	to string
	fn Upcaster
}

type registration struct {
	revision  string
	encode    func(message.Message) ([]byte, error)
	decode    func([]byte) (message.Message, error)
	upcasters map[string]upcast
}

var _ MessageCodec = new(Registry)

// Registry is a MessageCodec dispatching on the payload type.
//
// Each payload type is registered with its current revision. Payloads stored
// with an older revision are upcasted, one registered step at a time,
// before being decoded.
type Registry struct {
	mx    sync.RWMutex
	types map[string]*registration
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*registration)}
}

// Register adds the payload type name at the specified current revision,
// encoded and decoded by the provided serde.
func Register[T message.Message](r *Registry, name, revision string, codec Serde[T, []byte]) {
	reg := &registration{
		revision:  revision,
		upcasters: make(map[string]upcast),
		encode: func(msg message.Message) ([]byte, error) {
			t, ok := msg.(T)
			if !ok {
				return nil, fmt.Errorf("serde.Registry: unexpected type %T for payload type %q", msg, name)
			}

			return codec.Serialize(t)
		},
		decode: func(data []byte) (message.Message, error) {
			return codec.Deserialize(data)
		},
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if existing, ok := r.types[name]; ok {
		reg.upcasters = existing.upcasters
	}

	r.types[name] = reg
}

// RegisterJSON registers a JSON-encoded payload type, using the name and
// revision of the Message returned by the factory.
func RegisterJSON[T message.Message](r *Registry, factory func() T) {
	sample := factory()
	Register(r, sample.Name(), message.Revision(sample), NewJSON(factory))
}

// Upcast registers the upcaster rewriting payloads of the given type from
// one revision to the next. It must be called after the type is registered.
func (r *Registry) Upcast(name, from, to string, fn Upcaster) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	reg, ok := r.types[name]
	if !ok {
		return fmt.Errorf("serde.Registry: cannot upcast %q, %w", name, ErrUnknownPayloadType)
	}

	reg.upcasters[from] = upcast{to: to, fn: fn}

	return nil
}

func (r *Registry) lookup(name string) (*registration, error) {
	r.mx.RLock()
	defer r.mx.RUnlock()

	reg, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("serde.Registry: %q, %w", name, ErrUnknownPayloadType)
	}

	return reg, nil
}

// Encode implements MessageCodec.
func (r *Registry) Encode(msg message.Message) ([]byte, error) {
	reg, err := r.lookup(msg.Name())
	if err != nil {
		return nil, err
	}

	data, err := reg.encode(msg)
	if err != nil {
		return nil, fmt.Errorf("serde.Registry: failed to encode %q, %w", msg.Name(), err)
	}

	return data, nil
}

// Decode implements MessageCodec.
func (r *Registry) Decode(payloadType, revision string, data []byte) (message.Message, error) {
	reg, err := r.lookup(payloadType)
	if err != nil {
		return nil, err
	}

	if revision == "" {
		revision = message.DefaultRevision
	}

	// Each step moves to a different revision, so a valid path has at
	// most one step per registered upcaster.
	for steps := 0; revision != reg.revision; steps++ {
		step, ok := reg.upcasters[revision]
		if !ok || steps > len(reg.upcasters) {
			return nil, fmt.Errorf("serde.Registry: no upcast path for %q from revision %s to %s",
				payloadType, revision, reg.revision)
		}

		if data, err = step.fn(data); err != nil {
			return nil, fmt.Errorf("serde.Registry: failed to upcast %q from revision %s, %w",
				payloadType, revision, err)
		}

		revision = step.to
	}

	msg, err := reg.decode(data)
	if err != nil {
		return nil, fmt.Errorf("serde.Registry: failed to decode %q, %w", payloadType, err)
	}

	return msg, nil
}
