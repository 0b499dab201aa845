// Package message exposes the generic Message type, used to represent
// a message in a system (e.g. Event, Command, etc.).
package message

// DefaultRevision is the payload revision used by Messages that do not
// implement the Revisioned interface.
const DefaultRevision = "1.0"

// Message is a Message payload.
//
// Each payload should have a unique name identifier, that can be used
// to uniquely route a message to its type. The name is also used as the
// payload type discriminator when the Message gets serialized.
type Message interface {
	Name() string
}

// Revisioned can be implemented by a Message to declare the revision of its
// payload schema, in "major.minor" form.
type Revisioned interface {
	Message
	Revision() string
}

// Revision returns the payload revision of the Message, or DefaultRevision
// if the Message does not declare one.
func Revision(msg Message) string {
	if r, ok := msg.(Revisioned); ok && r.Revision() != "" {
		return r.Revision()
	}

	return DefaultRevision
}

// Metadata contains some data related to a Message that are not functional
// for the Message itself, but instead functioning as supporting information
// to provide additional context.
type Metadata map[string]string

// With returns a new Metadata reference holding the value addressed using
// the specified key.
func (m Metadata) With(key, value string) Metadata {
	if m == nil {
		m = make(Metadata)
	}

	m[key] = value

	return m
}

// Get returns the value addressed by key, or an empty string.
func (m Metadata) Get(key string) string { return m[key] }

// Merge merges the other Metadata provided in input with the current map.
// Returns a pointer to the extended metadata map.
func (m Metadata) Merge(other Metadata) Metadata {
	if m == nil {
		m = make(Metadata, len(other))
	}

	for k, v := range other {
		m[k] = v
	}

	return m
}

// Clone returns a shallow copy of the Metadata, so that the copy can
// be extended without affecting the original map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}

	return make(Metadata, len(m)).Merge(m)
}

// GenericEnvelope is an Envelope type that can be used when the concrete
// Message type in the Envelope is not of interest.
type GenericEnvelope Envelope[Message]

// Envelope bundles a Message to be exchanged with optional Metadata support.
type Envelope[T Message] struct {
	Message  T
	Metadata Metadata
}

// ToGenericEnvelope maps the Envelope instance into a GenericEnvelope one.
func (e Envelope[T]) ToGenericEnvelope() GenericEnvelope {
	return GenericEnvelope{
		Message:  e.Message,
		Metadata: e.Metadata,
	}
}
