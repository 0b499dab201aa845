package broker

import (
	"context"
	"sync"

	"github.com/get-eventually/eventledger/relay"
)

// Published is a payload acknowledged by an InMemory broker.
type Published struct {
	Subject  string
	TenantID string
	Payload  []byte
}

var _ relay.Publisher = new(InMemory)

// InMemory is a thread-safe relay.Publisher keeping everything published
// in memory, useful for tests and local runs.
type InMemory struct {
	mx        sync.RWMutex
	published []Published
	notify    chan struct{}
}

// NewInMemory returns a new InMemory broker.
func NewInMemory() *InMemory {
	return &InMemory{notify: make(chan struct{})}
}

// Publish implements relay.Publisher.
func (b *InMemory) Publish(ctx context.Context, subject, tenantID string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mx.Lock()
	defer b.mx.Unlock()

	b.published = append(b.published, Published{Subject: subject, TenantID: tenantID, Payload: payload})

	close(b.notify)
	b.notify = make(chan struct{})

	return nil
}

// Published returns everything published so far, in order.
func (b *InMemory) Published() []Published {
	b.mx.RLock()
	defer b.mx.RUnlock()

	published := make([]Published, len(b.published))
	copy(published, b.published)

	return published
}

// WaitFor blocks until at least n payloads have been published,
// or the context is done.
func (b *InMemory) WaitFor(ctx context.Context, n int) ([]Published, error) {
	for {
		b.mx.RLock()
		count, notify := len(b.published), b.notify
		b.mx.RUnlock()

		if count >= n {
			return b.Published(), nil
		}

		select {
		case <-notify:
		case <-ctx.Done():
			return b.Published(), ctx.Err()
		}
	}
}
