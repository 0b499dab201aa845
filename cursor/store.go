package cursor

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Store when no Cursor has been saved for a consumer yet.
var ErrNotFound = errors.New("cursor: not found")

// Store persists the Cursor of named consumers.
type Store interface {
	// Read returns the last Cursor written for the consumer, or ErrNotFound.
	Read(ctx context.Context, consumer string) (Cursor, error)

	// Write persists the Cursor for the consumer. Implementations must
	// not move a stored Cursor backwards.
	Write(ctx context.Context, consumer string, c Cursor) error
}

// ReadOrHead reads the consumer Cursor, falling back to the provided
// head Cursor when none was saved.
func ReadOrHead(ctx context.Context, store Store, consumer string, head Cursor) (Cursor, error) {
	c, err := store.Read(ctx, consumer)
	if errors.Is(err, ErrNotFound) {
		return head, nil
	}

	return c, err
}

var _ Store = new(InMemoryStore)

// InMemoryStore is a thread-safe, map-based Store, useful for tests
// and for consumers that can afford to restart from the head.
type InMemoryStore struct {
	mx      sync.RWMutex
	cursors map[string]Cursor
}

// NewInMemoryStore returns an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{cursors: make(map[string]Cursor)}
}

// Read implements Store.
func (s *InMemoryStore) Read(_ context.Context, consumer string) (Cursor, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	c, ok := s.cursors[consumer]
	if !ok {
		return Cursor{}, ErrNotFound
	}

	return c, nil
}

// Write implements Store.
func (s *InMemoryStore) Write(_ context.Context, consumer string, c Cursor) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if current, ok := s.cursors[consumer]; ok && current.GlobalSequenceID > c.GlobalSequenceID {
		return nil
	}

	s.cursors[consumer] = c

	return nil
}

// Fixed is a Store that always returns the same Cursor and ignores writes.
// Useful to replay the ledger from a known position.
type Fixed Cursor

// Read returns the fixed Cursor.
func (f Fixed) Read(context.Context, string) (Cursor, error) { return Cursor(f), nil }

// Write is a no-op.
func (Fixed) Write(context.Context, string, Cursor) error { return nil }
