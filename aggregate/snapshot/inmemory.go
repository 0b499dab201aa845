package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/get-eventually/eventledger/event"
)

var _ Store = new(InMemoryStore)

// InMemoryStore is a map-based, thread-safe inmemory Snapshot store.
//
// Since there is no entry eviction, it is suggested to use this store
// only for test scenarios.
type InMemoryStore struct {
	mx        sync.RWMutex
	snapshots map[event.StreamID]Snapshot
}

// NewInMemoryStore returns a fresh new instance of an the InMemoryStore snapshot store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snapshots: make(map[event.StreamID]Snapshot)}
}

// Record keeps the snapshot unless a newer one was already recorded.
func (s *InMemoryStore) Record(_ context.Context, id event.StreamID, snapshot Snapshot) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if current, ok := s.snapshots[id]; ok && current.Version > snapshot.Version {
		return nil
	}

	if snapshot.RecordedAt.IsZero() {
		snapshot.RecordedAt = time.Now().UTC()
	}

	s.snapshots[id] = snapshot

	return nil
}

// Get returns the latest Snapshot recorded for the stream, or ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, id event.StreamID) (Snapshot, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	if snap, ok := s.snapshots[id]; ok {
		return snap, nil
	}

	return Snapshot{}, ErrNotFound
}
