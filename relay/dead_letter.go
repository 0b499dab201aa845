package relay

import (
	"context"
	"sync"
	"time"
)

// DeadLetter is the operator-visible record of an event the Relay
// gave up publishing.
type DeadLetter struct {
	Consumer         string
	GlobalSequenceID int64
	TenantID         string
	StreamName       string
	SequenceNumber   int64
	PayloadType      string
	Subject          string
	Attempts         int
	Reason           string
	FailedAt         time.Time
}

// DeadLetterStore persists DeadLetters.
type DeadLetterStore interface {
	Record(ctx context.Context, dl DeadLetter) error
	List(ctx context.Context, consumer string) ([]DeadLetter, error)
}

var _ DeadLetterStore = new(InMemoryDeadLetters)

// InMemoryDeadLetters is a thread-safe, in-memory DeadLetterStore.
type InMemoryDeadLetters struct {
	mx      sync.RWMutex
	letters []DeadLetter
}

// Record implements DeadLetterStore.
func (s *InMemoryDeadLetters) Record(_ context.Context, dl DeadLetter) error {
	s.mx.Lock()
	defer s.mx.Unlock()

	s.letters = append(s.letters, dl)

	return nil
}

// List implements DeadLetterStore.
func (s *InMemoryDeadLetters) List(_ context.Context, consumer string) ([]DeadLetter, error) {
	s.mx.RLock()
	defer s.mx.RUnlock()

	var letters []DeadLetter

	for _, dl := range s.letters {
		if dl.Consumer == consumer {
			letters = append(letters, dl)
		}
	}

	return letters, nil
}
