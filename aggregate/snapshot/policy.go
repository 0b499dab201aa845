package snapshot

import (
	"sync"
	"time"

	"github.com/get-eventually/eventledger/version"
)

// Policy represents the behavior of the Snapshot functionality,
// advising on the frequency of the snapshots to take.
type Policy interface {
	// ShouldRecord is called after the Event Stream moved from the previous
	// to the current version.
	ShouldRecord(previous, current version.Version) bool
}

// NeverPolicy is a Snapshot Policy that never signals to take snapshots.
type NeverPolicy struct{}

// ShouldRecord always returns false.
func (NeverPolicy) ShouldRecord(_, _ version.Version) bool { return false }

// AlwaysPolicy is a Snapshot Policy that always signals to take snapshots.
type AlwaysPolicy struct{}

// ShouldRecord always returns true.
func (AlwaysPolicy) ShouldRecord(_, _ version.Version) bool { return true }

// EveryVersionIncrementPolicy is a Snapshot Policy that signals to take
// snapshots every version increment specified by this value.
//
// With EveryVersionIncrementPolicy(10), a snapshot is taken whenever a save
// crosses version 10, 20, 30 and so on, even if it does not land on them.
type EveryVersionIncrementPolicy version.Version

// ShouldRecord returns true when the save crossed a multiple of the increment.
func (p EveryVersionIncrementPolicy) ShouldRecord(previous, current version.Version) bool {
	if p <= 0 {
		return false
	}

	return current/version.Version(p) > previous/version.Version(p)
}

// AtFixedIntervalsPolicy is a Snapshot Policy that signals to take snapshots
// at most once per interval (e.g. every 1 hour).
type AtFixedIntervalsPolicy struct {
	interval time.Duration
	now      func() time.Time

	mx       sync.Mutex
	lastTime time.Time
}

// NewAtFixedIntervalsPolicy creates an AtFixedIntervalsPolicy instance
// with the specified time interval for Snapshot recordings.
func NewAtFixedIntervalsPolicy(interval time.Duration) *AtFixedIntervalsPolicy {
	return &AtFixedIntervalsPolicy{interval: interval, now: time.Now}
}

// ShouldRecord returns true on the first call, then once every interval.
func (p *AtFixedIntervalsPolicy) ShouldRecord(_, _ version.Version) bool {
	p.mx.Lock()
	defer p.mx.Unlock()

	now := p.now()
	if !p.lastTime.IsZero() && now.Sub(p.lastTime) < p.interval {
		return false
	}

	p.lastTime = now

	return true
}
