package postgres

import "time"

// Option can be used to change the configuration of an object.
type Option[T any] interface {
	apply(T)
}

type option[T any] func(T)

func newOption[T any](f func(T)) option[T] { return option[T](f) }

func (apply option[T]) apply(val T) { apply(val) }

type clocked interface {
	setClock(now func() time.Time)
}

// WithClock overrides the clock used to timestamp the rows written
// by a store. Timestamps are truncated to the microsecond precision of
// PostgreSQL.
func WithClock[T clocked](now func() time.Time) Option[T] {
	return newOption(func(store T) {
		store.setClock(now)
	})
}

type clock struct {
	now func() time.Time
}

func (c *clock) setClock(now func() time.Time) { c.now = now }

func (c *clock) timestamp() time.Time {
	now := time.Now
	if c.now != nil {
		now = c.now
	}

	return now().UTC().Truncate(time.Microsecond)
}
