package tenant

import (
	"context"
	"sync"
)

// Carrier holds the tenant context of a single worker.
//
// The zero value is ready to use and holds no tenant context.
type Carrier struct {
	mx   sync.Mutex
	info Info
	set  bool
}

// Current returns the tenant Info held by the Carrier, if any.
func (c *Carrier) Current() (Info, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.info, c.set
}

// Set replaces the tenant Info held by the Carrier.
func (c *Carrier) Set(info Info) {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.info, c.set = info, true
}

// Clear removes the tenant Info held by the Carrier.
func (c *Carrier) Clear() {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.info, c.set = Info{}, false
}

func (c *Carrier) restore(info Info, set bool) {
	if set {
		c.Set(info)
		return
	}

	c.Clear()
}

// Context returns ctx carrying the Carrier's tenant Info, or explicitly
// no tenant Info if the Carrier holds none.
func (c *Carrier) Context(ctx context.Context) context.Context {
	if info, ok := c.Current(); ok {
		return WithInfo(ctx, info)
	}

	return WithoutInfo(ctx)
}

// RunWith runs fn with the Carrier set to info, and restores the previous
// state of the Carrier on every return path, panics included.
func (c *Carrier) RunWith(ctx context.Context, info Info, fn func(ctx context.Context) error) error {
	prev, wasSet := c.Current()
	c.Set(info)

	defer c.restore(prev, wasSet)

	return fn(WithInfo(ctx, info))
}

// RunWithout runs fn with the Carrier cleared, restoring the previous state afterwards.
func (c *Carrier) RunWithout(ctx context.Context, fn func(ctx context.Context) error) error {
	prev, wasSet := c.Current()
	c.Clear()

	defer c.restore(prev, wasSet)

	return fn(WithoutInfo(ctx))
}
