package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Task is a unit of work that can be run asynchronously.
type Task func(ctx context.Context) error

// Wrapped is a Task bound to the tenant context captured when it was wrapped.
type Wrapped struct {
	info Info
	set  bool
	task Task
}

// Wrap captures the tenant context of ctx at wrap time. The returned task
// re-establishes it on whatever worker runs it.
func Wrap(ctx context.Context, task Task) Wrapped {
	info, ok := FromContext(ctx)
	return Wrapped{info: info, set: ok, task: task}
}

// Info returns the captured tenant context.
func (w Wrapped) Info() (Info, bool) { return w.info, w.set }

// RunOn runs the task on the provided worker Carrier, restoring the
// Carrier previous state once the task returns.
func (w Wrapped) RunOn(ctx context.Context, c *Carrier) error {
	if !w.set {
		return c.RunWithout(ctx, w.task)
	}

	return c.RunWith(ctx, w.info, w.task)
}

// Run runs the task on a throwaway Carrier, e.g. from a plain goroutine.
func (w Wrapped) Run(ctx context.Context) error {
	return w.RunOn(ctx, new(Carrier))
}

// ErrPoolClosed is returned when submitting to a closed Pool.
var ErrPoolClosed = errors.New("tenant.Pool: pool is closed")

type job struct {
	ctx  context.Context
	run  func(ctx context.Context, c *Carrier) error
	done chan error
}

// Pool is a fixed-size worker pool where each worker owns a Carrier.
//
// Tasks submitted with Submit run with no tenant context, whatever the
// tenant context of the submitter or of the previous task on the same worker.
// Use SubmitWrapped to propagate the tenant context of the submitter.
type Pool struct {
	jobs    chan job
	closing chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewPool starts a Pool with the specified number of workers.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := &Pool{
		jobs:    make(chan job),
		closing: make(chan struct{}),
	}

	p.wg.Add(workers)

	for i := 0; i < workers; i++ {
		go p.work()
	}

	return p
}

func (p *Pool) work() {
	defer p.wg.Done()

	carrier := new(Carrier)

	for {
		select {
		case j := <-p.jobs:
			j.done <- runSafely(j, carrier)
		case <-p.closing:
			return
		}
	}
}

func runSafely(j job, c *Carrier) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tenant.Pool: task panicked, %v", r)
		}
	}()

	return j.run(j.ctx, c)
}

// submit hands the job to a worker. A job is either received by a worker,
// which then runs it, or rejected: submitters blocked on busy workers
// are released by Close with ErrPoolClosed.
func (p *Pool) submit(ctx context.Context, run func(ctx context.Context, c *Carrier) error) <-chan error {
	done := make(chan error, 1)

	select {
	case <-p.closing:
		done <- ErrPoolClosed
		return done
	default:
	}

	select {
	case p.jobs <- job{ctx: ctx, run: run, done: done}:
	case <-p.closing:
		done <- ErrPoolClosed
	case <-ctx.Done():
		done <- fmt.Errorf("tenant.Pool: failed to submit task, %w", ctx.Err())
	}

	return done
}

// Submit runs an unwrapped task on the pool. The task observes no tenant context.
func (p *Pool) Submit(ctx context.Context, task Task) <-chan error {
	return p.submit(ctx, func(ctx context.Context, c *Carrier) error {
		return c.RunWithout(ctx, task)
	})
}

// SubmitWrapped runs a Wrapped task on the pool, under the tenant context it captured.
func (p *Pool) SubmitWrapped(ctx context.Context, task Wrapped) <-chan error {
	return p.submit(ctx, task.RunOn)
}

// Close stops accepting tasks and waits for the running ones to complete.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.closing) })
	p.wg.Wait()
}
