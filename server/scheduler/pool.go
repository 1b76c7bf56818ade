// Package scheduler provides the shared worker pool and the timer service that feeds it.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
)

// ErrPoolClosed is returned by Submit after Shutdown or Abort.
var ErrPoolClosed = errors.New("worker pool is closed")

// DefaultPoolSize is used when a non-positive size is given.
func DefaultPoolSize() int {
	return max(runtime.NumCPU(), 4)
}

// Pool runs submitted tasks on a fixed set of workers. The queue is unbounded and FIFO;
// Submit never blocks.
type Pool struct {
	logger logging.Logger
	size   int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	closed  bool
	aborted bool

	group *errgroup.Group
	done  chan struct{}
}

// NewPool starts size workers.
func NewPool(size int, logger logging.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	p := &Pool{
		logger: logger,
		size:   size,
		group:  new(errgroup.Group),
		done:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < size; i++ {
		p.group.Go(p.work)
	}
	go func() {
		_ = p.group.Wait()
		close(p.done)
	}()
	return p
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Submit queues fn. It fails with ErrPoolClosed once shutdown has begun.
func (p *Pool) Submit(fn func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, fn)
	p.cond.Signal()
	return nil
}

// Pending is the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 || p.aborted {
		return nil, false
	}
	fn := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return fn, true
}

func (p *Pool) work() error {
	for {
		fn, ok := p.next()
		if !ok {
			return nil
		}
		p.run(fn)
	}
}

func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.LogError("Worker task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Shutdown stops intake and waits for every queued task to run. It returns ctx.Err() if
// ctx ends first; the workers keep draining in the background.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "failed to drain worker pool")
	}
}

// Abort stops intake, drops every queued task and waits for running tasks to finish.
func (p *Pool) Abort() {
	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	p.closed = true
	p.aborted = true
	p.cond.Broadcast()
	p.mu.Unlock()

	if dropped > 0 {
		p.logger.LogWarn("Dropped pending tasks on abort", "count", dropped)
	}
	<-p.done
}
