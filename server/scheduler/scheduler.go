package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/wiggin77/matrix-appservice-bridge/server/logging"
)

// ErrSchedulerClosed is returned by Schedule after Shutdown.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Submitter runs tasks; *Pool satisfies it.
type Submitter interface {
	Submit(fn func()) error
}

type task struct {
	at     time.Time
	seq    uint64
	fn     func()
	signal chan struct{}
}

// taskHeap orders by deadline, then by scheduling order.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler is the process-wide timer service. Due tasks are handed to the pool; one
// goroutine waits on the earliest deadline.
type Scheduler struct {
	pool   Submitter
	logger logging.Logger

	mu     sync.Mutex
	tasks  taskHeap
	seq    uint64
	closed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	now func() time.Time
}

// New starts the timer goroutine.
func New(pool Submitter, logger logging.Logger) *Scheduler {
	s := &Scheduler{
		pool:   pool,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go s.loop()
	return s
}

// Schedule runs fn on the pool at or shortly after at.
func (s *Scheduler) Schedule(at time.Time, fn func()) error {
	return s.push(&task{at: at, fn: fn})
}

// Signal returns a channel that is closed once d has elapsed. The channel is closed by the
// timer goroutine, not the pool, so a caller blocked on a pool worker is still woken when
// every worker is busy. Shutdown closes any channel still pending.
func (s *Scheduler) Signal(d time.Duration) (<-chan struct{}, error) {
	ch := make(chan struct{})
	if err := s.push(&task{at: s.now().Add(d), signal: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *Scheduler) push(t *task) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.seq++
	t.seq = s.seq
	heap.Push(&s.tasks, t)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// After runs fn on the pool once d has elapsed.
func (s *Scheduler) After(d time.Duration, fn func()) error {
	return s.Schedule(s.now().Add(d), fn)
}

// Len is the number of tasks waiting for their deadline.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Scheduler) loop() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait := s.dispatchDue()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// dispatchDue submits every task whose deadline has passed and returns how long to wait
// for the next one.
func (s *Scheduler) dispatchDue() time.Duration {
	s.mu.Lock()
	now := s.now()
	var due []*task
	for len(s.tasks) > 0 && !s.tasks[0].at.After(now) {
		due = append(due, heap.Pop(&s.tasks).(*task))
	}
	wait := time.Hour
	if len(s.tasks) > 0 {
		wait = s.tasks[0].at.Sub(now)
	}
	s.mu.Unlock()

	for _, t := range due {
		s.submit(t)
	}
	return wait
}

func (s *Scheduler) submit(t *task) {
	if t.signal != nil {
		close(t.signal)
		return
	}
	if err := s.pool.Submit(t.fn); err != nil {
		s.logger.LogWarn("Failed to submit scheduled task", "error", err.Error())
	}
}

// Shutdown stops the timer, submits every task due at or before now, releases every
// pending Signal and cancels the rest.
// Further scheduling fails with ErrSchedulerClosed.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	s.mu.Lock()
	now := s.now()
	var due []*task
	for len(s.tasks) > 0 && !s.tasks[0].at.After(now) {
		due = append(due, heap.Pop(&s.tasks).(*task))
	}
	var cancelled int
	for _, t := range s.tasks {
		if t.signal != nil {
			due = append(due, t)
		} else {
			cancelled++
		}
	}
	s.tasks = nil
	s.mu.Unlock()

	for _, t := range due {
		s.submit(t)
	}
	if cancelled > 0 {
		s.logger.LogInfo("Cancelled scheduled tasks on shutdown", "count", cancelled, "ran", len(due))
	}
}
