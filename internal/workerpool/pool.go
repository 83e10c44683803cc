// Package workerpool implements a bounded worker pool built as a classic
// monitor: a fixed-capacity ring buffer protected by one mutex and two
// condition variables, drained by a fixed number of executor goroutines.
//
// This is deliberately not a channel-based pool. The contract this
// package implements calls for an explicit queue with its own
// front/rear/count indices and task ids assigned under the pool's own
// lock — properties a Go channel does not expose. The shape mirrors the
// classic thread_pool_t bounded-buffer monitor. Shutdown wakes waiters
// with condition-variable broadcasts; a channel is used only to bound the
// wait for executors to exit.
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxermolaev/cache-proxy-go/internal/logging"
)

// ErrQueueFull is never actually returned by Submit — Submit blocks on a
// full queue rather than failing fast — it is returned by TrySubmit, the
// non-blocking variant callers can use when they want to observe
// backpressure instead of waiting on it.
var ErrQueueFull = errors.New("workerpool: task queue full")

// Routine is the unit of work an executor runs. It returns nothing; if it
// panics, the executor recovers, counts the task as failed and logs it, so
// a single misbehaving task cannot bring down the pool.
type Routine func()

type task struct {
	id      int64
	routine Routine
}

// Config configures a Pool's fixed topology. Both fields are required at
// construction; there are no package-level defaults because the caller
// (internal/config) already resolved environment-driven sizing.
type Config struct {
	// ExecutorCount is the number of executor goroutines kept running for
	// the pool's lifetime.
	ExecutorCount int
	// QueueCapacity bounds how many tasks may be queued before Submit
	// blocks.
	QueueCapacity int
}

// Stats is a point-in-time snapshot of pool activity, exposed for the
// admin surface.
type Stats struct {
	ExecutorCount int
	QueueCapacity int
	QueueLength   int
	Submitted     int64
	Completed     int64
	Failed        int64
}

// Pool is a bounded, fixed-size worker pool.
type Pool struct {
	cfg Config

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf   []task
	front int
	rear  int
	count int

	shutdown int32 // atomic bool

	nextID int64 // guarded by mu

	submitted int64
	completed int64
	failed    int64

	wg sync.WaitGroup
}

// New constructs a Pool and immediately starts its executors. Both
// ExecutorCount and QueueCapacity must be positive.
func New(cfg Config) (*Pool, error) {
	if cfg.ExecutorCount <= 0 {
		return nil, fmt.Errorf("workerpool: executor count must be positive, got %d", cfg.ExecutorCount)
	}
	if cfg.QueueCapacity <= 0 {
		return nil, fmt.Errorf("workerpool: queue capacity must be positive, got %d", cfg.QueueCapacity)
	}

	p := &Pool{
		cfg: cfg,
		buf: make([]task, cfg.QueueCapacity),
	}
	p.notEmpty = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)

	for i := 0; i < cfg.ExecutorCount; i++ {
		p.wg.Add(1)
		go p.executorRoutine(i)
	}

	return p, nil
}

// Submit enqueues a task, blocking while the queue is full. If a shutdown
// is already in progress, Submit returns silently without enqueueing —
// this matches the reference semantics where a stopping pool drops late
// submissions rather than erroring the caller.
func (p *Pool) Submit(routine Routine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.count == len(p.buf) && atomic.LoadInt32(&p.shutdown) == 0 {
		p.notFull.Wait()
	}

	if atomic.LoadInt32(&p.shutdown) != 0 {
		return
	}

	id := p.nextID
	p.nextID++

	p.buf[p.rear] = task{id: id, routine: routine}
	p.rear = (p.rear + 1) % len(p.buf)
	p.count++
	atomic.AddInt64(&p.submitted, 1)

	p.notEmpty.Signal()
}

// TrySubmit enqueues a task without blocking, returning ErrQueueFull if the
// queue is currently at capacity. It is the admission-control primitive
// available to callers (e.g. the transport accept loop) that would rather
// reject work than block the caller's own goroutine.
func (p *Pool) TrySubmit(routine Routine) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if atomic.LoadInt32(&p.shutdown) != 0 {
		return errors.New("workerpool: pool is shutting down")
	}
	if p.count == len(p.buf) {
		return ErrQueueFull
	}

	id := p.nextID
	p.nextID++

	p.buf[p.rear] = task{id: id, routine: routine}
	p.rear = (p.rear + 1) % len(p.buf)
	p.count++
	atomic.AddInt64(&p.submitted, 1)

	p.notEmpty.Signal()
	return nil
}

// Shutdown sets the shutdown flag, wakes every blocked submitter and
// executor, then waits up to grace for executors to drain in-flight tasks
// and exit. Calling Shutdown more than once is not supported, matching the
// pool's own "idempotent call is undefined" contract.
func (p *Pool) Shutdown(grace time.Duration) {
	atomic.StoreInt32(&p.shutdown, 1)

	p.mu.Lock()
	p.notEmpty.Broadcast()
	p.notFull.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		logging.Log("Worker pool shutdown grace period elapsed with executors still running; detaching")
	}
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	length := p.count
	p.mu.Unlock()

	return Stats{
		ExecutorCount: p.cfg.ExecutorCount,
		QueueCapacity: p.cfg.QueueCapacity,
		QueueLength:   length,
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Failed:        atomic.LoadInt64(&p.failed),
	}
}

func (p *Pool) executorRoutine(index int) {
	defer p.wg.Done()

	logging.SetGoroutineName(fmt.Sprintf("thread-pool-%d", index))
	defer logging.ClearGoroutineName()

	for {
		p.mu.Lock()
		for p.count == 0 && atomic.LoadInt32(&p.shutdown) == 0 {
			p.notEmpty.Wait()
		}

		if atomic.LoadInt32(&p.shutdown) != 0 {
			// Matches the reference monitor's pseudocode exactly: shutdown
			// is checked immediately after the wait loop breaks, before
			// any pending task is dequeued. Tasks already queued but not
			// yet picked up by an executor are dropped, not drained;
			// only tasks already running to completion finish.
			p.mu.Unlock()
			return
		}

		t := p.buf[p.front]
		p.front = (p.front + 1) % len(p.buf)
		p.count--
		p.notFull.Signal()
		p.mu.Unlock()

		p.runTask(t)
	}
}

// runTask executes a single task outside the pool lock, recovering from
// any panic so one misbehaving task cannot take down an executor.
func (p *Pool) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&p.failed, 1)
			logging.Log("Task %d panicked: %v", t.id, r)
		}
	}()

	logging.Log("Start executing task %d", t.id)
	t.routine()
	atomic.AddInt64(&p.completed, 1)
	logging.Log("Finish executing task %d", t.id)
}
