package sched

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool is a [Scheduler] backed by a fixed number of worker goroutines.
//
// Tasks are queued without bound, so Submit never blocks. Close stops the workers once every
// queued task has been run.
type Pool struct {
	logger  *slog.Logger
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []queuedTask
	closed bool
	wg     sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64
}

type queuedTask struct {
	task   Task
	origin StackTrace
}

// PoolStats is a snapshot of a Pool's counters
type PoolStats struct {
	Workers   int
	Queued    int
	Submitted uint64
	Completed uint64
	Panicked  uint64
}

// NewPool starts a Pool with the given number of workers. A workers value <= 0 uses
// runtime.GOMAXPROCS(0). A nil logger uses slog.Default().
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		logger:  logger.With("component", "sched.Pool"),
		workers: workers,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i += 1 {
		go p.worker(i)
	}

	p.logger.Debug("pool started", "workers", workers)
	return p
}

// Submit queues the task. If the pool has been closed, the task is not run and its Done receives
// ErrPoolClosed before Submit returns.
func (p *Pool) Submit(task Task) {
	// skip Submit itself, so the parent stack starts at the caller
	origin := GetStackTrace(nil, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if task.Done != nil {
			task.Done(ErrPoolClosed)
		}
		return
	}
	p.queue = append(p.queue, queuedTask{task: task, origin: origin})
	p.submitted.Add(1)
	p.mu.Unlock()

	p.cond.Signal()
}

// Close stops accepting tasks and blocks until every queued task has finished. Close is
// idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
	p.logger.Debug("pool stopped", "completed", p.completed.Load(), "panicked", p.panicked.Load())
}

// Stats returns a snapshot of the pool's counters
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()

	return PoolStats{
		Workers:   p.workers,
		Queued:    queued,
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// closed and drained
			p.mu.Unlock()
			return
		}
		qt := p.queue[0]
		p.queue[0] = queuedTask{}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(id, qt)
	}
}

func (p *Pool) run(worker int, qt queuedTask) {
	err := p.call(qt)
	p.completed.Add(1)

	if pe, ok := err.(*PanicError); ok {
		p.panicked.Add(1)
		p.logger.Error("task panicked",
			"worker", worker,
			"task", qt.task.Name,
			"panic", pe.Value,
			"at", pe.Stack.Top().Function,
		)
	}

	if qt.task.Done != nil {
		qt.task.Done(err)
	}
}

func (p *Pool) call(qt queuedTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Task:  qt.task.Name,
				Value: r,
				// skip this deferred func and runtime.gopanic
				Stack: GetStackTrace(&qt.origin, 2),
			}
		}
	}()

	return qt.task.Run()
}
