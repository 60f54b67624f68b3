package session

import (
	"sync"
)

// Executor sizing constants.
const (
	// DefaultExecutorWorkers is the conservative worker count used when no
	// commit executor size is configured.
	DefaultExecutorWorkers = 5

	// executorQueueFactor sizes the task queue relative to the worker
	// count. Submissions beyond it block, which bounds memory under a
	// finalization burst.
	executorQueueFactor = 4
)

// Executor is the bounded worker pool that runs blocking finalization work
// (commit, rollback, close) off the caller's scheduling goroutine.
//
// The underlying access library's operations are synchronous I/O; running
// them on dedicated workers keeps an event-driven control goroutine from
// stalling while an unrelated context tears down. Multiple sessions may
// finalize concurrently on different workers; per-session ordering is the
// session's own concern.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Executor struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewExecutor creates and starts a bounded worker pool.
//
// Parameters:
//   - workers: Worker goroutine count; values < 1 fall back to
//     DefaultExecutorWorkers
//
// Returns:
//   - *Executor: Running executor; stop it with Close
func NewExecutor(workers int) *Executor {
	if workers < 1 {
		workers = DefaultExecutorWorkers
	}

	x := &Executor{
		tasks: make(chan func(), workers*executorQueueFactor),
	}

	x.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go x.worker()
	}
	return x
}

// worker drains the task queue until Close.
func (x *Executor) worker() {
	defer x.wg.Done()
	for task := range x.tasks {
		task()
	}
}

// Submit queues a task for execution, blocking if the queue is full.
//
// Returns:
//   - error: ErrExecutorClosed if the executor has shut down
func (x *Executor) Submit(task func()) error {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return ErrExecutorClosed
	}
	x.tasks <- task
	return nil
}

// Close stops the executor after draining queued tasks.
//
// Blocks until every in-flight finalization has completed, so shutdown
// never abandons a close that has begun. Idempotent.
func (x *Executor) Close() {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return
	}
	x.closed = true
	close(x.tasks)
	x.mu.Unlock()

	x.wg.Wait()
}
