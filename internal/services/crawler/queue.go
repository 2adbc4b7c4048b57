package crawler

import (
	"context"
	"sync"
	"time"
)

// taskQueue is the per-job FIFO frontier. Pending counts every admitted task
// until its processing finishes, including tasks parked in a retry backoff,
// so the one-shot idle notification only fires when the job truly has no
// work left anywhere.
type taskQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*PageTask
	pending int
	started bool
	closed  bool

	idle     chan struct{}
	idleOnce sync.Once
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{
		idle: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push admits a task to the back of the queue. Returns false when the queue
// is closed.
func (q *taskQueue) Push(task *PageTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, task)
	q.pending++
	q.started = true
	q.cond.Signal()
	return true
}

// Reserve claims a pending slot for a task that will arrive later, keeping
// the queue non-idle across a retry backoff.
func (q *taskQueue) Reserve() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending++
	q.started = true
}

// PushReserved enqueues a task whose slot was claimed with Reserve. If the
// queue has closed in the meantime the reservation is released and the task
// is dropped.
func (q *taskQueue) PushReserved(task *PageTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.releaseLocked()
		return false
	}
	q.items = append(q.items, task)
	q.cond.Signal()
	return true
}

// Release gives up a reservation without delivering its task.
func (q *taskQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked()
}

func (q *taskQueue) releaseLocked() {
	q.pending--
	q.checkIdleLocked()
}

// Pop removes and returns the oldest task, blocking until one is available.
// Returns nil when the queue is closed or the context ends.
//
// Waiting uses a timer-assisted condition wait instead of a watcher
// goroutine so an abandoned Pop cannot leak.
func (q *taskQueue) Pop(ctx context.Context) (*PageTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	const recheckInterval = time.Second

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if q.closed {
			return nil, nil
		}

		if len(q.items) > 0 {
			task := q.items[0]
			q.items = q.items[1:]
			return task, nil
		}

		timer := time.AfterFunc(recheckInterval, func() {
			q.cond.Broadcast()
		})
		q.cond.Wait()
		timer.Stop()
	}
}

// Done marks one admitted task as fully processed. Workers call it after the
// task reached an outcome and any retry was already re-admitted, so pending
// only reaches zero when no work remains.
func (q *taskQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	q.checkIdleLocked()
}

func (q *taskQueue) checkIdleLocked() {
	if q.started && q.pending <= 0 {
		q.idleOnce.Do(func() {
			close(q.idle)
		})
	}
}

// Idle returns a channel closed exactly once, when at least one task was
// admitted and all admitted tasks have finished.
func (q *taskQueue) Idle() <-chan struct{} {
	return q.idle
}

// Size returns the number of queued, not yet dequeued tasks.
func (q *taskQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns the number of admitted tasks that have not finished.
func (q *taskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Clear drops all queued tasks. In-flight tasks are unaffected and still
// count as pending until their workers call Done.
func (q *taskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending -= len(q.items)
	q.items = nil
	q.checkIdleLocked()
}

// Close stops admission and wakes every waiting Pop.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
