package concurrency

import (
	"context"
	"errors"
	"sync"

	"latencyd/src/logging"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned by Submit when the backlog is at capacity.
	ErrQueueFull = errors.New("task queue is full")
	// ErrQueueClosed is returned by Submit after Close.
	ErrQueueClosed = errors.New("task queue is closed")
)

// Task is a detached unit of work. Its context is the queue's, never the
// context of the request that submitted it.
type Task func(ctx context.Context)

type namedTask struct {
	name string
	fn   Task
}

// TaskQueue runs fire-and-forget tasks on a fixed set of workers.
type TaskQueue struct {
	tasks  chan namedTask
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewTaskQueue starts workers goroutines draining a backlog of size queueSize.
func NewTaskQueue(workers, queueSize int) *TaskQueue {
	workers = max(workers, 1)
	ctx, cancel := context.WithCancel(context.Background())
	q := &TaskQueue{
		tasks:  make(chan namedTask, max(queueSize, 0)),
		ctx:    ctx,
		cancel: cancel,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		GoSafe(q.work)
	}
	return q
}

func (q *TaskQueue) work() {
	defer q.wg.Done()
	for t := range q.tasks {
		if !Run(func() { t.fn(q.ctx) }) {
			logging.Log.WithField("task", t.name).Warn("background task panicked")
		}
	}
}

// Submit enqueues fn without waiting for it to run. It never blocks: a full
// backlog rejects the task with ErrQueueFull.
func (q *TaskQueue) Submit(name string, fn Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- namedTask{name: name, fn: fn}:
		return nil
	default:
		logging.Log.WithFields(logrus.Fields{
			"task":    name,
			"backlog": cap(q.tasks),
		}).Warn("task queue full, dropping task")
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for queued ones to finish or for ctx
// to expire. Tasks still running when ctx expires see their context cancelled.
func (q *TaskQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
