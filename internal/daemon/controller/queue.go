// Package controller drives dispatch groups from submission to a terminal
// state: sequencing, recovery and confirmation listening.
package controller

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// TaskKind identifies what a queued task does.
type TaskKind string

// Task kinds.
const (
	// TaskReconsider runs a sequencer pass over one group.
	TaskReconsider TaskKind = "reconsider"
	// TaskRecover reconciles every group against the chain.
	TaskRecover TaskKind = "recover"
	// TaskBatchUpdate re-fetches one batch after a notification.
	TaskBatchUpdate TaskKind = "batchUpdate"
)

// Task is one unit of work for the consumer loop. Tasks are compared by
// value, so the same task queued twice runs once.
type Task struct {
	Kind TaskKind
	Key  string
}

func (t Task) String() string {
	if t.Key == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + ":" + t.Key
}

// batchKey is the registry key of a batch-update subscription.
type batchKey struct {
	ChainID   int64
	BatchHash string
}

func (k batchKey) String() string {
	return fmt.Sprintf("%d/%s", k.ChainID, k.BatchHash)
}

func parseBatchKey(s string) (batchKey, error) {
	chain, hash, ok := strings.Cut(s, "/")
	if !ok || hash == "" {
		return batchKey{}, fmt.Errorf("invalid batch key %q", s)
	}
	id, err := strconv.ParseInt(chain, 10, 64)
	if err != nil {
		return batchKey{}, fmt.Errorf("invalid batch key %q", s)
	}
	return batchKey{ChainID: id, BatchHash: hash}, nil
}

// WorkQueue is a deduplicating task queue.
// Tasks added while the same task is being processed are re-queued
// when Done is called. This is inspired by the Kubernetes workqueue.
type WorkQueue struct {
	// queue is the ordered list of tasks to process
	queue []Task

	// dirty tracks tasks that need processing
	dirty map[Task]struct{}

	// processing tracks tasks currently being processed
	processing map[Task]struct{}

	// cond is used to signal when tasks are added
	cond *sync.Cond

	// shuttingDown indicates the queue is shutting down
	shuttingDown bool

	mu sync.Mutex
}

// NewWorkQueue creates a new work queue.
func NewWorkQueue() *WorkQueue {
	q := &WorkQueue{
		queue:      make([]Task, 0),
		dirty:      make(map[Task]struct{}),
		processing: make(map[Task]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add marks a task as needing processing. If the task is already
// queued or being processed, it runs once more after Done.
func (q *WorkQueue) Add(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shuttingDown {
		return
	}

	if _, exists := q.dirty[task]; exists {
		return
	}
	q.dirty[task] = struct{}{}

	// If being processed, it will be re-added when Done is called
	if _, exists := q.processing[task]; exists {
		return
	}

	q.queue = append(q.queue, task)
	q.cond.Signal()
}

// Get blocks until a task is ready, returning the task and whether
// the queue is shutting down.
func (q *WorkQueue) Get() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.shuttingDown {
		q.cond.Wait()
	}

	if q.shuttingDown {
		return Task{}, true
	}

	task := q.queue[0]
	q.queue = q.queue[1:]

	delete(q.dirty, task)
	q.processing[task] = struct{}{}

	return task, false
}

// Done marks a task as processed. If the task was re-added
// while being processed, it is re-queued.
func (q *WorkQueue) Done(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, task)

	if _, exists := q.dirty[task]; exists {
		q.queue = append(q.queue, task)
		q.cond.Signal()
	}
}

// Requeue adds the task back to the queue after processing fails.
// This is equivalent to calling Done() then Add().
func (q *WorkQueue) Requeue(task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.processing, task)

	if q.shuttingDown {
		return
	}

	q.dirty[task] = struct{}{}
	q.queue = append(q.queue, task)
	q.cond.Signal()
}

// Len returns the number of tasks in the queue.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// ShutDown signals the queue to stop processing.
func (q *WorkQueue) ShutDown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.shuttingDown = true
	q.cond.Broadcast()
}

// ShuttingDown returns true if the queue is shutting down.
func (q *WorkQueue) ShuttingDown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuttingDown
}
