package testutil

import "sync"

// TaskQueue is a hand-driven task spawner for deterministic tests.
//
// Pass Spawn wherever a component accepts a spawner (engine.WithSpawner).
// Spawned tasks do not run until the test calls RunNext or RunAll, so a test
// decides exactly which boundary call completes when.
//
// Thread-safety: all methods are safe for concurrent use.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

// NewTaskQueue creates an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{}
}

// Spawn queues task.
func (q *TaskQueue) Spawn(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// RunNext runs the oldest queued task on the caller's goroutine.
// Returns false if the queue is empty.
func (q *TaskQueue) RunNext() bool {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	q.mu.Unlock()

	task()
	return true
}

// RunAll runs the tasks queued at the time of the call, oldest first, and
// returns how many ran. Tasks spawned while running stay queued.
func (q *TaskQueue) RunAll() int {
	q.mu.Lock()
	batch := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range batch {
		task()
	}
	return len(batch)
}

// Discard drops every queued task without running it, as if the calls never
// returned.
func (q *TaskQueue) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks)
	q.tasks = nil
	return n
}

// Postpone moves the oldest queued task to the back of the queue, letting a
// test complete later calls first. Returns false if fewer than two tasks are
// queued.
func (q *TaskQueue) Postpone() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) < 2 {
		return false
	}
	first := q.tasks[0]
	q.tasks = append(q.tasks[1:], first)
	return true
}
