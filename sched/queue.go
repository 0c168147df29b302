package sched

import "sync"

// localQueueSize bounds each worker's run queue. Overflow spills to the
// global queue.
const localQueueSize = 256

// localQueue is a fixed-size FIFO ring owned by one worker. Other
// workers only touch it through stealInto.
type localQueue struct {
	mu   sync.Mutex
	ring [localQueueSize]*Task

	head, tail uint32 // head: next pop, tail: next push
}

func (q *localQueue) push(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.tail-q.head >= localQueueSize {
		return false
	}

	q.ring[q.tail%localQueueSize] = t
	q.tail++
	return true
}

func (q *localQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == q.tail {
		return nil
	}

	t := q.ring[q.head%localQueueSize]
	q.ring[q.head%localQueueSize] = nil
	q.head++
	return t
}

func (q *localQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

// stealInto takes half of q (rounded up) and moves it into dst, which
// must belong to the thief. The oldest stolen task is returned for
// immediate execution.
func (q *localQueue) stealInto(dst *localQueue) *Task {
	q.mu.Lock()

	n := (q.tail - q.head + 1) / 2
	if n == 0 {
		q.mu.Unlock()
		return nil
	}

	batch := make([]*Task, 0, n)
	for i := uint32(0); i < n; i++ {
		batch = append(batch, q.ring[q.head%localQueueSize])
		q.ring[q.head%localQueueSize] = nil
		q.head++
	}
	q.mu.Unlock()

	for _, t := range batch[1:] {
		if !dst.push(t) {
			// Thief's queue filled up mid-transfer. Spill the rest.
			t.s.global.push(t)
		}
	}

	return batch[0]
}

// globalQueue is the unbounded scheduler-wide FIFO.
type globalQueue struct {
	mu    sync.Mutex
	tasks []*Task
	head  int
}

func (q *globalQueue) push(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

func (q *globalQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *globalQueue) popLocked() *Task {
	if q.head == len(q.tasks) {
		return nil
	}

	t := q.tasks[q.head]
	q.tasks[q.head] = nil
	q.head++

	if q.head == len(q.tasks) {
		q.tasks = q.tasks[:0]
		q.head = 0
	}
	return t
}

// popBatch moves up to max tasks into dst and returns the first one.
func (q *globalQueue) popBatch(dst *localQueue, max int) *Task {
	q.mu.Lock()

	first := q.popLocked()
	if first == nil {
		q.mu.Unlock()
		return nil
	}

	batch := make([]*Task, 0, max-1)
	for len(batch) < max-1 {
		t := q.popLocked()
		if t == nil {
			break
		}
		batch = append(batch, t)
	}
	q.mu.Unlock()

	for i, t := range batch {
		if !dst.push(t) {
			// No room left. Put the remainder back.
			q.mu.Lock()
			q.tasks = append(q.tasks, batch[i:]...)
			q.mu.Unlock()
			break
		}
	}

	return first
}

func (q *globalQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) - q.head
}
