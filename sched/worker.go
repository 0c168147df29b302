package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// worker owns one run slot. It repeatedly picks a runnable task, grants
// it the slot, and waits for the slot to come back (on block, yield, or
// completion). The task body itself runs on the task's own stack, so a
// blocked task never holds the slot.
type worker struct {
	id    int
	s     *Scheduler
	local localQueue

	tick atomic.Uint64 // schedule counter, also the steal offset source

	mu      sync.Mutex
	current *Task
	since   time.Time
}

func (w *worker) run() {
	defer w.s.workerWG.Done()

	for {
		t := w.next()
		if t == nil {
			return
		}

		t.affinity = w.id
		w.setCurrent(t)
		t.state.Store(int32(StateRunning))

		t.grant <- struct{}{}
		<-t.release

		w.setCurrent(nil)
	}
}

// next returns a runnable task, parking until one shows up. It returns
// nil once the scheduler shuts its workers down.
func (w *worker) next() *Task {
	if t := w.findTask(); t != nil {
		return t
	}

	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.stopping {
			return nil
		}
		// Re-scan under the lock before every wait, otherwise a task
		// enqueued after the failed scan could be missed.
		if t := w.findTask(); t != nil {
			return t
		}
		s.cond.Wait()
	}
}

func (w *worker) findTask() *Task {
	tick := w.tick.Add(1)

	// Service the global queue periodically even when local work exists,
	// so globally queued tasks cannot starve.
	if tick%61 == 0 {
		if t := w.s.global.pop(); t != nil {
			return t
		}
	}

	if t := w.local.pop(); t != nil {
		return t
	}

	if t := w.takeGlobal(); t != nil {
		return t
	}

	return w.steal()
}

// takeGlobal grabs a fair share of the global queue into the local one.
func (w *worker) takeGlobal() *Task {
	s := w.s

	n := s.global.len()/len(s.workers) + 1
	if n > s.cfg.GlobalBatch {
		n = s.cfg.GlobalBatch
	}

	return s.global.popBatch(&w.local, n)
}

// steal takes half of some other worker's queue, starting from a
// pseudo-random victim to avoid always raiding the same one.
func (w *worker) steal() *Task {
	workers := w.s.workers
	offset := int(w.tick.Load()) % len(workers)

	for i := range workers {
		victim := workers[(w.id+offset+i+1)%len(workers)]
		if victim.id == w.id {
			continue
		}

		if t := victim.local.stealInto(&w.local); t != nil {
			return t
		}
	}

	return nil
}

func (w *worker) setCurrent(t *Task) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = t
	w.since = w.s.clock.Now()
}

func (w *worker) runningSince() (*Task, time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, w.since
}
