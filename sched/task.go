package sched

import (
	"context"
	"runtime/debug"
	"sync/atomic"
)

// State is the scheduling state of a task.
type State int32

const (
	// StateRunnable means the task waits on a run queue for a worker slot.
	StateRunnable State = iota
	// StateRunning means the task occupies a worker slot.
	StateRunning
	// StateBlocked means the task waits for an external event (I/O
	// readiness, timer) and occupies no worker slot.
	StateBlocked
	// StateDone means the task body returned.
	StateDone
	// StatePanicked means the task body panicked. The panic is reported
	// through the scheduler's fault channel, not propagated.
	StatePanicked
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateDone:
		return "done"
	case StatePanicked:
		return "panicked"
	}
	return "unknown"
}

// WaitReason describes what a blocked task is waiting for.
type WaitReason int32

const (
	WaitNone WaitReason = iota
	WaitRead
	WaitWrite
	WaitAccept
	WaitConnect
	WaitTimer
)

// Task is a lightweight unit of sequential execution, cooperatively
// multiplexed onto worker slots. It is created by [Scheduler.Go] and runs
// on exactly one worker at a time.
type Task struct {
	id uint64
	s  *Scheduler

	state  atomic.Int32
	reason atomic.Int32

	// grant is signaled by a worker handing this task a run slot.
	// release is signaled by the task returning the slot (on block,
	// yield, or completion).
	grant   chan struct{}
	release chan struct{}

	preempt  atomic.Bool
	affinity int // index of the worker that last ran this task

	body func(ctx context.Context)
}

func (t *Task) ID() uint64   { return t.id }
func (t *Task) State() State { return State(t.state.Load()) }

func (t *Task) run() {
	<-t.grant
	defer t.finish()
	t.body(newContext(t.s.baseCtx, t))
}

func (t *Task) finish() {
	if v := recover(); v != nil {
		t.state.Store(int32(StatePanicked))
		t.s.reportFault(Fault{TaskID: t.id, Value: v, Stack: debug.Stack()})
	} else {
		t.state.Store(int32(StateDone))
	}
	t.release <- struct{}{}
	t.s.tasks.Add(-1)
	t.s.wg.Done()
}

// Unslot releases the task's worker slot so the worker can run other
// runnable tasks while this one waits. The returned reslot function must
// be called exactly once; it re-enters the run queue and blocks until a
// worker grants a slot again.
func (t *Task) Unslot(reason WaitReason) (reslot func()) {
	t.reason.Store(int32(reason))
	t.state.Store(int32(StateBlocked))
	t.release <- struct{}{}

	return func() {
		t.reason.Store(int32(WaitNone))
		t.state.Store(int32(StateRunnable))
		t.s.ready(t)
		<-t.grant
	}
}

// Yield returns the slot and re-enqueues the task on the global queue,
// giving other runnable tasks a chance to run.
func (t *Task) Yield() {
	t.preempt.Store(false)
	t.state.Store(int32(StateRunnable))
	t.release <- struct{}{}

	t.s.global.push(t)
	t.s.notify()
	<-t.grant
}

// Checkpoint yields if the preemption monitor flagged this task for
// running longer than its time slice. Blocking operations call it on
// entry; CPU-bound task bodies should call it inside long loops.
func (t *Task) Checkpoint() {
	if t.preempt.Load() {
		t.Yield()
	}
}

type taskCtxKey struct{}

func newContext(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, t)
}

// TaskFrom returns the task carried by ctx, or nil if ctx does not
// originate from a scheduled task body.
func TaskFrom(ctx context.Context) *Task {
	t, _ := ctx.Value(taskCtxKey{}).(*Task)
	return t
}

// Block releases the calling task's worker slot (if ctx carries one in
// running state) for the duration of fn. fn is expected to block on
// channel operations; it runs on the task's own stack either way.
func Block(ctx context.Context, reason WaitReason, fn func() error) error {
	if t := TaskFrom(ctx); t != nil && t.State() == StateRunning {
		t.Checkpoint()
		reslot := t.Unslot(reason)
		defer reslot()
	}
	return fn()
}
