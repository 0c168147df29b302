// Package sched implements a cooperative M:N task scheduler: many
// lightweight tasks multiplexed onto a small, fixed set of worker slots
// with work-stealing run queues. A task that blocks on I/O releases its
// slot and is resumed by readiness notification, so blocking never
// wastes a worker.
package sched

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var (
	ErrSchedulerStopped = errors.New("scheduler is stopped")
	ErrDrainTimeout     = errors.New("tasks did not drain within grace period")
)

type Config struct {
	// Workers is the number of run slots. Defaults to [runtime.NumCPU].
	Workers int
	// GlobalBatch caps how many tasks a worker moves from the global
	// queue into its local queue at once.
	GlobalBatch int
	// TimeSlice is how long a task may run before the preemption monitor
	// flags it to yield at its next checkpoint.
	TimeSlice time.Duration
	// FaultBuffer is the capacity of the fault channel. Faults beyond it
	// are logged and dropped.
	FaultBuffer int
}

func DefaultConfig() Config {
	return Config{
		Workers:     runtime.NumCPU(),
		GlobalBatch: 32,
		TimeSlice:   10 * time.Millisecond,
		FaultBuffer: 16,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.GlobalBatch <= 0 {
		c.GlobalBatch = d.GlobalBatch
	}
	if c.TimeSlice <= 0 {
		c.TimeSlice = d.TimeSlice
	}
	if c.FaultBuffer < 0 {
		c.FaultBuffer = d.FaultBuffer
	}
}

// Fault reports a panic recovered from a task body. It never crashes the
// spawning task or the scheduler.
type Fault struct {
	TaskID uint64
	Value  any
	Stack  []byte
}

type Scheduler struct {
	cfg    Config
	clock  clock.Clock
	logger *slog.Logger

	workers []*worker
	global  globalQueue

	mu       sync.Mutex
	cond     *sync.Cond
	stopping bool

	nextID  atomic.Uint64
	tasks   atomic.Int64
	stopped atomic.Bool

	wg       sync.WaitGroup // live tasks
	workerWG sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	faults  chan Fault
	stopMon chan struct{}
	monDone chan struct{}
}

// New creates and starts a scheduler. Each test run should construct its
// own instance and tear it down with [Scheduler.Stop].
func New(logger *slog.Logger, clk clock.Clock, cfg Config) *Scheduler {
	cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		faults:  make(chan Fault, cfg.FaultBuffer),
		stopMon: make(chan struct{}),
		monDone: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)

	s.workers = make([]*worker, cfg.Workers)
	for i := range s.workers {
		s.workers[i] = &worker{id: i, s: s}
	}

	s.workerWG.Add(len(s.workers))
	for _, w := range s.workers {
		go w.run()
	}

	go s.monitor()

	return s
}

// Go spawns fn as a new task. It returns immediately; the only ordering
// guarantee is that fn starts after Go is called. Panics inside fn are
// reported on [Scheduler.Faults].
func (s *Scheduler) Go(fn func(ctx context.Context)) (id uint64, err error) {
	if s.stopped.Load() {
		return 0, ErrSchedulerStopped
	}

	t := &Task{
		id:      s.nextID.Add(1),
		s:       s,
		grant:   make(chan struct{}),
		release: make(chan struct{}, 1),
		body:    fn,
	}
	t.state.Store(int32(StateRunnable))

	s.wg.Add(1)
	s.tasks.Add(1)
	go t.run()

	s.ready(t)
	return t.id, nil
}

// ready puts a runnable task on some run queue and wakes a worker.
func (s *Scheduler) ready(t *Task) {
	w := s.workers[t.affinity%len(s.workers)]
	if !w.local.push(t) {
		s.global.push(t)
	}
	s.notify()
}

func (s *Scheduler) notify() {
	s.mu.Lock()
	s.cond.Signal()
	s.mu.Unlock()
}

// Context returns the scheduler's base context. It is canceled when the
// scheduler hard-stops, which resumes tasks suspended in blocking
// operations with an error.
func (s *Scheduler) Context() context.Context { return s.baseCtx }

// Faults delivers panics recovered from task bodies.
func (s *Scheduler) Faults() <-chan Fault { return s.faults }

func (s *Scheduler) reportFault(f Fault) {
	select {
	case s.faults <- f:
	default:
		s.logger.Error("task panicked (fault channel full)",
			"task", f.TaskID, "value", f.Value)
	}
}

// Stop shuts the scheduler down: new spawns fail immediately, in-flight
// tasks get grace to drain, then the base context is canceled to resume
// blocked tasks with an error. If tasks still do not finish within a
// second grace period, Stop gives up and returns [ErrDrainTimeout]
// without reclaiming the workers.
func (s *Scheduler) Stop(grace time.Duration) error {
	if s.stopped.Swap(true) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if grace <= 0 {
		// Hard stop: resume blocked tasks right away and wait them out.
		s.cancel()
		<-done
	} else if !s.waitOrElapse(done, grace) {
		s.cancel()
		if !s.waitOrElapse(done, grace) {
			return ErrDrainTimeout
		}
	} else {
		s.cancel()
	}

	s.mu.Lock()
	s.stopping = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.workerWG.Wait()

	close(s.stopMon)
	<-s.monDone

	return nil
}

func (s *Scheduler) waitOrElapse(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	timer := s.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// monitor flags tasks that hold a run slot longer than one time slice.
// Flagged tasks yield at their next checkpoint. This is safe-point based
// preemption: a task that never reaches a checkpoint keeps its slot.
func (s *Scheduler) monitor() {
	defer close(s.monDone)

	ticker := s.clock.Ticker(s.cfg.TimeSlice)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopMon:
			return
		case <-ticker.C:
			now := s.clock.Now()
			for _, w := range s.workers {
				if t, since := w.runningSince(); t != nil && now.Sub(since) >= s.cfg.TimeSlice {
					t.preempt.Store(true)
				}
			}
		}
	}
}

type Stats struct {
	Tasks          int64
	GlobalQueueLen int
	LocalQueueLens []int
	ScheduleCounts []uint64
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		Tasks:          s.tasks.Load(),
		GlobalQueueLen: s.global.len(),
	}
	for _, w := range s.workers {
		st.LocalQueueLens = append(st.LocalQueueLens, w.local.len())
		st.ScheduleCounts = append(st.ScheduleCounts, w.tick.Load())
	}
	return st
}
