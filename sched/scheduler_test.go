package sched_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"coronet/sched"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type SchedulerTestSuite struct {
	suite.Suite

	logger *slog.Logger

	// leakCheck is reset to true per test; the drain-timeout test turns
	// it off because an abandoned scheduler keeps its workers.
	leakCheck bool
}

func (s *SchedulerTestSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.leakCheck = true
}

func (s *SchedulerTestSuite) TearDownTest() {
	if s.leakCheck {
		goleak.VerifyNone(s.T())
	}
}

func (s *SchedulerTestSuite) newScheduler(cfg sched.Config) *sched.Scheduler {
	return sched.New(s.logger, clock.New(), cfg)
}

func (s *SchedulerTestSuite) TestRunsEveryTask() {
	sc := s.newScheduler(sched.Config{})

	const n = 100

	var counter atomic.Int64
	for i := 0; i < n; i++ {
		_, err := sc.Go(func(ctx context.Context) {
			counter.Add(1)
		})
		s.Require().NoError(err)
	}

	s.Require().NoError(sc.Stop(time.Second))
	s.Equal(int64(n), counter.Load())
}

func (s *SchedulerTestSuite) TestGoAfterStop() {
	sc := s.newScheduler(sched.Config{})
	s.Require().NoError(sc.Stop(time.Second))

	_, err := sc.Go(func(ctx context.Context) {})
	s.ErrorIs(err, sched.ErrSchedulerStopped)
}

func (s *SchedulerTestSuite) TestStopIsIdempotent() {
	sc := s.newScheduler(sched.Config{})
	s.Require().NoError(sc.Stop(time.Second))
	s.Require().NoError(sc.Stop(time.Second))
}

func (s *SchedulerTestSuite) TestFaultReportsPanic() {
	sc := s.newScheduler(sched.Config{})

	id, err := sc.Go(func(ctx context.Context) {
		panic("boom")
	})
	s.Require().NoError(err)

	select {
	case f := <-sc.Faults():
		s.Equal(id, f.TaskID)
		s.Equal("boom", f.Value)
		s.NotEmpty(f.Stack)
	case <-time.After(time.Second):
		s.FailNow("no fault delivered")
	}

	s.Require().NoError(sc.Stop(time.Second))
}

// A panic in one task must not take down its siblings.
func (s *SchedulerTestSuite) TestPanicIsIsolated() {
	sc := s.newScheduler(sched.Config{Workers: 1})

	_, err := sc.Go(func(ctx context.Context) { panic("boom") })
	s.Require().NoError(err)

	ran := make(chan struct{})
	_, err = sc.Go(func(ctx context.Context) { close(ran) })
	s.Require().NoError(err)

	select {
	case <-ran:
	case <-time.After(time.Second):
		s.FailNow("sibling task did not run")
	}

	<-sc.Faults()
	s.Require().NoError(sc.Stop(time.Second))
}

func (s *SchedulerTestSuite) TestTaskContext() {
	sc := s.newScheduler(sched.Config{})

	done := make(chan struct{})
	id, err := sc.Go(func(ctx context.Context) {
		defer close(done)

		t := sched.TaskFrom(ctx)
		if s.NotNil(t) {
			s.Equal(sched.StateRunning, t.State())
			s.NotZero(t.ID())
		}
	})
	s.Require().NoError(err)
	s.NotZero(id)

	<-done
	s.Require().NoError(sc.Stop(time.Second))
}

// With a single worker, a task suspended in Block must not starve other
// runnable tasks; the blocked task resumes once its event arrives.
func (s *SchedulerTestSuite) TestBlockReleasesWorkerSlot() {
	sc := s.newScheduler(sched.Config{Workers: 1})

	event := make(chan struct{})
	blockedDone := make(chan struct{})

	_, err := sc.Go(func(ctx context.Context) {
		defer close(blockedDone)
		err := sched.Block(ctx, sched.WaitRead, func() error {
			<-event
			return nil
		})
		s.NoError(err)
	})
	s.Require().NoError(err)

	// This task needs the only slot to run, and it is the one that
	// unblocks the first.
	_, err = sc.Go(func(ctx context.Context) {
		close(event)
	})
	s.Require().NoError(err)

	select {
	case <-blockedDone:
	case <-time.After(time.Second):
		s.FailNow("blocked task starved the worker")
	}

	s.Require().NoError(sc.Stop(time.Second))
}

func (s *SchedulerTestSuite) TestYield() {
	sc := s.newScheduler(sched.Config{Workers: 1})

	var order []int
	var mu sync.Mutex
	record := func(v int) {
		mu.Lock()
		order = append(order, v)
		mu.Unlock()
	}

	done := make(chan struct{})
	_, err := sc.Go(func(ctx context.Context) {
		defer close(done)
		record(1)

		// Queue the sibling before yielding so it takes the slot next.
		_, err := sc.Go(func(ctx context.Context) {
			record(2)
		})
		s.NoError(err)

		sched.TaskFrom(ctx).Yield()
		record(3)
	})
	s.Require().NoError(err)

	<-done
	s.Require().NoError(sc.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]int{1, 2, 3}, order)
}

// A CPU-bound task that reaches checkpoints gets preempted after its
// time slice, letting a queued task run on the same worker.
func (s *SchedulerTestSuite) TestPreemption() {
	sc := s.newScheduler(sched.Config{Workers: 1, TimeSlice: 5 * time.Millisecond})

	var release atomic.Bool
	spinDone := make(chan struct{})

	_, err := sc.Go(func(ctx context.Context) {
		defer close(spinDone)
		t := sched.TaskFrom(ctx)
		for !release.Load() {
			t.Checkpoint()
		}
	})
	s.Require().NoError(err)

	_, err = sc.Go(func(ctx context.Context) {
		release.Store(true)
	})
	s.Require().NoError(err)

	select {
	case <-spinDone:
	case <-time.After(2 * time.Second):
		s.FailNow("spinner was never preempted")
	}

	s.Require().NoError(sc.Stop(time.Second))
}

// Stop's grace period first lets tasks finish on their own, then
// cancels the base context to flush the stragglers.
func (s *SchedulerTestSuite) TestStopCancelsBlockedTasks() {
	sc := s.newScheduler(sched.Config{})

	started := make(chan struct{})
	var sawCancel atomic.Bool

	_, err := sc.Go(func(ctx context.Context) {
		close(started)
		err := sched.Block(ctx, sched.WaitRead, func() error {
			<-ctx.Done()
			return ctx.Err()
		})
		sawCancel.Store(err != nil)
	})
	s.Require().NoError(err)

	<-started
	s.Require().NoError(sc.Stop(50 * time.Millisecond))
	s.True(sawCancel.Load())
}

func (s *SchedulerTestSuite) TestStopDrainTimeout() {
	s.leakCheck = false

	sc := s.newScheduler(sched.Config{})

	block := make(chan struct{})
	started := make(chan struct{})

	_, err := sc.Go(func(ctx context.Context) {
		close(started)
		// Deliberately ignores ctx.
		<-block
	})
	s.Require().NoError(err)

	<-started
	err = sc.Stop(20 * time.Millisecond)
	s.ErrorIs(err, sched.ErrDrainTimeout)

	close(block)
}

func (s *SchedulerTestSuite) TestStats() {
	sc := s.newScheduler(sched.Config{Workers: 2})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		_, err := sc.Go(func(ctx context.Context) {
			wg.Done()
		})
		s.Require().NoError(err)
	}
	wg.Wait()

	st := sc.Stats()
	s.Len(st.LocalQueueLens, 2)
	s.Len(st.ScheduleCounts, 2)
	s.GreaterOrEqual(st.Tasks, int64(0))

	s.Require().NoError(sc.Stop(time.Second))
}

func TestSchedulerTestSuite(t *testing.T) {
	suite.Run(t, new(SchedulerTestSuite))
}
