// Package server runs an HTTP/1.1 server loop on top of the task
// scheduler: one scheduler task per accepted connection, one request
// per connection, always Connection: close.
package server

import (
	"context"
	"log/slog"
	"sync"

	"coronet/http/semantic"
	"coronet/sched"
	"coronet/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// Handler produces the response for one request. Returning nil or
// panicking yields a 500; neither takes the server down.
type Handler func(ctx context.Context, request *semantic.Request) *semantic.Response

type Server struct {
	listener transport.ConnListener
	sched    *sched.Scheduler
	handle   Handler

	logger *slog.Logger
	clock  clock.Clock
	opts   Options

	mu    sync.Mutex
	conns map[transport.Conn]struct{}
	wg    sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
}

func New(
	listener transport.ConnListener, scheduler *sched.Scheduler,
	handle Handler, logger *slog.Logger, clk clock.Clock, opts Options,
) *Server {
	return &Server{
		listener: listener,
		sched:    scheduler,
		handle:   handle,
		logger:   logger,
		clock:    clk,
		opts:     opts,
		conns:    make(map[transport.Conn]struct{}),
		stopped:  make(chan struct{}),
	}
}

// Serve accepts connections until the listener closes or ctx is
// canceled, spawning one scheduler task per connection. It returns nil
// on a clean shutdown via [Server.Stop].
func (s *Server) Serve(ctx context.Context) error {
	for {
		con, err := s.listener.Accept(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrListenerClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "accepting connection")
		}

		s.track(con)

		if _, err := s.sched.Go(func(taskCtx context.Context) {
			defer s.untrack(con)

			c := &conn{
				con:    con,
				handle: s.handle,
				logger: s.logger,
				opts:   s.opts,
			}
			c.serve(taskCtx)
		}); err != nil {
			s.untrack(con)
			_ = con.Close()
			return errors.Wrap(err, "spawning connection task")
		}
	}
}

func (s *Server) track(con transport.Conn) {
	s.mu.Lock()
	s.conns[con] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)
}

func (s *Server) untrack(con transport.Conn) {
	s.mu.Lock()
	delete(s.conns, con)
	s.mu.Unlock()
	s.wg.Done()
}

// Stop closes the listener, which unblocks Serve, then waits up to the
// drain grace for in-flight connections. Connections still open after
// the grace are force-closed; their tasks resume with
// [transport.ErrConnClosed] and finish on their own.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)

		if cerr := s.listener.Close(); cerr != nil {
			err = errors.Wrap(cerr, "closing listener")
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		timer := s.clock.Timer(s.opts.DrainGrace)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			s.mu.Lock()
			remaining := len(s.conns)
			for con := range s.conns {
				_ = con.Close()
			}
			s.mu.Unlock()

			s.logger.Warn("drain grace elapsed, force-closed connections",
				"count", remaining)
			<-done
		}
	})

	return err
}
