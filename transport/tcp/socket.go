// Package tcp implements [transport.Conn] over nonblocking OS sockets.
// Operations that would block arm a waiter on the poller and suspend the
// calling task through the scheduler, so a stalled peer never ties up a
// worker slot.
package tcp

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"coronet/poll"
	"coronet/sched"
	"coronet/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrConnRefused = errors.New("connection refused")
	ErrAddrInUse   = errors.New("address already in use")
	ErrPermission  = errors.New("permission denied")
)

// Socket is a connected TCP stream on a nonblocking descriptor.
type Socket struct {
	fd     int
	poller poll.Poller
	clock  clock.Clock

	local, remote Addr

	// One mutex per direction: concurrent same-direction calls serialize,
	// a read never delays a write.
	readMu  sync.Mutex
	writeMu sync.Mutex

	readTimeout  atomic.Int64 // nanoseconds, 0 = none
	writeTimeout atomic.Int64

	sendClosed atomic.Bool // write side shut down

	closeOnce sync.Once
	closed    chan struct{}
}

var _ transport.Conn = (*Socket)(nil)

func newSocket(fd int, local, remote Addr, p poll.Poller, clk clock.Clock) *Socket {
	return &Socket{
		fd:     fd,
		poller: p,
		clock:  clk,
		local:  local,
		remote: remote,
		closed: make(chan struct{}),
	}
}

func (s *Socket) LocalAddr() transport.Addr  { return s.local }
func (s *Socket) RemoteAddr() transport.Addr { return s.remote }

func (s *Socket) SetReadTimeout(d time.Duration)  { s.readTimeout.Store(int64(d)) }
func (s *Socket) SetWriteTimeout(d time.Duration) { s.writeTimeout.Store(int64(d)) }

// SetNoDelay toggles Nagle's algorithm on the socket.
func (s *Socket) SetNoDelay(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	err := unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
	return errors.Wrap(err, "setting TCP_NODELAY")
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Read fills p with available bytes, suspending until some arrive. A
// peer that finished sending yields [io.EOF]. An empty p waits for
// readability without consuming anything.
func (s *Socket) Read(ctx context.Context, p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.isClosed() {
		return 0, transport.ErrConnClosed
	}

	deadline, stop := s.deadline(&s.readTimeout)
	defer stop()

	for {
		if len(p) > 0 {
			n, err := unix.Read(s.fd, p)
			switch {
			case err == nil && n == 0:
				return 0, io.EOF
			case err == nil:
				return n, nil
			case err == unix.EINTR:
				continue
			case err != unix.EAGAIN:
				if s.isClosed() {
					return 0, transport.ErrConnClosed
				}
				return 0, errors.Wrap(err, "reading from socket")
			}
		}

		if err := s.wait(ctx, poll.Read, sched.WaitRead, deadline); err != nil {
			return 0, err
		}
		if len(p) == 0 {
			return 0, nil
		}
	}
}

// Write sends all of p, suspending while the send buffer is full. On
// error it reports how many bytes went out before the failure.
func (s *Socket) Write(ctx context.Context, p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.isClosed() || s.sendClosed.Load() {
		return 0, transport.ErrConnClosed
	}

	deadline, stop := s.deadline(&s.writeTimeout)
	defer stop()

	var sent int
	for sent < len(p) {
		n, err := unix.Write(s.fd, p[sent:])
		if n > 0 {
			sent += n
		}

		switch {
		case err == nil:
			continue
		case err == unix.EINTR:
			continue
		case err != unix.EAGAIN:
			if s.isClosed() {
				return sent, transport.ErrConnClosed
			}
			if err == unix.EPIPE || err == unix.ECONNRESET {
				return sent, errors.Wrap(transport.ErrConnClosed, "peer went away")
			}
			return sent, errors.Wrap(err, "writing to socket")
		}

		if err := s.wait(ctx, poll.Write, sched.WaitWrite, deadline); err != nil {
			return sent, err
		}
	}

	return sent, nil
}

// deadline builds the per-operation expiry channel from the stored
// timeout. A nil channel never fires.
func (s *Socket) deadline(timeout *atomic.Int64) (<-chan time.Time, func()) {
	d := time.Duration(timeout.Load())
	if d <= 0 {
		return nil, func() {}
	}

	timer := s.clock.Timer(d)
	return timer.C, func() { timer.Stop() }
}

// wait suspends until the descriptor becomes ready in dir, the deadline
// fires, the socket closes, or ctx ends. The worker slot is released for
// the duration when called from a scheduled task.
func (s *Socket) wait(
	ctx context.Context, dir poll.Direction,
	reason sched.WaitReason, deadline <-chan time.Time,
) error {
	w := poll.NewWaiter()
	if err := s.poller.Arm(s.fd, dir, w); err != nil {
		return errors.Wrapf(err, "arming %s waiter", dir)
	}

	err := sched.Block(ctx, reason, func() error {
		select {
		case err := <-w.C:
			return errors.Wrapf(err, "waiting for %s readiness", dir)
		case <-deadline:
			return transport.ErrDeadlineExceeded
		case <-s.closed:
			return transport.ErrConnClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		s.poller.Cancel(s.fd, dir, w)
	}
	return err
}

// Shutdown half-closes the write side. Subsequent writes fail with
// [transport.ErrConnClosed]; reads keep draining what the peer sends.
func (s *Socket) Shutdown() error {
	if s.isClosed() || s.sendClosed.Swap(true) {
		return nil
	}

	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil && err != unix.ENOTCONN {
		return errors.Wrap(err, "shutting down write side")
	}
	return nil
}

// Close releases the descriptor and resumes every suspended operation
// with [transport.ErrConnClosed].
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.poller.Forget(s.fd)
		unix.Close(s.fd)
	})
	return nil
}
