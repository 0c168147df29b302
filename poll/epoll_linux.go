package poll

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const maxEvents = 128

type fdState struct {
	r, w *Waiter
}

func (st *fdState) mask() uint32 {
	var m uint32
	if st.r != nil {
		m |= unix.EPOLLIN
	}
	if st.w != nil {
		m |= unix.EPOLLOUT
	}
	return m
}

// Epoll is the level-triggered Linux implementation of [Poller]. A
// single loop goroutine waits on the epoll instance; arming and
// canceling recompute the per-fd interest mask with EPOLL_CTL_MOD.
type Epoll struct {
	epfd         int
	wakeR, wakeW int // self-pipe, wakes the loop for shutdown

	mu     sync.Mutex
	fds    map[int]*fdState
	closed bool

	loopDone chan struct{}
	logger   *slog.Logger
}

var _ Poller = (*Epoll)(nil)

func NewEpoll(logger *slog.Logger) (*Epoll, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "creating epoll instance")
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		return nil, errors.Wrap(err, "creating wake pipe")
	}

	e := &Epoll{
		epfd:     epfd,
		wakeR:    p[0],
		wakeW:    p[1],
		fds:      make(map[int]*fdState),
		loopDone: make(chan struct{}),
		logger:   logger,
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(e.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, e.wakeR, &ev); err != nil {
		e.releaseFDs()
		return nil, errors.Wrap(err, "registering wake pipe")
	}

	go e.loop()

	return e, nil
}

func (e *Epoll) Arm(fd int, dir Direction, w *Waiter) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrPollerClosed
	}

	st, registered := e.fds[fd]
	if !registered {
		st = &fdState{}
	}

	switch dir {
	case Read:
		if st.r != nil {
			return errors.Wrapf(ErrAlreadyArmed, "fd %d %s", fd, dir)
		}
		st.r = w
	case Write:
		if st.w != nil {
			return errors.Wrapf(ErrAlreadyArmed, "fd %d %s", fd, dir)
		}
		st.w = w
	}

	ev := unix.EpollEvent{Events: st.mask(), Fd: int32(fd)}
	op := unix.EPOLL_CTL_MOD
	if !registered {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(e.epfd, op, fd, &ev); err != nil {
		if dir == Read {
			st.r = nil
		} else {
			st.w = nil
		}
		return errors.Wrapf(err, "updating epoll interest for fd %d", fd)
	}

	e.fds[fd] = st
	return nil
}

func (e *Epoll) Cancel(fd int, dir Direction, w *Waiter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.fds[fd]
	if !ok {
		return
	}

	switch {
	case dir == Read && st.r == w:
		st.r = nil
	case dir == Write && st.w == w:
		st.w = nil
	default:
		// Waiter already fired and was replaced; nothing to withdraw.
		return
	}

	e.updateLocked(fd, st)
}

func (e *Epoll) Forget(fd int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.fds[fd]
	if !ok {
		return
	}

	// Wake pending waiters as ready; their next syscall reports whatever
	// state the descriptor is in.
	if st.r != nil {
		st.r.C <- nil
	}
	if st.w != nil {
		st.w.C <- nil
	}

	delete(e.fds, fd)
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// updateLocked re-registers fd with its remaining interest, dropping the
// registration entirely when no waiter is left. Errors are ignored: the
// descriptor may already be closed, which removes it from epoll anyway.
func (e *Epoll) updateLocked(fd int, st *fdState) {
	mask := st.mask()
	if mask == 0 {
		delete(e.fds, fd)
		_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		return
	}

	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (e *Epoll) loop() {
	defer close(e.loopDone)

	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(e.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			// EBADF after Close released the epoll fd.
			return
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			fd := int(ev.Fd)

			if fd == e.wakeR {
				var buf [8]byte
				_, _ = unix.Read(e.wakeR, buf[:])

				e.mu.Lock()
				closed := e.closed
				e.mu.Unlock()
				if closed {
					return
				}
				continue
			}

			e.dispatch(fd, ev.Events)
		}
	}
}

func (e *Epoll) dispatch(fd int, events uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.fds[fd]
	if !ok {
		return
	}

	// Errors and hangups wake both directions; the waiter learns the
	// details from its subsequent syscall.
	fault := events&(unix.EPOLLERR|unix.EPOLLHUP) != 0

	if st.r != nil && (fault || events&unix.EPOLLIN != 0) {
		st.r.C <- nil
		st.r = nil
	}
	if st.w != nil && (fault || events&unix.EPOLLOUT != 0) {
		st.w.C <- nil
		st.w = nil
	}

	e.updateLocked(fd, st)
}

func (e *Epoll) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	for fd, st := range e.fds {
		if st.r != nil {
			st.r.C <- ErrPollerClosed
		}
		if st.w != nil {
			st.w.C <- ErrPollerClosed
		}
		delete(e.fds, fd)
	}
	e.mu.Unlock()

	if _, err := unix.Write(e.wakeW, []byte{1}); err != nil {
		e.logger.Error("failed to wake poller loop", "error", err)
	}
	<-e.loopDone

	e.releaseFDs()
	return nil
}

func (e *Epoll) releaseFDs() {
	unix.Close(e.epfd)
	unix.Close(e.wakeR)
	unix.Close(e.wakeW)
}
