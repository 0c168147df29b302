package tcp

import (
	"context"
	"sync"

	"coronet/poll"
	"coronet/sched"
	"coronet/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const defaultBacklog = 128

// ListenOptions configure [Listen]. Poller is required; the zero values
// of the rest pick sensible defaults.
type ListenOptions struct {
	Poller  poll.Poller
	Clock   clock.Clock
	Backlog int
}

// Listener accepts inbound TCP connections on a bound descriptor.
type Listener struct {
	fd     int
	addr   Addr
	poller poll.Poller
	clock  clock.Clock

	// armToken elects one accepter to arm the poller; the rest wait for
	// the same readiness round and retry their accept.
	armToken chan struct{}
	roundMu  sync.Mutex
	roundCh  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

var _ transport.ConnListener = (*Listener)(nil)

// Listen binds host:port and starts listening. Port 0 picks an
// ephemeral port, readable afterwards from [Listener.Addr].
func Listen(host string, port uint16, opts ListenOptions) (*Listener, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Backlog <= 0 {
		opts.Backlog = defaultBacklog
	}

	ip, err := resolveHost(context.Background(), host)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family(ip), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "creating socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "setting SO_REUSEADDR")
	}

	if err := unix.Bind(fd, toSockaddr(ip, port)); err != nil {
		unix.Close(fd)
		switch err {
		case unix.EADDRINUSE:
			return nil, errors.Wrapf(ErrAddrInUse, "binding %s:%d", host, port)
		case unix.EACCES:
			return nil, errors.Wrapf(ErrPermission, "binding %s:%d", host, port)
		}
		return nil, errors.Wrap(err, "binding socket")
	}

	if err := unix.Listen(fd, opts.Backlog); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "listening on socket")
	}

	addr := NewAddr(ip, port)
	if sa, err := unix.Getsockname(fd); err == nil {
		addr = fromSockaddr(sa)
	}

	return &Listener{
		fd:       fd,
		addr:     addr,
		poller:   opts.Poller,
		clock:    opts.Clock,
		armToken: make(chan struct{}, 1),
		roundCh:  make(chan struct{}),
		closed:   make(chan struct{}),
	}, nil
}

func (l *Listener) Addr() Addr { return l.addr }

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Accept returns the next established connection. Concurrent callers
// race for each readiness round; the kernel hands every connection to
// exactly one of them.
func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	for {
		if l.isClosed() {
			return nil, transport.ErrListenerClosed
		}

		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return newSocket(nfd, l.addr, fromSockaddr(sa), l.poller, l.clock), nil
		case err == unix.EINTR || err == unix.ECONNABORTED:
			continue
		case err != unix.EAGAIN:
			if l.isClosed() {
				return nil, transport.ErrListenerClosed
			}
			return nil, errors.Wrap(err, "accepting connection")
		}

		if err := l.waitReadable(ctx); err != nil {
			return nil, err
		}
	}
}

// waitReadable suspends until the listening descriptor reports a
// pending connection. One caller holds the arm token and waits on the
// poller; the others piggyback on that round's completion.
func (l *Listener) waitReadable(ctx context.Context) error {
	return sched.Block(ctx, sched.WaitAccept, func() error {
		select {
		case l.armToken <- struct{}{}:
			defer func() { <-l.armToken }()
			return l.armAndWait(ctx)
		case <-l.round():
			return nil
		case <-l.closed:
			return transport.ErrListenerClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (l *Listener) armAndWait(ctx context.Context) error {
	defer l.completeRound()

	w := poll.NewWaiter()
	if err := l.poller.Arm(l.fd, poll.Read, w); err != nil {
		return errors.Wrap(err, "arming accept waiter")
	}

	var err error
	select {
	case e := <-w.C:
		err = errors.Wrap(e, "waiting for accept readiness")
	case <-l.closed:
		err = transport.ErrListenerClosed
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		l.poller.Cancel(l.fd, poll.Read, w)
	}
	return err
}

func (l *Listener) round() <-chan struct{} {
	l.roundMu.Lock()
	defer l.roundMu.Unlock()
	return l.roundCh
}

func (l *Listener) completeRound() {
	l.roundMu.Lock()
	defer l.roundMu.Unlock()
	close(l.roundCh)
	l.roundCh = make(chan struct{})
}

// Close releases the descriptor and resumes every suspended Accept with
// [transport.ErrListenerClosed].
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.poller.Forget(l.fd)
		unix.Close(l.fd)
	})
	return nil
}
