package tcp

import (
	"context"
	"net/netip"
	"time"

	"coronet/poll"
	"coronet/sched"
	"coronet/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultDialTimeout bounds connection establishment when the dialer
// carries no explicit timeout.
const DefaultDialTimeout = 5 * time.Second

// Dialer establishes outbound TCP connections. Poller is required;
// Clock and Timeout fall back to the wall clock and
// [DefaultDialTimeout].
type Dialer struct {
	Poller  poll.Poller
	Clock   clock.Clock
	Timeout time.Duration

	// NoDelay disables Nagle's algorithm on established connections.
	NoDelay bool
}

var _ transport.ConnDialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, host string, port uint16) (transport.Conn, error) {
	clk := d.Clock
	if clk == nil {
		clk = clock.New()
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	ip, err := resolveHost(ctx, host)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family(ip), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "creating socket")
	}

	if err := d.connect(ctx, clk, fd, ip, port, timeout); err != nil {
		unix.Close(fd)
		return nil, err
	}

	local := Addr{}
	if sa, err := unix.Getsockname(fd); err == nil {
		local = fromSockaddr(sa)
	}

	s := newSocket(fd, local, NewAddr(ip, port), d.Poller, clk)
	if d.NoDelay {
		if err := s.SetNoDelay(true); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (d *Dialer) connect(
	ctx context.Context, clk clock.Clock,
	fd int, ip netip.Addr, port uint16, timeout time.Duration,
) error {
	err := unix.Connect(fd, toSockaddr(ip, port))
	for err == unix.EINTR {
		err = unix.Connect(fd, toSockaddr(ip, port))
	}

	switch err {
	case nil:
		return nil
	case unix.EINPROGRESS:
	default:
		return classifyConnect(err)
	}

	// Nonblocking connect in flight: writability reports the outcome,
	// SO_ERROR tells which.
	w := poll.NewWaiter()
	if err := d.Poller.Arm(fd, poll.Write, w); err != nil {
		return errors.Wrap(err, "arming connect waiter")
	}

	timer := clk.Timer(timeout)
	defer timer.Stop()

	err = sched.Block(ctx, sched.WaitConnect, func() error {
		select {
		case err := <-w.C:
			return errors.Wrap(err, "waiting for connect readiness")
		case <-timer.C:
			return transport.ErrDeadlineExceeded
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		d.Poller.Cancel(fd, poll.Write, w)
		return err
	}

	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Wrap(err, "reading SO_ERROR")
	}
	if soerr != 0 {
		return classifyConnect(unix.Errno(soerr))
	}
	return nil
}

func classifyConnect(err error) error {
	switch err {
	case unix.ECONNREFUSED:
		return errors.WithStack(ErrConnRefused)
	case unix.ETIMEDOUT:
		return errors.Wrap(transport.ErrDeadlineExceeded, "connecting")
	case unix.EACCES, unix.EPERM:
		return errors.Wrap(ErrPermission, "connecting")
	}
	return errors.Wrap(err, "connecting")
}
