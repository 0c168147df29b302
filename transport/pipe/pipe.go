// Package pipe provides synchronous in-memory connections implementing
// [transport.Conn]. They carry no OS resources, which makes them the
// transport of choice for exercising protocol code in tests.
package pipe

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"coronet/sched"
	"coronet/transport"

	"github.com/benbjohnson/clock"
)

type Addr struct {
	Name string
}

func (a Addr) Identifier() any { return a.Name }
func (a Addr) String() string  { return a.Name }

var _ transport.Addr = Addr{}

// Conn is one end of an unbuffered pipe. A Write rendezvouses with a
// Read on the counterpart; neither returns until bytes change hands.
type Conn struct {
	clock clock.Clock

	stream chan []byte // this end reads from here
	nc     chan int    // counterpart reports how much it consumed

	writeMu sync.Mutex

	readTimeout  atomic.Int64
	writeTimeout atomic.Int64

	closed chan struct{}
	shut   chan struct{} // write side shut down
	once   sync.Once
	shOnce sync.Once

	counterpart *Conn

	addr Addr
}

var _ transport.Conn = (*Conn)(nil)

// New creates both ends of a pipe.
func New(name1, name2 string, clk clock.Clock) (c1, c2 *Conn) {
	c1 = newEnd(name1, clk)
	c2 = newEnd(name2, clk)
	c1.counterpart, c2.counterpart = c2, c1
	return
}

func newEnd(name string, clk clock.Clock) *Conn {
	return &Conn{
		clock:  clk,
		stream: make(chan []byte),
		nc:     make(chan int),
		closed: make(chan struct{}),
		shut:   make(chan struct{}),
		addr:   Addr{Name: name},
	}
}

func (p *Conn) LocalAddr() transport.Addr  { return p.addr }
func (p *Conn) RemoteAddr() transport.Addr { return p.counterpart.addr }

func (p *Conn) SetReadTimeout(d time.Duration)  { p.readTimeout.Store(int64(d)) }
func (p *Conn) SetWriteTimeout(d time.Duration) { p.writeTimeout.Store(int64(d)) }

func (p *Conn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// Shutdown half-closes the write side: the counterpart drains pending
// rendezvous first, then reads [io.EOF].
func (p *Conn) Shutdown() error {
	p.shOnce.Do(func() { close(p.shut) })
	return nil
}

func (p *Conn) Read(ctx context.Context, b []byte) (n int, err error) {
	if isClosed(p.closed) || isClosed(p.counterpart.closed) {
		return 0, transport.ErrConnClosed
	}

	deadline, stop := p.deadline(&p.readTimeout)
	defer stop()

	err = sched.Block(ctx, sched.WaitRead, func() error {
		select {
		case received := <-p.stream:
			n = copy(b, received)
			p.counterpart.nc <- n
			return nil
		case <-p.counterpart.shut:
			return io.EOF
		case <-p.closed:
			return transport.ErrConnClosed
		case <-p.counterpart.closed:
			return transport.ErrConnClosed
		case <-deadline:
			return transport.ErrDeadlineExceeded
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return n, err
}

func (p *Conn) Write(ctx context.Context, b []byte) (n int, err error) {
	if isClosed(p.closed) || isClosed(p.counterpart.closed) || isClosed(p.shut) {
		return 0, transport.ErrConnClosed
	}

	if len(b) == 0 {
		return 0, nil
	}

	// Serialize writes so concurrent callers cannot interleave bytes.
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deadline, stop := p.deadline(&p.writeTimeout)
	defer stop()

	err = sched.Block(ctx, sched.WaitWrite, func() error {
		for len(b) > 0 {
			select {
			case p.counterpart.stream <- b:
				consumed := <-p.nc
				b = b[consumed:]
				n += consumed
			case <-p.shut:
				return transport.ErrConnClosed
			case <-p.closed:
				return transport.ErrConnClosed
			case <-p.counterpart.closed:
				return transport.ErrConnClosed
			case <-deadline:
				return transport.ErrDeadlineExceeded
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	return n, err
}

func (p *Conn) deadline(timeout *atomic.Int64) (<-chan time.Time, func()) {
	d := time.Duration(timeout.Load())
	if d <= 0 {
		return nil, func() {}
	}

	timer := p.clock.Timer(d)
	return timer.C, func() { timer.Stop() }
}

func isClosed(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
