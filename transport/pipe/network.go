package pipe

import (
	"context"
	"net"
	"strconv"
	"sync"

	"coronet/transport"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var ErrNoListener = errors.New("no listener on address")

// Network is an in-process fabric of pipe listeners, addressable by
// host:port like a real network.
type Network struct {
	clock clock.Clock

	mu        sync.Mutex
	listeners map[string]*Listener
}

func NewNetwork(clk clock.Clock) *Network {
	return &Network{
		clock:     clk,
		listeners: make(map[string]*Listener),
	}
}

var _ transport.ConnDialer = (*Network)(nil)

type connRequest struct {
	conn     *Conn
	accepted chan struct{}
}

func (nw *Network) Dial(ctx context.Context, host string, port uint16) (transport.Conn, error) {
	key := joinHostPort(host, port)

	nw.mu.Lock()
	l, ok := nw.listeners[key]
	nw.mu.Unlock()

	if !ok {
		return nil, errors.Wrapf(ErrNoListener, "dialing %s", key)
	}

	c1, c2 := New("dialer", key, nw.clock)
	req := connRequest{conn: c2, accepted: make(chan struct{}, 1)}

	select {
	case l.requests <- req:
	case <-l.closed:
		return nil, transport.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case _, accepted := <-req.accepted:
		if !accepted {
			return nil, transport.ErrListenerClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return c1, nil
}

// Listen claims host:port on the fabric.
func (nw *Network) Listen(host string, port uint16) (*Listener, error) {
	key := joinHostPort(host, port)

	nw.mu.Lock()
	defer nw.mu.Unlock()

	if _, ok := nw.listeners[key]; ok {
		return nil, errors.Wrapf(ErrListenerExists, "listening on %s", key)
	}

	l := &Listener{
		network:  nw,
		key:      key,
		requests: make(chan connRequest),
		closed:   make(chan struct{}),
	}
	nw.listeners[key] = l

	return l, nil
}

var ErrListenerExists = errors.New("address already has a listener")

type Listener struct {
	network *Network
	key     string

	requests chan connRequest
	closed   chan struct{}
	once     sync.Once
}

var _ transport.ConnListener = (*Listener)(nil)

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case req := <-l.requests:
		req.accepted <- struct{}{}
		return req.conn, nil
	case <-l.closed:
		return nil, transport.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.closed)

		l.network.mu.Lock()
		delete(l.network.listeners, l.key)
		l.network.mu.Unlock()
	})
	return nil
}

func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
}
