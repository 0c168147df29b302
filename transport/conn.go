package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConnClosed       = errors.New("connection is closed")
	ErrListenerClosed   = errors.New("conn listener is closed")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// Conn is a bidirectional byte stream. Read and Write take a context so
// the scheduler can release the calling task's worker slot while the
// operation is suspended.
//
// At most one Read and one Write may make progress at a time (full
// duplex). Concurrent calls in the same direction are serialized by the
// implementation.
type Conn interface {
	Read(ctx context.Context, p []byte) (n int, err error)
	Write(ctx context.Context, p []byte) (n int, err error)

	// Shutdown half-closes the write side. Reads stay usable until peer
	// EOF or Close. Idempotent, never fails once shut down.
	Shutdown() error

	// Close releases the underlying resource and unblocks every
	// suspended operation with [ErrConnClosed]. Idempotent.
	Close() error

	LocalAddr() Addr
	RemoteAddr() Addr

	// Timeouts apply to operations started afterwards, not ones already
	// in flight. Zero means no limit.
	SetReadTimeout(d time.Duration)
	SetWriteTimeout(d time.Duration)
}

type ConnListener interface {
	// Accept returns the next established connection. Safe for
	// concurrent use; each connection is delivered to exactly one
	// caller.
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

type ConnDialer interface {
	Dial(ctx context.Context, host string, port uint16) (Conn, error)
}
