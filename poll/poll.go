// Package poll provides the event-notification layer ("reactor") the
// scheduler-aware transports block on. Interest is keyed by file
// descriptor and direction; at most one waiter may be armed per
// direction, matching the one-reader-one-writer contract of a socket.
package poll

import "github.com/pkg/errors"

type Direction uint8

const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

var (
	ErrPollerClosed = errors.New("poller is closed")
	ErrAlreadyArmed = errors.New("direction already has a waiter")
)

// Waiter receives exactly one value per arming: nil when the descriptor
// became ready, or an error when the poller shut down first.
type Waiter struct {
	C chan error
}

func NewWaiter() *Waiter {
	return &Waiter{C: make(chan error, 1)}
}

type Poller interface {
	// Arm registers interest in fd becoming ready in dir. The waiter
	// fires once and must be re-armed for subsequent readiness.
	Arm(fd int, dir Direction, w *Waiter) error

	// Cancel withdraws a waiter that has not fired (e.g. the operation
	// timed out or the resource closed). Safe to call after firing.
	Cancel(fd int, dir Direction, w *Waiter)

	// Forget drops every registration for fd, firing pending waiters as
	// ready. Must be called before the descriptor is closed, or a reused
	// fd number could collide with the stale registration.
	Forget(fd int)

	Close() error
}
