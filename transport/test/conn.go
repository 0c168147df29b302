// Package test holds a reusable conformance suite for [transport.Conn]
// implementations. Transports embed [ConnTestSuite] and supply both ends
// in SetupTest.
package test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"coronet/transport"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

type ConnTestSuite struct {
	suite.Suite
	C1, C2 transport.Conn
	Clock  clock.Clock

	// PeerClosePropagates marks transports where closing one end fails
	// the other end's operations with [transport.ErrConnClosed]. OS
	// sockets instead deliver EOF to the peer's reads.
	PeerClosePropagates bool

	// Cleanup releases transport-specific resources (listeners, pollers)
	// after the conns are closed but before the leak check.
	Cleanup func()

	ctx   context.Context
	done  chan struct{}
	timer *time.Timer
}

// expectPeerGone asserts err matches what this transport reports when
// the other end closed: ErrConnClosed when close propagates, io.EOF
// otherwise.
func (s *ConnTestSuite) expectPeerGone(err error) {
	if s.PeerClosePropagates {
		s.Require().ErrorIs(err, transport.ErrConnClosed)
		return
	}
	if !errors.Is(err, transport.ErrConnClosed) {
		s.Require().ErrorIs(err, io.EOF)
	}
}

func (s *ConnTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.done = make(chan struct{})
	s.Clock = clock.New()

	s.timer = time.AfterFunc(2*time.Second, func() {
		select {
		case <-s.done:
		default:
			s.FailNow("timeout exceeded")
		}
	})
}

func (s *ConnTestSuite) TearDownTest() {
	defer goleak.VerifyNone(s.T())
	s.NoError(s.C1.Close())
	s.NoError(s.C2.Close())
	if s.Cleanup != nil {
		s.Cleanup()
	}
	close(s.done)
	s.timer.Stop()
}

func (s *ConnTestSuite) TestReadWrite() {
	data := []byte("Hello, World!")

	var wg sync.WaitGroup
	defer wg.Wait()
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := s.C1.Write(s.ctx, data)
		s.Require().NoError(err)
		s.Equal(len(data), n)
	}()
	go func() {
		defer wg.Done()
		got := make([]byte, 0, len(data))

		buf := make([]byte, 10)
		for len(got) < len(data) {
			n, err := s.C2.Read(s.ctx, buf)
			s.Require().NoError(err)
			got = append(got, buf[:n]...)
		}
		s.Equal(data, got)
	}()
}

func (s *ConnTestSuite) TestWriteRace() {
	data := []byte("ABCD")
	N := 10

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		result := make([]byte, 0)

		b := make([]byte, 10)
		for {
			n, err := s.C2.Read(s.ctx, b)
			result = append(result, b[:n]...)
			if err != nil {
				s.expectPeerGone(err)
				s.Equal(bytes.Repeat(data, N), result)
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		var wwg sync.WaitGroup
		for i := 0; i < N; i++ {
			wwg.Add(1)
			go func() {
				defer wwg.Done()
				n, err := s.C1.Write(s.ctx, data)
				s.Require().NoError(err)
				s.Equal(len(data), n)
			}()
		}
		wwg.Wait()
		s.Require().NoError(s.C1.Close())
	}()
}

func (s *ConnTestSuite) TestClose() {
	tryReadWrite := func(conn transport.Conn) {
		buf := make([]byte, 10)

		n, err := conn.Read(s.ctx, buf)
		s.Require().ErrorIs(err, transport.ErrConnClosed)
		s.Zero(n)

		n, err = conn.Write(s.ctx, buf)
		s.Require().ErrorIs(err, transport.ErrConnClosed)
		s.Zero(n)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(2)

	done := make(chan struct{})
	go func() {
		defer wg.Done()
		s.Require().NoError(s.C1.Close())
		close(done)

		tryReadWrite(s.C1)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-s.Clock.After(time.Second):
			s.FailNow("timeout exceeded")
		case <-done:
		}

		_, err := s.C2.Read(s.ctx, make([]byte, 10))
		s.expectPeerGone(err)

		if s.PeerClosePropagates {
			_, err = s.C2.Write(s.ctx, make([]byte, 10))
			s.Require().ErrorIs(err, transport.ErrConnClosed)
		}
	}()
}

func (s *ConnTestSuite) TestReadBeforeClose() {
	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.C1.Read(s.ctx, make([]byte, 1))
		s.ErrorIs(err, transport.ErrConnClosed)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Require().NoError(s.C1.Close())
}

func (s *ConnTestSuite) TestShutdownGivesEOF() {
	var wg sync.WaitGroup
	defer wg.Wait()

	data := []byte("last words")

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.C1.Write(s.ctx, data)
		s.Require().NoError(err)
		s.Require().NoError(s.C1.Shutdown())

		// Shutdown is idempotent.
		s.Require().NoError(s.C1.Shutdown())

		// The write side is gone, the read side is not.
		_, err = s.C1.Write(s.ctx, []byte("more"))
		s.ErrorIs(err, transport.ErrConnClosed)
	}()

	got := make([]byte, 0, len(data))
	buf := make([]byte, 4)
	for {
		n, err := s.C2.Read(s.ctx, buf)
		got = append(got, buf[:n]...)
		if err != nil {
			s.Require().ErrorIs(err, io.EOF)
			break
		}
	}
	s.Equal(data, got)
}

func (s *ConnTestSuite) TestReadTimeout() {
	s.C1.SetReadTimeout(50 * time.Millisecond)

	b := make([]byte, 1)
	n, err := s.C1.Read(s.ctx, b)
	s.ErrorIs(err, transport.ErrDeadlineExceeded)
	s.Zero(n)
}

func (s *ConnTestSuite) TestWriteTimeout() {
	s.C1.SetWriteTimeout(50 * time.Millisecond)

	// Keep writing without a reader until the send path stalls out.
	b := make([]byte, 64<<10)
	for {
		_, err := s.C1.Write(s.ctx, b)
		if err != nil {
			s.ErrorIs(err, transport.ErrDeadlineExceeded)
			return
		}
	}
}

func (s *ConnTestSuite) TestReadContextCancel() {
	ctx, cancel := context.WithCancel(s.ctx)

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.C1.Read(ctx, make([]byte, 1))
		s.ErrorIs(err, context.Canceled)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
}

func (s *ConnTestSuite) TestAddr() {
	local1, remote1 := s.C1.LocalAddr(), s.C1.RemoteAddr()
	local2, remote2 := s.C2.LocalAddr(), s.C2.RemoteAddr()

	s.Equal(local1.Identifier(), remote2.Identifier())
	s.Equal(local2.Identifier(), remote1.Identifier())
}
