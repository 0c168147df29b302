package server_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"coronet/http/client"
	"coronet/http/semantic"
	"coronet/http/server"
	"coronet/sched"
	"coronet/transport"
	"coronet/transport/pipe"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

const (
	testHost = "svc"
	testPort = uint16(80)
)

type ServerTestSuite struct {
	suite.Suite

	clock     clock.Clock
	network   *pipe.Network
	scheduler *sched.Scheduler
	server    *server.Server

	ctx       context.Context
	cancel    context.CancelFunc
	serveDone chan error
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}

func (s *ServerTestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.clock = clock.New()
	s.network = pipe.NewNetwork(s.clock)
	s.scheduler = sched.New(logger, s.clock, sched.Config{})
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)

	listener, err := s.network.Listen(testHost, testPort)
	s.Require().NoError(err)

	opts := server.DefaultOptions()
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxBodySize = 1 << 10
	opts.DrainGrace = time.Second

	s.server = server.New(listener, s.scheduler, s.handler, logger, s.clock, opts)

	s.serveDone = make(chan error, 1)
	go func() { s.serveDone <- s.server.Serve(s.ctx) }()
}

func (s *ServerTestSuite) TearDownTest() {
	defer goleak.VerifyNone(s.T())
	defer s.cancel()

	s.NoError(s.server.Stop())

	select {
	case err := <-s.serveDone:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("serve loop did not return")
	}

	s.NoError(s.scheduler.Stop(2 * time.Second))
}

func (s *ServerTestSuite) handler(_ context.Context, request *semantic.Request) *semantic.Response {
	switch request.Path {
	case "/hello":
		name, _ := request.Query("name")
		response := semantic.NewResponse(semantic.StatusOK)
		response.SetBodyString("Hello, " + name + "!")
		return response

	case "/echo":
		response := semantic.NewResponse(semantic.StatusOK)
		response.SetBody(request.Body)
		return response

	case "/panic":
		panic("boom")

	case "/nil":
		return nil

	default:
		return semantic.NewResponse(semantic.StatusNotFound)
	}
}

func (s *ServerTestSuite) newClient() *client.Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := client.DefaultOptions()
	opts.Timeout = 2 * time.Second
	return client.New(s.network, logger, opts)
}

func (s *ServerTestSuite) TestHello() {
	response, err := s.newClient().Get(s.ctx, "http://svc/hello?name=Bob")
	s.Require().NoError(err)

	s.Equal(semantic.StatusOK, response.Status)
	s.Equal("Hello, Bob!", string(response.Body))

	connection, ok := response.Headers.Get("Connection")
	s.True(ok)
	s.Equal("close", connection)
}

func (s *ServerTestSuite) TestPostEcho() {
	body := []byte("some payload")

	response, err := s.newClient().Post(s.ctx, "http://svc/echo", "text/plain", body)
	s.Require().NoError(err)

	s.Equal(semantic.StatusOK, response.Status)
	s.Equal(body, response.Body)
}

func (s *ServerTestSuite) TestHandlerPanic() {
	response, err := s.newClient().Get(s.ctx, "http://svc/panic")
	s.Require().NoError(err)

	s.Equal(semantic.StatusInternalServerError, response.Status)
}

func (s *ServerTestSuite) TestNilResponse() {
	response, err := s.newClient().Get(s.ctx, "http://svc/nil")
	s.Require().NoError(err)

	s.Equal(semantic.StatusInternalServerError, response.Status)
}

func (s *ServerTestSuite) TestServerSurvivesPanic() {
	c := s.newClient()

	response, err := c.Get(s.ctx, "http://svc/panic")
	s.Require().NoError(err)
	s.Equal(semantic.StatusInternalServerError, response.Status)

	// The loop keeps accepting after a handler panic.
	response, err = c.Get(s.ctx, "http://svc/hello?name=Eve")
	s.Require().NoError(err)
	s.Equal(semantic.StatusOK, response.Status)
	s.Equal("Hello, Eve!", string(response.Body))
}

// rawRoundTrip writes raw on a fresh connection and reads until the
// server ends the stream.
func (s *ServerTestSuite) rawRoundTrip(raw string) string {
	con, err := s.network.Dial(s.ctx, testHost, testPort)
	s.Require().NoError(err)
	defer con.Close() //nolint:errcheck

	con.SetReadTimeout(2 * time.Second)
	con.SetWriteTimeout(2 * time.Second)

	_, err = con.Write(s.ctx, []byte(raw))
	s.Require().NoError(err)

	var buf bytes.Buffer
	tmp := make([]byte, 512)
	for {
		n, rerr := con.Read(s.ctx, tmp)
		buf.Write(tmp[:n])
		if rerr != nil {
			s.True(rerr == io.EOF || rerr == transport.ErrConnClosed,
				"unexpected read error: %v", rerr)
			return buf.String()
		}
	}
}

func (s *ServerTestSuite) TestMalformedRequestLine() {
	got := s.rawRoundTrip("GARBAGE\r\n\r\n")

	// No response at all; the connection just goes away.
	s.Empty(got)
}

func (s *ServerTestSuite) TestBadContentLength() {
	got := s.rawRoundTrip("" +
		"POST /echo HTTP/1.1\r\n" +
		"Content-Length: nope\r\n" +
		"\r\n",
	)

	s.True(strings.HasPrefix(got, "HTTP/1.1 400 "), "got: %q", got)
}

func (s *ServerTestSuite) TestUnsupportedTransferCoding() {
	got := s.rawRoundTrip("" +
		"POST /echo HTTP/1.1\r\n" +
		"Transfer-Encoding: gzip\r\n" +
		"\r\n",
	)

	s.True(strings.HasPrefix(got, "HTTP/1.1 501 "), "got: %q", got)
}

func (s *ServerTestSuite) TestBodyOverCap() {
	got := s.rawRoundTrip("" +
		"POST /echo HTTP/1.1\r\n" +
		"Content-Length: 99999999\r\n" +
		"\r\n",
	)

	s.True(strings.HasPrefix(got, "HTTP/1.1 413 "), "got: %q", got)
}

func (s *ServerTestSuite) TestChunkedRequestBody() {
	got := s.rawRoundTrip("" +
		"POST /echo HTTP/1.1\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"3\r\n" +
		"abc\r\n" +
		"3\r\n" +
		"def\r\n" +
		"0\r\n" +
		"\r\n",
	)

	s.True(strings.HasPrefix(got, "HTTP/1.1 200 "), "got: %q", got)
	s.True(strings.HasSuffix(got, "\r\n\r\nabcdef"), "got: %q", got)
}

func (s *ServerTestSuite) TestStopDeregistersListener() {
	s.Require().NoError(s.server.Stop())

	select {
	case err := <-s.serveDone:
		s.NoError(err)
		s.serveDone <- nil // for teardown
	case <-time.After(2 * time.Second):
		s.Fail("serve loop did not return after stop")
	}

	_, err := s.network.Dial(s.ctx, testHost, testPort)
	s.ErrorIs(err, pipe.ErrNoListener)
}
