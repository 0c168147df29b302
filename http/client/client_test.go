package client_test

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
	"coronet/transport/pipe"
	"coronet/uri"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

const (
	testHost = "origin"
	testPort = uint16(80)
)

type ClientTestSuite struct {
	suite.Suite

	network  *pipe.Network
	listener *pipe.Listener
	client   *client.Client

	ctx    context.Context
	cancel context.CancelFunc
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func (s *ClientTestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.network = pipe.NewNetwork(clock.New())
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Second)

	var err error
	s.listener, err = s.network.Listen(testHost, testPort)
	s.Require().NoError(err)

	opts := client.DefaultOptions()
	opts.Timeout = 2 * time.Second
	s.client = client.New(s.network, logger, opts)
}

func (s *ClientTestSuite) TearDownTest() {
	defer goleak.VerifyNone(s.T())

	s.NoError(s.listener.Close())
	s.cancel()
}

// serveCanned accepts one connection, reads the request head, writes
// response verbatim, and half-closes. The returned channel carries the
// request head once the exchange is over.
func (s *ClientTestSuite) serveCanned(response string) <-chan string {
	head := make(chan string, 1)

	go func() {
		con, err := s.listener.Accept(s.ctx)
		if err != nil {
			head <- "accept: " + err.Error()
			return
		}

		con.SetReadTimeout(2 * time.Second)
		con.SetWriteTimeout(2 * time.Second)

		var buf bytes.Buffer
		tmp := make([]byte, 512)
		for !bytes.Contains(buf.Bytes(), []byte("\r\n\r\n")) {
			n, rerr := con.Read(s.ctx, tmp)
			buf.Write(tmp[:n])
			if rerr != nil {
				head <- "read: " + rerr.Error()
				_ = con.Close()
				return
			}
		}

		if _, werr := con.Write(s.ctx, []byte(response)); werr != nil {
			head <- "write: " + werr.Error()
			_ = con.Close()
			return
		}
		_ = con.Shutdown()

		// Hold the connection open until the client hangs up, so a
		// response delimited by EOF is not cut short by our Close.
		for {
			if _, rerr := con.Read(s.ctx, tmp); rerr != nil {
				break
			}
		}
		_ = con.Close()

		head <- buf.String()
	}()

	return head
}

func (s *ClientTestSuite) TestGet() {
	head := s.serveCanned("" +
		"HTTP/1.1 200 OK\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Length: 11\r\n" +
		"\r\n" +
		"Hello, Bob!",
	)

	response, err := s.client.Get(s.ctx, "http://origin/hello?name=Bob")
	s.Require().NoError(err)

	s.Equal(semantic.StatusOK, response.Status)
	s.Equal("OK", response.ReasonPhrase())
	s.Equal("Hello, Bob!", string(response.Body))

	contentType, ok := response.Headers.Get("Content-Type")
	s.True(ok)
	s.Equal("text/plain", contentType)

	// The request that went over the wire.
	raw := <-head
	s.True(strings.HasPrefix(raw, "GET /hello?name=Bob HTTP/1.1\r\n"), "got: %q", raw)
	s.Contains(raw, "Host: origin\r\n")
	s.Contains(raw, "Connection: close\r\n")
	s.Contains(raw, "User-Agent: ")
}

func (s *ClientTestSuite) TestPost() {
	head := s.serveCanned("" +
		"HTTP/1.1 201 Created\r\n" +
		"Content-Length: 0\r\n" +
		"\r\n",
	)

	response, err := s.client.Post(s.ctx, "http://origin/items", "application/json", []byte(`{"a":1}`))
	s.Require().NoError(err)

	s.Equal(semantic.StatusCreated, response.Status)
	s.Empty(response.Body)

	raw := <-head
	s.True(strings.HasPrefix(raw, "POST /items HTTP/1.1\r\n"), "got: %q", raw)
	s.Contains(raw, "Content-Type: application/json\r\n")
	s.Contains(raw, "Content-Length: 7\r\n")
}

func (s *ClientTestSuite) TestChunkedResponseBody() {
	head := s.serveCanned("" +
		"HTTP/1.1 200 OK\r\n" +
		"Transfer-Encoding: chunked\r\n" +
		"\r\n" +
		"5\r\n" +
		"Hello\r\n" +
		"7\r\n" +
		", World\r\n" +
		"0\r\n" +
		"\r\n",
	)

	response, err := s.client.Get(s.ctx, "http://origin/stream")
	s.Require().NoError(err)
	<-head

	s.Equal(semantic.StatusOK, response.Status)
	s.Equal("Hello, World", string(response.Body))
}

func (s *ClientTestSuite) TestBodyToEOF() {
	head := s.serveCanned("" +
		"HTTP/1.1 200 OK\r\n" +
		"\r\n" +
		"until the very end",
	)

	response, err := s.client.Get(s.ctx, "http://origin/legacy")
	s.Require().NoError(err)
	<-head

	s.Equal("until the very end", string(response.Body))
}

func (s *ClientTestSuite) TestHTTPSRejected() {
	_, err := s.client.Get(s.ctx, "https://origin/secure")
	s.ErrorIs(err, uri.ErrHTTPSUnsupported)
}

func (s *ClientTestSuite) TestNoListener() {
	_, err := s.client.Get(s.ctx, "http://nowhere/")
	s.ErrorIs(err, pipe.ErrNoListener)
}

func (s *ClientTestSuite) TestTruncatedContentLength() {
	head := s.serveCanned("" +
		"HTTP/1.1 200 OK\r\n" +
		"Content-Length: 100\r\n" +
		"\r\n" +
		"way too short",
	)

	_, err := s.client.Get(s.ctx, "http://origin/broken")
	s.Error(err)
	<-head
}
