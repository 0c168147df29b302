package server

import (
	"context"
	"io"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"

	"coronet/http"
	"coronet/http/semantic"
	"coronet/http/transfer"
	iolib "coronet/lib/io"
	"coronet/transport"

	"github.com/pkg/errors"
)

// statusError carries the response code for a request that framed
// correctly but cannot be served, plus the cause for logging.
type statusError struct {
	status uint
	cause  error
}

func (e *statusError) Error() string {
	return strconv.FormatUint(uint64(e.status), 10) + ": " + e.cause.Error()
}

func (e *statusError) Unwrap() error { return e.cause }

type conn struct {
	con    transport.Conn
	handle Handler
	logger *slog.Logger
	opts   Options
}

// serve handles exactly one request and tears the connection down.
func (c *conn) serve(ctx context.Context) {
	defer func() { _ = c.con.Close() }()

	c.con.SetReadTimeout(c.opts.ReadTimeout)
	c.con.SetWriteTimeout(c.opts.WriteTimeout)

	reader := iolib.NewUntilReader(iolib.ConnReader(ctx, c.con))

	var raw http.Request
	if err := http.NewRequestDecoder(reader, c.opts.Decode).Decode(&raw); err != nil {
		// A head that does not frame as HTTP gets no reply; there is no
		// reason to believe the peer speaks the protocol at all.
		c.logger.Debug("dropping unparseable request",
			"remote", c.con.RemoteAddr().String(), "error", err)
		return
	}

	response := c.process(ctx, &raw, reader)

	if err := c.respond(ctx, response); err != nil {
		c.logger.Debug("writing response",
			"remote", c.con.RemoteAddr().String(), "error", err)
		return
	}

	// Half-close first so the peer sees a clean end of the response
	// before the socket goes away.
	_ = c.con.Shutdown()
}

// process turns a framed request into a response, mapping every failure
// mode to a status code. It never returns nil.
func (c *conn) process(
	ctx context.Context, raw *http.Request, reader *iolib.UntilReader,
) *semantic.Response {
	request, err := semantic.RequestFrom(raw)
	if err != nil {
		c.logger.Debug("rejecting malformed request", "error", err)
		return errorResponse(semantic.StatusBadRequest)
	}

	request.Body, err = c.receiveBody(request, reader)
	if err != nil {
		status := semantic.StatusBadRequest
		var serr *statusError
		if errors.As(err, &serr) {
			status = serr.status
		}
		c.logger.Debug("rejecting request body",
			"method", request.Method, "path", request.Path, "error", err)
		return errorResponse(status)
	}

	return c.invoke(ctx, request)
}

// receiveBody drains the request body per its framing headers:
// Transfer-Encoding wins over Content-Length, absence of both means no
// body.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (c *conn) receiveBody(
	request *semantic.Request, reader *iolib.UntilReader,
) ([]byte, error) {
	if coding, ok := request.Header("Transfer-Encoding"); ok {
		if !strings.EqualFold(strings.TrimSpace(coding), string(transfer.CodingChunked)) {
			return nil, &statusError{
				status: semantic.StatusNotImplemented,
				cause:  errors.Wrapf(transfer.ErrUnsupportedCoding, "coding %q", coding),
			}
		}

		return c.readCapped(transfer.NewChunkedReader(reader, nil))
	}

	if lengthRaw, ok := request.Header("Content-Length"); ok {
		length, err := strconv.ParseUint(lengthRaw, 10, 64)
		if err != nil {
			return nil, &statusError{
				status: semantic.StatusBadRequest,
				cause:  errors.Wrapf(err, "parsing Content-Length %q", lengthRaw),
			}
		}

		if c.opts.MaxBodySize > 0 && uint(length) > c.opts.MaxBodySize {
			return nil, &statusError{
				status: semantic.StatusContentTooLarge,
				cause:  errors.Errorf("declared body of %d bytes exceeds cap", length),
			}
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, &statusError{
				status: semantic.StatusBadRequest,
				cause:  errors.Wrap(err, "reading body"),
			}
		}

		return body, nil
	}

	return nil, nil
}

// readCapped reads r to EOF, enforcing the body cap without trusting
// any declared size.
func (c *conn) readCapped(r io.Reader) ([]byte, error) {
	if c.opts.MaxBodySize > 0 {
		r = iolib.LimitReader(r, c.opts.MaxBodySize+1)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, &statusError{
			status: semantic.StatusBadRequest,
			cause:  errors.Wrap(err, "reading chunked body"),
		}
	}

	if c.opts.MaxBodySize > 0 && uint(len(body)) > c.opts.MaxBodySize {
		return nil, &statusError{
			status: semantic.StatusContentTooLarge,
			cause:  errors.Errorf("body exceeds cap of %d bytes", c.opts.MaxBodySize),
		}
	}

	return body, nil
}

// invoke runs the handler with a panic fence. A panicking or absent
// response becomes a 500; the connection loop is unaffected.
func (c *conn) invoke(
	ctx context.Context, request *semantic.Request,
) (response *semantic.Response) {
	defer func() {
		if v := recover(); v != nil {
			c.logger.Error("handler panicked",
				"method", request.Method, "path", request.Path,
				"value", v, "stack", string(debug.Stack()))
			response = errorResponse(semantic.StatusInternalServerError)
		}
	}()

	response = c.handle(ctx, request)
	if response == nil {
		c.logger.Error("handler returned no response",
			"method", request.Method, "path", request.Path)
		response = errorResponse(semantic.StatusInternalServerError)
	}

	return response
}

func (c *conn) respond(ctx context.Context, response *semantic.Response) error {
	if !semantic.ValidStatus(response.Status) {
		c.logger.Error("handler produced invalid status code",
			"status", response.Status)
		response = errorResponse(semantic.StatusInternalServerError)
	}

	// Keep-alive is not supported; every exchange ends the connection.
	response.SetHeader("Connection", "close")

	encoder := http.NewResponseEncoder(iolib.ConnWriter(ctx, c.con), c.opts.Encode)
	if err := encoder.Encode(response.Raw()); err != nil {
		return errors.Wrap(err, "encoding response")
	}

	response.MarkSent()

	return nil
}

// errorResponse builds the stock response for a status code, with the
// reason phrase as a plain-text body.
func errorResponse(status uint) *semantic.Response {
	response := semantic.NewResponse(status)
	response.SetHeader("Content-Type", "text/plain")
	response.SetBodyString(semantic.ReasonPhrase(status))

	return response
}
