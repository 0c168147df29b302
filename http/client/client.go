// Package client implements a minimal HTTP/1.1 client: one connection
// per request, no pooling or keep-alive, Connection: close on every
// exchange.
package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"coronet/http"
	"coronet/http/semantic"
	"coronet/http/transfer"
	iolib "coronet/lib/io"
	"coronet/transport"
	"coronet/uri"

	"github.com/pkg/errors"
)

type Options struct {
	Decode http.DecodeOptions
	Encode http.EncodeOptions

	// Timeout bounds each socket operation of a request. Zero disables
	// the limit.
	Timeout time.Duration

	// UserAgent is sent when the caller supplies no User-Agent header.
	UserAgent string

	// MaxBodySize caps the response body. Zero disables the cap.
	MaxBodySize uint
}

func DefaultOptions() Options {
	return Options{
		Decode:    http.DefaultDecodeOptions,
		Encode:    http.EncodeOptions{},
		Timeout:   30 * time.Second,
		UserAgent: "coronet/0.1",
	}
}

type Client struct {
	dialer transport.ConnDialer
	logger *slog.Logger
	opts   Options
}

func New(dialer transport.ConnDialer, logger *slog.Logger, opts Options) *Client {
	return &Client{dialer: dialer, logger: logger, opts: opts}
}

func (c *Client) Get(ctx context.Context, rawURL string) (*semantic.Response, error) {
	return c.Do(ctx, semantic.MethodGet, rawURL, nil, nil)
}

func (c *Client) Post(
	ctx context.Context, rawURL, contentType string, body []byte,
) (*semantic.Response, error) {
	headers := map[string]string{"Content-Type": contentType}
	return c.Do(ctx, semantic.MethodPost, rawURL, headers, body)
}

// Do performs one request over a fresh connection and reads the whole
// response into memory. The connection is closed before it returns.
func (c *Client) Do(
	ctx context.Context, method, rawURL string,
	headers map[string]string, body []byte,
) (*semantic.Response, error) {
	u, err := uri.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing url")
	}

	con, err := c.dialer.Dial(ctx, u.Host, u.Port)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", u.HostHeader())
	}
	defer func() { _ = con.Close() }()

	con.SetReadTimeout(c.opts.Timeout)
	con.SetWriteTimeout(c.opts.Timeout)

	if err := c.send(ctx, con, method, u, headers, body); err != nil {
		return nil, err
	}

	return c.receive(ctx, con)
}

func (c *Client) send(
	ctx context.Context, con transport.Conn, method string,
	u uri.URL, headers map[string]string, body []byte,
) error {
	h := semantic.NewHeaders(headers)
	h.Set("Host", u.HostHeader())
	h.Set("Connection", "close")
	if _, ok := h.Get("User-Agent"); !ok && c.opts.UserAgent != "" {
		h.Set("User-Agent", c.opts.UserAgent)
	}
	if body != nil {
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}

	raw := http.Request{
		RequestLine: http.RequestLine{
			Method:  method,
			Target:  u.RequestTarget(),
			Version: http.Version11,
		},
		Headers: h.Fields(),
	}
	if body != nil {
		raw.Body = bytes.NewReader(body)
	}

	encoder := http.NewRequestEncoder(iolib.ConnWriter(ctx, con), c.opts.Encode)

	return errors.Wrap(encoder.Encode(raw), "encoding request")
}

func (c *Client) receive(ctx context.Context, con transport.Conn) (*semantic.Response, error) {
	reader := iolib.NewUntilReader(iolib.ConnReader(ctx, con))

	var raw http.Response
	if err := http.NewResponseDecoder(reader, c.opts.Decode).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decoding response")
	}

	headers := semantic.HeadersFrom(raw.Headers)

	body, err := c.receiveBody(&headers, reader)
	if err != nil {
		return nil, errors.Wrap(err, "receiving body")
	}

	return &semantic.Response{
		Status:  raw.StatusCode,
		Reason:  raw.ReasonPhrase,
		Headers: headers,
		Body:    body,
	}, nil
}

// receiveBody drains the response body: chunked decoding when declared,
// exactly Content-Length bytes when declared, otherwise everything
// until the server closes the connection.
//
// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-6.3
func (c *Client) receiveBody(
	headers *semantic.Headers, reader *iolib.UntilReader,
) ([]byte, error) {
	if coding, ok := headers.Get("Transfer-Encoding"); ok {
		if !strings.EqualFold(strings.TrimSpace(coding), string(transfer.CodingChunked)) {
			return nil, errors.Wrapf(transfer.ErrUnsupportedCoding, "coding %q", coding)
		}

		return c.readCapped(transfer.NewChunkedReader(reader, nil))
	}

	if lengthRaw, ok := headers.Get("Content-Length"); ok {
		length, err := strconv.ParseUint(lengthRaw, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing Content-Length %q", lengthRaw)
		}

		if c.opts.MaxBodySize > 0 && uint(length) > c.opts.MaxBodySize {
			return nil, errors.Errorf("declared body of %d bytes exceeds cap", length)
		}

		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			return nil, errors.Wrap(err, "reading body")
		}

		return body, nil
	}

	return c.readCapped(reader)
}

func (c *Client) readCapped(r io.Reader) ([]byte, error) {
	if c.opts.MaxBodySize > 0 {
		r = iolib.LimitReader(r, c.opts.MaxBodySize+1)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if c.opts.MaxBodySize > 0 && uint(len(body)) > c.opts.MaxBodySize {
		return nil, errors.Errorf("body exceeds cap of %d bytes", c.opts.MaxBodySize)
	}

	return body, nil
}
