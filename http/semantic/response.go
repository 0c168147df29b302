package semantic

import (
	"bytes"
	"strconv"

	"coronet/http"
)

// Response is what a handler returns. Mutating it after the server has
// written it to the wire has no effect; the setters become inert.
type Response struct {
	Status uint
	// Reason overrides the canonical phrase when non-empty.
	Reason string

	Headers Headers
	Body    []byte

	sent bool
}

// NewResponse creates a response with the given status code. Codes
// outside 100..599 are the caller's bug and surface as a 500 at send
// time.
func NewResponse(status uint) *Response {
	return &Response{Status: status, Headers: NewHeaders(nil)}
}

func (r *Response) SetStatus(code uint) {
	if r.sent {
		return
	}
	r.Status = code
}

func (r *Response) SetHeader(name, value string) {
	if r.sent {
		return
	}
	r.Headers.Set(name, value)
}

func (r *Response) SetBody(body []byte) {
	if r.sent {
		return
	}
	r.Body = body
}

func (r *Response) SetBodyString(body string) { r.SetBody([]byte(body)) }

// Sent reports whether the response has been written out.
func (r *Response) Sent() bool { return r.sent }

// MarkSent freezes the response. The server calls this after encoding.
func (r *Response) MarkSent() { r.sent = true }

// ReasonPhrase resolves the phrase to put on the status line.
func (r *Response) ReasonPhrase() string {
	if r.Reason != "" {
		return r.Reason
	}
	return ReasonPhrase(r.Status)
}

// Raw renders the response as a wire message. The body always carries
// an explicit Content-Length; this stack never generates chunked
// bodies.
func (r *Response) Raw() http.Response {
	headers := r.Headers
	headers.Set("Content-Length", strconv.Itoa(len(r.Body)))

	return http.Response{
		StatusLine: http.StatusLine{
			Version:      http.Version11,
			StatusCode:   r.Status,
			ReasonPhrase: r.ReasonPhrase(),
		},
		Headers: headers.Fields(),
		Body:    bytes.NewReader(r.Body),
	}
}
