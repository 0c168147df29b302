// Package semantic interprets raw framed messages: typed requests and
// responses, case-insensitive headers, status codes, and query strings.
package semantic

import (
	"strings"

	"coronet/http"
	"coronet/uri"

	"github.com/pkg/errors"
)

// Common request methods. Method is a free-form token on the wire; the
// server does not restrict it.
const (
	MethodGet     = "GET"
	MethodHead    = "HEAD"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodDelete  = "DELETE"
	MethodOptions = "OPTIONS"
)

// Request is a fully received request: head parsed, body drained.
type Request struct {
	Method string

	// Target is the raw request target; Path is its percent-decoded
	// path component.
	Target   string
	Path     string
	RawQuery string

	// query keeps document order; lookups take the last occurrence.
	query []uri.QueryPair

	Headers Headers

	Body []byte
}

// RequestFrom interprets a decoded request head. The body is attached
// separately once the server drains it.
func RequestFrom(raw *http.Request) (*Request, error) {
	request := &Request{
		Method:  raw.Method,
		Target:  raw.Target,
		Headers: HeadersFrom(raw.Headers),
	}

	// Origin-form only: this stack is not a proxy and does not serve
	// OPTIONS *.
	// Reference: https://datatracker.ietf.org/doc/html/rfc9112#section-3.2.1
	if !strings.HasPrefix(raw.Target, "/") {
		return nil, errors.Errorf("request target is not origin-form: %q", raw.Target)
	}

	rawPath := raw.Target
	if idx := strings.IndexByte(rawPath, '?'); idx >= 0 {
		rawPath, request.RawQuery = rawPath[:idx], rawPath[idx+1:]
	}

	var err error
	request.Path, err = uri.Unescape(rawPath, false)
	if err != nil {
		return nil, errors.Wrap(err, "decoding path")
	}

	request.query, err = uri.ParseQuery(request.RawQuery)
	if err != nil {
		return nil, errors.Wrap(err, "parsing query")
	}

	return request, nil
}

// Query returns the value of the named query parameter. A name given
// several times resolves to its last occurrence.
func (r *Request) Query(name string) (value string, ok bool) {
	for i := len(r.query) - 1; i >= 0; i-- {
		if r.query[i].Name == name {
			return r.query[i].Value, true
		}
	}
	return "", false
}

// QueryPairs returns every parameter in document order.
func (r *Request) QueryPairs() []uri.QueryPair { return r.query }

// Header is shorthand for r.Headers.Get.
func (r *Request) Header(name string) (string, bool) { return r.Headers.Get(name) }
