// Package uri parses the subset of URI syntax this stack speaks:
// absolute http:// URLs on the client side and origin-form request
// targets on the server side, with percent-decoding.
package uri

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrHTTPSUnsupported = errors.New("https scheme is not supported")
	ErrInvalidScheme    = errors.New("scheme must be http")
	ErrInvalidEscape    = errors.New("invalid percent-escape")
)

// URL is a parsed absolute http URL.
type URL struct {
	Host     string
	Port     uint16
	Path     string // raw, percent-encoded
	RawQuery string
}

// ParseURL parses "http://host[:port]/path[?query]". Port defaults to
// 80, path to "/". https:// is rejected up front with
// [ErrHTTPSUnsupported]; TLS never enters this stack.
func ParseURL(raw string) (URL, error) {
	rest, ok := strings.CutPrefix(raw, "http://")
	if !ok {
		if strings.HasPrefix(raw, "https://") {
			return URL{}, errors.Wrapf(ErrHTTPSUnsupported, "parsing %q", raw)
		}
		return URL{}, errors.Wrapf(ErrInvalidScheme, "parsing %q", raw)
	}

	authority, pathAndQuery, _ := cut(rest, '/')

	host, port, err := splitHostPort(authority)
	if err != nil {
		return URL{}, err
	}

	path := "/" + pathAndQuery
	var rawQuery string
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path, rawQuery = path[:idx], path[idx+1:]
	}

	return URL{Host: host, Port: port, Path: path, RawQuery: rawQuery}, nil
}

// RequestTarget renders the origin-form target for a request line.
func (u URL) RequestTarget() string {
	if u.RawQuery == "" {
		return u.Path
	}
	return u.Path + "?" + u.RawQuery
}

// HostHeader renders the Host header value, omitting the default port.
func (u URL) HostHeader() string {
	if u.Port == 80 {
		return u.Host
	}
	return u.Host + ":" + strconv.FormatUint(uint64(u.Port), 10)
}

func splitHostPort(authority string) (host string, port uint16, err error) {
	if authority == "" {
		return "", 0, errors.New("empty host")
	}

	port = 80
	host = authority

	// Bracketed IPv6 literal keeps its colons.
	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", 0, errors.New("unterminated IPv6 literal")
		}
		host = authority[1:end]
		rest := authority[end+1:]
		if rest == "" {
			return host, port, nil
		}
		if rest[0] != ':' {
			return "", 0, errors.Errorf("unexpected text after IPv6 literal: %q", rest)
		}
		port, err = parsePort(rest[1:])
		return host, port, err
	}

	if idx := strings.LastIndexByte(authority, ':'); idx >= 0 {
		host = authority[:idx]
		if host == "" {
			return "", 0, errors.New("empty host")
		}
		port, err = parsePort(authority[idx+1:])
	}
	return host, port, err
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing port %q", s)
	}
	return uint16(p), nil
}

func cut(s string, sep byte) (before, after string, found bool) {
	if idx := strings.IndexByte(s, sep); idx >= 0 {
		return s[:idx], s[idx+1:], true
	}
	return s, "", false
}
