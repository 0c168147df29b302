package uri

import (
	"strings"

	"github.com/pkg/errors"
)

// Unescape percent-decodes s. In query mode '+' decodes to space.
func Unescape(s string, query bool) (string, error) {
	// Fast path: nothing to decode.
	if !needsUnescape(s, query) {
		return s, nil
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '%':
			if i+2 >= len(s) {
				return "", errors.Wrapf(ErrInvalidEscape, "truncated escape in %q", s)
			}
			hi, ok1 := unhex(s[i+1])
			lo, ok2 := unhex(s[i+2])
			if !ok1 || !ok2 {
				return "", errors.Wrapf(ErrInvalidEscape, "bad escape %q", s[i:i+3])
			}
			out = append(out, hi<<4|lo)
			i += 2
		case query && c == '+':
			out = append(out, ' ')
		default:
			out = append(out, c)
		}
	}
	return string(out), nil
}

func needsUnescape(s string, query bool) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '%' || (query && s[i] == '+') {
			return true
		}
	}
	return false
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// QueryPair is one name=value item, in document order.
type QueryPair struct {
	Name, Value string
}

// ParseQuery splits a raw query on '&' and percent-decodes both sides.
// Order is preserved; duplicate names stay duplicated, lookup policy is
// the caller's concern. Malformed escapes fail the whole query.
func ParseQuery(raw string) ([]QueryPair, error) {
	if raw == "" {
		return nil, nil
	}

	pairs := make([]QueryPair, 0, 4)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}

		rawName, rawValue, _ := cut(part, '=')

		name, err := Unescape(rawName, true)
		if err != nil {
			return nil, errors.Wrap(err, "unescaping query name")
		}
		value, err := Unescape(rawValue, true)
		if err != nil {
			return nil, errors.Wrap(err, "unescaping query value")
		}

		pairs = append(pairs, QueryPair{Name: name, Value: value})
	}
	return pairs, nil
}
