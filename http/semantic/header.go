package semantic

import "coronet/http"

// Headers is a case-insensitive header map. Names are stored in
// canonical form (Content-Length); a repeated raw field keeps its last
// value.
type Headers struct{ underlying map[string]string }

func NewHeaders(initial map[string]string) Headers {
	clone := make(map[string]string, len(initial))
	for k, v := range initial {
		clone[toCanonicalFieldName(k)] = v
	}

	return Headers{underlying: clone}
}

// HeadersFrom creates semantic headers from raw fields. Later fields
// with the same name override earlier ones.
func HeadersFrom(fields []http.Field) Headers {
	clone := make(map[string]string, len(fields))
	for _, field := range fields {
		clone[toCanonicalFieldName(string(field.Name))] = string(field.Value)
	}

	return Headers{underlying: clone}
}

func (h *Headers) Get(key string) (value string, ok bool) {
	value, ok = h.underlying[toCanonicalFieldName(key)]
	return
}

func (h *Headers) Set(key, value string) {
	if h.underlying == nil {
		h.underlying = make(map[string]string, 1)
	}
	h.underlying[toCanonicalFieldName(key)] = value
}

func (h *Headers) Del(key string) {
	delete(h.underlying, toCanonicalFieldName(key))
}

func (h *Headers) Len() int { return len(h.underlying) }

// Fields returns the headers as raw wire fields.
func (h *Headers) Fields() []http.Field {
	fields := make([]http.Field, 0, len(h.underlying))
	for k, v := range h.underlying {
		fields = append(fields, http.Field{Name: []byte(k), Value: []byte(v)})
	}

	return fields
}

func toCanonicalFieldName(s string) string {
	const capitalDiff = 'a' - 'A'
	b := []byte(s)
	upper := true
	for i, c := range b {
		if upper && 'a' <= c && c <= 'z' {
			c -= capitalDiff
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += capitalDiff
		}
		b[i] = c
		upper = c == '-'
	}
	return string(b)
}
