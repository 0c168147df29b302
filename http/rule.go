package http

const (
	cr   byte = '\r'
	lf   byte = '\n'
	sp   byte = ' '
	htab byte = '\t'
	vt   byte = 0x0B
	ff   byte = 0x0C
)

var (
	// CRLF terminates every line of an HTTP/1.1 message.
	CRLF = []byte{cr, lf}

	ows = []byte{sp, htab}
)

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.2-2
func isValidToken(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		// ALPHA
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') {
			continue
		}
		// DIGIT
		if '0' <= c && c <= '9' {
			continue
		}

		switch c {
		case '!', '#', '$', '%', '&', '\'', '*', '+',
			'-', '.', '^', '_', '`', '|', '~':
			continue
		}

		return false
	}

	return true
}

func isWhitespace(c byte) bool {
	switch c {
	case sp, htab, vt, ff, cr:
		return true
	}
	return false
}
